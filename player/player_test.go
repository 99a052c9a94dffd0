package player

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spirio-sessions/hmmmusictool/hmm"
	"github.com/spirio-sessions/hmmmusictool/music"
	"github.com/spirio-sessions/hmmmusictool/session"
)

type keys chan Key

func (k keys) Keys() <-chan Key {
	return k
}

type output struct {
	sync.Mutex
	played []string
}

func (o *output) NoteOn(pitch, velocity int) error {
	o.Lock()
	defer o.Unlock()
	o.played = append(o.played, fmt.Sprintf("on %d %d", pitch, velocity))
	return nil
}

func (o *output) NoteOff(pitch int) error {
	o.Lock()
	defer o.Unlock()
	o.played = append(o.played, fmt.Sprintf("off %d", pitch))
	return nil
}

func (o *output) count() int {
	o.Lock()
	defer o.Unlock()
	return len(o.played)
}

func testPlayer(t *testing.T, in Input, out Output) *Player {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.Pretrain = false
	cfg.Direct = true
	cfg.TrainRate = 2
	cfg.SampleRate = 2
	s, err := session.New(cfg, session.WithModelOptions(hmm.WithSource(rand.NewPCG(7, 7))))
	require.NoError(t, err)
	p := New(s, in, out, 120)
	at := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	p.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur := at
		at = at.Add(250 * time.Millisecond)
		return cur
	}
	p.sleep = func(time.Duration) {}
	return p
}

func TestParseKey(t *testing.T) {
	k, ok := ParseKey(0x90, 60, 100)
	assert.True(t, ok)
	assert.Equal(t, Key{Pitch: 60, Velocity: 100, On: true}, k)
	k, ok = ParseKey(0x93, 60, 0)
	assert.True(t, ok)
	assert.False(t, k.On)
	k, ok = ParseKey(0x80, 61, 40)
	assert.True(t, ok)
	assert.Equal(t, Key{Pitch: 61}, k)
	_, ok = ParseKey(0xB0, 64, 127)
	assert.False(t, ok)
}

func TestPlay(t *testing.T) {
	out := &output{}
	p := testPlayer(t, keys(nil), out)
	var waited []time.Duration
	p.sleep = func(d time.Duration) { waited = append(waited, d) }
	p.Play([]music.Note{
		{Pitch: 62, Velocity: 80, StartTime: 0.5, EndTime: 1},
		{Pitch: 60, Velocity: 90, StartTime: 0, EndTime: 0.5},
	})
	assert.Equal(t, []string{"on 60 90", "off 60", "on 62 80", "off 62"}, out.played)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, waited)
}

func TestPolite(t *testing.T) {
	out := &output{}
	p := testPlayer(t, keys(nil), out)
	p.Polite = true
	p.keysDown = 1
	p.Play([]music.Note{{Pitch: 60, Velocity: 90, StartTime: 0, EndTime: 0.5}})
	assert.Empty(t, out.played)
}

func TestStart(t *testing.T) {
	in := make(keys, 8)
	out := &output{}
	p := testPlayer(t, in, out)
	p.HistoryFile = filepath.Join(t.TempDir(), "history.json")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	in <- Key{Pitch: 60, Velocity: 90, On: true}
	in <- Key{Pitch: 60}
	in <- Key{Pitch: 62, Velocity: 70, On: true}
	in <- Key{Pitch: 62}
	assert.Eventually(t, func() bool { return out.count() > 0 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	history, err := music.Open(p.HistoryFile)
	require.NoError(t, err)
	events := history.GetAll()
	require.Len(t, events, 2)
	assert.Equal(t, 60, events[0].Pitch)
	assert.Equal(t, 90, events[0].Velocity)
	assert.InDelta(t, 0.25, events[0].Duration, 1e-9)
	assert.InDelta(t, 0.25, events[0].Onset, 1e-9)
	assert.Equal(t, 62, events[1].Pitch)
}
