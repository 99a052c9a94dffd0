// Package player runs a session against a local MIDI keyboard: presses are
// fed to the session and generated melodies are played back on the same
// keyboard.
package player

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/spirio-sessions/hmmmusictool/music"
	"github.com/spirio-sessions/hmmmusictool/session"
)

// Key is one press or release
type Key struct {
	Pitch    int
	Velocity int
	On       bool
}

// ParseKey reads a channel voice message. A note-on with velocity zero is a
// release. Other messages report false.
func ParseKey(status, data1, data2 int64) (Key, bool) {
	switch status & 0xF0 {
	case 0x90:
		return Key{Pitch: int(data1), Velocity: int(data2), On: data2 > 0}, true
	case 0x80:
		return Key{Pitch: int(data1)}, true
	}
	return Key{}, false
}

// Input delivers keys
type Input interface {
	Keys() <-chan Key
}

// Output sounds notes
type Output interface {
	NoteOn(pitch, velocity int) error
	NoteOff(pitch int) error
}

type held struct {
	at       time.Time
	velocity int
}

// Player is the main structure which facilitates the keyboard and the
// session
type Player struct {
	// BPM is the tempo of the metronome whose beats drive beat based
	// sessions
	BPM int
	// Polite skips generated notes while the host holds a key
	Polite bool
	// History records every press played on the keyboard
	History     *music.Music
	HistoryFile string

	session  *session.Session
	keyboard *session.Keyboard
	in       Input
	out      Output

	mu       sync.Mutex
	keysDown int
	pressed  map[int]held
	started  time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// New wires a session to a keyboard
func New(s *session.Session, in Input, out Output, bpm int) *Player {
	return &Player{
		BPM:      bpm,
		History:  music.New(),
		session:  s,
		keyboard: session.NewKeyboard(s),
		in:       in,
		out:      out,
		pressed:  make(map[int]held),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Start listens until ctx is done. Beat based sessions additionally count
// the beats of a metronome at BPM. The history is saved on the way out when
// HistoryFile is set.
func (p *Player) Start(ctx context.Context) error {
	logger := log.WithFields(log.Fields{
		"function": "Player.Start",
	})
	p.started = p.now()
	if p.session.BeatBased() {
		m := newMetronome(p.BPM)
		defer m.stop()
		go func() {
			if err := p.session.RunBeats(m, func(notes []music.Note) { go p.Play(notes) }); err != nil {
				logger.Warn(err)
			}
		}()
		logger.Infof("metronome at %d bpm", p.BPM)
	}
	defer p.session.Close()

	keys := p.in.Keys()
	for {
		select {
		case <-ctx.Done():
			if p.HistoryFile == "" {
				return nil
			}
			logger.Infof("saving %d presses to %s", p.History.Len(), p.HistoryFile)
			return p.History.Save(p.HistoryFile)
		case key, ok := <-keys:
			if !ok {
				return nil
			}
			p.handle(key)
		}
	}
}

func (p *Player) handle(key Key) {
	logger := log.WithFields(log.Fields{
		"function": "Player.handle",
	})
	at := p.now()
	if key.On {
		p.mu.Lock()
		p.keysDown++
		p.pressed[key.Pitch] = held{at: at, velocity: key.Velocity}
		p.mu.Unlock()
		notes, err := p.keyboard.KeyDown(key.Pitch, key.Velocity, at)
		if err != nil {
			logger.Warn(err)
		}
		if len(notes) > 0 {
			go p.Play(notes)
		}
		return
	}

	p.mu.Lock()
	if down, ok := p.pressed[key.Pitch]; ok {
		delete(p.pressed, key.Pitch)
		p.keysDown--
		p.History.Add(music.Event{
			Pitch:    key.Pitch,
			Duration: at.Sub(down.at).Seconds(),
			Velocity: down.velocity,
			Onset:    down.at.Sub(p.started).Seconds(),
		})
	}
	p.mu.Unlock()
	melodies, err := p.keyboard.KeyUp(key.Pitch, at)
	if err != nil {
		logger.Warn(err)
	}
	for _, notes := range melodies {
		go p.Play(notes)
	}
}

func (p *Player) hostPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keysDown > 0
}

type cue struct {
	at    float64
	on    bool
	pitch int
	vel   int
}

// Play sounds notes relative to now and returns once the last one is
// released
func (p *Player) Play(notes []music.Note) {
	logger := log.WithFields(log.Fields{
		"function": "Player.Play",
	})
	var cues []cue
	for _, n := range music.Sorted(notes) {
		cues = append(cues, cue{at: n.StartTime, on: true, pitch: n.Pitch, vel: n.Velocity}, cue{at: n.EndTime, pitch: n.Pitch})
	}
	sortCues(cues)
	sounding := make(map[int]bool)
	elapsed := 0.0
	for _, c := range cues {
		if wait := c.at - elapsed; wait > 0 {
			p.sleep(time.Duration(wait * float64(time.Second)))
			elapsed = c.at
		}
		if c.on {
			if p.Polite && p.hostPlaying() {
				continue
			}
			if err := p.out.NoteOn(c.pitch, c.vel); err != nil {
				logger.Warn(err)
				continue
			}
			sounding[c.pitch] = true
			continue
		}
		if !sounding[c.pitch] {
			continue
		}
		delete(sounding, c.pitch)
		if err := p.out.NoteOff(c.pitch); err != nil {
			logger.Warn(err)
		}
	}
}

// sortCues orders by time, releases before presses at the same time
func sortCues(cues []cue) {
	sort.SliceStable(cues, func(i, j int) bool {
		if cues[i].at != cues[j].at {
			return cues[i].at < cues[j].at
		}
		return !cues[i].on && cues[j].on
	})
}

// metronome ticks once per beat
type metronome struct {
	ticker *time.Ticker
}

func newMetronome(bpm int) *metronome {
	if bpm <= 0 {
		bpm = 120
	}
	return &metronome{ticker: time.NewTicker(time.Minute / time.Duration(bpm))}
}

func (m *metronome) Next(timeout time.Duration) (bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-m.ticker.C:
		return true, nil
	case <-t.C:
		return false, nil
	}
}

func (m *metronome) stop() {
	m.ticker.Stop()
}
