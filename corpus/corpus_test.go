package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/spirio-sessions/hmmmusictool/discrete"
	"github.com/spirio-sessions/hmmmusictool/hmm"
)

// writeSong writes C4 (500 ms), a one second silence, D4 (250 ms) and E4
// right after it, plus a drum hit, at 120 bpm with 480 ticks per beat
func writeSong(t *testing.T, dir string) string {
	t.Helper()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(480)

	var tr smf.Track
	tr.Add(0, smf.MetaTempo(120))
	tr.Add(0, midi.NoteOn(0, 60, 90))
	tr.Add(0, midi.NoteOn(DrumChannel, 36, 100))
	tr.Add(480, midi.NoteOff(0, 60))
	tr.Add(0, midi.NoteOff(DrumChannel, 36))
	tr.Add(960, midi.NoteOn(0, 62, 80))
	tr.Add(240, midi.NoteOff(0, 62))
	tr.Add(60, midi.NoteOn(0, 64, 70))
	tr.Add(240, midi.NoteOff(0, 64))
	tr.Close(0)
	require.NoError(t, s.Add(tr))

	path := filepath.Join(dir, "song.mid")
	require.NoError(t, s.WriteFile(path))
	return path
}

func TestReadFile(t *testing.T) {
	rec, err := ReadFile(writeSong(t, t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, "song.mid", rec.Name)
	require.Len(t, rec.Voices, 1)
	assert.Equal(t, 3, rec.Len())

	voice := rec.Voices[0]
	assert.Equal(t, []int{60, 62, 64}, []int{voice[0].Pitch, voice[1].Pitch, voice[2].Pitch})
	assert.InDelta(t, 0.5, voice[0].Duration, 1e-9)
	assert.InDelta(t, 1.5, voice[1].Onset, 1e-9)
	assert.InDelta(t, 0.25, voice[1].Duration, 1e-9)
	assert.InDelta(t, 1.8125, voice[2].Onset, 1e-9)
	assert.Equal(t, 90, voice[0].Velocity)
}

func TestReadDirAndPairs(t *testing.T) {
	dir := t.TempDir()
	writeSong(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.mid"), []byte("not a midi file"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	recordings, err := ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, recordings, 1)

	d, err := discrete.New(discrete.Config{Layout: discrete.NoteTime, Note: discrete.MidiKeys, Time: discrete.Milliseconds, Quantisation: 50})
	require.NoError(t, err)
	pairs, onsets := Pairs(recordings, d)
	assert.Equal(t, []hmm.Pair{
		hmm.P(60, 500000),
		hmm.P(109, 1000000),
		hmm.P(62, 250000),
		hmm.P(64, 250000),
	}, pairs)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1.5, 1.8125}, onsets, 1e-9)

	_, err = ReadDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestChordOnsets(t *testing.T) {
	dir := t.TempDir()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(480)
	var tr smf.Track
	tr.Add(0, smf.MetaTempo(120))
	tr.Add(0, midi.NoteOn(0, 60, 90))
	tr.Add(0, midi.NoteOn(0, 64, 90))
	tr.Add(480, midi.NoteOff(0, 60))
	tr.Add(0, midi.NoteOff(0, 64))
	tr.Add(0, midi.NoteOn(0, 67, 90))
	tr.Add(480, midi.NoteOff(0, 67))
	tr.Close(0)
	require.NoError(t, s.Add(tr))
	path := filepath.Join(dir, "chord.mid")
	require.NoError(t, s.WriteFile(path))

	rec, err := ReadFile(path)
	require.NoError(t, err)
	d, err := discrete.New(discrete.Config{Layout: discrete.NoteTime, Note: discrete.MidiKeys, Time: discrete.Milliseconds, Quantisation: 50})
	require.NoError(t, err)
	pairs, onsets := Pairs([]Recording{rec}, d)
	assert.Equal(t, []hmm.Pair{hmm.P(60, 500000), hmm.P(64, 500000), hmm.P(67, 500000)}, pairs)
	assert.InDeltaSlice(t, []float64{0, 0, 0.5}, onsets, 1e-9)
}

func TestTimeline(t *testing.T) {
	tl := timeline{resolution: 480, changes: []tempoChange{{tick: 0, tempo: 500000}, {tick: 480, tempo: 1000000}}}
	ms, err := tl.ms(960)
	require.NoError(t, err)
	assert.InDelta(t, 1500.0, ms, 1e-9)
	ms, err = tl.ms(240)
	require.NoError(t, err)
	assert.InDelta(t, 250.0, ms, 1e-9)

	_, err = timeline{}.ms(10)
	assert.True(t, errors.Is(err, discrete.ErrMissingTimingInfo))
}
