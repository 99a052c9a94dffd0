package music

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyNames(t *testing.T) {
	assert.Equal(t, "C4", KeyName(60))
	assert.Equal(t, "A0", KeyName(21))
	assert.Equal(t, "C8", KeyName(108))
	assert.Equal(t, 4, Octave(60))
	assert.Equal(t, 1, PitchClass(61))
	assert.Equal(t, "C#4", KeyName(61))
}

func TestMusicSaveOpen(t *testing.T) {
	m := New()
	m.Add(Event{Pitch: 60, Duration: 0.25, Velocity: 90})
	m.Add(Event{Rest: true, Duration: 0.5})
	assert.Equal(t, 2, m.Len())

	fname := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, m.Save(fname))

	m2, err := Open(fname)
	require.NoError(t, err)
	assert.Equal(t, m.GetAll(), m2.GetAll())
}

func TestSorted(t *testing.T) {
	notes := []Note{{Pitch: 62, StartTime: 1}, {Pitch: 60, StartTime: 0}}
	sorted := Sorted(notes)
	assert.Equal(t, 60, sorted[0].Pitch)
	assert.Equal(t, 62, notes[0].Pitch)
	assert.InDelta(t, 0.0, sorted[0].Duration(), 1e-9)
}
