package music

import "fmt"

// Range of keys on a piano keyboard
const (
	LowestKey  = 21
	HighestKey = 108
)

// PitchClasses are the twelve pitch class names, starting at C
var PitchClasses = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// OnKeyboard reports whether the key number is on an 88 key piano
func OnKeyboard(key int) bool {
	return key >= LowestKey && key <= HighestKey
}

// PitchClass returns the index of the pitch class of a key (C = 0)
func PitchClass(key int) int {
	return ((key % 12) + 12) % 12
}

// Octave returns the scientific octave number of a key (middle C = 4)
func Octave(key int) int {
	return key/12 - 1
}

// KeyName returns the name of a key, e.g. 60 -> "C4"
func KeyName(key int) string {
	return fmt.Sprintf("%s%d", PitchClasses[PitchClass(key)], Octave(key))
}

