package session

import (
	"sync"
	"time"

	"github.com/spirio-sessions/hmmmusictool/music"
)

type press struct {
	key      int
	velocity int
	at       time.Time
}

// Keyboard pairs key-down and key-up messages into events for a session.
// The silence between the last release and the next press is reported as
// a rest.
type Keyboard struct {
	session *Session

	mu    sync.Mutex
	downs []press
	ups   []press
}

// NewKeyboard returns a keyboard feeding s
func NewKeyboard(s *Session) *Keyboard {
	return &Keyboard{session: s}
}

// Reset forgets pending presses
func (k *Keyboard) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.downs, k.ups = nil, nil
}

// KeyDown registers a press. When a release preceded it, the gap is sent
// to the session as a rest and the resulting melody is returned.
func (k *Keyboard) KeyDown(key, velocity int, at time.Time) ([]music.Note, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.downs = append(k.downs, press{key: key, velocity: velocity, at: at})
	if len(k.ups) == 0 {
		return nil, nil
	}
	last := k.ups[len(k.ups)-1]
	k.ups = nil
	return k.session.Call(music.Event{
		Rest:     true,
		Duration: at.Sub(last.at).Seconds(),
		Onset:    float64(last.at.UnixNano()) / 1e9,
	})
}

// KeyUp registers a release and sends every press it completes to the
// session. It returns the melodies generated on the way.
func (k *Keyboard) KeyUp(key int, at time.Time) ([][]music.Note, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ups = append(k.ups, press{key: key, at: at})
	var melodies [][]music.Note
	var firstErr error
	pending := k.downs[:0:0]
	for _, down := range k.downs {
		if down.key != key || !at.After(down.at) {
			pending = append(pending, down)
			continue
		}
		notes, err := k.session.Call(music.Event{
			Pitch:    down.key,
			Duration: at.Sub(down.at).Seconds(),
			Velocity: down.velocity,
			Onset:    float64(down.at.UnixNano()) / 1e9,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if len(notes) > 0 {
			melodies = append(melodies, notes)
		}
	}
	k.downs = pending
	return melodies, firstErr
}
