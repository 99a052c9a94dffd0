package session

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/spirio-sessions/hmmmusictool/music"
)

// PollInterval bounds how long the beat loop waits before checking whether
// it should stop
const PollInterval = time.Second

// BeatSource delivers external beats
type BeatSource interface {
	// Next waits up to timeout for a beat and reports whether one arrived
	Next(timeout time.Duration) (bool, error)
}

// RunBeats counts beats from src until the session is closed or leaves
// beat based triggering. Generated melodies are handed to emit.
func (s *Session) RunBeats(src BeatSource, emit func([]music.Note)) error {
	logger := log.WithFields(log.Fields{
		"function": "Session.RunBeats",
	})
	logger.Info("beat loop started")
	defer logger.Info("beat loop stopped")
	for s.BeatBased() && !s.Closed() {
		ok, err := src.Next(PollInterval)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		notes, err := s.CallBeat()
		if err != nil {
			logger.Warn(err)
		}
		if len(notes) > 0 {
			emit(notes)
		}
	}
	return nil
}
