// Package session drives one performer's model: it turns live events into
// training windows and triggers generation.
package session

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/spirio-sessions/hmmmusictool/corpus"
	"github.com/spirio-sessions/hmmmusictool/discrete"
	"github.com/spirio-sessions/hmmmusictool/hmm"
	"github.com/spirio-sessions/hmmmusictool/music"
)

// Session owns the model of one performer. All methods are safe for
// concurrent use; training and sampling are serialized.
type Session struct {
	sync.Mutex
	cfg     Config
	disc    *discrete.Discretizer
	model   *hmm.Model
	trainer *hmm.Trainer

	// history holds the last recorded pairs, at most WindowSize of them,
	// and onsets the onset time in seconds of each
	history    []hmm.Pair
	onsets     []float64
	trainCount int
	obsCount   int
	prevNote   int
	octave     int
	// warm is set once the model holds pretrained statistics
	warm   bool
	closed bool
}

type options struct {
	model []hmm.Option
}

// Option configures a session
type Option func(*options)

// WithModelOptions passes options to the model, e.g. a fixed random source
func WithModelOptions(opts ...hmm.Option) Option {
	return func(o *options) {
		o.model = append(o.model, opts...)
	}
}

func collect(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds a discretizer and a model for cfg and pretrains the model on
// the corpus when asked to
func New(cfg Config, opts ...Option) (*Session, error) {
	logger := log.WithFields(log.Fields{
		"function": "session.New",
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := collect(opts)
	disc, err := discrete.New(cfg.Discretizer())
	if err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	model, err := hmm.New(disc.States(), disc.Observations(), cfg.Init, disc.Vertical(), o.model...)
	if err != nil {
		return nil, err
	}
	s := newSession(cfg, disc, model)
	if cfg.Pretrain {
		if err = s.pretrain(); err != nil {
			return nil, err
		}
	}
	logger.Infof("session ready: %s/%s/%s, init %s, %s", cfg.Layout, cfg.Note, cfg.Time, cfg.Init, cfg.Triggering)
	return s, nil
}

func newSession(cfg Config, disc *discrete.Discretizer, model *hmm.Model) *Session {
	return &Session{
		cfg:     cfg,
		disc:    disc,
		model:   model,
		trainer: hmm.NewTrainer(model, nil),
		octave:  4,
	}
}

// chunker groups a window whose onsets are times
func (s *Session) chunker(times []float64) hmm.Chunker {
	if s.cfg.Chunking != ByOnset {
		return hmm.Sequential{}
	}
	return hmm.Onsets{Times: times, Tolerance: s.cfg.ChunkTolerance}
}

func (s *Session) pretrain() error {
	logger := log.WithFields(log.Fields{
		"function": "Session.pretrain",
	})
	recordings, err := corpus.ReadDir(s.cfg.Corpus)
	if err != nil {
		logger.Warnf("no pretraining: %s", err)
		return nil
	}
	pairs, onsets := corpus.Pairs(recordings, s.disc)
	if len(pairs) == 0 {
		logger.Warnf("no pretraining: %s holds no usable notes", s.cfg.Corpus)
		return nil
	}
	err = s.trainer.Update(pairs, hmm.Options{
		Direct:  true,
		Weight:  PretrainWeight,
		Chunker: s.chunker(onsets),
	})
	if err != nil {
		return errors.Wrap(err, "pretrain")
	}
	s.warm = true
	logger.Infof("pretrained on %d pairs from %d recordings", len(pairs), len(recordings))
	return nil
}

// Config returns the current options
func (s *Session) Config() Config {
	s.Lock()
	defer s.Unlock()
	return s.cfg
}

// Discretizer returns the discretizer of the session
func (s *Session) Discretizer() *discrete.Discretizer {
	return s.disc
}

// Call records a live event and returns a generated melody when the note
// count triggers sampling. Out of range keys are rejected with
// discrete.ErrOutOfRange. A failed training update is returned together
// with the melody, if any; the model keeps its previous state.
func (s *Session) Call(ev music.Event) ([]music.Note, error) {
	logger := log.WithFields(log.Fields{
		"function": "Session.Call",
	})
	s.Lock()
	defer s.Unlock()
	pair, err := s.disc.Encode(ev, s.prevNote)
	if err != nil {
		return nil, err
	}
	logger.Debugf("%s -> %s", ev, pair)
	if !ev.Rest {
		s.octave = music.Octave(ev.Pitch)
		s.prevNote = ev.Pitch
		if s.cfg.Triggering == NoteBased {
			s.obsCount++
			s.trainCount++
		}
		s.record(pair, ev.Onset)
	} else if s.disc.IsRest(ev.Duration * 1000) {
		s.record(pair, ev.Onset)
	}
	if s.cfg.Triggering != NoteBased {
		return nil, nil
	}
	return s.trigger()
}

// CallBeat counts one external beat
func (s *Session) CallBeat() ([]music.Note, error) {
	s.Lock()
	defer s.Unlock()
	s.obsCount++
	s.trainCount++
	return s.trigger()
}

func (s *Session) record(p hmm.Pair, onset float64) {
	s.history = append(s.history, p)
	s.onsets = append(s.onsets, onset)
	s.trim()
}

// trim keeps the last WindowSize entries of the history
func (s *Session) trim() {
	if extra := len(s.history) - s.cfg.WindowSize; extra > 0 {
		s.history = append(s.history[:0:0], s.history[extra:]...)
		s.onsets = append(s.onsets[:0:0], s.onsets[extra:]...)
	}
}

func (s *Session) trigger() ([]music.Note, error) {
	logger := log.WithFields(log.Fields{
		"function": "Session.trigger",
	})
	var trainErr error
	if s.cfg.Train && s.trainCount >= s.cfg.TrainRate {
		s.trainCount = 0
		err := s.trainer.Update(s.history, hmm.Options{
			Direct:    s.cfg.Direct,
			Weight:    s.cfg.Weighting,
			WarmStart: s.warm,
			Chunker:   s.chunker(s.onsets),
		})
		if err != nil {
			logger.Warnf("training rejected: %s", err)
			trainErr = err
		} else {
			logger.Debugf("trained on %d pairs", len(s.history))
		}
	}
	if s.obsCount < s.cfg.SampleRate {
		return nil, trainErr
	}
	s.obsCount = 0
	notes, err := s.sample()
	if err != nil {
		return nil, err
	}
	return notes, trainErr
}

// Sample generates a melody right away
func (s *Session) Sample() ([]music.Note, error) {
	s.Lock()
	defer s.Unlock()
	return s.sample()
}

func (s *Session) sample() ([]music.Note, error) {
	pairs, err := s.model.Draw(s.cfg.Samples)
	if err != nil {
		return nil, errors.Wrap(err, "sample")
	}
	return s.disc.Decode(pairs, discrete.Context{PrevNote: s.prevNote, Octave: s.octave}), nil
}

// Tune changes the live knobs and resets the trigger counters
func (s *Session) Tune(t Tuning) error {
	s.Lock()
	defer s.Unlock()
	cfg := t.Apply(s.cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg = cfg
	s.trainCount, s.obsCount = 0, 0
	s.trim()
	return nil
}

// BeatBased reports whether beats drive the triggers
func (s *Session) BeatBased() bool {
	s.Lock()
	defer s.Unlock()
	return s.cfg.Triggering == BeatBased
}

// Close stops the beat loop of the session
func (s *Session) Close() {
	s.Lock()
	defer s.Unlock()
	s.closed = true
}

// Closed reports whether Close was called
func (s *Session) Closed() bool {
	s.Lock()
	defer s.Unlock()
	return s.closed
}
