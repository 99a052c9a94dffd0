package session

import (
	"github.com/pkg/errors"

	"github.com/spirio-sessions/hmmmusictool/discrete"
	"github.com/spirio-sessions/hmmmusictool/hmm"
)

// Record is the persisted form of a session: the model together with the
// config that rebuilds a matching discretizer
type Record struct {
	Config   Config       `json:"config"`
	Model    hmm.Snapshot `json:"model"`
	PrevNote int          `json:"prev_note"`
	Octave   int          `json:"octave"`
	Warm     bool         `json:"warm"`
}

// Record returns a snapshot of the session
func (s *Session) Record() Record {
	s.Lock()
	defer s.Unlock()
	return Record{
		Config:   s.cfg,
		Model:    s.model.Snapshot(),
		PrevNote: s.prevNote,
		Octave:   s.octave,
		Warm:     s.warm,
	}
}

// Restore rebuilds a session from a record. The corpus is not read again.
// A model whose alphabets or strategy do not fit the config fails with
// ErrInconsistent.
func Restore(rec Record, opts ...Option) (*Session, error) {
	cfg := rec.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	disc, err := discrete.New(cfg.Discretizer())
	if err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if err = consistent(rec.Model, cfg, disc); err != nil {
		return nil, err
	}
	o := collect(opts)
	model, err := hmm.FromSnapshot(rec.Model, o.model...)
	if err != nil {
		return nil, errors.Wrap(ErrInconsistent, err.Error())
	}
	s := newSession(cfg, disc, model)
	s.prevNote, s.octave, s.warm = rec.PrevNote, rec.Octave, rec.Warm
	return s, nil
}

func consistent(snap hmm.Snapshot, cfg Config, disc *discrete.Discretizer) error {
	if snap.Strategy != cfg.Init {
		return errors.Wrapf(ErrInconsistent, "model strategy %s, config %s", snap.Strategy, cfg.Init)
	}
	if snap.Vertical != disc.Vertical() {
		return errors.Wrapf(ErrInconsistent, "axis orientation does not fit layout %s", cfg.Layout)
	}
	if cfg.Init == hmm.Flexible {
		for _, st := range snap.States {
			if !disc.ValidState(st) {
				return errors.Wrapf(ErrInconsistent, "state %s", st)
			}
		}
		for _, o := range snap.Observations {
			if !disc.ValidObservation(o) {
				return errors.Wrapf(ErrInconsistent, "observation %s", o)
			}
		}
		return nil
	}
	if !sameSymbols(snap.States, disc.States()) {
		return errors.Wrapf(ErrInconsistent, "%d states, layout has %d", len(snap.States), len(disc.States()))
	}
	if !sameSymbols(snap.Observations, disc.Observations()) {
		return errors.Wrapf(ErrInconsistent, "%d observations, layout has %d", len(snap.Observations), len(disc.Observations()))
	}
	return nil
}

func sameSymbols(a, b []hmm.Symbol) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
