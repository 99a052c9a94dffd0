package hmm

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Options controls a single training update
type Options struct {
	// Direct selects the frequency-count estimator instead of EM
	Direct bool
	// Weight is the blend weight in percent: 100 replaces the old
	// parameters, 0 keeps them
	Weight int
	// WarmStart lets EM start from the current tables even for a
	// zero-initialized model
	WarmStart bool
	// Chunker overrides the trainer's chunk policy for this update
	Chunker Chunker
}

// Trainer updates a model online from windows of recent pairs
type Trainer struct {
	model   *Model
	chunker Chunker
}

// NewTrainer returns a trainer for m. A nil chunker puts every pair in its
// own chunk.
func NewTrainer(m *Model, chunker Chunker) *Trainer {
	if chunker == nil {
		chunker = Sequential{}
	}
	return &Trainer{model: m, chunker: chunker}
}

// Model returns the trained model
func (tr *Trainer) Model() *Model {
	return tr.model
}

// Update estimates fresh parameters from window and blends them into the
// model. A window holding symbols unknown to a non-flexible model is
// rejected with ErrContractViolation and leaves the model untouched, as
// does a failing EM fit.
func (tr *Trainer) Update(window []Pair, opts Options) error {
	logger := log.WithFields(log.Fields{
		"function": "Trainer.Update",
	})
	if len(window) == 0 {
		return nil
	}
	if opts.Weight < 0 || opts.Weight > 100 {
		return errors.Wrapf(ErrInvalidWeight, "%d", opts.Weight)
	}
	m := tr.model
	if m.Flexible() {
		for _, p := range window {
			if m.GrowState(p.State) {
				logger.Debugf("new state %s", p.State)
			}
			if m.GrowObservation(p.Observation) {
				logger.Debugf("new observation %s", p.Observation)
			}
		}
	} else {
		for _, p := range window {
			if !m.HasState(p.State) {
				return errors.Wrapf(ErrContractViolation, "state %s", p.State)
			}
			if !m.HasObservation(p.Observation) {
				return errors.Wrapf(ErrContractViolation, "observation %s", p.Observation)
			}
		}
	}

	chunker := tr.chunker
	if opts.Chunker != nil {
		chunker = opts.Chunker
	}

	old := m.tables.Clone()
	var fresh Tables
	if opts.Direct || m.Flexible() {
		fresh = tr.countDirect(chunker.Chunks(window))
		fresh.Normalize()
	} else {
		seed := old
		if m.strategy == Zero && !opts.WarmStart {
			seed = tr.countDirect(chunker.Chunks(window))
			seed.Normalize()
		}
		obs, err := m.observationIndices(window)
		if err != nil {
			return err
		}
		fresh, err = m.engine.Fit(seed, obs)
		if err != nil {
			logger.Warnf("fit failed, keeping previous tables: %s", err)
			if errors.Is(err, ErrFitFailed) {
				return err
			}
			return errors.Wrap(ErrFitFailed, err.Error())
		}
		if err = fresh.check(m.states.Len(), m.observations.Len()); err != nil {
			return errors.Wrap(ErrFitFailed, err.Error())
		}
	}

	w := float64(opts.Weight) / 100
	blended := NewTables(m.states.Len(), m.observations.Len())
	for _, b := range []struct{ dst, fresh, old *Table }{
		{blended.Start, fresh.Start, old.Start},
		{blended.Transition, fresh.Transition, old.Transition},
		{blended.Emission, fresh.Emission, old.Emission},
	} {
		if err := b.dst.Blend(b.fresh, b.old, w); err != nil {
			return err
		}
	}
	blended.Normalize()
	m.tables = blended
	logger.Debugf("trained on %d pairs (direct=%v, weight=%d)", len(window), opts.Direct || m.Flexible(), opts.Weight)
	return nil
}

// countDirect counts start, emission and transition frequencies over
// consecutive chunks. Every member of the previous chunk is linked to
// every member of the current one.
func (tr *Trainer) countDirect(chunks [][]Pair) Tables {
	m := tr.model
	t := NewTables(m.states.Len(), m.observations.Len())
	var prev []Pair
	for _, curr := range chunks {
		if len(curr) == 0 {
			continue
		}
		for _, p := range prev {
			from, _ := m.states.Index(p.State)
			o, _ := m.observations.Index(p.Observation)
			t.Start.Inc(0, from, 1)
			t.Emission.Inc(from, o, 1)
			for _, c := range curr {
				to, _ := m.states.Index(c.State)
				t.Transition.Inc(from, to, 1)
			}
		}
		prev = curr
	}
	return t
}
