package hmm

import "github.com/pkg/errors"

// Snapshot is the serializable form of a model
type Snapshot struct {
	Strategy     Strategy    `json:"strategy"`
	Vertical     bool        `json:"vertical"`
	States       []Symbol    `json:"states"`
	Observations []Symbol    `json:"observations"`
	Start        []float64   `json:"start"`
	Transition   [][]float64 `json:"transition"`
	Emission     [][]float64 `json:"emission"`
}

// Snapshot returns a deep copy of the alphabets and tables
func (m *Model) Snapshot() Snapshot {
	return Snapshot{
		Strategy:     m.strategy,
		Vertical:     m.vertical,
		States:       m.States(),
		Observations: m.Observations(),
		Start:        m.Start(),
		Transition:   m.Transition(),
		Emission:     m.Emission(),
	}
}

// FromSnapshot rebuilds a model. A flexible snapshot keeps growing after it
// is restored.
func FromSnapshot(s Snapshot, opts ...Option) (*Model, error) {
	m, err := NewFromTables(s.States, s.Observations, s.Start, s.Transition, s.Emission, s.Strategy, s.Vertical, opts...)
	if err != nil {
		return nil, errors.WithMessage(err, "snapshot")
	}
	return m, nil
}

// Clone returns an independent copy of the model sharing its engine and
// random source
func (m *Model) Clone() *Model {
	return &Model{
		states:       m.states.clone(),
		observations: m.observations.clone(),
		tables:       m.tables.Clone(),
		strategy:     m.strategy,
		vertical:     m.vertical,
		engine:       m.engine,
		src:          m.src,
	}
}
