package hmm

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// Strategy selects how the tables of a new model are filled
type Strategy string

// Available initialization strategies
const (
	Random   Strategy = "random"
	Zero     Strategy = "zero"
	Discrete Strategy = "discrete"
	Gauss    Strategy = "gauss"
	Flexible Strategy = "flexible"
)

// ParseStrategy validates a strategy name
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case Random, Zero, Discrete, Gauss, Flexible:
		return st, nil
	}
	return "", errors.Wrapf(ErrUnknownStrategy, "%q", s)
}

// Model is a first-order discrete hidden Markov model over two alphabets.
// A flexible model starts empty and grows its alphabets as symbols arrive.
//
// Model is not safe for concurrent use; callers serialize access.
type Model struct {
	states       *Alphabet
	observations *Alphabet
	tables       Tables

	strategy Strategy
	// vertical is set when states vary along the time axis, which flips
	// the orientation of the gauss kernel
	vertical bool

	engine Engine
	src    rand.Source
}

// Option configures a model
type Option func(*Model)

// WithEngine replaces the EM fit / sample engine
func WithEngine(e Engine) Option {
	return func(m *Model) {
		m.engine = e
	}
}

// WithSource sets the random source used for initialization and sampling
func WithSource(src rand.Source) Option {
	return func(m *Model) {
		m.src = src
	}
}

// New returns a model over the given alphabets, initialized with strategy.
// The alphabets are ignored by the flexible strategy.
func New(states, observations []Symbol, strategy Strategy, vertical bool, opts ...Option) (*Model, error) {
	logger := log.WithFields(log.Fields{
		"function": "hmm.New",
	})
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if strategy == Flexible {
		states, observations = nil, nil
	}
	m, err := newModel(states, observations, strategy, vertical, opts)
	if err != nil {
		return nil, err
	}
	m.tables = NewTables(m.states.Len(), m.observations.Len())

	r := rand.New(m.src)
	switch strategy {
	case Random:
		for _, t := range []*Table{m.tables.Start, m.tables.Transition, m.tables.Emission} {
			for i := range t.data {
				t.data[i] = r.Float64()
			}
		}
		m.Normalize()
	case Discrete:
		m.Normalize()
	case Gauss:
		s, o := [2]float64{-3, 3}, [2]float64{0, 3}
		if vertical {
			s, o = [2]float64{0, 3}, [2]float64{-3, 3}
		}
		m.tables.Start = gaussTable(1, m.states.Len(), s, s)
		m.tables.Transition = gaussTable(m.states.Len(), m.states.Len(), s, s)
		m.tables.Emission = gaussTable(m.states.Len(), m.observations.Len(), s, o)
		m.Normalize()
	}
	logger.Debugf("%s model with %d states and %d observations", strategy, m.states.Len(), m.observations.Len())
	return m, nil
}

// NewFromTables returns a model holding the given tables. The table shapes
// must match the alphabets.
func NewFromTables(states, observations []Symbol, start []float64, transition, emission [][]float64,
	strategy Strategy, vertical bool, opts ...Option) (*Model, error) {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	m, err := newModel(states, observations, strategy, vertical, opts)
	if err != nil {
		return nil, err
	}
	startTable, err := TableFrom([][]float64{start}, len(start))
	if err != nil {
		return nil, err
	}
	transitionTable, err := TableFrom(transition, len(states))
	if err != nil {
		return nil, errors.WithMessage(err, "transition")
	}
	emissionTable, err := TableFrom(emission, len(observations))
	if err != nil {
		return nil, errors.WithMessage(err, "emission")
	}
	m.tables = Tables{Start: startTable, Transition: transitionTable, Emission: emissionTable}
	if err = m.tables.check(len(states), len(observations)); err != nil {
		return nil, err
	}
	return m, nil
}

func newModel(states, observations []Symbol, strategy Strategy, vertical bool, opts []Option) (*Model, error) {
	sa, err := NewAlphabet(states...)
	if err != nil {
		return nil, errors.WithMessage(err, "states")
	}
	oa, err := NewAlphabet(observations...)
	if err != nil {
		return nil, errors.WithMessage(err, "observations")
	}
	m := &Model{
		states:       sa,
		observations: oa,
		strategy:     strategy,
		vertical:     vertical,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.src == nil {
		seed := uint64(time.Now().UnixNano())
		m.src = rand.NewPCG(seed, seed>>1|1)
	}
	if m.engine == nil {
		m.engine = NewBaumWelch()
	}
	return m, nil
}

// Strategy returns the initialization strategy of the model
func (m *Model) Strategy() Strategy { return m.strategy }

// Flexible reports whether the alphabets grow on demand
func (m *Model) Flexible() bool { return m.strategy == Flexible }

// Vertical reports the axis orientation flag
func (m *Model) Vertical() bool { return m.vertical }

// States returns the state alphabet in index order
func (m *Model) States() []Symbol { return m.states.Symbols() }

// Observations returns the observation alphabet in index order
func (m *Model) Observations() []Symbol { return m.observations.Symbols() }

// HasState reports whether s is a known state
func (m *Model) HasState(s Symbol) bool { return m.states.Has(s) }

// HasObservation reports whether o is a known observation
func (m *Model) HasObservation(o Symbol) bool { return m.observations.Has(o) }

// Tables returns a copy of the current parameters
func (m *Model) Tables() Tables { return m.tables.Clone() }

// Start returns a copy of the start distribution
func (m *Model) Start() []float64 {
	out := make([]float64, m.tables.Start.Cols())
	copy(out, m.tables.Start.Row(0))
	return out
}

// Transition returns a copy of the transition table
func (m *Model) Transition() [][]float64 { return m.tables.Transition.Dense() }

// Emission returns a copy of the emission table
func (m *Model) Emission() [][]float64 { return m.tables.Emission.Dense() }

// GrowState appends a state symbol, extending start and transition by a
// zero entry and emission by a zero row. Known symbols are left alone.
func (m *Model) GrowState(s Symbol) bool {
	if _, added := m.states.Append(s); !added {
		return false
	}
	n := m.states.Len()
	m.tables.Start.Grow(1, n)
	m.tables.Transition.Grow(n, n)
	m.tables.Emission.Grow(n, m.observations.Len())
	return true
}

// GrowObservation appends an observation symbol, extending emission by a
// zero column. Known symbols are left alone.
func (m *Model) GrowObservation(o Symbol) bool {
	if _, added := m.observations.Append(o); !added {
		return false
	}
	m.tables.Emission.Grow(m.states.Len(), m.observations.Len())
	return true
}

// Normalize floors zeros to Epsilon and normalizes every distribution
func (m *Model) Normalize() {
	m.tables.Normalize()
}

// Valid returns an error unless every table matches the alphabets and
// holds proper distributions
func (m *Model) Valid() error {
	if err := m.tables.check(m.states.Len(), m.observations.Len()); err != nil {
		return err
	}
	if m.states.Len() == 0 || m.observations.Len() == 0 {
		return ErrEmptyModel
	}
	const tol = 1e-6
	for name, t := range map[string]*Table{
		"start":      m.tables.Start,
		"transition": m.tables.Transition,
		"emission":   m.tables.Emission,
	} {
		if !t.stochastic(tol) {
			return errors.Errorf("%s table is not a distribution", name)
		}
	}
	return nil
}

// observationIndices maps the observations of a window to alphabet indices
func (m *Model) observationIndices(window []Pair) ([]int, error) {
	obs := make([]int, len(window))
	for t, p := range window {
		i, ok := m.observations.Index(p.Observation)
		if !ok {
			return nil, errors.Wrapf(ErrContractViolation, "observation %s", p.Observation)
		}
		obs[t] = i
	}
	return obs, nil
}

// gaussTable evaluates exp(-d^2/2) over an m x n grid spanning y rows and
// x columns
func gaussTable(m, n int, y, x [2]float64) *Table {
	t := NewTable(m, n)
	ys, xs := linspace(y, m), linspace(x, n)
	for i, yv := range ys {
		for j, xv := range xs {
			t.Set(i, j, math.Exp(-(xv*xv+yv*yv)/2))
		}
	}
	return t
}

// linspace returns n evenly spaced values over [r[0], r[1]]
func linspace(r [2]float64, n int) []float64 {
	switch n {
	case 0:
		return nil
	case 1:
		return []float64{r[0]}
	}
	return floats.Span(make([]float64, n), r[0], r[1])
}
