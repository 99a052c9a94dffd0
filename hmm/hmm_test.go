package hmm

import (
	"math/rand/v2"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syms(values ...int) []Symbol {
	out := make([]Symbol, len(values))
	for i, v := range values {
		out[i] = Sym(v)
	}
	return out
}

func seeded() Option {
	return WithSource(rand.NewPCG(7, 11))
}

func requireStochastic(t *testing.T, m *Model) {
	t.Helper()
	require.NoError(t, m.Valid())
	tables := m.Tables()
	for _, table := range []*Table{tables.Start, tables.Transition, tables.Emission} {
		for i := 0; i < table.Rows(); i++ {
			sum := 0.0
			for _, v := range table.Row(i) {
				assert.NotZero(t, v)
				sum += v
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
		}
	}
}

type stubEngine struct {
	fit Tables
	err error
	got []int
}

func (s *stubEngine) Fit(init Tables, obs []int) (Tables, error) {
	s.got = obs
	if s.err != nil {
		return Tables{}, s.err
	}
	return s.fit.Clone(), nil
}

func (s *stubEngine) Sample(t Tables, n int, src rand.Source) ([]int, []int, error) {
	return NewBaumWelch().Sample(t, n, src)
}

func TestNewStrategies(t *testing.T) {
	for _, strategy := range []Strategy{Random, Discrete, Gauss} {
		m, err := New(syms(60, 62, 64, 65), syms(250, 500, 1000), strategy, false, seeded())
		require.NoError(t, err, strategy)
		requireStochastic(t, m)
	}

	m, err := New(syms(60, 62), syms(250), Zero, false)
	require.NoError(t, err)
	assert.Error(t, m.Valid())
	assert.Equal(t, [][]float64{{0, 0}, {0, 0}}, m.Transition())

	m, err = New(syms(60, 62), syms(250), Flexible, false)
	require.NoError(t, err)
	assert.True(t, m.Flexible())
	assert.Empty(t, m.States())
	assert.Empty(t, m.Observations())

	_, err = New(syms(60), syms(250), Strategy("uniform"), false)
	assert.True(t, errors.Is(err, ErrUnknownStrategy))

	_, err = New(syms(60, 60), syms(250), Zero, false)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestGaussOrientation(t *testing.T) {
	m, err := New(syms(1, 2, 3), syms(1, 2, 3), Gauss, false)
	require.NoError(t, err)
	// the middle state sits at y=0 and the observation axis starts at 0
	e := m.Emission()
	assert.Greater(t, e[1][0], e[1][1])
	assert.Greater(t, e[1][1], e[1][2])
	// transition mass is centred on the grid origin
	tr := m.Transition()
	assert.Greater(t, tr[1][1], tr[1][0])
	assert.InDelta(t, tr[1][0], tr[1][2], 1e-12)

	m, err = New(syms(1, 2, 3), syms(1, 2, 3), Gauss, true)
	require.NoError(t, err)
	e = m.Emission()
	assert.Greater(t, e[0][1], e[0][0])
	assert.InDelta(t, e[0][0], e[0][2], 1e-12)
}

func TestNewFromTables(t *testing.T) {
	m, err := NewFromTables(syms(0, 1), syms(7),
		[]float64{0.5, 0.5},
		[][]float64{{0.9, 0.1}, {0.2, 0.8}},
		[][]float64{{1}, {1}},
		Discrete, false)
	require.NoError(t, err)
	requireStochastic(t, m)

	_, err = NewFromTables(syms(0, 1), syms(7),
		[]float64{0.5, 0.5},
		[][]float64{{0.9, 0.1}},
		[][]float64{{1}, {1}},
		Discrete, false)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = NewFromTables(syms(0, 1), syms(7),
		[]float64{0.5, 0.5},
		[][]float64{{0.9, 0.1}, {0.2, 0.8}},
		[][]float64{{0.5, 0.5}, {1}},
		Discrete, false)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestGrowPreservesValues(t *testing.T) {
	m, err := New(nil, nil, Flexible, false, seeded())
	require.NoError(t, err)
	tr := NewTrainer(m, nil)
	require.NoError(t, tr.Update([]Pair{P(60, 200), P(62, 400), P(64, 200)}, Options{Direct: true, Weight: 100}))
	before := m.Tables()

	assert.True(t, m.GrowState(Sym(65)))
	assert.False(t, m.GrowState(Sym(65)))
	assert.True(t, m.GrowObservation(Sym(800)))
	assert.Equal(t, []Symbol{Sym(60), Sym(62), Sym(64), Sym(65)}, m.States())

	after := m.Tables()
	for i := 0; i < 3; i++ {
		assert.Equal(t, before.Start.At(0, i), after.Start.At(0, i))
		for j := 0; j < 3; j++ {
			assert.Equal(t, before.Transition.At(i, j), after.Transition.At(i, j))
		}
		for j := 0; j < 2; j++ {
			assert.Equal(t, before.Emission.At(i, j), after.Emission.At(i, j))
		}
		assert.Zero(t, after.Transition.At(i, 3))
		assert.Zero(t, after.Transition.At(3, i))
		assert.Zero(t, after.Emission.At(i, 2))
	}
	assert.Zero(t, after.Start.At(0, 3))

	m.Normalize()
	requireStochastic(t, m)
}

func TestBlendWeights(t *testing.T) {
	window := []Pair{P(60, 250), P(62, 500), P(60, 250), P(64, 250)}

	m, err := New(syms(60, 62, 64), syms(250, 500), Random, false, seeded())
	require.NoError(t, err)
	tr := NewTrainer(m, nil)
	fresh := tr.countDirect(Sequential{}.Chunks(window))
	fresh.Normalize()

	require.NoError(t, tr.Update(window, Options{Direct: true, Weight: 100}))
	assert.InDeltaSlice(t, fresh.Start.Row(0), m.Start(), 1e-12)
	for i, row := range m.Transition() {
		assert.InDeltaSlice(t, fresh.Transition.Row(i), row, 1e-12)
	}
	for i, row := range m.Emission() {
		assert.InDeltaSlice(t, fresh.Emission.Row(i), row, 1e-12)
	}

	m, err = New(syms(60, 62, 64), syms(250, 500), Random, false, seeded())
	require.NoError(t, err)
	before := m.Tables()
	require.NoError(t, NewTrainer(m, nil).Update(window, Options{Direct: true, Weight: 0}))
	assert.InDeltaSlice(t, before.Start.Row(0), m.Start(), 1e-12)
	for i, row := range m.Transition() {
		assert.InDeltaSlice(t, before.Transition.Row(i), row, 1e-12)
	}
	requireStochastic(t, m)
}

func TestDirectCountChord(t *testing.T) {
	// 60 and 64 sound together, marked by a zero duration on the first one
	m, err := New(syms(60, 64, 67), syms(0, 500), Zero, false)
	require.NoError(t, err)
	chord := Sentinel{Simultaneous: func(p Pair) bool { return p.Observation.Value == 0 }}
	tr := NewTrainer(m, chord)

	window := []Pair{P(60, 0), P(64, 500), P(67, 500)}
	require.NoError(t, tr.Update(window, Options{Direct: true, Weight: 100}))
	requireStochastic(t, m)

	tr2 := m.Transition()
	assert.InDelta(t, 1.0, tr2[0][2], 1e-9, "60 -> 67")
	assert.InDelta(t, 1.0, tr2[1][2], 1e-9, "64 -> 67")
	assert.Less(t, tr2[0][1], 1e-12, "no transition inside the chord")
	assert.Less(t, tr2[1][0], 1e-12, "no transition inside the chord")

	e := m.Emission()
	assert.InDelta(t, 1.0, e[0][0], 1e-9)
	assert.InDelta(t, 1.0, e[1][1], 1e-9)

	s := m.Start()
	assert.InDelta(t, 0.5, s[0], 1e-9)
	assert.InDelta(t, 0.5, s[1], 1e-9)
}

func TestFlexibleEndToEnd(t *testing.T) {
	m, err := New(nil, nil, Flexible, false, seeded())
	require.NoError(t, err)
	tr := NewTrainer(m, Sequential{})
	require.NoError(t, tr.Update([]Pair{P(60, 200), P(62, 200), P(60, 400)}, Options{Direct: true, Weight: 100}))

	assert.Equal(t, syms(60, 62), m.States())
	assert.Equal(t, syms(200, 400), m.Observations())
	requireStochastic(t, m)

	pairs, err := m.Draw(1)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Contains(t, syms(60, 62), pairs[0].State)
	assert.Contains(t, syms(200, 400), pairs[0].Observation)

	pairs, err = m.Draw(50)
	require.NoError(t, err)
	assert.Len(t, pairs, 50)
}

func TestContractViolation(t *testing.T) {
	m, err := New(syms(60, 62), syms(200), Discrete, false)
	require.NoError(t, err)
	before := m.Snapshot()
	tr := NewTrainer(m, nil)

	err = tr.Update([]Pair{P(60, 200), P(64, 200)}, Options{Direct: true, Weight: 100})
	assert.True(t, errors.Is(err, ErrContractViolation))
	err = tr.Update([]Pair{P(60, 300)}, Options{Weight: 100})
	assert.True(t, errors.Is(err, ErrContractViolation))
	assert.Equal(t, before, m.Snapshot())
}

func TestUpdateMisc(t *testing.T) {
	m, err := New(syms(60), syms(200), Discrete, false)
	require.NoError(t, err)
	tr := NewTrainer(m, nil)
	before := m.Snapshot()
	assert.NoError(t, tr.Update(nil, Options{Weight: 50}))
	assert.Equal(t, before, m.Snapshot())
	assert.True(t, errors.Is(tr.Update([]Pair{P(60, 200)}, Options{Weight: 101}), ErrInvalidWeight))
	assert.True(t, errors.Is(tr.Update([]Pair{P(60, 200)}, Options{Weight: -1}), ErrInvalidWeight))
}

func TestFitFailureKeepsTables(t *testing.T) {
	stub := &stubEngine{err: errors.New("singular")}
	m, err := New(syms(60, 62), syms(200, 400), Random, false, WithEngine(stub), seeded())
	require.NoError(t, err)
	before := m.Snapshot()

	err = NewTrainer(m, nil).Update([]Pair{P(60, 200), P(62, 400)}, Options{Weight: 50})
	assert.True(t, errors.Is(err, ErrFitFailed))
	assert.Equal(t, before, m.Snapshot())

	stub.err = nil
	stub.fit = NewTables(3, 3)
	err = NewTrainer(m, nil).Update([]Pair{P(60, 200)}, Options{Weight: 50})
	assert.True(t, errors.Is(err, ErrFitFailed))
	assert.Equal(t, before, m.Snapshot())
}

func TestStubEngineBlend(t *testing.T) {
	fit := NewTables(2, 2)
	fit.Start.Set(0, 0, 1)
	fit.Transition.Set(0, 0, 1)
	fit.Transition.Set(1, 0, 1)
	fit.Emission.Set(0, 1, 1)
	fit.Emission.Set(1, 1, 1)
	stub := &stubEngine{fit: fit}

	m, err := New(syms(60, 62), syms(200, 400), Discrete, false, WithEngine(stub))
	require.NoError(t, err)
	require.NoError(t, NewTrainer(m, nil).Update([]Pair{P(60, 400), P(62, 200), P(60, 400)}, Options{Weight: 50}))

	assert.Equal(t, []int{1, 0, 1}, stub.got)
	assert.InDeltaSlice(t, []float64{0.75, 0.25}, m.Start(), 1e-9)
	assert.InDeltaSlice(t, []float64{0.75, 0.25}, m.Transition()[1], 1e-9)
	assert.InDeltaSlice(t, []float64{0.25, 0.75}, m.Emission()[0], 1e-9)
	requireStochastic(t, m)
}

func TestBaumWelchKeepsDistributions(t *testing.T) {
	window := []Pair{P(60, 250), P(62, 500), P(64, 250), P(62, 500), P(60, 250), P(60, 1000)}

	m, err := New(syms(60, 62, 64), syms(250, 500, 1000), Random, false, seeded())
	require.NoError(t, err)
	require.NoError(t, NewTrainer(m, nil).Update(window, Options{Weight: 50}))
	requireStochastic(t, m)

	// a zero model is seeded with direct counts before the fit
	m, err = New(syms(60, 62, 64), syms(250, 500, 1000), Zero, false, seeded())
	require.NoError(t, err)
	require.NoError(t, NewTrainer(m, nil).Update(window, Options{Weight: 100}))
	requireStochastic(t, m)

	pairs, err := m.Draw(10)
	require.NoError(t, err)
	assert.Len(t, pairs, 10)
}

func TestBaumWelchFit(t *testing.T) {
	init := NewTables(2, 2)
	init.Start.Set(0, 0, 0.6)
	init.Start.Set(0, 1, 0.4)
	init.Transition.Set(0, 0, 0.7)
	init.Transition.Set(0, 1, 0.3)
	init.Transition.Set(1, 0, 0.4)
	init.Transition.Set(1, 1, 0.6)
	init.Emission.Set(0, 0, 0.9)
	init.Emission.Set(0, 1, 0.1)
	init.Emission.Set(1, 0, 0.2)
	init.Emission.Set(1, 1, 0.8)
	orig := init.Clone()

	fit, err := NewBaumWelch().Fit(init, []int{0, 0, 1, 1, 0, 1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, orig, init)
	for i := 0; i < 2; i++ {
		assert.InDelta(t, 1.0, fit.Transition.At(i, 0)+fit.Transition.At(i, 1), 1e-9)
		assert.InDelta(t, 1.0, fit.Emission.At(i, 0)+fit.Emission.At(i, 1), 1e-9)
	}

	_, err = NewBaumWelch().Fit(init, []int{0, 2})
	assert.True(t, errors.Is(err, ErrFitFailed))
	_, err = NewBaumWelch().Fit(NewTables(0, 0), []int{0})
	assert.True(t, errors.Is(err, ErrFitFailed))
	// an all-zero start cannot explain anything
	_, err = NewBaumWelch().Fit(NewTables(2, 2), []int{0})
	assert.True(t, errors.Is(err, ErrFitFailed))
}

func TestDrawErrors(t *testing.T) {
	m, err := New(nil, nil, Flexible, false)
	require.NoError(t, err)
	_, err = m.Draw(1)
	assert.True(t, errors.Is(err, ErrEmptyModel))

	m, err = New(syms(60), syms(200), Discrete, false)
	require.NoError(t, err)
	_, err = m.Draw(0)
	assert.True(t, errors.Is(err, ErrInvalidCount))

	m, err = New(syms(60), syms(200), Zero, false)
	require.NoError(t, err)
	_, err = m.Draw(1)
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	m, err := New(syms(60, 62), syms(200, 400), Gauss, true)
	require.NoError(t, err)
	c, err := FromSnapshot(m.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, m.Snapshot(), c.Snapshot())
	assert.True(t, c.Vertical())
	assert.Equal(t, Gauss, c.Strategy())

	s := m.Snapshot()
	s.Emission = s.Emission[:1]
	_, err = FromSnapshot(s)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	clone := m.Clone()
	clone.Normalize()
	clone.tables.Start.Set(0, 0, 1)
	assert.NotEqual(t, clone.Start(), m.Start())
}

func TestChunkers(t *testing.T) {
	window := []Pair{P(60, 0), P(64, 0), P(67, 500), P(72, 250)}

	assert.Len(t, Sequential{}.Chunks(window), 4)

	chunks := Sentinel{Simultaneous: func(p Pair) bool { return p.Observation.Value == 0 }}.Chunks(window)
	require.Len(t, chunks, 2)
	assert.Equal(t, window[:3], chunks[0])
	assert.Equal(t, window[3:], chunks[1])

	chunks = Onsets{Times: []float64{0, 0.01, 0.5, 0.5}, Tolerance: 0.02}.Chunks(window)
	require.Len(t, chunks, 2)
	assert.Equal(t, window[:2], chunks[0])
	assert.Equal(t, window[2:], chunks[1])

	assert.Len(t, Onsets{Times: []float64{0}}.Chunks(window), 4)
	assert.Empty(t, Onsets{}.Chunks(nil))
}

func TestTableGrowAndBlend(t *testing.T) {
	table, err := TableFrom([][]float64{{1, 2}, {3, 4}}, 2)
	require.NoError(t, err)
	table.Grow(3, 3)
	assert.Equal(t, [][]float64{{1, 2, 0}, {3, 4, 0}, {0, 0, 0}}, table.Dense())
	table.Grow(1, 1)
	assert.Equal(t, 3, table.Rows())

	table.Normalize()
	assert.InDelta(t, 1.0/3, table.At(0, 0), 1e-9)
	assert.InDeltaSlice(t, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, table.Row(2), 1e-9)

	dst := NewTable(3, 3)
	assert.True(t, errors.Is(dst.Blend(NewTable(2, 3), table, 0.5), ErrDimensionMismatch))
	require.NoError(t, dst.Blend(table, NewTable(3, 3), 0.5))
	assert.InDelta(t, table.At(1, 1)/2, dst.At(1, 1), 1e-12)
}

func TestStochastic(t *testing.T) {
	table, err := TableFrom([][]float64{{0.25, 0.75}, {0.5, 0.5 + 1e-12}}, 2)
	require.NoError(t, err)
	assert.True(t, table.stochastic(1e-9))
	assert.False(t, table.stochastic(1e-14))

	table, err = TableFrom([][]float64{{0, 1}}, 2)
	require.NoError(t, err)
	assert.False(t, table.stochastic(1e-9))
	table, err = TableFrom([][]float64{{0.5, 0.6}}, 2)
	require.NoError(t, err)
	assert.False(t, table.stochastic(1e-9))
}
