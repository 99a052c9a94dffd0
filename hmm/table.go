package hmm

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

// Epsilon replaces exact zeros before a table is normalized
const Epsilon = 1e-15

// Table is a dense row-major matrix whose size is tracked explicitly so
// that it can grow without losing the values already stored.
type Table struct {
	rows, cols int
	data       []float64
}

// NewTable returns a zero table
func NewTable(rows, cols int) *Table {
	return &Table{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

// TableFrom copies a [][]float64 into a table. All rows must have cols entries.
func TableFrom(rows [][]float64, cols int) (*Table, error) {
	t := NewTable(len(rows), cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, errors.Wrapf(ErrDimensionMismatch, "row %d has %d columns, want %d", i, len(row), cols)
		}
		copy(t.Row(i), row)
	}
	return t, nil
}

// Rows returns the number of rows
func (t *Table) Rows() int { return t.rows }

// Cols returns the number of columns
func (t *Table) Cols() int { return t.cols }

// At returns the value at (i, j)
func (t *Table) At(i, j int) float64 {
	return t.data[i*t.cols+j]
}

// Set stores v at (i, j)
func (t *Table) Set(i, j int, v float64) {
	t.data[i*t.cols+j] = v
}

// Inc adds v at (i, j)
func (t *Table) Inc(i, j int, v float64) {
	t.data[i*t.cols+j] += v
}

// Row returns a view of row i
func (t *Table) Row(i int) []float64 {
	return t.data[i*t.cols : (i+1)*t.cols]
}

// Grow enlarges the table to rows x cols. Existing values keep their
// coordinates and the new cells are zero. Smaller sizes are ignored.
func (t *Table) Grow(rows, cols int) {
	if rows < t.rows {
		rows = t.rows
	}
	if cols < t.cols {
		cols = t.cols
	}
	if rows == t.rows && cols == t.cols {
		return
	}
	data := make([]float64, rows*cols)
	for i := 0; i < t.rows; i++ {
		copy(data[i*cols:i*cols+t.cols], t.Row(i))
	}
	t.rows, t.cols, t.data = rows, cols, data
}

// Zero resets every cell to zero
func (t *Table) Zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

// FloorZeros replaces exact zeros with eps
func (t *Table) FloorZeros(eps float64) {
	for i, v := range t.data {
		if v == 0 {
			t.data[i] = eps
		}
	}
}

// NormalizeRows scales every row to sum to one. Rows summing to zero are
// left untouched.
func (t *Table) NormalizeRows() {
	for i := 0; i < t.rows; i++ {
		row := t.Row(i)
		sum := floats.Sum(row)
		if sum == 0 {
			continue
		}
		floats.Scale(1/sum, row)
	}
}

// Normalize floors zeros and normalizes the rows
func (t *Table) Normalize() {
	t.FloorZeros(Epsilon)
	t.NormalizeRows()
}

// Blend stores w*fresh + (1-w)*old into t. All three tables must have the
// same shape.
func (t *Table) Blend(fresh, old *Table, w float64) error {
	if !t.sameShape(fresh) || !t.sameShape(old) {
		return errors.Wrapf(ErrDimensionMismatch, "blend %dx%d with %dx%d and %dx%d",
			t.rows, t.cols, fresh.rows, fresh.cols, old.rows, old.cols)
	}
	floats.ScaleTo(t.data, w, fresh.data)
	floats.AddScaled(t.data, 1-w, old.data)
	return nil
}

// Clone returns a deep copy
func (t *Table) Clone() *Table {
	c := &Table{rows: t.rows, cols: t.cols, data: make([]float64, len(t.data))}
	copy(c.data, t.data)
	return c
}

// Dense returns a copy of the table as nested slices
func (t *Table) Dense() [][]float64 {
	out := make([][]float64, t.rows)
	for i := range out {
		out[i] = make([]float64, t.cols)
		copy(out[i], t.Row(i))
	}
	return out
}

func (t *Table) sameShape(o *Table) bool {
	return t.rows == o.rows && t.cols == o.cols
}

// stochastic reports whether every row sums to one and holds no zero
func (t *Table) stochastic(tol float64) bool {
	for i := 0; i < t.rows; i++ {
		if t.cols == 0 {
			continue
		}
		row := t.Row(i)
		if floats.Min(row) <= 0 || !scalar.EqualWithinAbs(floats.Sum(row), 1, tol) {
			return false
		}
	}
	return true
}

// Tables bundles the three parameter tables of a model. Start is a single row.
type Tables struct {
	Start      *Table
	Transition *Table
	Emission   *Table
}

// NewTables returns zero tables for the given alphabet sizes
func NewTables(states, observations int) Tables {
	return Tables{
		Start:      NewTable(1, states),
		Transition: NewTable(states, states),
		Emission:   NewTable(states, observations),
	}
}

// Clone returns a deep copy
func (t Tables) Clone() Tables {
	return Tables{
		Start:      t.Start.Clone(),
		Transition: t.Transition.Clone(),
		Emission:   t.Emission.Clone(),
	}
}

// Normalize floors and normalizes the three tables
func (t Tables) Normalize() {
	t.Start.Normalize()
	t.Transition.Normalize()
	t.Emission.Normalize()
}

// States returns the number of states the tables are sized for
func (t Tables) States() int { return t.Start.Cols() }

// Observations returns the number of observations the tables are sized for
func (t Tables) Observations() int { return t.Emission.Cols() }

func (t Tables) check(states, observations int) error {
	switch {
	case t.Start.Rows() != 1 || t.Start.Cols() != states:
		return errors.Wrapf(ErrDimensionMismatch, "start is %dx%d, want 1x%d", t.Start.Rows(), t.Start.Cols(), states)
	case t.Transition.Rows() != states || t.Transition.Cols() != states:
		return errors.Wrapf(ErrDimensionMismatch, "transition is %dx%d, want %dx%d",
			t.Transition.Rows(), t.Transition.Cols(), states, states)
	case t.Emission.Rows() != states || t.Emission.Cols() != observations:
		return errors.Wrapf(ErrDimensionMismatch, "emission is %dx%d, want %dx%d",
			t.Emission.Rows(), t.Emission.Cols(), states, observations)
	}
	return nil
}
