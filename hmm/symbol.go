package hmm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Symbol is one entry of a state or observation alphabet. Simple symbols
// only use Value; joint symbols carry a second component in Aux.
type Symbol struct {
	Value int  `json:"v"`
	Aux   int  `json:"a,omitempty"`
	Joint bool `json:"j,omitempty"`
}

// Sym returns a simple symbol
func Sym(v int) Symbol {
	return Symbol{Value: v}
}

// JointSym returns a composite symbol made of two values
func JointSym(v, aux int) Symbol {
	return Symbol{Value: v, Aux: aux, Joint: true}
}

func (s Symbol) String() string {
	if s.Joint {
		return fmt.Sprintf("(%d,%d)", s.Value, s.Aux)
	}
	return fmt.Sprintf("%d", s.Value)
}

// Pair is one discretized event: a state and the observation it emitted
type Pair struct {
	State       Symbol `json:"state"`
	Observation Symbol `json:"observation"`
}

// P builds a pair from two simple symbols
func P(state, observation int) Pair {
	return Pair{State: Sym(state), Observation: Sym(observation)}
}

func (p Pair) String() string {
	return fmt.Sprintf("<%s|%s>", p.State, p.Observation)
}

// Alphabet is an ordered, append-only set of distinct symbols. The position
// of a symbol is its index in every probability table.
type Alphabet struct {
	symbols []Symbol
	index   map[Symbol]int
}

// NewAlphabet returns an alphabet holding the symbols in the given order
func NewAlphabet(symbols ...Symbol) (*Alphabet, error) {
	a := &Alphabet{
		symbols: make([]Symbol, 0, len(symbols)),
		index:   make(map[Symbol]int, len(symbols)),
	}
	for _, s := range symbols {
		if _, added := a.Append(s); !added {
			return nil, errors.Wrapf(ErrDimensionMismatch, "duplicate symbol %s", s)
		}
	}
	return a, nil
}

// Len returns the number of symbols
func (a *Alphabet) Len() int {
	return len(a.symbols)
}

// Index returns the position of s
func (a *Alphabet) Index(s Symbol) (int, bool) {
	i, ok := a.index[s]
	return i, ok
}

// Has reports whether s is in the alphabet
func (a *Alphabet) Has(s Symbol) bool {
	_, ok := a.index[s]
	return ok
}

// At returns the symbol at position i
func (a *Alphabet) At(i int) Symbol {
	return a.symbols[i]
}

// Append adds s at the end. It returns the index of s and whether it was new.
func (a *Alphabet) Append(s Symbol) (int, bool) {
	if i, ok := a.index[s]; ok {
		return i, false
	}
	a.symbols = append(a.symbols, s)
	a.index[s] = len(a.symbols) - 1
	return len(a.symbols) - 1, true
}

// Symbols returns a copy of the symbols in index order
func (a *Alphabet) Symbols() []Symbol {
	out := make([]Symbol, len(a.symbols))
	copy(out, a.symbols)
	return out
}

func (a *Alphabet) clone() *Alphabet {
	c, _ := NewAlphabet(a.symbols...)
	return c
}
