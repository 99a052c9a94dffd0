package hmm

import "math"

// Chunker splits a training window into chunks of simultaneous events.
// The direct-count estimator never records transitions between members of
// the same chunk.
type Chunker interface {
	Chunks(window []Pair) [][]Pair
}

// Sequential puts every pair in its own chunk
type Sequential struct{}

// Chunks implements Chunker
func (Sequential) Chunks(window []Pair) [][]Pair {
	chunks := make([][]Pair, len(window))
	for i := range window {
		chunks[i] = window[i : i+1]
	}
	return chunks
}

// Sentinel joins a pair to the chunk of the pair after it whenever
// Simultaneous reports true for it, e.g. for zero-duration markers.
type Sentinel struct {
	Simultaneous func(Pair) bool
}

// Chunks implements Chunker
func (s Sentinel) Chunks(window []Pair) [][]Pair {
	chunks := [][]Pair{}
	chunk := []Pair{}
	for _, p := range window {
		chunk = append(chunk, p)
		if s.Simultaneous != nil && s.Simultaneous(p) {
			continue
		}
		chunks = append(chunks, chunk)
		chunk = []Pair{}
	}
	if len(chunk) > 0 {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Onsets groups consecutive pairs whose onset times (seconds, aligned with
// the window) lie within Tolerance of the first pair of the chunk. When the
// onsets do not line up with the window every pair is its own chunk.
type Onsets struct {
	Times     []float64
	Tolerance float64
}

// Chunks implements Chunker
func (o Onsets) Chunks(window []Pair) [][]Pair {
	if len(o.Times) != len(window) {
		return Sequential{}.Chunks(window)
	}
	chunks := [][]Pair{}
	begin := 0
	for i := 1; i <= len(window); i++ {
		if i < len(window) && math.Abs(o.Times[i]-o.Times[begin]) <= o.Tolerance {
			continue
		}
		chunks = append(chunks, window[begin:i])
		begin = i
	}
	return chunks
}
