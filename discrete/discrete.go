// Package discrete maps musical events to the symbols of an HMM and back.
//
// Note symbols depend on the note space: key numbers 21..108 (rest 109),
// pitch classes 0..11 (rest 12) or intervals -12..12 (rest 13). Duration
// symbols count microseconds so that tempo derived beat lengths stay exact.
package discrete

import (
	"math"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/spirio-sessions/hmmmusictool/hmm"
	"github.com/spirio-sessions/hmmmusictool/music"
)

// Layout decides which quantity is the state and which the observation
type Layout string

// Available layouts
const (
	Joint         Layout = "joint"
	VelocityJoint Layout = "velocity-joint"
	NoteTime      Layout = "note-time"
	TimeNote      Layout = "time-note"
)

// NoteSpace is the symbol space of the note component
type NoteSpace string

// Available note spaces
const (
	MidiKeys  NoteSpace = "midikeys"
	Semitones NoteSpace = "semitones"
	Intervals NoteSpace = "intervals"
)

// TimeSpace is the alphabet of the duration component
type TimeSpace string

// Available time spaces
const (
	Milliseconds TimeSpace = "ms"
	Beats        TimeSpace = "beats"
)

// Defaults of a fresh session
const (
	DefaultTempo    = 500000 // microseconds per beat
	DefaultEndRange = 2000   // ms
	DefaultVelocity = 100
	// Gap is the silence in seconds inserted after every decoded note
	Gap = 0.03
	// IntervalBand bounds the intervals that keep their value
	IntervalBand = 12
)

var (
	// ErrMissingTimingInfo is returned when ticks cannot be converted to
	// time because tempo or resolution are unknown
	ErrMissingTimingInfo = errors.New("could not read a tempo and ticks per beat")
	// ErrOutOfRange is returned for keys outside the piano
	ErrOutOfRange = errors.New("key out of range")
)

// Config selects the alphabets of a Discretizer
type Config struct {
	Layout       Layout    `json:"layout"`
	Note         NoteSpace `json:"note"`
	Time         TimeSpace `json:"time"`
	Quantisation int       `json:"quantisation"` // ms
	EndRange     int       `json:"end_range,omitempty"`
	Tempo        int       `json:"tempo,omitempty"`
	// Flexible rounds durations to the quantisation step instead of
	// looking up the nearest alphabet entry
	Flexible bool `json:"flexible,omitempty"`
}

// Discretizer encodes events to pairs and decodes pairs to notes
type Discretizer struct {
	cfg        Config
	notes      []int
	rest       int
	durations  []float64 // ms
	beats      []float64 // ms
	velocities []int
}

// Context carries the running decode references
type Context struct {
	// PrevNote is the last sounding key, used by intervals
	PrevNote int
	// Octave is used to place pitch classes on the keyboard
	Octave int
}

// New returns a discretizer for cfg
func New(cfg Config) (*Discretizer, error) {
	logger := log.WithFields(log.Fields{
		"function": "discrete.New",
	})
	if cfg.Quantisation <= 0 {
		return nil, errors.Errorf("quantisation must be positive, got %d", cfg.Quantisation)
	}
	if cfg.EndRange <= 0 {
		cfg.EndRange = DefaultEndRange
	}
	if cfg.Tempo <= 0 {
		cfg.Tempo = DefaultTempo
	}
	d := &Discretizer{cfg: cfg}
	switch cfg.Layout {
	case Joint, VelocityJoint, NoteTime, TimeNote:
	default:
		return nil, errors.Errorf("unknown layout %q", cfg.Layout)
	}

	switch cfg.Note {
	case MidiKeys:
		d.notes = intRange(music.LowestKey, music.HighestKey+2, 1)
	case Semitones:
		d.notes = intRange(0, len(music.PitchClasses)+1, 1)
	case Intervals:
		d.notes = intRange(-IntervalBand, IntervalBand+2, 1)
	default:
		return nil, errors.Errorf("unknown note space %q", cfg.Note)
	}
	d.rest = d.notes[len(d.notes)-1]

	d.beats = BeatLengths(cfg.Tempo)
	switch cfg.Time {
	case Milliseconds:
		step := cfg.Quantisation
		end := cfg.EndRange - cfg.EndRange%step + step
		for ms := step; ms < end; ms += step {
			d.durations = append(d.durations, float64(ms))
		}
	case Beats:
		d.durations = append([]float64(nil), d.beats...)
	default:
		return nil, errors.Errorf("unknown time space %q", cfg.Time)
	}
	if len(d.durations) == 0 {
		return nil, errors.Errorf("quantisation %d leaves no durations below %d ms", cfg.Quantisation, cfg.EndRange)
	}

	d.velocities = intRange(8, 131, 5)
	logger.Debugf("%s/%s/%s with %d notes and %d durations", cfg.Layout, cfg.Note, cfg.Time, len(d.notes), len(d.durations))
	return d, nil
}

// Config returns the configuration with defaults applied
func (d *Discretizer) Config() Config { return d.cfg }

// Rest returns the note symbol of a rest
func (d *Discretizer) Rest() int { return d.rest }

// Notes returns the note alphabet, rest last
func (d *Discretizer) Notes() []int { return append([]int(nil), d.notes...) }

// Durations returns the duration alphabet in ms
func (d *Discretizer) Durations() []float64 { return append([]float64(nil), d.durations...) }

// Beats returns the beat lengths in ms at the configured tempo
func (d *Discretizer) Beats() []float64 { return append([]float64(nil), d.beats...) }

// Vertical reports whether states run along the time axis
func (d *Discretizer) Vertical() bool { return d.cfg.Layout == TimeNote }

// BeatLengths returns an eighth, a quarter and a half beat, one beat, two
// and four beats in ms for a tempo in microseconds per beat
func BeatLengths(tempo int) []float64 {
	beats := []int{tempo / 8, tempo / 4, tempo / 2, tempo, tempo * 2, tempo * 4}
	out := make([]float64, len(beats))
	for i, b := range beats {
		out[i] = float64(b) / 1000
	}
	return out
}

// IsRest reports whether a silence of gap ms counts as a rest, i.e. lasts
// one to four beats
func (d *Discretizer) IsRest(gap float64) bool {
	return d.beats[3] <= gap && gap <= d.beats[len(d.beats)-1]
}

// NearestDuration returns the alphabet entry closest to ms. The first of
// two equally close entries wins.
func (d *Discretizer) NearestDuration(ms float64) float64 {
	return nearest(d.durations, ms)
}

// BucketDuration rounds ms to a multiple of the quantisation step. The
// midpoint rounds up.
func (d *Discretizer) BucketDuration(ms float64) float64 {
	step := float64(d.cfg.Quantisation)
	mod := math.Mod(ms, step)
	if mod >= step/2 {
		return ms - mod + step
	}
	return ms - mod
}

// Quantize picks the duration symbol value for ms
func (d *Discretizer) Quantize(ms float64) float64 {
	if d.cfg.Flexible {
		return d.BucketDuration(ms)
	}
	return d.NearestDuration(ms)
}

// Velocity returns the nearest velocity bucket
func (d *Discretizer) Velocity(v int) int {
	best, dist := d.velocities[0], math.MaxInt
	for _, b := range d.velocities {
		if diff := abs(b - v); diff < dist {
			best, dist = b, diff
		}
	}
	return best
}

// Note returns the note symbol of ev given the previous sounding key
func (d *Discretizer) Note(ev music.Event, prevNote int) (int, error) {
	if ev.Rest {
		return d.rest, nil
	}
	switch d.cfg.Note {
	case Semitones:
		return music.PitchClass(ev.Pitch), nil
	case Intervals:
		interval := ev.Pitch - prevNote
		if interval < -IntervalBand || interval > IntervalBand {
			interval = 0
		}
		return interval, nil
	}
	if !music.OnKeyboard(ev.Pitch) {
		return 0, errors.Wrapf(ErrOutOfRange, "%d", ev.Pitch)
	}
	return ev.Pitch, nil
}

// Encode turns an event into a state/observation pair
func (d *Discretizer) Encode(ev music.Event, prevNote int) (hmm.Pair, error) {
	note, err := d.Note(ev, prevNote)
	if err != nil {
		return hmm.Pair{}, err
	}
	duration := micros(d.Quantize(ev.Duration * 1000))
	switch d.cfg.Layout {
	case Joint:
		return hmm.Pair{State: hmm.Sym(0), Observation: hmm.JointSym(note, duration)}, nil
	case VelocityJoint:
		return hmm.Pair{State: hmm.Sym(d.Velocity(ev.Velocity)), Observation: hmm.JointSym(note, duration)}, nil
	case TimeNote:
		return hmm.P(duration, note), nil
	}
	return hmm.P(note, duration), nil
}

// States returns the state alphabet of the layout
func (d *Discretizer) States() []hmm.Symbol {
	switch d.cfg.Layout {
	case Joint:
		return []hmm.Symbol{hmm.Sym(0)}
	case VelocityJoint:
		return symbols(d.velocities)
	case TimeNote:
		return d.durationSymbols()
	}
	return symbols(d.notes)
}

// Observations returns the observation alphabet of the layout
func (d *Discretizer) Observations() []hmm.Symbol {
	switch d.cfg.Layout {
	case Joint, VelocityJoint:
		out := make([]hmm.Symbol, 0, len(d.notes)*len(d.durations))
		for _, n := range d.notes {
			for _, ms := range d.durations {
				out = append(out, hmm.JointSym(n, micros(ms)))
			}
		}
		return out
	case TimeNote:
		return symbols(d.notes)
	}
	return d.durationSymbols()
}

// ValidState reports whether s can be a state of the layout. Durations
// are checked against the step in flexible mode and against the alphabet
// otherwise.
func (d *Discretizer) ValidState(s hmm.Symbol) bool {
	if s.Joint {
		return false
	}
	switch d.cfg.Layout {
	case Joint:
		return s.Value == 0
	case VelocityJoint:
		return containsInt(d.velocities, s.Value)
	case TimeNote:
		return d.validDuration(s.Value)
	}
	return containsInt(d.notes, s.Value)
}

// ValidObservation reports whether o can be an observation of the layout
func (d *Discretizer) ValidObservation(o hmm.Symbol) bool {
	switch d.cfg.Layout {
	case Joint, VelocityJoint:
		return o.Joint && containsInt(d.notes, o.Value) && d.validDuration(o.Aux)
	case TimeNote:
		return !o.Joint && containsInt(d.notes, o.Value)
	}
	return !o.Joint && d.validDuration(o.Value)
}

func (d *Discretizer) validDuration(us int) bool {
	if d.cfg.Flexible {
		return us >= 0 && us%(d.cfg.Quantisation*1000) == 0
	}
	for _, ms := range d.durations {
		if micros(ms) == us {
			return true
		}
	}
	return false
}

// Split returns the note, the duration in seconds and the velocity a pair
// stands for
func (d *Discretizer) Split(p hmm.Pair) (note int, duration float64, velocity int) {
	velocity = DefaultVelocity
	var us int
	switch d.cfg.Layout {
	case Joint:
		note, us = p.Observation.Value, p.Observation.Aux
	case VelocityJoint:
		note, us = p.Observation.Value, p.Observation.Aux
		velocity = p.State.Value
	case NoteTime:
		note, us = p.State.Value, p.Observation.Value
	case TimeNote:
		note, us = p.Observation.Value, p.State.Value
	}
	return note, float64(us) / 1e6, velocity
}

// Decode turns drawn pairs into notes starting at time zero. Rests advance
// the clock and notes falling off the keyboard are dropped.
func (d *Discretizer) Decode(pairs []hmm.Pair, ctx Context) []music.Note {
	logger := log.WithFields(log.Fields{
		"function": "Discretizer.Decode",
	})
	notes := []music.Note{}
	start := 0.0
	prev := ctx.PrevNote
	for _, p := range pairs {
		note, duration, velocity := d.Split(p)
		if note == d.rest {
			start += duration
			continue
		}
		switch d.cfg.Note {
		case Semitones:
			note = (ctx.Octave+1)*12 + music.PitchClass(note)
		case Intervals:
			note = prev + note
		}
		if note < music.LowestKey || note > music.HighestKey+1 {
			logger.Debugf("dropping %s, key %d is out of range", p, note)
			continue
		}
		prev = note
		n := music.Note{
			Pitch:      note,
			Velocity:   velocity,
			StartTime:  start,
			EndTime:    start + duration,
			Instrument: music.Instrument,
		}
		notes = append(notes, n)
		start = n.EndTime + Gap
	}
	return notes
}

// TicksToMs converts a delta in ticks to ms
func TicksToMs(ticks, ticksPerBeat, tempo int) (float64, error) {
	if ticksPerBeat <= 0 || tempo <= 0 {
		return 0, ErrMissingTimingInfo
	}
	return float64(ticks) / float64(ticksPerBeat) * float64(tempo) / 1000, nil
}

func (d *Discretizer) durationSymbols() []hmm.Symbol {
	out := make([]hmm.Symbol, len(d.durations))
	for i, ms := range d.durations {
		out[i] = hmm.Sym(micros(ms))
	}
	return out
}

func nearest(values []float64, v float64) float64 {
	best, dist := values[0], math.Inf(1)
	for _, x := range values {
		if diff := math.Abs(x - v); diff < dist {
			best, dist = x, diff
		}
	}
	return best
}

func micros(ms float64) int {
	return int(math.Round(ms * 1000))
}

func symbols(values []int) []hmm.Symbol {
	out := make([]hmm.Symbol, len(values))
	for i, v := range values {
		out[i] = hmm.Sym(v)
	}
	return out
}

func intRange(start, stop, step int) []int {
	out := []int{}
	for v := start; v < stop; v += step {
		out = append(out, v)
	}
	return out
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
