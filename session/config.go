package session

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/spirio-sessions/hmmmusictool/discrete"
	"github.com/spirio-sessions/hmmmusictool/hmm"
)

// Triggering decides what advances the train and sample counters
type Triggering string

// Triggering modes
const (
	NoteBased Triggering = "note-based"
	BeatBased Triggering = "beat-based"
)

// Chunking decides which recorded events direct-count training treats as
// sounding together
type Chunking string

// Chunk policies
const (
	// Sequential makes every event its own chunk
	Sequential Chunking = "sequential"
	// ByOnset groups consecutive events struck within ChunkTolerance
	// seconds of the first event of the group
	ByOnset Chunking = "onsets"
)

// DefaultChunkTolerance is the widest onset spread of one chord, in seconds
const DefaultChunkTolerance = 0.03

// PretrainWeight is the blend weight of the corpus pass
const PretrainWeight = 50

var (
	// ErrInvalidConfig is returned for values outside their allowed range
	ErrInvalidConfig = errors.New("invalid session config")
	// ErrInconsistent is returned when a record does not fit its config
	ErrInconsistent = errors.New("model record inconsistent with its config")
)

// Config holds every option of a session. It is a value: changing options
// means building a new session, except for the knobs of Tuning.
type Config struct {
	Train        bool               `json:"train" mapstructure:"train"`
	SampleRate   int                `json:"sample_rate" mapstructure:"sample_rate"`
	Samples      int                `json:"nr_samples" mapstructure:"nr_samples"`
	WindowSize   int                `json:"window_size" mapstructure:"window_size"`
	Quantisation int                `json:"quantisation" mapstructure:"quantisation"`
	Layout       discrete.Layout    `json:"layout" mapstructure:"layout"`
	Direct       bool               `json:"train_diy" mapstructure:"train_diy"`
	TrainRate    int                `json:"train_rate" mapstructure:"train_rate"`
	Corpus       string             `json:"files" mapstructure:"files"`
	Init         hmm.Strategy       `json:"init_type" mapstructure:"init_type"`
	Pretrain     bool               `json:"pretrain" mapstructure:"pretrain"`
	Weighting    int                `json:"weighting" mapstructure:"weighting"`
	Note         discrete.NoteSpace `json:"note_type" mapstructure:"note_type"`
	Time         discrete.TimeSpace `json:"time_type" mapstructure:"time_type"`
	Triggering   Triggering         `json:"triggering" mapstructure:"triggering"`
	// Chunking and ChunkTolerance (seconds) group simultaneous events for
	// direct counts
	Chunking       Chunking `json:"chunking" mapstructure:"chunking"`
	ChunkTolerance float64  `json:"chunk_tolerance" mapstructure:"chunk_tolerance"`
}

// DefaultConfig returns the options a fresh session starts with
func DefaultConfig() Config {
	return Config{
		Train:        true,
		SampleRate:   10,
		Samples:      10,
		WindowSize:   15,
		Quantisation: 50,
		Layout:       discrete.NoteTime,
		Direct:       false,
		TrainRate:    10,
		Corpus:       "midi/",
		Init:         hmm.Zero,
		Pretrain:     true,
		Weighting:    50,
		Note:         discrete.MidiKeys,
		Time:         discrete.Milliseconds,
		Triggering:   NoteBased,

		Chunking:       ByOnset,
		ChunkTolerance: DefaultChunkTolerance,
	}
}

// Validate checks ranges and closed sets
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return errors.Wrapf(ErrInvalidConfig, "sample rate %d", c.SampleRate)
	case c.Samples <= 0:
		return errors.Wrapf(ErrInvalidConfig, "sample count %d", c.Samples)
	case c.WindowSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "window size %d", c.WindowSize)
	case c.Quantisation <= 0:
		return errors.Wrapf(ErrInvalidConfig, "quantisation %d", c.Quantisation)
	case c.TrainRate <= 0:
		return errors.Wrapf(ErrInvalidConfig, "train rate %d", c.TrainRate)
	case c.Weighting < 0 || c.Weighting > 100:
		return errors.Wrapf(ErrInvalidConfig, "weighting %d", c.Weighting)
	case c.ChunkTolerance < 0:
		return errors.Wrapf(ErrInvalidConfig, "chunk tolerance %g", c.ChunkTolerance)
	}
	switch c.Chunking {
	case Sequential, ByOnset:
	default:
		return errors.Wrapf(ErrInvalidConfig, "chunking %q", c.Chunking)
	}
	switch c.Layout {
	case discrete.Joint, discrete.VelocityJoint, discrete.NoteTime, discrete.TimeNote:
	default:
		return errors.Wrapf(ErrInvalidConfig, "layout %q", c.Layout)
	}
	switch c.Note {
	case discrete.MidiKeys, discrete.Semitones, discrete.Intervals:
	default:
		return errors.Wrapf(ErrInvalidConfig, "note type %q", c.Note)
	}
	switch c.Time {
	case discrete.Milliseconds, discrete.Beats:
	default:
		return errors.Wrapf(ErrInvalidConfig, "time type %q", c.Time)
	}
	switch c.Triggering {
	case NoteBased, BeatBased:
	default:
		return errors.Wrapf(ErrInvalidConfig, "triggering %q", c.Triggering)
	}
	if _, err := hmm.ParseStrategy(string(c.Init)); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}

// Discretizer returns the discretizer options of the config
func (c Config) Discretizer() discrete.Config {
	return discrete.Config{
		Layout:       c.Layout,
		Note:         c.Note,
		Time:         c.Time,
		Quantisation: c.Quantisation,
		Flexible:     c.Init == hmm.Flexible,
	}
}

// Tuning holds the options that can change while a session runs
type Tuning struct {
	Train      bool
	SampleRate int
	Samples    int
	WindowSize int
	Direct     bool
	TrainRate  int
	Weighting  int
}

// Apply returns c with the tuning applied
func (t Tuning) Apply(c Config) Config {
	c.Train = t.Train
	c.SampleRate = t.SampleRate
	c.Samples = t.Samples
	c.WindowSize = t.WindowSize
	c.Direct = t.Direct
	c.TrainRate = t.TrainRate
	c.Weighting = t.Weighting
	return c
}

// Form is the string keyed option set exchanged with the browser UI
type Form map[string]string

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// UIConfig renders c as a form
func UIConfig(c Config) Form {
	diy := "normal"
	if c.Direct {
		diy = "diy"
	}
	return Form{
		"init":         string(c.Init),
		"note":         string(c.Note),
		"time":         string(c.Time),
		"quantisation": strconv.Itoa(c.Quantisation),
		"layout":       string(c.Layout),
		"pretrain":     yesNo(c.Pretrain),
		"files":        c.Corpus,
		"retrain":      yesNo(c.Train),
		"diy":          diy,
		"train-rate":   strconv.Itoa(c.TrainRate),
		"sample-rate":  strconv.Itoa(c.SampleRate),
		"nr-samples":   strconv.Itoa(c.Samples),
		"window-size":  strconv.Itoa(c.WindowSize),
		"weighting":    strconv.Itoa(c.Weighting),
		"triggering":   string(c.Triggering),

		"chunking":        string(c.Chunking),
		"chunk-tolerance": strconv.FormatFloat(c.ChunkTolerance, 'g', -1, 64),
	}
}

func (f Form) number(key string, fallback int) (int, error) {
	v, ok := f[key]
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidConfig, "%s: %q is not a number", key, v)
	}
	return n, nil
}

func (f Form) decimal(key string, fallback float64) (float64, error) {
	v, ok := f[key]
	if !ok || v == "" {
		return fallback, nil
	}
	x, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidConfig, "%s: %q is not a number", key, v)
	}
	return x, nil
}

func (f Form) flag(key, yes string, fallback bool) bool {
	v, ok := f[key]
	if !ok || v == "" {
		return fallback
	}
	return v == yes
}

func (f Form) str(key, fallback string) string {
	if v, ok := f[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Tuning reads the live knobs from the form. Missing keys keep the values
// of base.
func (f Form) Tuning(base Config) (Tuning, error) {
	t := Tuning{
		Train:  f.flag("retrain", "yes", base.Train),
		Direct: f.flag("diy", "diy", base.Direct),
	}
	var err error
	for _, field := range []struct {
		key  string
		dst  *int
		base int
	}{
		{"sample-rate", &t.SampleRate, base.SampleRate},
		{"nr-samples", &t.Samples, base.Samples},
		{"window-size", &t.WindowSize, base.WindowSize},
		{"train-rate", &t.TrainRate, base.TrainRate},
		{"weighting", &t.Weighting, base.Weighting},
	} {
		if *field.dst, err = f.number(field.key, field.base); err != nil {
			return Tuning{}, err
		}
	}
	return t, nil
}

// Config reads a full config from the form. Missing keys keep the values
// of base.
func (f Form) Config(base Config) (Config, error) {
	t, err := f.Tuning(base)
	if err != nil {
		return Config{}, err
	}
	c := t.Apply(base)
	if c.Quantisation, err = f.number("quantisation", base.Quantisation); err != nil {
		return Config{}, err
	}
	c.Init = hmm.Strategy(f.str("init", string(base.Init)))
	c.Note = discrete.NoteSpace(f.str("note", string(base.Note)))
	c.Time = discrete.TimeSpace(f.str("time", string(base.Time)))
	c.Layout = discrete.Layout(f.str("layout", string(base.Layout)))
	c.Corpus = f.str("files", base.Corpus)
	c.Pretrain = f.flag("pretrain", "yes", base.Pretrain)
	c.Triggering = Triggering(f.str("triggering", string(base.Triggering)))
	c.Chunking = Chunking(f.str("chunking", string(base.Chunking)))
	if c.ChunkTolerance, err = f.decimal("chunk-tolerance", base.ChunkTolerance); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}
