package music

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Instrument is the instrument number attached to every generated note
const Instrument = 1

// Event carries the pitch, velocity, and duration information
// of a single press (or of a silence, when Rest is set)
type Event struct {
	Pitch    int     `json:"pitch"`
	Rest     bool    `json:"rest,omitempty"`
	Duration float64 `json:"duration"` // seconds
	Velocity int     `json:"velocity"`
	// Onset is the time in seconds the press started, relative to
	// whatever clock the producer uses. Zero when unknown.
	Onset float64 `json:"onset,omitempty"`
}

func (e Event) String() string {
	if e.Rest {
		return fmt.Sprintf("rest(%.3fs)", e.Duration)
	}
	return fmt.Sprintf("%s(%.3fs v%d)", KeyName(e.Pitch), e.Duration, e.Velocity)
}

// Note is one generated note, ready to be played or exported
type Note struct {
	Pitch      int     `json:"pitch"`
	Velocity   int     `json:"velocity"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Instrument int     `json:"instrument"`
}

// Duration returns how long the note sounds in seconds
func (n Note) Duration() float64 {
	return n.EndTime - n.StartTime
}

// Notes is a structure for sorting the notes based on their start time
type Notes []Note

func (p Notes) Len() int {
	return len(p)
}

func (p Notes) Less(i, j int) bool {
	return p[i].StartTime < p[j].StartTime
}

func (p Notes) Swap(i, j int) {
	p[i], p[j] = p[j], p[i]
}

// Music stores all the events that were played
type Music struct {
	Events []Event
	sync.RWMutex
}

// New returns a new object
func New() *Music {
	m := new(Music)
	m.Events = []Event{}
	return m
}

// Open opens a previously saved recording
func Open(filename string) (*Music, error) {
	bMusic, err := os.ReadFile(filename)
	if err != nil {
		return New(), err
	}
	m := New()
	m.Lock()
	err = json.Unmarshal(bMusic, &m.Events)
	m.Unlock()
	return m, err
}

// Add will add an event in a thread-safe way.
func (m *Music) Add(e Event) {
	m.Lock()
	defer m.Unlock()
	m.Events = append(m.Events, e)
}

// Len returns the number of recorded events
func (m *Music) Len() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.Events)
}

// GetAll retrieve events in music in a thread-safe way
func (m *Music) GetAll() (events []Event) {
	logger := log.WithFields(log.Fields{
		"function": "Music.GetAll",
	})
	m.RLock()
	defer m.RUnlock()
	logger.Debugf("Getting all %d events", len(m.Events))
	events = make([]Event, len(m.Events))
	copy(events, m.Events)
	return
}

// Save writes the recording as JSON
func (m *Music) Save(filename string) (err error) {
	m.RLock()
	defer m.RUnlock()
	bMusic, err := json.Marshal(m.Events)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, bMusic, 0644)
}

// Sorted returns a copy of the notes ordered by start time
func Sorted(notes []Note) Notes {
	sorted := make(Notes, len(notes))
	copy(sorted, notes)
	sort.Stable(sorted)
	return sorted
}
