// Package library keeps saved session records in a single json store on
// disk.
package library

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/jsonstore"
	log "github.com/sirupsen/logrus"

	"github.com/spirio-sessions/hmmmusictool/session"
)

// Stamp is the UTC suffix appended to saved names
const Stamp = "20060102150405"

// ErrNotFound is returned for names the library does not hold
var ErrNotFound = errors.New("model not found")

// Library is a named collection of session records
type Library struct {
	sync.Mutex
	path  string
	store *jsonstore.JSONStore
	now   func() time.Time
}

// Open loads the library at path. A missing file starts an empty library.
func Open(path string) (*Library, error) {
	logger := log.WithFields(log.Fields{
		"function": "library.Open",
	})
	l := &Library{path: path, now: time.Now}
	store, err := jsonstore.Open(path)
	if err != nil {
		if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
			return nil, errors.Wrapf(err, "open library %s", path)
		}
		logger.Infof("starting empty library at %s", path)
		store = new(jsonstore.JSONStore)
	}
	l.store = store
	return l, nil
}

// Save stores rec under name followed by the current UTC time and writes the
// library to disk. It returns the full name.
func (l *Library) Save(name string, rec session.Record) (string, error) {
	l.Lock()
	defer l.Unlock()
	full := name + l.now().UTC().Format(Stamp)
	if err := l.store.Set(full, rec); err != nil {
		return "", errors.Wrapf(err, "store %s", full)
	}
	if err := jsonstore.Save(l.store, l.path); err != nil {
		return "", errors.Wrapf(err, "write library %s", l.path)
	}
	log.WithFields(log.Fields{
		"function": "Library.Save",
	}).Infof("saved %s", full)
	return full, nil
}

// Load returns the record saved under its full name
func (l *Library) Load(name string) (session.Record, error) {
	l.Lock()
	defer l.Unlock()
	var rec session.Record
	if !l.has(name) {
		return rec, errors.Wrap(ErrNotFound, name)
	}
	if err := l.store.Get(name, &rec); err != nil {
		return rec, errors.Wrapf(err, "load %s", name)
	}
	return rec, nil
}

func (l *Library) has(name string) bool {
	for _, k := range l.store.Keys() {
		if k == name {
			return true
		}
	}
	return false
}

// List returns the saved names in order
func (l *Library) List() []string {
	l.Lock()
	defer l.Unlock()
	names := l.store.Keys()
	sort.Strings(names)
	return names
}
