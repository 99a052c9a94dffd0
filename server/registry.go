package server

import (
	"sync"

	"github.com/pkg/errors"
	hashids "github.com/speps/go-hashids/v2"
)

// Registry holds the performers connected to a server, keyed by a short
// connection id
type Registry struct {
	sync.Mutex
	hasher *hashids.HashID
	next   int
	conns  map[string]*performer
}

// NewRegistry returns an empty registry whose ids are salted with salt
func NewRegistry(salt string) (*Registry, error) {
	hd := hashids.NewData()
	hd.Salt = salt
	hd.MinLength = 6
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, errors.Wrap(err, "connection ids")
	}
	return &Registry{hasher: h, conns: make(map[string]*performer)}, nil
}

func (r *Registry) add(p *performer) (string, error) {
	r.Lock()
	defer r.Unlock()
	id, err := r.hasher.Encode([]int{r.next})
	if err != nil {
		return "", errors.Wrap(err, "connection id")
	}
	r.next++
	r.conns[id] = p
	return id, nil
}

func (r *Registry) remove(id string) {
	r.Lock()
	defer r.Unlock()
	delete(r.conns, id)
}

// IDs returns the ids of the connected performers
func (r *Registry) IDs() []string {
	r.Lock()
	defer r.Unlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Len is the number of connected performers
func (r *Registry) Len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.conns)
}
