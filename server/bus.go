package server

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

const topicSize = 100

// Topic names a class of broadcast messages
type Topic string

// Topics
const (
	TopicLibrary Topic = "library"
	TopicBeat    Topic = "beat"
)

// BusMessage is one published message
type BusMessage struct {
	Topic   Topic
	From    string
	Payload interface{}
}

// Subscriber receives the messages of the topics it registered for
type Subscriber interface {
	HandleBus(msg *BusMessage) error
}

type topic struct {
	msgs  chan *BusMessage
	subs  atomic.Value // []Subscriber
	mutex sync.Mutex

	done chan struct{}
	once sync.Once
}

func newTopic(size int) *topic {
	t := &topic{
		msgs: make(chan *BusMessage, size),
		done: make(chan struct{}),
	}
	t.subs.Store([]Subscriber{})
	go t.handlePublish()
	return t
}

func (t *topic) register(sub Subscriber) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	subs := t.subs.Load().([]Subscriber)
	for _, s := range subs {
		if s == sub {
			return
		}
	}
	next := make([]Subscriber, len(subs), len(subs)+1)
	copy(next, subs)
	t.subs.Store(append(next, sub))
}

func (t *topic) unregister(sub Subscriber) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	subs := t.subs.Load().([]Subscriber)
	for i, s := range subs {
		if s == sub {
			next := make([]Subscriber, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			t.subs.Store(append(next, subs[i+1:]...))
			return
		}
	}
}

func (t *topic) publish(msg *BusMessage) {
	select {
	case t.msgs <- msg:
	case <-t.done:
	}
}

func (t *topic) stop() {
	t.once.Do(func() { close(t.done) })
}

func (t *topic) handlePublish() {
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.msgs:
			for _, sub := range t.subs.Load().([]Subscriber) {
				go func(sub Subscriber) {
					if err := sub.HandleBus(msg); err != nil {
						log.WithFields(log.Fields{
							"function": "topic.handlePublish",
						}).Debugf("%s delivery failed: %s", msg.Topic, err)
					}
				}(sub)
			}
		}
	}
}

// Bus fans published messages out to every subscriber of a topic. Publish
// never blocks the caller.
type Bus struct {
	mu     sync.Mutex
	topics map[Topic]*topic
}

// NewBus returns an empty bus
func NewBus() *Bus {
	return &Bus{topics: make(map[Topic]*topic)}
}

func (b *Bus) lookup(t Topic, create bool) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	tp, ok := b.topics[t]
	if !ok && create {
		tp = newTopic(topicSize)
		b.topics[t] = tp
	}
	return tp
}

// Register subscribes sub to t
func (b *Bus) Register(t Topic, sub Subscriber) {
	b.lookup(t, true).register(sub)
}

// UnRegister removes sub from t
func (b *Bus) UnRegister(t Topic, sub Subscriber) {
	if tp := b.lookup(t, false); tp != nil {
		tp.unregister(sub)
	}
}

// Publish hands payload to the subscribers of t. Topics nobody ever
// registered for drop the message.
func (b *Bus) Publish(from string, t Topic, payload interface{}) {
	tp := b.lookup(t, false)
	if tp == nil {
		log.WithFields(log.Fields{
			"function": "Bus.Publish",
		}).Debugf("no subscribers for %s", t)
		return
	}
	go tp.publish(&BusMessage{Topic: t, From: from, Payload: payload})
}

// Stop ends delivery on every topic
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tp := range b.topics {
		tp.stop()
	}
}
