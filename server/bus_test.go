package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	got chan *BusMessage
}

func (c *collector) HandleBus(msg *BusMessage) error {
	c.got <- msg
	return nil
}

func TestBus(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()
	a := &collector{got: make(chan *BusMessage, 4)}
	b := &collector{got: make(chan *BusMessage, 4)}
	bus.Register(TopicLibrary, a)
	bus.Register(TopicLibrary, a)
	bus.Register(TopicLibrary, b)

	bus.Publish("x", TopicLibrary, "jam")
	for _, c := range []*collector{a, b} {
		select {
		case msg := <-c.got:
			assert.Equal(t, "x", msg.From)
			assert.Equal(t, "jam", msg.Payload)
		case <-time.After(time.Second):
			t.Fatal("no delivery")
		}
	}

	bus.UnRegister(TopicLibrary, a)
	bus.Publish("x", TopicLibrary, "again")
	select {
	case <-b.got:
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
	select {
	case <-a.got:
		t.Fatal("delivered after unregister")
	case <-time.After(50 * time.Millisecond):
	}
	// nobody listens to beats
	bus.Publish("", TopicBeat, nil)
}

func TestBusBeats(t *testing.T) {
	b := newBusBeats()
	ok, err := b.Next(10 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, b.HandleBus(&BusMessage{Topic: TopicBeat}))
	ok, err = b.Next(time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUDPBeats(t *testing.T) {
	beats, err := ListenBeats("127.0.0.1:0")
	require.NoError(t, err)
	ok, err := beats.Next(10 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	out, err := net.Dial("udp", beats.Addr().String())
	require.NoError(t, err)
	defer out.Close()
	_, err = out.Write([]byte("b"))
	require.NoError(t, err)
	ok, err = beats.Next(time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, beats.Close())
	_, err = beats.Next(10 * time.Millisecond)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry("salt")
	require.NoError(t, err)
	a, err := r.add(&performer{})
	require.NoError(t, err)
	b, err := r.add(&performer{})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, len(a), 6)
	assert.ElementsMatch(t, []string{a, b}, r.IDs())

	r.remove(a)
	assert.Equal(t, []string{b}, r.IDs())
	assert.Equal(t, 1, r.Len())
}
