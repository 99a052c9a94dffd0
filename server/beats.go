package server

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// UDPBeats reads beats from a udp socket: every datagram is one beat
type UDPBeats struct {
	conn *net.UDPConn
	buf  []byte
}

// ListenBeats binds addr
func ListenBeats(addr string) (*UDPBeats, error) {
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "beat address %s", addr)
	}
	conn, err := net.ListenUDP("udp", a)
	if err != nil {
		return nil, errors.Wrapf(err, "listen for beats on %s", addr)
	}
	return &UDPBeats{conn: conn, buf: make([]byte, 64)}, nil
}

// Addr is the bound address
func (u *UDPBeats) Addr() net.Addr {
	return u.conn.LocalAddr()
}

// Next waits up to timeout for a datagram
func (u *UDPBeats) Next(timeout time.Duration) (bool, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, err
	}
	if _, _, err := u.conn.ReadFromUDP(u.buf); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close releases the socket
func (u *UDPBeats) Close() error {
	return u.conn.Close()
}

// busBeats is the beat source of one session, fed from the beat topic
type busBeats struct {
	ch chan struct{}
}

func newBusBeats() *busBeats {
	return &busBeats{ch: make(chan struct{}, 16)}
}

func (b *busBeats) HandleBus(*BusMessage) error {
	select {
	case b.ch <- struct{}{}:
		return nil
	default:
		return errors.New("beat dropped")
	}
}

func (b *busBeats) Next(timeout time.Duration) (bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-b.ch:
		return true, nil
	case <-t.C:
		return false, nil
	}
}
