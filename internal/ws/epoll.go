//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// eventBatch is the size of the reusable buffer handed to epoll_wait; it caps
// how many ready connections a single Wait call can return.
const eventBatch = 128

// Epoll multiplexes all client sockets through a single kernel epoll
// instance. The server registers each connection's file descriptor and the
// event loop blocks in Wait until the kernel reports readable sockets, so no
// per-connection read goroutine is needed.
type Epoll struct {
	fd          int              // epoll file descriptor
	connections map[int]net.Conn // socket fd to its net.Conn
	mu          sync.RWMutex     // protects connections
	events      []unix.EpollEvent
}

// NewEpoll creates an epoll instance via epoll_create1.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:          fd,
		connections: make(map[int]net.Conn),
		events:      make([]unix.EpollEvent, eventBatch),
	}, nil
}

// Add puts conn's socket on the epoll interest list for EPOLLIN and EPOLLHUP
// and records the fd mapping so Wait can hand back the net.Conn.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return syscall.EBADF
	}
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(fd),
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.connections[fd] = conn
	e.mu.Unlock()
	return nil
}

// Remove drops conn's socket from the interest list and forgets its fd
// mapping.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return syscall.EBADF
	}
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_DEL, fd, nil); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.connections, fd)
	e.mu.Unlock()
	return nil
}

// Wait blocks until the kernel reports readable sockets and returns their
// net.Conns. A connection removed between epoll_wait returning and the map
// lookup is skipped.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, -1)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := e.connections[int(e.events[i].Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	e.mu.RUnlock()
	return conns, nil
}

// Close releases the epoll file descriptor.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connections = nil
	return unix.Close(e.fd)
}

// socketFD returns conn's underlying file descriptor via SyscallConn, or -1
// when the conn has none. Unlike File(), this does not duplicate the fd, so
// the descriptor registered with epoll stays the one the conn reads from.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	fd := -1
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
