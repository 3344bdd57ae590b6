package room

import (
	"sync"
)

// Sender is the write half of a live connection. *ws.Connection satisfies it;
// tests substitute an in-memory fake.
type Sender interface {
	WriteMessage(data []byte) error
}

// entry is one live connection inside a room's join-set.
type entry struct {
	userID string
	sender Sender
}

// connState tracks the rooms a single connection has joined.
type connState struct {
	userID string
	sender Sender
	rooms  map[RoomID]struct{}
}

// Registry is the per-process mapping of live connections to rooms. It owns
// the join-sets exclusively: no other component mutates them. All methods are
// goroutine-safe; individual write errors during broadcast are ignored, the
// transport layer evicts dead connections on its own.
type Registry struct {
	mu    sync.RWMutex
	rooms map[RoomID]map[string]entry // room -> connID -> entry
	conns map[string]*connState       // connID -> state
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[RoomID]map[string]entry),
		conns: make(map[string]*connState),
	}
}

// Join adds a connection to a room's live join-set. It is idempotent:
// rejoining an already-joined room is a no-op. The return value reports
// whether the connection was newly added, so callers can suppress duplicate
// "user joined" broadcasts.
func (reg *Registry) Join(connID, userID string, sender Sender, r RoomID) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	cs, ok := reg.conns[connID]
	if !ok {
		cs = &connState{userID: userID, sender: sender, rooms: make(map[RoomID]struct{})}
		reg.conns[connID] = cs
	}
	if _, joined := cs.rooms[r]; joined {
		return false
	}
	cs.rooms[r] = struct{}{}

	set, ok := reg.rooms[r]
	if !ok {
		set = make(map[string]entry)
		reg.rooms[r] = set
	}
	set[connID] = entry{userID: userID, sender: sender}
	return true
}

// Leave removes a connection from a room's live join-set. Idempotent; the
// return value reports whether the connection was actually joined.
func (reg *Registry) Leave(connID string, r RoomID) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.leaveLocked(connID, r)
}

func (reg *Registry) leaveLocked(connID string, r RoomID) bool {
	cs, ok := reg.conns[connID]
	if !ok {
		return false
	}
	if _, joined := cs.rooms[r]; !joined {
		return false
	}
	delete(cs.rooms, r)

	if set, ok := reg.rooms[r]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(reg.rooms, r)
		}
	}
	return true
}

// DropConnection removes a connection from every room it had joined and
// forgets it. It returns the bound user id and the subset of rooms where
// this was the user's LAST live connection - the rooms that should receive
// a single "went offline" notice. If another connection for the same user
// remains joined to a room, that room is not included.
func (reg *Registry) DropConnection(connID string) (string, []RoomID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	cs, ok := reg.conns[connID]
	if !ok {
		return "", nil
	}

	var lastRooms []RoomID
	for r := range cs.rooms {
		reg.leaveLocked(connID, r)

		stillPresent := false
		for _, e := range reg.rooms[r] {
			if e.userID == cs.userID {
				stillPresent = true
				break
			}
		}
		if !stillPresent {
			lastRooms = append(lastRooms, r)
		}
	}

	delete(reg.conns, connID)
	return cs.userID, lastRooms
}

// IsJoined reports whether the connection is currently in the room's
// live join-set.
func (reg *Registry) IsJoined(connID string, r RoomID) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	set, ok := reg.rooms[r]
	if !ok {
		return false
	}
	_, joined := set[connID]
	return joined
}

// Broadcast writes data to every connection in the room's live join-set,
// optionally excluding one connection (pass "" to deliver to all). The
// sender's other devices are included by design.
func (reg *Registry) Broadcast(r RoomID, data []byte, excludeConnID string) {
	for _, e := range reg.snapshot(r) {
		if e.connID == excludeConnID {
			continue
		}
		_ = e.sender.WriteMessage(data)
	}
}

// BroadcastExceptUser writes data to every connection in the room except
// those bound to the given user. Used for read-receipt relays, which must
// not echo back to any of the reader's own devices.
func (reg *Registry) BroadcastExceptUser(r RoomID, data []byte, excludeUserID string) {
	for _, e := range reg.snapshot(r) {
		if e.userID == excludeUserID {
			continue
		}
		_ = e.sender.WriteMessage(data)
	}
}

// BroadcastAll writes data to every live connection on this process,
// regardless of room. Used for presence status deltas.
func (reg *Registry) BroadcastAll(data []byte) {
	reg.mu.RLock()
	senders := make([]Sender, 0, len(reg.conns))
	for _, cs := range reg.conns {
		senders = append(senders, cs.sender)
	}
	reg.mu.RUnlock()

	for _, s := range senders {
		_ = s.WriteMessage(data)
	}
}

// SendToUser writes data to every local connection bound to the given user.
// It returns the number of connections written to, so callers can tell
// whether the user had any local presence at all.
func (reg *Registry) SendToUser(userID string, data []byte) int {
	reg.mu.RLock()
	senders := make([]Sender, 0, 2)
	for _, cs := range reg.conns {
		if cs.userID == userID {
			senders = append(senders, cs.sender)
		}
	}
	reg.mu.RUnlock()

	for _, s := range senders {
		_ = s.WriteMessage(data)
	}
	return len(senders)
}

// OnlineUserIDs returns the distinct user ids with at least one live
// connection in the room on this process.
func (reg *Registry) OnlineUserIDs(r RoomID) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, e := range reg.rooms[r] {
		if _, ok := seen[e.userID]; ok {
			continue
		}
		seen[e.userID] = struct{}{}
		ids = append(ids, e.userID)
	}
	return ids
}

// RoomCount returns the number of rooms with at least one live connection.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

type snapshotEntry struct {
	connID string
	userID string
	sender Sender
}

// snapshot copies a room's join-set so broadcasts can iterate without
// holding the lock across writes.
func (reg *Registry) snapshot(r RoomID) []snapshotEntry {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	set := reg.rooms[r]
	out := make([]snapshotEntry, 0, len(set))
	for connID, e := range set {
		out = append(out, snapshotEntry{connID: connID, userID: e.userID, sender: e.sender})
	}
	return out
}
