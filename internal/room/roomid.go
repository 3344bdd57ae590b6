// Package room defines typed room identifiers and the per-process registry of
// live connections joined to each room. Membership truth lives in external
// storage; the registry only tracks which connections are currently joined
// on this process.
package room

import (
	"fmt"
	"strings"
)

// Kind discriminates the three room flavors.
type Kind uint8

const (
	// KindPersonal is a user's always-joined private room.
	KindPersonal Kind = iota + 1
	// KindConversation is a two-party conversation room.
	KindConversation
	// KindGroup is an N-party group room with roles.
	KindGroup
)

// Channel name prefixes for the transport mapping.
const (
	personalPrefix     = "user:"
	conversationPrefix = "conv:"
	groupPrefix        = "group:"
)

// RoomID identifies a broadcast domain. The zero value is invalid; construct
// values through Personal, Conversation, or Group so that the kind and key
// are always consistent and channel strings cannot collide.
type RoomID struct {
	kind Kind
	key  string
}

// Personal returns the RoomID of a user's private room.
func Personal(userID string) RoomID {
	return RoomID{kind: KindPersonal, key: userID}
}

// Conversation returns the RoomID of a two-party conversation.
func Conversation(id string) RoomID {
	return RoomID{kind: KindConversation, key: id}
}

// Group returns the RoomID of a group room.
func Group(id string) RoomID {
	return RoomID{kind: KindGroup, key: id}
}

// Kind returns the room's kind.
func (r RoomID) Kind() Kind { return r.kind }

// Key returns the room's kind-scoped identifier (user id, conversation id,
// or group id).
func (r RoomID) Key() string { return r.key }

// IsZero reports whether the RoomID is the invalid zero value.
func (r RoomID) IsZero() bool { return r.kind == 0 }

// Channel returns the transport channel string for the room. The mapping is
// pure and injective: distinct rooms always map to distinct channels.
func (r RoomID) Channel() string {
	switch r.kind {
	case KindPersonal:
		return personalPrefix + r.key
	case KindConversation:
		return conversationPrefix + r.key
	case KindGroup:
		return groupPrefix + r.key
	default:
		return ""
	}
}

// String implements fmt.Stringer using the channel form.
func (r RoomID) String() string { return r.Channel() }

// ParseChannel converts a transport channel string back into a RoomID. It is
// the inverse of Channel and rejects strings outside the mapping.
func ParseChannel(s string) (RoomID, error) {
	switch {
	case strings.HasPrefix(s, personalPrefix):
		return Personal(strings.TrimPrefix(s, personalPrefix)), nil
	case strings.HasPrefix(s, conversationPrefix):
		return Conversation(strings.TrimPrefix(s, conversationPrefix)), nil
	case strings.HasPrefix(s, groupPrefix):
		return Group(strings.TrimPrefix(s, groupPrefix)), nil
	default:
		return RoomID{}, fmt.Errorf("room: invalid channel %q", s)
	}
}
