// Package member provides PostgreSQL-backed membership truth for group and
// conversation rooms, and the authorization gate that turns a membership row
// into action grants. All mute/ban/role checks flow through GrantsFor so the
// send, delete, and join paths apply one uniform policy.
package member

import "errors"

// Errors reported by membership and authorization checks. They are rejected
// locally with no side effect and reported only to the originating
// connection.
var (
	ErrNotAMember   = errors.New("member: not a member")
	ErrNotPermitted = errors.New("member: not permitted")
)

// Role is a group member's role.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Membership is one row of group membership truth.
type Membership struct {
	GroupID string
	UserID  string
	Role    Role
	Muted   bool
	Banned  bool
}

// Grants is the set of allowed actions computed once per operation from
// (role, muted, banned).
type Grants struct {
	CanSend     bool // may persist and broadcast new messages
	CanDelete   bool // may soft-delete own messages
	CanModerate bool // may soft-delete any message
}

// GrantsFor computes action grants from a membership row. A banned member
// gets no grants at all; a muted member keeps everything except sending.
func GrantsFor(m *Membership) Grants {
	if m == nil || m.Banned {
		return Grants{}
	}
	mod := m.Role == RoleModerator || m.Role == RoleAdmin
	return Grants{
		CanSend:     !m.Muted,
		CanDelete:   true,
		CanModerate: mod,
	}
}
