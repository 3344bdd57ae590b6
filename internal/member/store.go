package member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/communityhub/realtime/internal/room"
)

// Store reads membership truth from PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a membership store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves a user's membership row for a group. Returns nil if the user
// has no membership at all.
func (s *Store) Get(ctx context.Context, groupID, userID string) (*Membership, error) {
	const query = `
		SELECT role, muted, banned
		FROM group_members
		WHERE group_id = $1 AND user_id = $2`

	m := Membership{GroupID: groupID, UserID: userID}
	err := s.db.QueryRowContext(ctx, query, groupID, userID).Scan(&m.Role, &m.Muted, &m.Banned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("member: get membership: %w", err)
	}
	return &m, nil
}

// ListGroupsForUser returns the ids of every group the user is an unbanned
// member of. It drives the post-auth auto-join.
func (s *Store) ListGroupsForUser(ctx context.Context, userID string) ([]string, error) {
	const query = `
		SELECT group_id
		FROM group_members
		WHERE user_id = $1 AND NOT banned
		ORDER BY group_id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("member: list groups: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("member: scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListGroupMemberIDs returns the ids of every unbanned member of a group.
func (s *Store) ListGroupMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	const query = `
		SELECT user_id
		FROM group_members
		WHERE group_id = $1 AND NOT banned
		ORDER BY user_id`

	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("member: list members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("member: scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsConversationParticipant reports whether the user is one of the two
// parties of a conversation.
func (s *Store) IsConversationParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`

	var ok bool
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("member: conversation participant check: %w", err)
	}
	return ok, nil
}

// ConversationParticipants returns both parties of a conversation.
func (s *Store) ConversationParticipants(ctx context.Context, conversationID string) ([]string, error) {
	const query = `
		SELECT user_id
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY user_id`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("member: conversation participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("member: scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Authorize computes the grants a user holds for actions in a room. It is
// the single authorization gate for the send, delete, and join paths:
//
//   - Personal rooms grant everything to their owner and nothing to others.
//   - Conversation rooms grant send/delete-own to participants; there are no
//     roles, so nobody moderates.
//   - Group rooms derive grants from the membership row; a missing or banned
//     membership yields ErrNotAMember.
func (s *Store) Authorize(ctx context.Context, r room.RoomID, userID string) (Grants, error) {
	switch r.Kind() {
	case room.KindPersonal:
		if r.Key() != userID {
			return Grants{}, ErrNotAMember
		}
		return Grants{CanSend: true, CanDelete: true, CanModerate: true}, nil

	case room.KindConversation:
		ok, err := s.IsConversationParticipant(ctx, r.Key(), userID)
		if err != nil {
			return Grants{}, err
		}
		if !ok {
			return Grants{}, ErrNotAMember
		}
		return Grants{CanSend: true, CanDelete: true}, nil

	case room.KindGroup:
		m, err := s.Get(ctx, r.Key(), userID)
		if err != nil {
			return Grants{}, err
		}
		if m == nil || m.Banned {
			return Grants{}, ErrNotAMember
		}
		return GrantsFor(m), nil

	default:
		return Grants{}, fmt.Errorf("member: invalid room %v", r)
	}
}
