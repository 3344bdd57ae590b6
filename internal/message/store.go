// Package message implements the chat message pipeline: sender validation,
// durable persistence, and post-commit fan-out. The ordering contract is
// strict write-then-notify - a broadcast is issued only after the storage
// insert has resolved, so no client ever sees a message that is not durably
// stored.
package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/communityhub/realtime/internal/room"
)

// Errors reported by the pipeline and its storage collaborator.
var (
	// ErrPersistence means the storage insert or update failed. The whole
	// operation is aborted before any broadcast.
	ErrPersistence = errors.New("message: persistence failed")

	// ErrNotFound means the referenced message does not exist in the room.
	ErrNotFound = errors.New("message: not found")
)

// Message is a persisted chat message. Mutation happens only through soft
// delete, which sets DeletedAt.
type Message struct {
	ID        string
	Room      room.RoomID
	SenderID  string
	Content   string
	MsgType   string
	ReplyToID string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// Store persists messages in PostgreSQL. Rooms are keyed by their channel
// string, so one table serves personal, conversation, and group rooms.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert persists a new message and fills in its server-assigned CreatedAt.
// The caller assigns the id before calling.
func (s *Store) Insert(ctx context.Context, m *Message) error {
	const query = `
		INSERT INTO messages (id, room_id, sender_id, content, msg_type, reply_to_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		m.ID, m.Room.Channel(), m.SenderID, m.Content, m.MsgType, m.ReplyToID,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert: %v", ErrPersistence, err)
	}
	return nil
}

// Meta returns the sender and deletion state of a message within a room.
func (s *Store) Meta(ctx context.Context, r room.RoomID, messageID string) (senderID string, deleted bool, err error) {
	const query = `
		SELECT sender_id, deleted_at IS NOT NULL
		FROM messages
		WHERE id = $1 AND room_id = $2`

	err = s.db.QueryRowContext(ctx, query, messageID, r.Channel()).Scan(&senderID, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, ErrNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: meta: %v", ErrPersistence, err)
	}
	return senderID, deleted, nil
}

// SoftDelete marks a message deleted by setting deleted_at. It returns false
// if the message was already deleted, making repeated deletes idempotent.
// The row is never removed.
func (s *Store) SoftDelete(ctx context.Context, r room.RoomID, messageID string) (bool, error) {
	const query = `
		UPDATE messages
		SET deleted_at = now()
		WHERE id = $1 AND room_id = $2 AND deleted_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, messageID, r.Channel())
	if err != nil {
		return false, fmt.Errorf("%w: soft delete: %v", ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: soft delete: %v", ErrPersistence, err)
	}
	return n > 0, nil
}

// History returns a room's messages newest-first, soft-deleted rows excluded.
func (s *Store) History(ctx context.Context, r room.RoomID, limit, offset int) ([]Message, error) {
	const query = `
		SELECT id, sender_id, content, msg_type, COALESCE(reply_to_id, ''), created_at
		FROM messages
		WHERE room_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, r.Channel(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("message: history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m := Message{Room: r}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Content, &m.MsgType, &m.ReplyToID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("message: scan history row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
