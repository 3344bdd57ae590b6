// Package readmarker provides PostgreSQL-backed read markers: one row per
// (room, user) recording the last message the user has read. Upserts are
// last-write-wins; the broadcast relay that accompanies a marker update is a
// liveness optimization only, the stored marker is authoritative.
package readmarker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/communityhub/realtime/internal/room"
)

// Marker is a user's read position in a room.
type Marker struct {
	Room       room.RoomID
	UserID     string
	MessageID  string
	LastReadAt time.Time
}

// Store manages read markers in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a read marker store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert records that the user has read up to messageID in the room. Calling
// it repeatedly with the same arguments is a no-op beyond refreshing the
// timestamp; a newer call simply overwrites the older marker.
func (s *Store) Upsert(ctx context.Context, r room.RoomID, userID, messageID string) error {
	const query = `
		INSERT INTO read_markers (room_id, user_id, last_read_message_id, last_read_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (room_id, user_id)
		DO UPDATE SET last_read_message_id = EXCLUDED.last_read_message_id,
		              last_read_at = EXCLUDED.last_read_at`

	if _, err := s.db.ExecContext(ctx, query, r.Channel(), userID, messageID); err != nil {
		return fmt.Errorf("readmarker: upsert: %w", err)
	}
	return nil
}

// Get returns the user's marker for a room, or nil if none exists.
func (s *Store) Get(ctx context.Context, r room.RoomID, userID string) (*Marker, error) {
	const query = `
		SELECT last_read_message_id, last_read_at
		FROM read_markers
		WHERE room_id = $1 AND user_id = $2`

	m := Marker{Room: r, UserID: userID}
	err := s.db.QueryRowContext(ctx, query, r.Channel(), userID).Scan(&m.MessageID, &m.LastReadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("readmarker: get: %w", err)
	}
	return &m, nil
}
