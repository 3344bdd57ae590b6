// Package report provides PostgreSQL-backed storage for abuse reports.
// Each report captures who reported whom, the room the behavior occurred
// in, and a snapshot of the room's recent frames for moderator review.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// validReasons is the set of allowed reason values, matching the CHECK
// constraint on the abuse_reports table.
var validReasons = map[string]bool{
	"harassment": true,
	"spam":       true,
	"explicit":   true,
	"other":      true,
}

// ValidReason reports whether a reason value is accepted.
func ValidReason(reason string) bool {
	return validReasons[reason]
}

// Store manages abuse reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Report represents a single abuse report to be persisted.
type Report struct {
	ReporterID string
	ReportedID string
	RoomID     string            // room channel, "group:<id>" or "conv:<id>"
	Reason     string            // harassment | spam | explicit | other
	Messages   []json.RawMessage // recent room frames at report time
}

// NewStore creates a new report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts an abuse report into PostgreSQL. The message snapshot is
// marshalled to JSONB. The reason is validated against the allowed set
// before insertion.
func (s *Store) Create(ctx context.Context, r *Report) error {
	if !validReasons[r.Reason] {
		return fmt.Errorf("report: invalid reason %q", r.Reason)
	}

	var messagesJSON []byte
	if len(r.Messages) > 0 {
		var err error
		messagesJSON, err = json.Marshal(r.Messages)
		if err != nil {
			return fmt.Errorf("report: marshal messages: %w", err)
		}
	}

	const query = `
		INSERT INTO abuse_reports (reporter_id, reported_id, room_id, reason, messages)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		r.ReporterID,
		r.ReportedID,
		r.RoomID,
		r.Reason,
		messagesJSON,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of distinct reporters who filed against a
// user within the given time window. Counting reporters rather than rows
// keeps one angry user from escalating a target on their own.
func (s *Store) CountRecent(ctx context.Context, reportedID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(DISTINCT reporter_id)
		FROM abuse_reports
		WHERE reported_id = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, reportedID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}
