// Package suspend provides temporary account suspensions backed by Redis.
// Suspension records are stored as simple key-value pairs with TTL-based
// expiry:
//
//	Key:   suspend:<user_id>
//	Value: <reason>
//	TTL:   suspension duration
//
// A suspended user is refused at the WebSocket handshake; existing
// connections are unaffected until they reconnect.
package suspend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SuspendPrefix is the Redis key prefix for suspension records.
	SuspendPrefix = "suspend:"

	// OffensesPrefix is the Redis key prefix for content-violation counters
	// driving the escalating auto-suspension.
	OffensesPrefix = "offenses:"

	// Escalating suspension durations.
	Suspend15Min  = 15 * time.Minute // 1st auto-suspension
	Suspend1Hour  = 1 * time.Hour    // 2nd auto-suspension
	Suspend24Hour = 24 * time.Hour   // 3rd+ auto-suspension

	// OffensesTTL is how long the violation counter lives in Redis. After
	// 24h without new violations the counter resets to zero.
	OffensesTTL = 24 * time.Hour

	// AutoSuspendThreshold is the number of violations within OffensesTTL
	// that triggers an automatic suspension.
	AutoSuspendThreshold = 3
)

// Store manages suspension records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a suspension store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsSuspended checks whether a user is currently suspended.
// Returns (suspended, remainingSeconds, reason, error). Redis errors are
// returned so callers can decide how to handle them (the recommended policy
// is fail-open).
func (s *Store) IsSuspended(ctx context.Context, userID string) (bool, int, string, error) {
	key := SuspendPrefix + userID

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The suspension exists but the TTL read failed. Report suspended
		// with 0 remaining rather than swallowing the suspension.
		return true, 0, reason, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int(ttl.Seconds())
	}
	return true, remaining, reason, nil
}

// Suspend suspends a user for the given duration. The suspension expires
// automatically.
func (s *Store) Suspend(ctx context.Context, userID string, duration time.Duration, reason string) error {
	return s.client.Set(ctx, SuspendPrefix+userID, reason, duration).Err()
}

// Lift removes a suspension immediately.
func (s *Store) Lift(ctx context.Context, userID string) error {
	return s.client.Del(ctx, SuspendPrefix+userID).Err()
}

// escalationDuration returns the suspension duration for a violation count.
func escalationDuration(count int) time.Duration {
	switch {
	case count <= AutoSuspendThreshold:
		return Suspend15Min
	case count == AutoSuspendThreshold+1:
		return Suspend1Hour
	default:
		return Suspend24Hour
	}
}

// RecordViolation increments the user's content-violation counter and, once
// the counter reaches AutoSuspendThreshold within the 24h window, applies a
// suspension whose duration escalates with repeated offenses:
//
//	3rd violation  -> 15 minutes
//	4th violation  -> 1 hour
//	5th+ violation -> 24 hours
//
// The counter TTL is set on the first increment so the window does not
// slide. Returns (suspended, duration, error).
func (s *Store) RecordViolation(ctx context.Context, userID, reason string) (bool, time.Duration, error) {
	key := OffensesPrefix + userID

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("suspend: violation incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, OffensesTTL).Err(); err != nil {
			return false, 0, fmt.Errorf("suspend: violation expire: %w", err)
		}
	}

	if count < AutoSuspendThreshold {
		return false, 0, nil
	}

	duration := escalationDuration(int(count))
	if err := s.Suspend(ctx, userID, duration, reason); err != nil {
		return false, 0, fmt.Errorf("suspend: auto suspend: %w", err)
	}
	return true, duration, nil
}

// Violations returns the user's current violation counter. Returns 0 if the
// counter does not exist or has expired.
func (s *Store) Violations(ctx context.Context, userID string) (int, error) {
	val, err := s.client.Get(ctx, OffensesPrefix+userID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}
