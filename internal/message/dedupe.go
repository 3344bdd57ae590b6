package message

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/communityhub/realtime/internal/room"
)

const (
	// IdemPrefix is the Redis key prefix for idempotency token claims.
	IdemPrefix = "idem:"

	// IdemTTL is how long a claimed token deduplicates retries. Retries
	// arriving later than this are treated as new sends.
	IdemTTL = 5 * time.Minute
)

// Deduper maps client-assigned idempotency tokens to message ids in Redis so
// retried sends are acknowledged with the original id instead of being
// persisted twice.
type Deduper struct {
	client *redis.Client
}

// NewDeduper creates a Deduper backed by the given Redis client.
func NewDeduper(client *redis.Client) *Deduper {
	return &Deduper{client: client}
}

// Claim attempts to claim the token for the given message id. On a fresh
// token it returns ("", true, nil). If the token was already claimed it
// returns the previously stored message id and false. The claim is scoped to
// the room so tokens cannot collide across rooms.
func (d *Deduper) Claim(ctx context.Context, r room.RoomID, token, messageID string) (string, bool, error) {
	key := IdemPrefix + r.Channel() + ":" + token

	ok, err := d.client.SetNX(ctx, key, messageID, IdemTTL).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}

	existing, err := d.client.Get(ctx, key).Result()
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}
