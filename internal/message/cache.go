package message

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/communityhub/realtime/internal/room"
)

const (
	// RecentPrefix is the Redis key prefix for per-room recent message lists.
	RecentPrefix = "recent:"

	// MaxRecentMessages is the number of broadcast payloads retained per room.
	MaxRecentMessages = 100

	// RecentTTL bounds how long an idle room's cache lives.
	RecentTTL = 24 * time.Hour
)

// Cache keeps the most recent broadcast payloads per room in a Redis list so
// that a reconnecting client can backfill without a full history query.
// All cache writes are best-effort: a Redis failure is logged and ignored,
// it never affects the persistence or broadcast path.
type Cache struct {
	client *redis.Client
}

// NewCache creates a recent-message cache using the provided Redis client.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Add prepends a broadcast payload to the room's recent list and trims it to
// MaxRecentMessages.
func (c *Cache) Add(ctx context.Context, r room.RoomID, payload []byte) {
	key := RecentPrefix + r.Channel()
	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, MaxRecentMessages-1)
	pipe.Expire(ctx, key, RecentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[message-cache] add %s: %v", key, err)
	}
}

// Remove evicts the cached frame carrying the given message id, so backfill
// never replays content the room deleted. Best-effort, like Add.
func (c *Cache) Remove(ctx context.Context, r room.RoomID, messageID string) {
	key := RecentPrefix + r.Channel()
	vals, err := c.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		log.Printf("[message-cache] remove scan %s: %v", key, err)
		return
	}
	for _, v := range vals {
		var frame struct {
			ID string `json:"id"`
		}
		if json.Unmarshal([]byte(v), &frame) != nil || frame.ID != messageID {
			continue
		}
		if err := c.client.LRem(ctx, key, 1, v).Err(); err != nil {
			log.Printf("[message-cache] remove %s id=%s: %v", key, messageID, err)
		}
	}
}

// Recent returns up to limit cached payloads for a room, newest first.
func (c *Cache) Recent(ctx context.Context, r room.RoomID, limit int) ([][]byte, error) {
	if limit <= 0 || limit > MaxRecentMessages {
		limit = MaxRecentMessages
	}
	vals, err := c.client.LRange(ctx, RecentPrefix+r.Channel(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}
