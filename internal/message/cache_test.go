package message

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/communityhub/realtime/internal/room"
)

// newTestCache creates a Cache connected to a local Redis instance. Tests
// that call this helper require a running Redis on localhost:6379 and are
// skipped otherwise.
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, RecentPrefix+"group:test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewCache(client)
}

func cachedFrame(id string) []byte {
	return []byte(fmt.Sprintf(`{"type":"gc:new_message","id":%q,"content":"c-%s"}`, id, id))
}

func cachedIDs(t *testing.T, frames [][]byte) []string {
	t.Helper()
	ids := make([]string, len(frames))
	for i, f := range frames {
		var frame struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(f, &frame); err != nil {
			t.Fatalf("decode cached frame: %v", err)
		}
		ids[i] = frame.ID
	}
	return ids
}

func TestCache_RecentIsNewestFirst(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	r := room.Group("test_c1")

	cache.Add(ctx, r, cachedFrame("m1"))
	cache.Add(ctx, r, cachedFrame("m2"))
	cache.Add(ctx, r, cachedFrame("m3"))

	frames, err := cache.Recent(ctx, r, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	ids := cachedIDs(t, frames)
	if len(ids) != 3 || ids[0] != "m3" || ids[2] != "m1" {
		t.Fatalf("expected [m3 m2 m1], got %v", ids)
	}
}

func TestCache_RemoveEvictsDeletedFrame(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	r := room.Group("test_c2")

	cache.Add(ctx, r, cachedFrame("m1"))
	cache.Add(ctx, r, cachedFrame("m2"))
	cache.Add(ctx, r, cachedFrame("m3"))

	cache.Remove(ctx, r, "m2")

	frames, err := cache.Recent(ctx, r, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	ids := cachedIDs(t, frames)
	if len(ids) != 2 {
		t.Fatalf("expected 2 frames after eviction, got %v", ids)
	}
	for _, id := range ids {
		if id == "m2" {
			t.Fatal("deleted frame still served from cache")
		}
	}
}

func TestCache_RemoveUnknownIDIsNoop(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	r := room.Group("test_c3")

	cache.Add(ctx, r, cachedFrame("m1"))
	cache.Remove(ctx, r, "ghost")

	frames, err := cache.Recent(ctx, r, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected cache untouched, got %d frames", len(frames))
	}
}
