package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/communityhub/realtime/internal/auth"
)

// newTestStore creates a Store connected to a local Redis instance and
// removes any leftover test presence state. Tests that call this helper
// require a running Redis on localhost:6379 and are skipped otherwise.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	cleanup := func() {
		for _, prefix := range []string{RecordPrefix + "test_*", ConnsPrefix + "test_*"} {
			iter := client.Scan(ctx, 0, prefix, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
		iter := client.ZScan(ctx, IndexKey, 0, "test_*", 100).Iterator()
		for iter.Next(ctx) {
			member := iter.Val()
			client.ZRem(ctx, IndexKey, member)
			iter.Next(ctx) // skip the score
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return newStoreWithClient(client, 30*time.Minute)
}

func testIdentity(userID string) auth.Identity {
	return auth.Identity{UserID: userID, DisplayName: "dn-" + userID}
}

func TestConnect_FirstConnectionGoesOnline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Connect(ctx, testIdentity("test_u1"), "c1")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !first {
		t.Fatal("first connection should report the absent -> online transition")
	}

	rec, err := store.Get(ctx, "test_u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil {
		t.Fatal("expected presence record after connect")
	}
	if rec.Status != StatusOnline {
		t.Errorf("expected status online, got %s", rec.Status)
	}
	if rec.DisplayName != "dn-test_u1" {
		t.Errorf("expected hydrated display name, got %q", rec.DisplayName)
	}
}

func TestConnect_SecondConnectionKeepsChosenStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := testIdentity("test_u2")

	if _, err := store.Connect(ctx, id, "c1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := store.SetStatus(ctx, id.UserID, StatusBusy); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	first, err := store.Connect(ctx, id, "c2")
	if err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if first {
		t.Fatal("second connection must not report a fresh online transition")
	}

	rec, _ := store.Get(ctx, id.UserID)
	if rec == nil || rec.Status != StatusBusy {
		t.Fatalf("busy status should survive a second connection, got %+v", rec)
	}
}

func TestDisconnect_LastConnectionOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := testIdentity("test_u3")

	store.Connect(ctx, id, "c1")
	store.Connect(ctx, id, "c2")

	// First close: a connection remains, the user is still present.
	last, _, err := store.Disconnect(ctx, id.UserID)
	if err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if last {
		t.Fatal("disconnect with a live connection left must not claim offline")
	}
	if rec, _ := store.Get(ctx, id.UserID); rec == nil {
		t.Fatal("user with an open connection must never be absent")
	}

	// Second close: final connection, exactly one offline claim.
	last, lastSeen, err := store.Disconnect(ctx, id.UserID)
	if err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !last {
		t.Fatal("closing the final connection must claim the offline transition")
	}
	if lastSeen.IsZero() {
		t.Error("offline claim should carry the last-seen timestamp")
	}
	if rec, _ := store.Get(ctx, id.UserID); rec != nil {
		t.Fatalf("expected absent after last disconnect, got %+v", rec)
	}
}

func TestSetStatus_AbsentUser(t *testing.T) {
	store := newTestStore(t)

	err := store.SetStatus(context.Background(), "test_ghost", StatusAway)
	if !errors.Is(err, ErrAbsent) {
		t.Fatalf("expected ErrAbsent, got %v", err)
	}
}

func TestHeartbeat_RefreshesLastSeen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := testIdentity("test_u4")

	store.Connect(ctx, id, "c1")
	before, _ := store.Get(ctx, id.UserID)

	time.Sleep(1100 * time.Millisecond)
	_, revived, err := store.Heartbeat(ctx, id)
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if revived {
		t.Error("plain refresh must not report a revival")
	}

	after, _ := store.Get(ctx, id.UserID)
	if !after.LastSeen.After(before.LastSeen) {
		t.Errorf("heartbeat did not advance last_seen: before=%v after=%v", before.LastSeen, after.LastSeen)
	}
}

func TestHeartbeat_RevivesSweptUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := testIdentity("test_u8")

	store.Connect(ctx, id, "c1")

	// Sweep the user while the connection stays open, as happens when
	// heartbeats are lost during a Redis outage and the sweeper runs on
	// recovery.
	stale := time.Now().Add(-2 * time.Hour)
	store.Client().ZAdd(ctx, IndexKey, redis.Z{Score: float64(stale.Unix()), Member: id.UserID})
	if _, err := store.SweepStale(ctx, time.Now().Add(-30*time.Minute), 100); err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if rec, _ := store.Get(ctx, id.UserID); rec != nil {
		t.Fatalf("expected absent after sweep, got %+v", rec)
	}

	// The live connection's next heartbeat rebuilds the record; the user is
	// never left permanently absent with an open socket.
	_, revived, err := store.Heartbeat(ctx, id)
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if !revived {
		t.Fatal("heartbeat after a sweep must report the record rebuilt")
	}

	rec, err := store.Get(ctx, id.UserID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil {
		t.Fatal("expected presence record after revival")
	}
	if rec.Status != StatusOnline {
		t.Errorf("revived record should be online, got %s", rec.Status)
	}
	if rec.DisplayName != id.DisplayName {
		t.Errorf("revived record lost the display name: %q", rec.DisplayName)
	}

	// The restored connection counter lets the eventual disconnect claim
	// the offline transition.
	last, _, err := store.Disconnect(ctx, id.UserID)
	if err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !last {
		t.Fatal("disconnect after revival must claim the offline transition")
	}
}

func TestOnline_Snapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Connect(ctx, testIdentity("test_u5"), "c1")
	store.Connect(ctx, testIdentity("test_u6"), "c2")

	records, err := store.Online(ctx)
	if err != nil {
		t.Fatalf("Online: %v", err)
	}

	found := map[string]bool{}
	for _, rec := range records {
		found[rec.UserID] = true
	}
	if !found["test_u5"] || !found["test_u6"] {
		t.Errorf("online snapshot missing connected users: %v", found)
	}
}

func TestSweepStale_ExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := testIdentity("test_u7")

	store.Connect(ctx, id, "c1")

	// Age the index entry far past any realistic TTL.
	stale := time.Now().Add(-2 * time.Hour)
	store.Client().ZAdd(ctx, IndexKey, redis.Z{Score: float64(stale.Unix()), Member: id.UserID})

	cutoff := time.Now().Add(-30 * time.Minute)
	swept, err := store.SweepStale(ctx, cutoff, 100)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}

	var matched int
	for _, rec := range swept {
		if rec.UserID == id.UserID {
			matched++
		}
	}
	if matched != 1 {
		t.Fatalf("expected exactly one sweep of %s, got %d", id.UserID, matched)
	}

	// A second sweep finds nothing: one offline event no matter how many
	// heartbeats were missed.
	swept, err = store.SweepStale(ctx, cutoff, 100)
	if err != nil {
		t.Fatalf("second SweepStale: %v", err)
	}
	for _, rec := range swept {
		if rec.UserID == id.UserID {
			t.Fatal("user swept twice")
		}
	}

	if rec, _ := store.Get(ctx, id.UserID); rec != nil {
		t.Fatalf("swept user should be absent, got %+v", rec)
	}
}
