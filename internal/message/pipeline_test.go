package message

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/communityhub/realtime/internal/auth"
	"github.com/communityhub/realtime/internal/member"
	"github.com/communityhub/realtime/internal/room"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

// opLog records the order of pipeline side effects so tests can assert the
// write-then-notify contract.
type opLog struct {
	ops []string
}

func (l *opLog) add(op string) { l.ops = append(l.ops, op) }

type fakeStore struct {
	log        *opLog
	insertErr  error
	inserted   []*Message
	metaSender string
	metaDel    bool
	metaErr    error
	deleted    []string
}

func (f *fakeStore) Insert(_ context.Context, m *Message) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	m.CreatedAt = time.Unix(1700000000, 0)
	f.inserted = append(f.inserted, m)
	f.log.add("insert")
	return nil
}

func (f *fakeStore) Meta(_ context.Context, _ room.RoomID, _ string) (string, bool, error) {
	return f.metaSender, f.metaDel, f.metaErr
}

func (f *fakeStore) SoftDelete(_ context.Context, _ room.RoomID, id string) (bool, error) {
	f.deleted = append(f.deleted, id)
	f.log.add("soft_delete")
	return true, nil
}

type fakeAuthz struct {
	grants member.Grants
	err    error
}

func (f *fakeAuthz) Authorize(_ context.Context, _ room.RoomID, _ string) (member.Grants, error) {
	return f.grants, f.err
}

type fakeFanout struct {
	log      *opLog
	payloads [][]byte
}

func (f *fakeFanout) Broadcast(_ room.RoomID, data []byte, _ string) {
	f.payloads = append(f.payloads, data)
	f.log.add("broadcast")
}

type fakeBridge struct {
	eventIDs []string
	payloads [][]byte
}

func (f *fakeBridge) PublishRoom(_ room.RoomID, eventID string, payload []byte) error {
	f.eventIDs = append(f.eventIDs, eventID)
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeClaimer struct {
	claims map[string]string // token -> first message id
}

func (f *fakeClaimer) Claim(_ context.Context, _ room.RoomID, token, messageID string) (string, bool, error) {
	if existing, ok := f.claims[token]; ok {
		return existing, false, nil
	}
	if f.claims == nil {
		f.claims = make(map[string]string)
	}
	f.claims[token] = messageID
	return "", true, nil
}

type fakeCache struct {
	added   [][]byte
	removed []string
}

func (f *fakeCache) Add(_ context.Context, _ room.RoomID, payload []byte) {
	f.added = append(f.added, payload)
}

func (f *fakeCache) Remove(_ context.Context, _ room.RoomID, messageID string) {
	f.removed = append(f.removed, messageID)
}

func newTestPipeline(store *fakeStore, authz *fakeAuthz) (*Pipeline, *fakeFanout, *fakeBridge, *fakeClaimer) {
	l := &opLog{}
	store.log = l
	local := &fakeFanout{log: l}
	bridge := &fakeBridge{}
	claimer := &fakeClaimer{}
	return NewPipeline(store, authz, local, bridge, claimer, nil), local, bridge, claimer
}

var alice = auth.Identity{UserID: "alice", DisplayName: "Alice"}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestSend_NonMemberRejectedWithoutSideEffect(t *testing.T) {
	store := &fakeStore{}
	p, local, bridge, _ := newTestPipeline(store, &fakeAuthz{err: member.ErrNotAMember})

	_, _, err := p.Send(context.Background(), alice, room.Group("42"), "hello", "", "", "")
	if !errors.Is(err, member.ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("storage row count changed for rejected send")
	}
	if len(local.payloads) != 0 || len(bridge.payloads) != 0 {
		t.Errorf("rejected send must not broadcast")
	}
}

func TestSend_MutedMemberRejected(t *testing.T) {
	store := &fakeStore{}
	// Muted member: membership exists but CanSend is false.
	p, local, _, _ := newTestPipeline(store, &fakeAuthz{grants: member.Grants{CanSend: false, CanDelete: true}})

	_, _, err := p.Send(context.Background(), alice, room.Group("42"), "hello", "", "", "")
	if !errors.Is(err, member.ErrNotPermitted) {
		t.Fatalf("expected ErrNotPermitted, got %v", err)
	}
	if len(store.inserted) != 0 || len(local.payloads) != 0 {
		t.Errorf("muted send must leave no trace")
	}
}

func TestSend_EmptyContentRejected(t *testing.T) {
	store := &fakeStore{}
	p, _, _, _ := newTestPipeline(store, &fakeAuthz{grants: member.Grants{CanSend: true}})

	_, _, err := p.Send(context.Background(), alice, room.Group("42"), "", "", "", "")
	if err == nil {
		t.Fatal("expected validation error for empty content")
	}
	if len(store.inserted) != 0 {
		t.Errorf("invalid content must not be persisted")
	}
}

func TestSend_PersistenceFailureAbortsBeforeBroadcast(t *testing.T) {
	store := &fakeStore{insertErr: ErrPersistence}
	p, local, bridge, _ := newTestPipeline(store, &fakeAuthz{grants: member.Grants{CanSend: true}})

	_, _, err := p.Send(context.Background(), alice, room.Group("42"), "hello", "", "", "")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if len(local.payloads) != 0 || len(bridge.payloads) != 0 {
		t.Fatal("broadcast must never precede durable storage")
	}
}

func TestSend_WriteThenNotify(t *testing.T) {
	store := &fakeStore{}
	p, local, bridge, _ := newTestPipeline(store, &fakeAuthz{grants: member.Grants{CanSend: true}})

	m, dup, err := p.Send(context.Background(), alice, room.Group("42"), "hello", "", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Fatal("fresh send reported as duplicate")
	}
	if m.ID == "" {
		t.Fatal("message id not assigned")
	}

	// Persistence strictly precedes local broadcast.
	if len(store.log.ops) < 2 || store.log.ops[0] != "insert" || store.log.ops[1] != "broadcast" {
		t.Fatalf("expected [insert broadcast], got %v", store.log.ops)
	}

	if len(local.payloads) != 1 {
		t.Fatalf("expected 1 local broadcast, got %d", len(local.payloads))
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(local.payloads[0], &decoded); err != nil {
		t.Fatalf("broadcast payload not JSON: %v", err)
	}
	if decoded["type"] != "gc:new_message" {
		t.Errorf("expected gc:new_message, got %v", decoded["type"])
	}
	if decoded["group_id"] != "42" || decoded["user_id"] != "alice" || decoded["content"] != "hello" {
		t.Errorf("broadcast payload mismatch: %s", local.payloads[0])
	}

	// The bridge event id is the message id, the stable cross-process
	// dedupe key.
	if len(bridge.eventIDs) != 1 || bridge.eventIDs[0] != m.ID {
		t.Errorf("expected bridge event id %q, got %v", m.ID, bridge.eventIDs)
	}
}

func TestSend_ConversationPayloadShape(t *testing.T) {
	store := &fakeStore{}
	p, local, _, _ := newTestPipeline(store, &fakeAuthz{grants: member.Grants{CanSend: true}})

	_, _, err := p.Send(context.Background(), alice, room.Conversation("c-9"), "hi", "", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(local.payloads[0], &decoded); err != nil {
		t.Fatalf("broadcast payload not JSON: %v", err)
	}
	if decoded["type"] != "cv:new_message" {
		t.Errorf("expected cv:new_message, got %v", decoded["type"])
	}
	if decoded["conversation_id"] != "c-9" {
		t.Errorf("expected conversation_id c-9, got %v", decoded["conversation_id"])
	}
}

func TestSend_IdempotencyTokenDedupes(t *testing.T) {
	store := &fakeStore{}
	p, local, _, _ := newTestPipeline(store, &fakeAuthz{grants: member.Grants{CanSend: true}})
	ctx := context.Background()
	g := room.Group("42")

	first, dup, err := p.Send(ctx, alice, g, "hello", "", "", "tok-1")
	if err != nil || dup {
		t.Fatalf("first send: err=%v dup=%v", err, dup)
	}

	second, dup, err := p.Send(ctx, alice, g, "hello", "", "", "tok-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !dup {
		t.Fatal("retry with same token should report duplicate")
	}
	if second.ID != first.ID {
		t.Errorf("retry acked with id %q, want original %q", second.ID, first.ID)
	}
	if len(store.inserted) != 1 {
		t.Errorf("expected exactly 1 persisted row, got %d", len(store.inserted))
	}
	if len(local.payloads) != 1 {
		t.Errorf("expected exactly 1 broadcast, got %d", len(local.payloads))
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestDelete_AuthorAllowed(t *testing.T) {
	store := &fakeStore{metaSender: "alice"}
	p, local, _, _ := newTestPipeline(store, &fakeAuthz{grants: member.Grants{CanSend: true, CanDelete: true}})

	if err := p.Delete(context.Background(), alice, room.Group("42"), "m-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "m-1" {
		t.Fatalf("expected soft delete of m-1, got %v", store.deleted)
	}

	if len(local.payloads) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(local.payloads))
	}
	payload := string(local.payloads[0])
	if !strings.Contains(payload, "gc:message_deleted") || !strings.Contains(payload, "m-1") {
		t.Errorf("delete broadcast should carry the message id: %s", payload)
	}
	if strings.Contains(payload, "content") {
		t.Errorf("delete broadcast must not carry message content: %s", payload)
	}
}

func TestDelete_ModeratorAllowed(t *testing.T) {
	store := &fakeStore{metaSender: "bob"}
	p, _, _, _ := newTestPipeline(store, &fakeAuthz{grants: member.Grants{CanSend: true, CanDelete: true, CanModerate: true}})

	if err := p.Delete(context.Background(), alice, room.Group("42"), "m-1"); err != nil {
		t.Fatalf("moderator delete of another author's message: %v", err)
	}
	if len(store.deleted) != 1 {
		t.Fatalf("expected soft delete, got %v", store.deleted)
	}
}

func TestDelete_NonAuthorRejected(t *testing.T) {
	store := &fakeStore{metaSender: "bob"}
	p, local, _, _ := newTestPipeline(store, &fakeAuthz{grants: member.Grants{CanSend: true, CanDelete: true}})

	err := p.Delete(context.Background(), alice, room.Group("42"), "m-1")
	if !errors.Is(err, member.ErrNotPermitted) {
		t.Fatalf("expected ErrNotPermitted, got %v", err)
	}
	if len(store.deleted) != 0 || len(local.payloads) != 0 {
		t.Errorf("rejected delete must leave no trace")
	}
}

func TestDelete_AlreadyDeletedIsIdempotent(t *testing.T) {
	store := &fakeStore{metaSender: "alice", metaDel: true}
	p, local, _, _ := newTestPipeline(store, &fakeAuthz{grants: member.Grants{CanSend: true, CanDelete: true}})

	if err := p.Delete(context.Background(), alice, room.Group("42"), "m-1"); err != nil {
		t.Fatalf("repeat delete should succeed silently: %v", err)
	}
	if len(store.deleted) != 0 || len(local.payloads) != 0 {
		t.Errorf("repeat delete must not re-delete or re-broadcast")
	}
}

func TestDelete_EvictsCachedFrame(t *testing.T) {
	l := &opLog{}
	store := &fakeStore{log: l, metaSender: "alice"}
	local := &fakeFanout{log: l}
	cache := &fakeCache{}
	p := NewPipeline(store, &fakeAuthz{grants: member.Grants{CanSend: true, CanDelete: true}}, local, nil, nil, cache)

	if err := p.Delete(context.Background(), alice, room.Group("42"), "m-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cache.removed) != 1 || cache.removed[0] != "m-1" {
		t.Fatalf("deleted message must be evicted from the recent cache, got %v", cache.removed)
	}

	// A repeat delete already returned before touching storage; the cache
	// is not re-scanned.
	store.metaDel = true
	if err := p.Delete(context.Background(), alice, room.Group("42"), "m-1"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if len(cache.removed) != 1 {
		t.Fatalf("repeat delete must not evict again, got %v", cache.removed)
	}
}

func TestDelete_MissingMessage(t *testing.T) {
	store := &fakeStore{metaErr: ErrNotFound}
	p, _, _, _ := newTestPipeline(store, &fakeAuthz{grants: member.Grants{CanSend: true, CanDelete: true}})

	err := p.Delete(context.Background(), alice, room.Group("42"), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
