package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid status:update message
// ---------------------------------------------------------------------------

func TestParseClientMessage_StatusUpdate(t *testing.T) {
	input := []byte(`{"type":"status:update","status":"away"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeStatusUpdate {
		t.Fatalf("expected type %q, got %q", TypeStatusUpdate, msgType)
	}

	su, ok := msg.(StatusUpdateMsg)
	if !ok {
		t.Fatalf("expected StatusUpdateMsg, got %T", msg)
	}
	if su.Status != "away" {
		t.Errorf("expected status %q, got %q", "away", su.Status)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid gc:send_message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"gc:send_message","group_id":"42","content":"hello","reply_to":"m-1","idem":"tok-9"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.GroupID != "42" {
		t.Errorf("expected group_id %q, got %q", "42", sm.GroupID)
	}
	if sm.Content != "hello" {
		t.Errorf("expected content %q, got %q", "hello", sm.Content)
	}
	if sm.ReplyTo != "m-1" {
		t.Errorf("expected reply_to %q, got %q", "m-1", sm.ReplyTo)
	}
	if sm.IdemToken != "tok-9" {
		t.Errorf("expected idem %q, got %q", "tok-9", sm.IdemToken)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid cv:typing message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ConvTyping(t *testing.T) {
	input := []byte(`{"type":"cv:typing","conversation_id":"c-7","is_typing":true}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeConvTyping {
		t.Fatalf("expected type %q, got %q", TypeConvTyping, msgType)
	}

	tm, ok := msg.(ConvTypingMsg)
	if !ok {
		t.Fatalf("expected ConvTypingMsg, got %T", msg)
	}
	if tm.ConversationID != "c-7" {
		t.Errorf("expected conversation_id %q, got %q", "c-7", tm.ConversationID)
	}
	if !tm.IsTyping {
		t.Error("expected is_typing=true")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing report and history messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_ReportUser(t *testing.T) {
	input := []byte(`{"type":"report:user","reported_user_id":"u-2","room_id":"group:42","reason":"harassment"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeReportUser {
		t.Fatalf("expected type %q, got %q", TypeReportUser, msgType)
	}

	rm, ok := msg.(ReportUserMsg)
	if !ok {
		t.Fatalf("expected ReportUserMsg, got %T", msg)
	}
	if rm.ReportedUserID != "u-2" || rm.RoomID != "group:42" || rm.Reason != "harassment" {
		t.Errorf("unexpected fields: %+v", rm)
	}
}

func TestParseClientMessage_HistoryFetch(t *testing.T) {
	input := []byte(`{"type":"history:fetch","room_id":"conv:c-7","limit":20,"offset":40}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hm, ok := msg.(HistoryFetchMsg)
	if !ok {
		t.Fatalf("expected HistoryFetchMsg, got %T", msg)
	}
	if hm.RoomID != "conv:c-7" || hm.Limit != 20 || hm.Offset != 40 {
		t.Errorf("unexpected fields: %+v", hm)
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown and malformed messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"gc:self_destruct"}`)

	msgType, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if msgType != "gc:self_destruct" {
		t.Errorf("expected echoed type, got %q", msgType)
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	input := []byte(`{"group_id":"42","content":"hi"}`)

	_, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for missing type field")
	}
	if !strings.Contains(err.Error(), "type") {
		t.Errorf("error should mention type field, got: %v", err)
	}
}

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	input := []byte(`{"type":"heartbeat"`)

	_, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// ---------------------------------------------------------------------------
// Test: Server message construction injects the type discriminator
// ---------------------------------------------------------------------------

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeNewMessage, NewMessageMsg{
		ID:          "m-1",
		GroupID:     "42",
		UserID:      "u-1",
		DisplayName: "alice",
		Content:     "hello",
		MsgType:     "text",
		CreatedAt:   1700000000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["type"] != TypeNewMessage {
		t.Errorf("expected type %q, got %v", TypeNewMessage, decoded["type"])
	}
	if decoded["group_id"] != "42" {
		t.Errorf("expected group_id %q, got %v", "42", decoded["group_id"])
	}
	if decoded["content"] != "hello" {
		t.Errorf("expected content %q, got %v", "hello", decoded["content"])
	}
}

func TestNewServerMessage_OmitsEmptyOptionals(t *testing.T) {
	data, err := NewServerMessage(TypeUserStatus, UserStatusMsg{
		UserID:      "u-1",
		DisplayName: "alice",
		Status:      "online",
		Timestamp:   1700000000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(data), "last_seen_at") {
		t.Errorf("zero last_seen_at should be omitted, got %s", data)
	}
}
