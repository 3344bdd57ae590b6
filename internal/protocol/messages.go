// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types: presence channel.
const (
	TypeStatusUpdate = "status:update"
	TypeOnlineList   = "online:list"
	TypeStatusQuery  = "status:query"
	TypeHeartbeat    = "heartbeat"
	TypePing         = "ping"
)

// Client -> Server message types: group channel.
const (
	TypeJoinGroup        = "gc:join_group"
	TypeLeaveGroup       = "gc:leave_group"
	TypeSendMessage      = "gc:send_message"
	TypeDeleteMessage    = "gc:delete_message"
	TypeTyping           = "gc:typing"
	TypeMarkRead         = "gc:mark_read"
	TypeGetOnlineMembers = "gc:get_online_members"
)

// Client -> Server message types: conversation channel.
const (
	TypeConvJoin     = "cv:join"
	TypeConvLeave    = "cv:leave"
	TypeConvSend     = "cv:send_message"
	TypeConvTyping   = "cv:typing"
	TypeConvMarkRead = "cv:mark_read"
)

// Client -> Server message types: abuse reporting and history backfill.
const (
	TypeReportUser   = "report:user"
	TypeHistoryFetch = "history:fetch"
)

// Server -> Client message types: connection and presence channel.
const (
	TypeConnected    = "connected"
	TypeStatusOK     = "status:updated"
	TypeStatusError  = "status:error"
	TypeOnlineUsers  = "online:users"
	TypeStatusResult = "status:result"
	TypeHeartbeatAck = "heartbeat:ack"
	TypeUserStatus   = "user:status"
	TypeError        = "error"
	TypePong         = "pong"
)

// Server -> Client message types: group channel.
const (
	TypeJoinedGroup    = "gc:joined_group"
	TypeLeftGroup      = "gc:left_group"
	TypeUserJoined     = "gc:user_joined"
	TypeUserLeft       = "gc:user_left"
	TypeNewMessage     = "gc:new_message"
	TypeMessageDeleted = "gc:message_deleted"
	TypeMessageRead    = "gc:message_read"
	TypeOnlineMembers  = "gc:online_members"
	TypeUserOffline    = "gc:user_offline"
	TypeGroupError     = "gc:error"
)

// Server -> Client message types: conversation channel.
const (
	TypeConvJoined      = "cv:joined"
	TypeConvLeft        = "cv:left"
	TypeConvNewMessage  = "cv:new_message"
	TypeConvMessageRead = "cv:message_read"
	TypeConvUserOffline = "cv:user_offline"
	TypeConvError       = "cv:error"
)

// Server -> Client message types: notification delivery.
const (
	TypeNotification = "notification"
	TypeUnreadCount  = "unread-count"
)

// Server -> Client message types: abuse reporting and history backfill.
const (
	TypeReportAck     = "report:ack"
	TypeHistoryResult = "history:messages"
)

// ---------------------------------------------------------------------------
// Envelope - used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// StatusUpdateMsg is sent by the client to change its presence status to
// online, away, or busy.
type StatusUpdateMsg struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// OnlineListMsg requests a snapshot of all currently online users.
type OnlineListMsg struct {
	Type string `json:"type"`
}

// StatusQueryMsg requests the presence status of a single user.
type StatusQueryMsg struct {
	Type         string `json:"type"`
	TargetUserID string `json:"target_user_id"`
}

// HeartbeatMsg refreshes the client's presence liveness window.
type HeartbeatMsg struct {
	Type string `json:"type"`
}

// JoinGroupMsg is sent by the client to join a group room it is a member of.
type JoinGroupMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"group_id"`
}

// LeaveGroupMsg is sent by the client to leave a group room.
type LeaveGroupMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"group_id"`
}

// SendMessageMsg is a chat message sent by the client into a group room.
// IdemToken is an optional client-assigned idempotency token; retried sends
// carrying the same token are acknowledged with the original message id
// instead of being persisted twice.
type SendMessageMsg struct {
	Type      string `json:"type"`
	GroupID   string `json:"group_id"`
	Content   string `json:"content"`
	MsgType   string `json:"msg_type,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
	IdemToken string `json:"idem,omitempty"`
}

// DeleteMessageMsg requests a soft delete of a message in a group room.
type DeleteMessageMsg struct {
	Type      string `json:"type"`
	GroupID   string `json:"group_id"`
	MessageID string `json:"message_id"`
}

// TypingMsg indicates whether the client is currently typing in a group room.
type TypingMsg struct {
	Type     string `json:"type"`
	GroupID  string `json:"group_id"`
	IsTyping bool   `json:"is_typing"`
}

// MarkReadMsg records that the client has read up to a message in a room.
type MarkReadMsg struct {
	Type      string `json:"type"`
	GroupID   string `json:"group_id"`
	MessageID string `json:"message_id"`
}

// GetOnlineMembersMsg requests the set of online members of a group.
type GetOnlineMembersMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"group_id"`
}

// ConvJoinMsg is sent by the client to join a two-party conversation room.
type ConvJoinMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// ConvLeaveMsg is sent by the client to leave a conversation room.
type ConvLeaveMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// ConvSendMsg is a chat message sent into a conversation room.
type ConvSendMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	MsgType        string `json:"msg_type,omitempty"`
	IdemToken      string `json:"idem,omitempty"`
}

// ConvTypingMsg indicates typing state in a conversation room.
type ConvTypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// ConvMarkReadMsg records a read marker in a conversation room.
type ConvMarkReadMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// ReportUserMsg files an abuse report against another user. RoomID is the
// room channel the behavior occurred in ("group:<id>" or "conv:<id>");
// Reason is one of harassment, spam, explicit, or other.
type ReportUserMsg struct {
	Type           string `json:"type"`
	ReportedUserID string `json:"reported_user_id"`
	RoomID         string `json:"room_id"`
	Reason         string `json:"reason"`
}

// HistoryFetchMsg requests a page of a room's message history. RoomID is
// the room channel ("group:<id>" or "conv:<id>"). Limit defaults when zero
// or out of range.
type HistoryFetchMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg acknowledges a successful handshake. It carries the resolved
// identity and the group rooms the connection was auto-joined to.
type ConnectedMsg struct {
	Type        string   `json:"type"`
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	AvatarRef   string   `json:"avatar_ref,omitempty"`
	Groups      []string `json:"groups"`
}

// StatusUpdatedMsg confirms a presence status change.
type StatusUpdatedMsg struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// StatusErrorMsg reports a rejected presence status change.
type StatusErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// OnlineUser is one entry in the online users snapshot.
type OnlineUser struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	LastSeenAt  int64  `json:"last_seen_at"`
}

// OnlineUsersMsg is the response to an online:list request.
type OnlineUsersMsg struct {
	Type  string       `json:"type"`
	Users []OnlineUser `json:"users"`
}

// StatusResultMsg is the response to a status:query request. Status is
// "offline" when the target has no presence record.
type StatusResultMsg struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id"`
	Status     string `json:"status"`
	LastSeenAt int64  `json:"last_seen_at,omitempty"`
}

// HeartbeatAckMsg acknowledges a heartbeat with the server timestamp.
type HeartbeatAckMsg struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// UserStatusMsg is broadcast whenever a user's presence status changes.
// LastSeenAt is only set for offline transitions.
type UserStatusMsg struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
	LastSeenAt  int64  `json:"last_seen_at,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// JoinedGroupMsg confirms a group join to the requesting connection.
type JoinedGroupMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"group_id"`
}

// LeftGroupMsg confirms a group leave to the requesting connection.
type LeftGroupMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"group_id"`
}

// UserJoinedMsg is broadcast to existing members when a user joins a group.
type UserJoinedMsg struct {
	Type        string `json:"type"`
	GroupID     string `json:"group_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Timestamp   int64  `json:"timestamp"`
}

// UserLeftMsg is broadcast to remaining members when a user leaves a group.
type UserLeftMsg struct {
	Type        string `json:"type"`
	GroupID     string `json:"group_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Timestamp   int64  `json:"timestamp"`
}

// NewMessageMsg is broadcast to a group room after a message has been
// durably persisted.
type NewMessageMsg struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	GroupID     string `json:"group_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Content     string `json:"content"`
	MsgType     string `json:"msg_type"`
	ReplyTo     string `json:"reply_to,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// MessageDeletedMsg is broadcast after a message soft delete. It carries only
// the message id, never the deleted content.
type MessageDeletedMsg struct {
	Type      string `json:"type"`
	GroupID   string `json:"group_id"`
	MessageID string `json:"message_id"`
	DeletedBy string `json:"deleted_by"`
	Timestamp int64  `json:"timestamp"`
}

// ServerTypingMsg relays a member's typing state to the rest of the room.
type ServerTypingMsg struct {
	Type        string `json:"type"`
	GroupID     string `json:"group_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsTyping    bool   `json:"is_typing"`
}

// MessageReadMsg relays a read marker to the room, excluding the reader.
type MessageReadMsg struct {
	Type      string `json:"type"`
	GroupID   string `json:"group_id"`
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
}

// OnlineMembersMsg is the response to a gc:get_online_members request.
type OnlineMembersMsg struct {
	Type          string   `json:"type"`
	GroupID       string   `json:"group_id"`
	OnlineUserIDs []string `json:"online_user_ids"`
}

// UserOfflineMsg is broadcast to a room when a user's last live connection
// in that room closes.
type UserOfflineMsg struct {
	Type      string `json:"type"`
	GroupID   string `json:"group_id"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
}

// GroupErrorMsg reports a group channel error to the originating connection.
type GroupErrorMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"group_id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConvJoinedMsg confirms a conversation join.
type ConvJoinedMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// ConvLeftMsg confirms a conversation leave.
type ConvLeftMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// ConvNewMessageMsg is broadcast to a conversation room after persistence.
type ConvNewMessageMsg struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name"`
	Content        string `json:"content"`
	MsgType        string `json:"msg_type"`
	CreatedAt      int64  `json:"created_at"`
}

// ConvTypingRelayMsg relays typing state within a conversation.
type ConvTypingRelayMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// ConvMessageReadMsg relays a conversation read marker to the other party.
type ConvMessageReadMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	MessageID      string `json:"message_id"`
	Timestamp      int64  `json:"timestamp"`
}

// ConvUserOfflineMsg is broadcast to a conversation when the other party's
// last live connection in it closes.
type ConvUserOfflineMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Timestamp      int64  `json:"timestamp"`
}

// ConvErrorMsg reports a conversation channel error to the originating
// connection.
type ConvErrorMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}

// NotificationMsg is a server-pushed structured notification.
type NotificationMsg struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// UnreadCountMsg is a server-pushed unread notification counter.
type UnreadCountMsg struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// HistoryMsg carries a page of a room's history, newest first. Each entry
// is a complete gc:new_message or cv:new_message frame, so clients render
// history and live messages through the same path.
type HistoryMsg struct {
	Type     string            `json:"type"`
	RoomID   string            `json:"room_id"`
	Messages []json.RawMessage `json:"messages"`
}

// ReportAckMsg confirms that an abuse report was recorded.
type ReportAckMsg struct {
	Type           string `json:"type"`
	ReportedUserID string `json:"reported_user_id"`
}

// ErrorMsg is sent by the server to communicate a generic error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeStatusUpdate:
		var m StatusUpdateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeOnlineList:
		var m OnlineListMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStatusQuery:
		var m StatusQueryMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeHeartbeat:
		var m HeartbeatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinGroup:
		var m JoinGroupMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveGroup:
		var m LeaveGroupMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDeleteMessage:
		var m DeleteMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetOnlineMembers:
		var m GetOnlineMembersMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeConvJoin:
		var m ConvJoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeConvLeave:
		var m ConvLeaveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeConvSend:
		var m ConvSendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeConvTyping:
		var m ConvTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeConvMarkRead:
		var m ConvMarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReportUser:
		var m ReportUserMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeHistoryFetch:
		var m HistoryFetchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
