package message

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/communityhub/realtime/internal/auth"
	"github.com/communityhub/realtime/internal/member"
	"github.com/communityhub/realtime/internal/metrics"
	"github.com/communityhub/realtime/internal/protocol"
	"github.com/communityhub/realtime/internal/room"
)

// MessageStore is the persistence collaborator of the pipeline.
type MessageStore interface {
	Insert(ctx context.Context, m *Message) error
	Meta(ctx context.Context, r room.RoomID, messageID string) (senderID string, deleted bool, err error)
	SoftDelete(ctx context.Context, r room.RoomID, messageID string) (bool, error)
}

// Authorizer computes action grants for a user in a room.
type Authorizer interface {
	Authorize(ctx context.Context, r room.RoomID, userID string) (member.Grants, error)
}

// LocalFanout delivers a payload to the room's live join-set on this process.
type LocalFanout interface {
	Broadcast(r room.RoomID, data []byte, excludeConnID string)
}

// BridgePublisher propagates a payload to sibling processes.
type BridgePublisher interface {
	PublishRoom(r room.RoomID, eventID string, payload []byte) error
}

// TokenClaimer deduplicates client idempotency tokens.
type TokenClaimer interface {
	Claim(ctx context.Context, r room.RoomID, token, messageID string) (string, bool, error)
}

// RecentCache records broadcast payloads for reconnect backfill and evicts
// them when the message they carry is deleted.
type RecentCache interface {
	Add(ctx context.Context, r room.RoomID, payload []byte)
	Remove(ctx context.Context, r room.RoomID, messageID string)
}

// Pipeline validates sender eligibility, persists a message, then fans it
// out - in that order, always. Dedupe and cache collaborators are optional;
// pass nil to disable them.
type Pipeline struct {
	store  MessageStore
	authz  Authorizer
	local  LocalFanout
	bridge BridgePublisher
	dedupe TokenClaimer
	cache  RecentCache
}

// NewPipeline creates a Pipeline with the given collaborators.
func NewPipeline(store MessageStore, authz Authorizer, local LocalFanout, bridge BridgePublisher, dedupe TokenClaimer, cache RecentCache) *Pipeline {
	return &Pipeline{
		store:  store,
		authz:  authz,
		local:  local,
		bridge: bridge,
		dedupe: dedupe,
		cache:  cache,
	}
}

// Send runs the full pipeline for a new message. It returns the persisted
// message and whether the send was deduplicated against an earlier retry.
//
// Failure modes, in order: content validation error (no side effect),
// member.ErrNotAMember / member.ErrNotPermitted (no side effect),
// ErrPersistence (aborted before any broadcast). A mid-flight disconnect
// after persistence has started does not un-persist the message.
func (p *Pipeline) Send(ctx context.Context, sender auth.Identity, r room.RoomID, content, msgType, replyTo, idemToken string) (*Message, bool, error) {
	if err := ValidateContent(content); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, false, err
	}

	grants, err := p.authz.Authorize(ctx, r, sender.UserID)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, false, err
	}
	if !grants.CanSend {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, false, member.ErrNotPermitted
	}

	if msgType == "" {
		msgType = "text"
	}

	m := &Message{
		ID:        uuid.New().String(),
		Room:      r,
		SenderID:  sender.UserID,
		Content:   content,
		MsgType:   msgType,
		ReplyToID: replyTo,
	}

	// Claim the idempotency token before persisting. A lost claim means a
	// retry of an already-processed send: ack with the original id, do not
	// persist or broadcast again. Claim errors fail open - a Redis outage
	// must not block sends, at the cost of a possible duplicate.
	if idemToken != "" && p.dedupe != nil {
		existing, fresh, err := p.dedupe.Claim(ctx, r, idemToken, m.ID)
		if err != nil {
			log.Printf("[pipeline] idempotency claim failed room=%s: %v (failing open)", r, err)
		} else if !fresh {
			metrics.MessagesTotal.WithLabelValues("deduped").Inc()
			return &Message{ID: existing, Room: r, SenderID: sender.UserID}, true, nil
		}
	}

	if err := p.store.Insert(ctx, m); err != nil {
		return nil, false, err
	}
	metrics.MessagesTotal.WithLabelValues("persisted").Inc()

	payload, err := EncodeBroadcast(m, sender.DisplayName)
	if err != nil {
		// The message is durable; only the fan-out payload failed to build.
		log.Printf("[pipeline] encode broadcast room=%s id=%s: %v", r, m.ID, err)
		return m, false, nil
	}

	if p.cache != nil {
		p.cache.Add(ctx, r, payload)
	}

	// Fan out: every local connection in the join-set (the sender's other
	// devices included), then sibling processes via the bridge. The message
	// id doubles as the cross-process dedupe key.
	p.local.Broadcast(r, payload, "")
	metrics.MessagesTotal.WithLabelValues("broadcast").Inc()
	if p.bridge != nil {
		if err := p.bridge.PublishRoom(r, m.ID, payload); err != nil {
			log.Printf("[pipeline] bridge publish room=%s id=%s: %v", r, m.ID, err)
		}
	}

	return m, false, nil
}

// Delete soft-deletes a message. Permitted only for the original author or a
// member holding moderation grants; everyone else gets
// member.ErrNotPermitted with no side effect. Repeated deletes are
// idempotent and broadcast at most once. The broadcast carries only the
// message id.
func (p *Pipeline) Delete(ctx context.Context, actor auth.Identity, r room.RoomID, messageID string) error {
	grants, err := p.authz.Authorize(ctx, r, actor.UserID)
	if err != nil {
		return err
	}

	senderID, deleted, err := p.store.Meta(ctx, r, messageID)
	if err != nil {
		return err
	}
	if deleted {
		return nil
	}
	if senderID != actor.UserID && !grants.CanModerate {
		return member.ErrNotPermitted
	}

	ok, err := p.store.SoftDelete(ctx, r, messageID)
	if err != nil {
		return err
	}
	if !ok {
		// Lost a delete race; the winner already broadcast.
		return nil
	}

	// The recent-frame cache still holds the full message; history served
	// from it must not outlive the delete.
	if p.cache != nil {
		p.cache.Remove(ctx, r, messageID)
	}

	payload, err := protocol.NewServerMessage(protocol.TypeMessageDeleted, protocol.MessageDeletedMsg{
		GroupID:   r.Key(),
		MessageID: messageID,
		DeletedBy: actor.UserID,
		Timestamp: nowUnix(),
	})
	if err != nil {
		log.Printf("[pipeline] encode delete broadcast room=%s id=%s: %v", r, messageID, err)
		return nil
	}

	p.local.Broadcast(r, payload, "")
	if p.bridge != nil {
		if err := p.bridge.PublishRoom(r, uuid.New().String(), payload); err != nil {
			log.Printf("[pipeline] bridge publish delete room=%s id=%s: %v", r, messageID, err)
		}
	}
	return nil
}

func nowUnix() int64 { return time.Now().Unix() }

// EncodeBroadcast builds the channel-appropriate message frame for a
// persisted message. History backfill reuses it with an empty display name,
// since stored rows carry sender ids only.
func EncodeBroadcast(m *Message, displayName string) ([]byte, error) {
	if m.Room.Kind() == room.KindGroup {
		return protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
			ID:          m.ID,
			GroupID:     m.Room.Key(),
			UserID:      m.SenderID,
			DisplayName: displayName,
			Content:     m.Content,
			MsgType:     m.MsgType,
			ReplyTo:     m.ReplyToID,
			CreatedAt:   m.CreatedAt.Unix(),
		})
	}
	return protocol.NewServerMessage(protocol.TypeConvNewMessage, protocol.ConvNewMessageMsg{
		ID:             m.ID,
		ConversationID: m.Room.Key(),
		UserID:         m.SenderID,
		DisplayName:    displayName,
		Content:        m.Content,
		MsgType:        m.MsgType,
		CreatedAt:      m.CreatedAt.Unix(),
	})
}
