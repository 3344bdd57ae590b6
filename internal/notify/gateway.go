// Package notify delivers structured notifications to users and maintains
// their unread counters. Delivery is two-legged: local connections receive
// the payload directly, and the bridge carries it to sibling processes
// holding connections for the same user.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/communityhub/realtime/internal/protocol"
)

// UnreadPrefix is the Redis key prefix for per-user unread counters.
const UnreadPrefix = "unread:"

// Notification is a single deliverable item.
type Notification struct {
	ID        string
	Kind      string // message, mention, system
	Title     string
	Message   string
	Link      string
	CreatedAt time.Time
}

// LocalSender delivers a payload to a user's connections on this process.
type LocalSender interface {
	SendToUser(userID string, data []byte) int
}

// BridgePublisher carries a payload to the user's connections on sibling
// processes.
type BridgePublisher interface {
	PublishUser(userID, eventID string, payload []byte) error
}

// Gateway builds and delivers notifications.
type Gateway struct {
	client *redis.Client
	local  LocalSender
	bridge BridgePublisher
}

// NewGateway creates a notification gateway.
func NewGateway(client *redis.Client, local LocalSender, bridge BridgePublisher) *Gateway {
	return &Gateway{client: client, local: local, bridge: bridge}
}

// Deliver sends a notification to the user everywhere they are connected and
// bumps their unread counter. The counter write is best-effort: a Redis
// failure is logged and the notification still goes out.
func (g *Gateway) Deliver(ctx context.Context, userID string, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	count, err := g.client.Incr(ctx, UnreadPrefix+userID).Result()
	if err != nil {
		log.Printf("[notify] unread counter for %s: %v", userID, err)
		count = -1
	}

	payload, err := protocol.NewServerMessage(protocol.TypeNotification, protocol.NotificationMsg{
		ID:        n.ID,
		Kind:      n.Kind,
		Title:     n.Title,
		Message:   n.Message,
		Link:      n.Link,
		CreatedAt: n.CreatedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("notify: encode notification: %w", err)
	}

	g.local.SendToUser(userID, payload)
	if err := g.bridge.PublishUser(userID, n.ID, payload); err != nil {
		log.Printf("[notify] bridge publish for %s: %v", userID, err)
	}

	if count >= 0 {
		g.pushUnread(userID, count)
	}
	return nil
}

// Unread returns the user's current unread counter.
func (g *Gateway) Unread(ctx context.Context, userID string) (int64, error) {
	count, err := g.client.Get(ctx, UnreadPrefix+userID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

// ResetUnread clears the counter and pushes the zeroed value to the user's
// connections, typically after the client marks a room read.
func (g *Gateway) ResetUnread(ctx context.Context, userID string) error {
	if err := g.client.Del(ctx, UnreadPrefix+userID).Err(); err != nil {
		return fmt.Errorf("notify: reset unread for %s: %w", userID, err)
	}
	g.pushUnread(userID, 0)
	return nil
}

func (g *Gateway) pushUnread(userID string, count int64) {
	payload, err := protocol.NewServerMessage(protocol.TypeUnreadCount, protocol.UnreadCountMsg{Count: count})
	if err != nil {
		log.Printf("[notify] encode unread count: %v", err)
		return
	}
	g.local.SendToUser(userID, payload)
	if err := g.bridge.PublishUser(userID, uuid.New().String(), payload); err != nil {
		log.Printf("[notify] bridge unread push for %s: %v", userID, err)
	}
}
