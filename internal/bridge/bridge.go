// Package bridge propagates room and user targeted events across
// independent, memory-isolated server processes over NATS. Every process
// subscribes to wildcard patterns covering all per-user and per-room
// subjects; delivering to a user means publishing once, and every process
// holding a live connection for that user delivers locally.
//
// Availability beats consistency here: if the broker is unreachable the
// bridge degrades to a silent no-op - local room broadcasts keep working,
// cross-process delivery stops, and no error ever reaches a client.
package bridge

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/communityhub/realtime/internal/metrics"
	"github.com/communityhub/realtime/internal/room"
)

// NATS subject layout. Room channels use ':' internally so the subject
// token structure stays flat and the single-token wildcard matches.
const (
	SubjectUserPrefix = "rt.user." // + <user_id>
	SubjectRoomPrefix = "rt.room." // + <room channel>
	SubjectPresence   = "rt.presence"

	patternUsers = SubjectUserPrefix + "*"
	patternRooms = SubjectRoomPrefix + "*"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // process name, used as event origin
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "rt-1",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Bridge wraps the NATS connection. A Bridge constructed against an
// unreachable broker is valid and permanently degraded: every publish is a
// logged no-op and no subscription exists.
type Bridge struct {
	conn     *nats.Conn
	name     string
	degraded bool
	seen     *seenRing

	mu   sync.Mutex
	subs []*nats.Subscription
}

// New connects to NATS and returns a ready Bridge. A failed initial
// connection is NOT an error: the bridge comes up degraded, a warning is
// logged, and the process continues in single-process delivery mode.
func New(config Config) *Bridge {
	b := &Bridge{
		name: config.Name,
		seen: newSeenRing(defaultSeenCapacity),
	}

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[bridge] disconnected: %v (continuing in single-process mode)", err)
			} else {
				log.Printf("[bridge] disconnected (continuing in single-process mode)")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[bridge] reconnected to %s, cross-process delivery restored", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[bridge] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		log.Printf("[bridge] WARNING: broker unreachable at %s: %v - running in single-process mode", config.URL, err)
		metrics.BridgeEvents.WithLabelValues("degraded").Inc()
		b.degraded = true
		return b
	}

	log.Printf("[bridge] connected to %s", nc.ConnectedUrl())
	b.conn = nc
	return b
}

// Degraded reports whether the bridge is running without a broker.
func (b *Bridge) Degraded() bool {
	return b.degraded
}

// PublishUser publishes a payload to the user's notification subject.
func (b *Bridge) PublishUser(userID, eventID string, payload []byte) error {
	return b.publish(SubjectUserPrefix+userID, eventID, "", payload)
}

// PublishRoom publishes a payload to the room's subject.
func (b *Bridge) PublishRoom(r room.RoomID, eventID string, payload []byte) error {
	return b.publish(SubjectRoomPrefix+r.Channel(), eventID, "", payload)
}

// PublishRoomExcept publishes a room payload that subscribing processes must
// not deliver to the excluded user's connections (read receipts).
func (b *Bridge) PublishRoomExcept(r room.RoomID, eventID, excludeUser string, payload []byte) error {
	return b.publish(SubjectRoomPrefix+r.Channel(), eventID, excludeUser, payload)
}

// PublishPresence publishes a presence status delta to every process.
func (b *Bridge) PublishPresence(eventID string, payload []byte) error {
	return b.publish(SubjectPresence, eventID, "", payload)
}

// publish wraps the payload in the event envelope and sends it. Broker
// errors are contained here: logged, counted, and swallowed - the caller's
// local delivery already succeeded and must not be failed retroactively.
func (b *Bridge) publish(subject, eventID, excludeUser string, payload []byte) error {
	if b.degraded || b.conn == nil {
		metrics.BridgeEvents.WithLabelValues("degraded").Inc()
		return nil
	}

	data, err := json.Marshal(Event{
		ID:          eventID,
		Origin:      b.name,
		ExcludeUser: excludeUser,
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("bridge: marshal event: %w", err)
	}

	if err := b.conn.Publish(subject, data); err != nil {
		log.Printf("[bridge] publish %s failed: %v (event dropped, local delivery unaffected)", subject, err)
		metrics.BridgeEvents.WithLabelValues("degraded").Inc()
		return nil
	}
	metrics.BridgeEvents.WithLabelValues("published").Inc()
	return nil
}

// SubscribeUsers subscribes to every per-user subject. The handler receives
// events published by sibling processes, own-origin and duplicate events
// already filtered out.
func (b *Bridge) SubscribeUsers(handler func(userID string, ev Event)) error {
	return b.subscribe(patternUsers, func(msg *nats.Msg) {
		ev, ok := b.accept(msg.Data)
		if !ok {
			return
		}
		handler(strings.TrimPrefix(msg.Subject, SubjectUserPrefix), ev)
	})
}

// SubscribeRooms subscribes to every room subject. Subjects that do not
// decode to a valid room are dropped.
func (b *Bridge) SubscribeRooms(handler func(r room.RoomID, ev Event)) error {
	return b.subscribe(patternRooms, func(msg *nats.Msg) {
		ev, ok := b.accept(msg.Data)
		if !ok {
			return
		}
		r, err := room.ParseChannel(strings.TrimPrefix(msg.Subject, SubjectRoomPrefix))
		if err != nil {
			log.Printf("[bridge] drop event on unparseable subject %s", msg.Subject)
			return
		}
		handler(r, ev)
	})
}

// SubscribePresence subscribes to presence status deltas.
func (b *Bridge) SubscribePresence(handler func(ev Event)) error {
	return b.subscribe(SubjectPresence, func(msg *nats.Msg) {
		ev, ok := b.accept(msg.Data)
		if !ok {
			return
		}
		handler(ev)
	})
}

// subscribe registers a NATS subscription and tracks it for drain on Close.
// Subscribing on a degraded bridge is a silent no-op.
func (b *Bridge) subscribe(subject string, cb nats.MsgHandler) error {
	if b.degraded || b.conn == nil {
		return nil
	}

	sub, err := b.conn.Subscribe(subject, cb)
	if err != nil {
		return fmt.Errorf("bridge: subscribe %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// accept decodes an inbound event and applies the two delivery filters:
// events this process published are skipped (local fan-out already
// happened), and event ids seen before are skipped (at-least-once transport
// collapsed to at-most-once per distinct event).
func (b *Bridge) accept(data []byte) (Event, bool) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("[bridge] drop undecodable event: %v", err)
		return Event{}, false
	}
	if ev.Origin == b.name {
		metrics.BridgeEvents.WithLabelValues("dropped_self").Inc()
		return Event{}, false
	}
	if ev.ID != "" && b.seen.Observe(ev.ID) {
		metrics.BridgeEvents.WithLabelValues("dropped_dup").Inc()
		return Event{}, false
	}
	metrics.BridgeEvents.WithLabelValues("delivered").Inc()
	return ev, true
}

// Close drains all subscriptions and the connection.
func (b *Bridge) Close() {
	if b.conn == nil {
		return
	}

	b.mu.Lock()
	for _, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[bridge] drain subscription: %v", err)
		}
	}
	b.subs = nil
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		log.Printf("[bridge] connection drain: %v", err)
	}
	log.Printf("[bridge] closed")
}
