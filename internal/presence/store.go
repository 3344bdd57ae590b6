package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/communityhub/realtime/internal/auth"
)

const (
	// RecordPrefix is the Redis key prefix for per-user presence hashes.
	RecordPrefix = "presence:user:"

	// ConnsPrefix is the Redis key prefix for per-user connection counters.
	// The counter spans processes: any process's connect increments it,
	// any disconnect decrements it.
	ConnsPrefix = "presence:conns:"

	// IndexKey is the ZSET indexing present users by last-seen timestamp.
	// The sweeper claims stale users by removing them from this set.
	IndexKey = "presence:index"
)

// ErrAbsent is returned when an operation requires an existing presence
// record and the user has none.
var ErrAbsent = errors.New("presence: user absent")

// Record is a user's presence state as stored in Redis.
type Record struct {
	UserID      string
	DisplayName string
	AvatarRef   string
	Status      Status
	LastSeen    time.Time
	ConnID      string // most recent connection to touch the record
}

// Store is the injectable presence store. It owns its Redis connection:
// construct with NewStore, release with Close. No package-level state.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore connects to Redis and returns a presence store whose records
// expire after roughly 2x the heartbeat TTL (the sweeper normally reclaims
// them well before that; the key TTL only covers crashed processes).
func NewStore(redisAddr string, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, ttl: ttl}, nil
}

// newStoreWithClient wires a Store onto an existing client. Used by tests.
func newStoreWithClient(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}

// TTL returns the configured heartbeat TTL.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) keyTTL() time.Duration {
	return 2 * s.ttl
}

// Connect records a new connection for the user. The cross-process
// connection counter decides the state transition: a count of 1 means the
// user just went absent -> online, reported via first. Later connections
// refresh the record but keep any away/busy status the user chose.
func (s *Store) Connect(ctx context.Context, id auth.Identity, connID string) (first bool, err error) {
	now := time.Now()
	connsKey := ConnsPrefix + id.UserID
	recordKey := RecordPrefix + id.UserID

	n, err := s.client.Incr(ctx, connsKey).Result()
	if err != nil {
		return false, fmt.Errorf("presence: connect incr: %w", err)
	}
	first = n == 1

	fields := map[string]interface{}{
		"user_id":      id.UserID,
		"display_name": id.DisplayName,
		"avatar_ref":   id.AvatarRef,
		"last_seen":    now.Unix(),
		"conn_id":      connID,
	}
	if first {
		fields["status"] = string(StatusOnline)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, recordKey, fields)
	if !first {
		// The counter may have outlived the record (crashed process); make
		// sure the status field exists either way.
		pipe.HSetNX(ctx, recordKey, "status", string(StatusOnline))
	}
	pipe.ZAdd(ctx, IndexKey, redis.Z{Score: float64(now.Unix()), Member: id.UserID})
	pipe.Expire(ctx, recordKey, s.keyTTL())
	pipe.Expire(ctx, connsKey, s.keyTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("presence: connect: %w", err)
	}
	return first, nil
}

// Heartbeat refreshes the user's liveness window and returns the server
// timestamp recorded. A heartbeat only ever arrives over a live connection,
// so it is authoritative: if the record was swept while the socket stayed
// open (heartbeats lost during a Redis blip, then reclaimed on recovery) it
// is rebuilt online rather than left absent. revived reports that rebuild,
// so the caller can re-broadcast the user's online transition.
func (s *Store) Heartbeat(ctx context.Context, id auth.Identity) (ts time.Time, revived bool, err error) {
	now := time.Now()
	recordKey := RecordPrefix + id.UserID

	exists, err := s.client.Exists(ctx, recordKey).Result()
	if err != nil {
		return now, false, fmt.Errorf("presence: heartbeat: %w", err)
	}

	pipe := s.client.Pipeline()
	if exists == 0 {
		pipe.HSet(ctx, recordKey, map[string]interface{}{
			"user_id":      id.UserID,
			"display_name": id.DisplayName,
			"avatar_ref":   id.AvatarRef,
			"status":       string(StatusOnline),
			"last_seen":    now.Unix(),
		})
		// The sweep deleted the counter too; restore it so the eventual
		// disconnect still claims the offline transition.
		pipe.SetNX(ctx, ConnsPrefix+id.UserID, 1, s.keyTTL())
	} else {
		pipe.HSet(ctx, recordKey, "last_seen", now.Unix())
		pipe.Expire(ctx, ConnsPrefix+id.UserID, s.keyTTL())
	}
	pipe.ZAdd(ctx, IndexKey, redis.Z{Score: float64(now.Unix()), Member: id.UserID})
	pipe.Expire(ctx, recordKey, s.keyTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return now, false, fmt.Errorf("presence: heartbeat: %w", err)
	}
	return now, exists == 0, nil
}

// SetStatus performs a lateral online/away/busy transition. It returns
// ErrAbsent if the user has no presence record; absent users cannot choose
// a status.
func (s *Store) SetStatus(ctx context.Context, userID string, status Status) error {
	recordKey := RecordPrefix + userID

	exists, err := s.client.Exists(ctx, recordKey).Result()
	if err != nil {
		return fmt.Errorf("presence: set status: %w", err)
	}
	if exists == 0 {
		return ErrAbsent
	}

	now := time.Now()
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, recordKey, "status", string(status), "last_seen", now.Unix())
	pipe.ZAdd(ctx, IndexKey, redis.Z{Score: float64(now.Unix()), Member: userID})
	pipe.Expire(ctx, recordKey, s.keyTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: set status: %w", err)
	}
	return nil
}

// disconnectLua atomically decrements the connection counter and, when it
// reaches zero, deletes the record and claims the index entry. The claim
// (ZREM returning 1) decides which caller broadcasts the offline event:
// exactly one does, even when a disconnect races the sweeper.
const disconnectLua = `
local conns = KEYS[1]
local record = KEYS[2]
local index = KEYS[3]
local user = ARGV[1]

local n = redis.call('DECR', conns)
if n > 0 then
    return {0, ''}
end

redis.call('DEL', conns)
local last = redis.call('HGET', record, 'last_seen') or ''
redis.call('DEL', record)
local removed = redis.call('ZREM', index, user)
return {removed, last}
`

var disconnectScript = redis.NewScript(disconnectLua)

// Disconnect records a closed connection. It returns last=true iff this was
// the user's final connection anywhere and this caller won the claim to
// broadcast the offline transition, along with the user's last-seen time.
func (s *Store) Disconnect(ctx context.Context, userID string) (last bool, lastSeen time.Time, err error) {
	res, err := disconnectScript.Run(ctx, s.client,
		[]string{ConnsPrefix + userID, RecordPrefix + userID, IndexKey},
		userID,
	).Slice()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("presence: disconnect: %w", err)
	}
	if len(res) != 2 {
		return false, time.Time{}, fmt.Errorf("presence: disconnect: unexpected script result %v", res)
	}

	claimed, _ := res[0].(int64)
	if raw, ok := res[1].(string); ok && raw != "" {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastSeen = time.Unix(ts, 0)
		}
	}
	return claimed == 1, lastSeen, nil
}

// Get returns the user's presence record, or nil if absent.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, RecordPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: get: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec := recordFromFields(userID, fields)
	return &rec, nil
}

// Online returns a snapshot of every user currently tracked as present.
func (s *Store) Online(ctx context.Context) ([]Record, error) {
	userIDs, err := s.client.ZRange(ctx, IndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: online list: %w", err)
	}

	records := make([]Record, 0, len(userIDs))
	for _, userID := range userIDs {
		rec, err := s.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			// Record expired under us; the sweeper will reclaim the
			// index entry.
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

// SweepStale claims up to limit users whose last-seen timestamp is older
// than cutoff and removes their presence state. The ZREM on the shared
// index is the atomic claim: when several processes sweep concurrently,
// each stale user is returned by exactly one of them.
func (s *Store) SweepStale(ctx context.Context, cutoff time.Time, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	userIDs, err := s.client.ZRangeByScore(ctx, IndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoff.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: sweep scan: %w", err)
	}

	var swept []Record
	for _, userID := range userIDs {
		removed, err := s.client.ZRem(ctx, IndexKey, userID).Result()
		if err != nil {
			return swept, fmt.Errorf("presence: sweep claim: %w", err)
		}
		if removed == 0 {
			// Another process claimed this user first.
			continue
		}

		fields, err := s.client.HGetAll(ctx, RecordPrefix+userID).Result()
		if err != nil {
			return swept, fmt.Errorf("presence: sweep fetch: %w", err)
		}

		pipe := s.client.Pipeline()
		pipe.Del(ctx, RecordPrefix+userID)
		pipe.Del(ctx, ConnsPrefix+userID)
		_, _ = pipe.Exec(ctx)

		rec := recordFromFields(userID, fields)
		swept = append(swept, rec)
	}
	return swept, nil
}

// recordFromFields decodes a presence hash. A missing status defaults to
// online; a missing hash (expired under the index entry) still yields a
// usable record carrying just the user id.
func recordFromFields(userID string, fields map[string]string) Record {
	rec := Record{
		UserID:      userID,
		DisplayName: fields["display_name"],
		AvatarRef:   fields["avatar_ref"],
		Status:      StatusOnline,
		ConnID:      fields["conn_id"],
	}
	if st := fields["status"]; st != "" {
		rec.Status = Status(st)
	}
	if raw := fields["last_seen"]; raw != "" {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			rec.LastSeen = time.Unix(ts, 0)
		}
	}
	return rec
}
