// Package auth validates bearer credentials at connection time and resolves
// them to an immutable identity. Credential truth lives in shared storage:
// the platform's auth service writes a token hash to Redis when it issues a
// credential, and this gate only reads it.
//
//	Key:   token:<credential>
//	Value: hash {user_id, display_name, avatar_ref, expires_at}
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenPrefix is the Redis key prefix for issued credentials.
const TokenPrefix = "token:"

// ErrAuthentication is returned when a credential is missing, unknown, or
// expired. The connection must be refused before any room join or event
// handling takes place.
var ErrAuthentication = errors.New("auth: authentication failed")

// Identity is the resolved identity bound to a connection for its lifetime.
// It is immutable after creation; re-authenticating requires a new connection.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarRef   string
}

// Gate validates credentials against the shared token store.
type Gate struct {
	client *redis.Client
}

// NewGate creates a Gate backed by the given Redis client.
func NewGate(client *redis.Client) *Gate {
	return &Gate{client: client}
}

// Authenticate resolves a bearer credential to an Identity. It returns
// ErrAuthentication (possibly wrapped) for missing, unknown, or expired
// credentials, and a storage error if Redis is unreachable.
func (g *Gate) Authenticate(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, fmt.Errorf("%w: missing credential", ErrAuthentication)
	}

	fields, err := g.client.HGetAll(ctx, TokenPrefix+credential).Result()
	if err != nil {
		return Identity{}, fmt.Errorf("auth: token lookup: %w", err)
	}
	if len(fields) == 0 {
		return Identity{}, fmt.Errorf("%w: unknown credential", ErrAuthentication)
	}

	if exp := fields["expires_at"]; exp != "" {
		var expiresAt int64
		if _, err := fmt.Sscanf(exp, "%d", &expiresAt); err == nil {
			if time.Now().Unix() >= expiresAt {
				return Identity{}, fmt.Errorf("%w: expired credential", ErrAuthentication)
			}
		}
	}

	id := Identity{
		UserID:      fields["user_id"],
		DisplayName: fields["display_name"],
		AvatarRef:   fields["avatar_ref"],
	}
	if id.UserID == "" {
		return Identity{}, fmt.Errorf("%w: credential has no bound user", ErrAuthentication)
	}
	return id, nil
}
