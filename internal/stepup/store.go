package stepup

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore persists issued tokens until they are consumed or expire.
type TokenStore interface {
	Issue(ctx context.Context, token Token) error
	// Peek returns the token without consuming it. Confirm uses this to check
	// a token is attached and still live before moving a transfer forward.
	Peek(ctx context.Context, id string) (Token, error)
	// Consume atomically removes and returns the token. The second caller for
	// the same id observes ErrStaleToken.
	Consume(ctx context.Context, id string) (Token, error)
	// Restore puts a consumed token back with its remaining lifetime. Used
	// when the guarded operation fails after consumption so a retry does not
	// need a fresh verification.
	Restore(ctx context.Context, token Token) error
	// Invalidate drops a token regardless of state, e.g. when the transfer it
	// guards expires.
	Invalidate(ctx context.Context, id string) error
}

// RedisTokenStore implements TokenStore on Redis. Single-use consumption
// relies on GETDEL being atomic.
type RedisTokenStore struct {
	client *redis.Client
}

// NewRedisTokenStore constructs a RedisTokenStore.
func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func (s *RedisTokenStore) key(id string) string {
	return "stepup:token:" + id
}

// Issue stores the token with a TTL matching its expiry.
func (s *RedisTokenStore) Issue(ctx context.Context, token Token) error {
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return ErrStaleToken
	}
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(token.ID), data, ttl).Err()
}

// Peek returns the token if it is still live.
func (s *RedisTokenStore) Peek(ctx context.Context, id string) (Token, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Token{}, ErrStaleToken
		}
		return Token{}, err
	}
	return decodeToken(data)
}

// Consume removes and returns the token in one atomic step.
func (s *RedisTokenStore) Consume(ctx context.Context, id string) (Token, error) {
	data, err := s.client.GetDel(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Token{}, ErrStaleToken
		}
		return Token{}, err
	}
	return decodeToken(data)
}

// Restore re-issues a consumed token with its remaining lifetime.
func (s *RedisTokenStore) Restore(ctx context.Context, token Token) error {
	return s.Issue(ctx, token)
}

// Invalidate drops the token.
func (s *RedisTokenStore) Invalidate(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

func decodeToken(data []byte) (Token, error) {
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return Token{}, err
	}
	return token, nil
}

var _ TokenStore = (*RedisTokenStore)(nil)
