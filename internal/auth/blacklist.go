// Package auth holds credential helpers: password hashing and the revocation
// list consulted on every token validation.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"geocaching-backend/internal/apperrors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const revokedKeyPrefix = "blacklist:access_token:"

// Blacklist records revoked token ids until their expiry.
type Blacklist interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RedisBlacklist shares revocations between server instances through Redis.
// Lookups fail safe: an unreachable Redis reports tokens as not revoked.
type RedisBlacklist struct {
	client *redis.Client
}

var _ Blacklist = (*RedisBlacklist)(nil)

// NewRedisBlacklist creates a blacklist backed by the Redis server at addr
func NewRedisBlacklist(addr, password string, db int) *RedisBlacklist {
	return NewRedisBlacklistFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// NewRedisBlacklistFromClient wraps an existing client
func NewRedisBlacklistFromClient(client *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

// Ping checks connectivity
func (b *RedisBlacklist) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the client
func (b *RedisBlacklist) Close() error {
	return b.client.Close()
}

// Revoke marks tokenID as revoked for ttl. A failed write is reported so that
// the caller does not believe the token is dead.
func (b *RedisBlacklist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := b.client.Set(ctx, revokedKeyPrefix+tokenID, "1", ttl).Err(); err != nil {
		return apperrors.Transient(fmt.Errorf("failed to revoke token: %w", err))
	}
	return nil
}

// IsRevoked reports whether tokenID was revoked
func (b *RedisBlacklist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := b.client.Exists(ctx, revokedKeyPrefix+tokenID).Result()
	if err != nil {
		log.Warn().Err(err).Msg("Token blacklist unavailable, accepting token")
		return false, nil
	}
	return n > 0, nil
}

// MemoryBlacklist keeps revocations in process. Used when no Redis is
// configured; revocations are lost on restart.
type MemoryBlacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

var _ Blacklist = (*MemoryBlacklist)(nil)

// NewMemoryBlacklist creates an empty in-process blacklist
func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{revoked: make(map[string]time.Time), now: time.Now}
}

// Revoke marks tokenID as revoked for ttl
func (b *MemoryBlacklist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for id, until := range b.revoked {
		if !now.Before(until) {
			delete(b.revoked, id)
		}
	}
	b.revoked[tokenID] = now.Add(ttl)
	return nil
}

// IsRevoked reports whether tokenID was revoked and has not expired yet
func (b *MemoryBlacklist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.revoked[tokenID]
	return ok && b.now().Before(until), nil
}
