package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	sessionKeyPrefix = "carehaven:session:"
	indexKeyPrefix   = "carehaven:principal-sessions:"
)

// RedisStore persists sessions in Redis so multiple nodes share one session
// space. Each record lives under its token hash with a TTL slightly past the
// inactivity window; a per-principal set indexes the hashes for concurrency
// enforcement and session listings.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// OpenRedisStore connects to Redis from a URL and verifies connectivity.
func OpenRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func sessionKey(tokenHash string) string { return sessionKeyPrefix + tokenHash }
func indexKey(principalID string) string { return indexKeyPrefix + principalID }

// recordTTL leaves headroom past the inactivity window so a session that just
// lapsed is still readable for the "session expired" response, then ages out.
func recordTTL(s *Session) time.Duration {
	return s.Timeout + time.Minute
}

func (r *RedisStore) Get(ctx context.Context, tokenHash string) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKey(tokenHash)).Result()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		r.client.Del(ctx, sessionKey(tokenHash))
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.TokenHash), data, recordTTL(s))
	pipe.SAdd(ctx, indexKey(s.PrincipalID), s.TokenHash)
	pipe.Expire(ctx, indexKey(s.PrincipalID), recordTTL(s))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, tokenHash string) error {
	s, err := r.Get(ctx, tokenHash)
	if err == ErrSessionNotFound {
		return nil
	} else if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(tokenHash))
	pipe.SRem(ctx, indexKey(s.PrincipalID), tokenHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisStore) ListByPrincipal(ctx context.Context, principalID string) ([]*Session, error) {
	hashes, err := r.client.SMembers(ctx, indexKey(principalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}

	out := make([]*Session, 0, len(hashes))
	for _, hash := range hashes {
		s, err := r.Get(ctx, hash)
		if err == ErrSessionNotFound {
			// Record aged out via TTL; drop the stale index entry.
			r.client.SRem(ctx, indexKey(principalID), hash)
			continue
		} else if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Mutate is read-modify-write without a distributed lock. Concurrent writers
// to the same session resolve last-writer-wins, which is acceptable for
// activity timestamps and overlay toggles.
func (r *RedisStore) Mutate(ctx context.Context, tokenHash string, fn func(*Session) error) error {
	s, err := r.Get(ctx, tokenHash)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	return r.Put(ctx, s)
}

// PruneExpired is a no-op for Redis: record TTLs handle expiry and index sets
// self-clean during listing.
func (r *RedisStore) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// Ping checks Redis connectivity for health reporting.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
