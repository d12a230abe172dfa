package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisNamespace = "session"
	maxTxRetries   = 64
)

// RedisRegistry stores sessions as JSON values whose key TTL tracks ExpiresAt.
// Read-modify-write paths run under WATCH so a concurrent writer on the same
// id aborts the transaction instead of being overwritten; Update and Extend
// then retry against the fresh value.
type RedisRegistry struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

var _ Registry = (*RedisRegistry)(nil)

func NewRedisRegistry(client redis.UniversalClient, opts ...Option) *RedisRegistry {
	o := buildOptions(opts)
	return &RedisRegistry{client: client, ttl: o.ttl, now: o.now}
}

func (r *RedisRegistry) key(id string) string {
	return redisNamespace + ":" + id
}

func (r *RedisRegistry) Create(ctx context.Context, id string, user Snapshot) (*Session, error) {
	s, err := newSession(id, user, r.now(), r.ttl)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if err := r.client.Set(ctx, r.key(id), raw, r.ttl).Err(); err != nil {
		return nil, fmt.Errorf("session create: %w", err)
	}
	return s, nil
}

func (r *RedisRegistry) load(ctx context.Context, tx *redis.Tx, key string) (*Session, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*Session, error) {
	key := r.key(id)
	now := r.now().UTC()
	var out *Session
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		s, err := r.load(ctx, tx, key)
		if err != nil || s == nil {
			return err
		}
		if s.Expired(now) {
			_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, key)
				return nil
			})
			return err
		}
		s.LastAccessed = now
		out = s
		raw, err := json.Marshal(s)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.SetArgs(ctx, key, raw, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Lost the race to another writer; the read itself is still valid.
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session get: %w", err)
	}
	return out, nil
}

func (r *RedisRegistry) Update(ctx context.Context, id string, user Snapshot) error {
	return r.mutate(ctx, id, func(s *Session, now time.Time) redis.SetArgs {
		s.User = user
		s.LastAccessed = now
		return redis.SetArgs{KeepTTL: true}
	})
}

func (r *RedisRegistry) Extend(ctx context.Context, id string) error {
	return r.mutate(ctx, id, func(s *Session, now time.Time) redis.SetArgs {
		s.LastAccessed = now
		s.ExpiresAt = now.Add(r.ttl)
		return redis.SetArgs{TTL: r.ttl}
	})
}

// mutate applies fn under WATCH, retrying when another writer commits to the
// same key first. Every Get is such a writer because it touches LastAccessed.
func (r *RedisRegistry) mutate(ctx context.Context, id string, fn func(*Session, time.Time) redis.SetArgs) error {
	key := r.key(id)
	for i := 0; i < maxTxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := r.now().UTC()
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			s, err := r.load(ctx, tx, key)
			if err != nil {
				return err
			}
			if s == nil || s.Expired(now) {
				return ErrNotFound
			}
			args := fn(s, now)
			raw, err := json.Marshal(s)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.SetArgs(ctx, key, raw, args)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("session %s: %w", id, err)
		}
		return nil
	}
	return fmt.Errorf("session %s: %w", id, redis.TxFailedErr)
}

func (r *RedisRegistry) Destroy(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("session destroy: %w", err)
	}
	return nil
}
