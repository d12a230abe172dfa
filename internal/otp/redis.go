package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisNamespace = "otp"
	maxTxRetries   = 5
)

// RedisLedger stores records as JSON under otp:<phone>. The key TTL runs to
// expiry plus the grace period; expiry itself is decided by the clock.
type RedisLedger struct {
	client redis.UniversalClient
	opts   options
}

var _ Ledger = (*RedisLedger)(nil)

func NewRedisLedger(client redis.UniversalClient, opts ...Option) *RedisLedger {
	return &RedisLedger{client: client, opts: buildOptions(opts)}
}

func (l *RedisLedger) key(phone string) string {
	return redisNamespace + ":" + phone
}

func (l *RedisLedger) ttl(rec Record, now time.Time) time.Duration {
	ttl := rec.ExpiresAt.Sub(now) + l.opts.grace
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (l *RedisLedger) Store(ctx context.Context, phone, code string, expiresAt time.Time) error {
	now := l.opts.now()
	rec, err := newRecord(phone, code, expiresAt, now)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := l.client.Set(ctx, l.key(rec.Phone), raw, l.ttl(rec, now)).Err(); err != nil {
		return fmt.Errorf("otp store: %w", err)
	}
	return nil
}

// Verify runs the read-modify-write under WATCH and retries when another
// writer touched the key first.
func (l *RedisLedger) Verify(ctx context.Context, phone, code string) (Record, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.TrimSpace(code) == "" {
		return Record{}, ErrInvalidInput
	}
	key := l.key(phone)
	for i := 0; i < maxTxRetries; i++ {
		var v verdict
		err := l.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				v = verdict{err: ErrNotFound}
				return nil
			}
			if err != nil {
				return err
			}
			var rec Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("decode otp record: %w", err)
			}
			v = evaluate(rec, code, l.opts.now(), l.opts.maxAttempts)
			next, err := json.Marshal(v.rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				if v.remove {
					p.Del(ctx, key)
				} else {
					p.SetArgs(ctx, key, next, redis.SetArgs{KeepTTL: true})
				}
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Record{}, fmt.Errorf("otp verify: %w", err)
		}
		return v.rec, v.err
	}
	return Record{}, fmt.Errorf("otp verify: %w", redis.TxFailedErr)
}
