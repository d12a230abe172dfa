// Package kv builds the Redis client shared by the session registry and the
// OTP ledger.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options selects single-node or cluster mode.
type Options struct {
	Addrs    []string
	Password string
	Cluster  bool
}

// NewClient returns a cluster client when Cluster is set and more than one
// address is given, otherwise a single-node client on the first address.
func NewClient(opts Options) (redis.UniversalClient, error) {
	if len(opts.Addrs) == 0 {
		return nil, errors.New("kv: at least one redis address is required")
	}
	if opts.Cluster && len(opts.Addrs) > 1 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    opts.Addrs,
			Password: opts.Password,
		}), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addrs[0],
		Password: opts.Password,
		DB:       0,
	}), nil
}

// Ping checks connectivity with a short timeout.
func Ping(ctx context.Context, client redis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
