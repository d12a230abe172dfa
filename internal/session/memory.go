package session

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type shard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// MemoryRegistry keeps sessions in process memory, split across shards so
// operations on different ids rarely contend.
type MemoryRegistry struct {
	shards [shardCount]*shard
	ttl    time.Duration
	now    func() time.Time
}

var _ Registry = (*MemoryRegistry)(nil)

// Option configures a registry.
type Option func(*options)

type options struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewMemoryRegistry(opts ...Option) *MemoryRegistry {
	o := buildOptions(opts)
	r := &MemoryRegistry{ttl: o.ttl, now: o.now}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return r
}

func (r *MemoryRegistry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%shardCount]
}

func (r *MemoryRegistry) Create(ctx context.Context, id string, user Snapshot) (*Session, error) {
	s, err := newSession(id, user, r.now(), r.ttl)
	if err != nil {
		return nil, err
	}
	sh := r.shardFor(id)
	sh.mu.Lock()
	sh.sessions[id] = s
	sh.mu.Unlock()
	out := *s
	return &out, nil
}

func (r *MemoryRegistry) Get(ctx context.Context, id string) (*Session, error) {
	now := r.now().UTC()
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.sessions[id]
	if !ok {
		return nil, nil
	}
	if s.Expired(now) {
		delete(sh.sessions, id)
		return nil, nil
	}
	s.LastAccessed = now
	out := *s
	return &out, nil
}

func (r *MemoryRegistry) Update(ctx context.Context, id string, user Snapshot) error {
	return r.mutate(id, func(s *Session, now time.Time) {
		s.User = user
		s.LastAccessed = now
	})
}

func (r *MemoryRegistry) Extend(ctx context.Context, id string) error {
	return r.mutate(id, func(s *Session, now time.Time) {
		s.LastAccessed = now
		s.ExpiresAt = now.Add(r.ttl)
	})
}

func (r *MemoryRegistry) mutate(id string, fn func(*Session, time.Time)) error {
	now := r.now().UTC()
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Expired(now) {
		delete(sh.sessions, id)
		return ErrNotFound
	}
	fn(s, now)
	return nil
}

func (r *MemoryRegistry) Destroy(ctx context.Context, id string) error {
	sh := r.shardFor(id)
	sh.mu.Lock()
	delete(sh.sessions, id)
	sh.mu.Unlock()
	return nil
}

// Sweep evicts expired sessions and reports how many were removed.
func (r *MemoryRegistry) Sweep(ctx context.Context) (int, error) {
	now := r.now().UTC()
	removed := 0
	for _, sh := range r.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh.mu.Lock()
		for id, s := range sh.sessions {
			if s.Expired(now) {
				delete(sh.sessions, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len reports the number of stored sessions, expired ones included.
func (r *MemoryRegistry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}
