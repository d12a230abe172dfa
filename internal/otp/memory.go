package otp

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const shardCount = 16

type shard struct {
	mu      sync.Mutex
	records map[string]Record
}

// MemoryLedger keeps records in process memory. Each phone number hashes to
// one shard, and a verify holds that shard's lock for its whole
// read-modify-write.
type MemoryLedger struct {
	shards [shardCount]*shard
	opts   options
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger(opts ...Option) *MemoryLedger {
	l := &MemoryLedger{opts: buildOptions(opts)}
	for i := range l.shards {
		l.shards[i] = &shard{records: make(map[string]Record)}
	}
	return l
}

func (l *MemoryLedger) shardFor(phone string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(phone))
	return l.shards[h.Sum32()%shardCount]
}

func (l *MemoryLedger) Store(ctx context.Context, phone, code string, expiresAt time.Time) error {
	rec, err := newRecord(phone, code, expiresAt, l.opts.now())
	if err != nil {
		return err
	}
	sh := l.shardFor(rec.Phone)
	sh.mu.Lock()
	sh.records[rec.Phone] = rec
	sh.mu.Unlock()
	return nil
}

func (l *MemoryLedger) Verify(ctx context.Context, phone, code string) (Record, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.TrimSpace(code) == "" {
		return Record{}, ErrInvalidInput
	}
	sh := l.shardFor(phone)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[phone]
	if !ok {
		return Record{}, ErrNotFound
	}
	v := evaluate(rec, code, l.opts.now(), l.opts.maxAttempts)
	if v.remove {
		delete(sh.records, phone)
	} else {
		sh.records[phone] = v.rec
	}
	return v.rec, v.err
}

// Sweep drops records that expired more than the grace period ago.
func (l *MemoryLedger) Sweep(ctx context.Context) (int, error) {
	cutoff := l.opts.now().Add(-l.opts.grace)
	removed := 0
	for _, sh := range l.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh.mu.Lock()
		for phone, rec := range sh.records {
			if cutoff.After(rec.ExpiresAt) {
				delete(sh.records, phone)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len reports the number of stored records.
func (l *MemoryLedger) Len() int {
	n := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}
