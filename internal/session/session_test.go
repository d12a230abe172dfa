package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

var alice = Snapshot{ID: "u1", Email: "alice@example.com", Name: "Alice", Role: "user"}

// registries returns every implementation wired to the same fake clock.
func registries(t *testing.T, clock *fakeClock) map[string]Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Registry{
		"memory": NewMemoryRegistry(WithClock(clock.Now)),
		"redis":  NewRedisRegistry(client, WithClock(clock.Now)),
	}
}

func TestSessionLifetimeBoundary(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"memory", "redis"} {
		t.Run(name, func(t *testing.T) {
			clock := newClock()
			reg := registries(t, clock)[name]
			created, err := reg.Create(ctx, "s1", alice)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if want := clock.Now().Add(DefaultTTL); !created.ExpiresAt.Equal(want) {
				t.Fatalf("expiresAt = %v, want %v", created.ExpiresAt, want)
			}

			clock.Advance(DefaultTTL)
			got, err := reg.Get(ctx, "s1")
			if err != nil || got == nil {
				t.Fatalf("Get at T+24h = %v, %v; want session", got, err)
			}
			if !got.LastAccessed.Equal(clock.Now()) {
				t.Fatalf("lastAccessed not touched: %v", got.LastAccessed)
			}

			clock.Advance(time.Nanosecond)
			got, err = reg.Get(ctx, "s1")
			if err != nil || got != nil {
				t.Fatalf("Get after expiry = %v, %v; want nil, nil", got, err)
			}
		})
	}
}

func TestSessionExtendAndUpdate(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"memory", "redis"} {
		t.Run(name, func(t *testing.T) {
			clock := newClock()
			reg := registries(t, clock)[name]
			if _, err := reg.Create(ctx, "s1", alice); err != nil {
				t.Fatalf("Create: %v", err)
			}
			clock.Advance(20 * time.Hour)
			if err := reg.Extend(ctx, "s1"); err != nil {
				t.Fatalf("Extend: %v", err)
			}
			renamed := alice
			renamed.Name = "Alice Liddell"
			if err := reg.Update(ctx, "s1", renamed); err != nil {
				t.Fatalf("Update: %v", err)
			}

			clock.Advance(20 * time.Hour)
			got, err := reg.Get(ctx, "s1")
			if err != nil || got == nil {
				t.Fatalf("extended session missing: %v", err)
			}
			if got.User.Name != "Alice Liddell" {
				t.Fatalf("snapshot not updated: %+v", got.User)
			}

			if err := reg.Extend(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Extend missing: %v", err)
			}
			if err := reg.Update(ctx, "missing", alice); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Update missing: %v", err)
			}
		})
	}
}

func TestSessionDestroyIsIsolated(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"memory", "redis"} {
		t.Run(name, func(t *testing.T) {
			reg := registries(t, newClock())[name]
			for _, id := range []string{"a", "b"} {
				if _, err := reg.Create(ctx, id, alice); err != nil {
					t.Fatalf("Create %s: %v", id, err)
				}
			}
			if err := reg.Destroy(ctx, "a"); err != nil {
				t.Fatalf("Destroy: %v", err)
			}
			if err := reg.Destroy(ctx, "a"); err != nil {
				t.Fatalf("second Destroy: %v", err)
			}
			if got, _ := reg.Get(ctx, "a"); got != nil {
				t.Fatalf("destroyed session still visible")
			}
			if got, _ := reg.Get(ctx, "b"); got == nil {
				t.Fatalf("sibling session lost")
			}
		})
	}
}

func TestCreateRejectsEmptyInput(t *testing.T) {
	reg := NewMemoryRegistry()
	if _, err := reg.Create(context.Background(), "", alice); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty id: %v", err)
	}
	if _, err := reg.Create(context.Background(), "s", Snapshot{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty user: %v", err)
	}
}

func TestMemorySweep(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	reg := NewMemoryRegistry(WithClock(clock.Now), WithTTL(time.Hour))
	_, _ = reg.Create(ctx, "old", alice)
	clock.Advance(30 * time.Minute)
	_, _ = reg.Create(ctx, "new", alice)
	clock.Advance(45 * time.Minute)

	removed, err := reg.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 || reg.Len() != 1 {
		t.Fatalf("removed=%d len=%d, want 1/1", removed, reg.Len())
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := NewID()
			if err != nil {
				t.Errorf("NewID: %v", err)
				return
			}
			if _, err := reg.Create(ctx, id, alice); err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			_, _ = reg.Get(ctx, id)
			_ = reg.Extend(ctx, id)
			_ = reg.Destroy(ctx, id)
		}()
	}
	wg.Wait()
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
}

// Reads touch LastAccessed, so writers racing them must still land.
func TestRedisWritesSurviveConcurrentReads(t *testing.T) {
	ctx := context.Background()
	reg := registries(t, newClock())["redis"]
	id, _ := NewID()
	if _, err := reg.Create(ctx, id, alice); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers = 10
	names := make(map[string]bool, workers)
	var wg sync.WaitGroup
	errs := make(chan error, 3*workers)
	for i := 0; i < workers; i++ {
		snap := alice
		snap.Name = "Alice " + string(rune('A'+i))
		names[snap.Name] = true
		wg.Add(3)
		go func() {
			defer wg.Done()
			if _, err := reg.Get(ctx, id); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if err := reg.Update(ctx, id, snap); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if err := reg.Extend(ctx, id); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent access failed: %v", err)
	}

	got, err := reg.Get(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("session lost: %v %+v", err, got)
	}
	if !names[got.User.Name] {
		t.Fatalf("snapshot from no writer: %+v", got.User)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID: %v", err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}
