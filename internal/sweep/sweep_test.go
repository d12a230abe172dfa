package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"gatehouse.org/internal/obs"
)

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		Run(ctx, "test", time.Millisecond, func(context.Context) (int, error) {
			if calls.Add(1) == 3 {
				cancel()
			}
			return 0, nil
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if calls.Load() < 3 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestOnceCountsEvictions(t *testing.T) {
	before := testutil.ToFloat64(obs.SweptRecordsTotal.WithLabelValues("once-test"))
	n := Once(context.Background(), "once-test", func(context.Context) (int, error) { return 4, nil })
	if n != 4 {
		t.Fatalf("Once = %d", n)
	}
	after := testutil.ToFloat64(obs.SweptRecordsTotal.WithLabelValues("once-test"))
	if after-before != 4 {
		t.Fatalf("counter moved by %v", after-before)
	}
	if n := Once(context.Background(), "once-test", func(context.Context) (int, error) { return 0, errors.New("boom") }); n != 0 {
		t.Fatalf("Once on error = %d", n)
	}
}
