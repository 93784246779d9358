package shutdown

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"vidrender/internal/pkg/logger"
)

func TestShutdownStopsInReverseOrder(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	var order []string
	for _, name := range []string{"postgres", "redis", "http-server"} {
		mgr.RegisterSimple(name, func() { order = append(order, name) })
	}

	if err := mgr.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if got := strings.Join(order, ","); got != "http-server,redis,postgres" {
		t.Errorf("unexpected order %s", got)
	}
}

func TestShutdownJoinsErrorsAndContinues(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)
	errRedis := errors.New("redis: connection reset")

	var poolClosed atomic.Bool
	mgr.RegisterSimple("postgres", func() { poolClosed.Store(true) })
	mgr.Register("redis", func(context.Context) error { return errRedis })
	mgr.Register("metrics-server", func(context.Context) error { return errors.New("listener gone") })

	err := mgr.Shutdown()
	if !errors.Is(err, errRedis) {
		t.Errorf("expected redis error in %v", err)
	}
	if !strings.Contains(err.Error(), "metrics-server: listener gone") {
		t.Errorf("expected step name prefix, got %v", err)
	}
	if !poolClosed.Load() {
		t.Error("a failing step must not stop later ones")
	}
}

func TestShutdownRunsOnce(t *testing.T) {
	mgr := NewManager(nil, 0)
	var calls atomic.Int32
	mgr.RegisterSimple("worker", func() { calls.Add(1) })

	_ = mgr.Shutdown()
	_ = mgr.Shutdown()
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
	if mgr.timeout != defaultTimeout {
		t.Errorf("expected default timeout, got %s", mgr.timeout)
	}
}

func TestShutdownDeadline(t *testing.T) {
	mgr := NewManager(logger.Discard(), 50*time.Millisecond)

	var reached atomic.Bool
	mgr.RegisterSimple("postgres", func() { reached.Store(true) })
	mgr.Register("render in flight", func(ctx context.Context) error {
		time.Sleep(5 * time.Second)
		return nil
	})

	start := time.Now()
	err := mgr.Shutdown()
	if time.Since(start) > time.Second {
		t.Errorf("shutdown ignored its deadline: %s", time.Since(start))
	}
	if !errors.Is(err, context.DeadlineExceeded) || !strings.Contains(err.Error(), "postgres: skipped") {
		t.Errorf("expected deadline and skip errors, got %v", err)
	}
	if reached.Load() {
		t.Error("steps after the deadline must be skipped")
	}
}

func TestWaitReturnsOnContextCancel(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	var called atomic.Bool
	mgr.RegisterSimple("redis", func() { called.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := mgr.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if !called.Load() {
		t.Error("expected steps to run")
	}
}
