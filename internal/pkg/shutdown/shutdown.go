// Package shutdown tears a service down in dependency order when it stops.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"vidrender/internal/pkg/logger"
)

const defaultTimeout = 30 * time.Second

type step struct {
	name string
	fn   func(ctx context.Context) error
}

// Manager stops registered resources last-in first-out, one at a time,
// under one overall deadline. A resource registered after the DB pool (the
// HTTP server, the metrics server) therefore stops before the pool does.
type Manager struct {
	log     *logger.Logger
	timeout time.Duration

	mu    sync.Mutex
	steps []step

	once   sync.Once
	result error
}

func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Manager{log: log.WithComponent("shutdown"), timeout: timeout}
}

// Register adds a cleanup step.
func (m *Manager) Register(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	m.steps = append(m.steps, step{name: name, fn: fn})
	m.mu.Unlock()
}

// RegisterSimple adds a step that cannot fail, such as pgxpool.Pool.Close.
func (m *Manager) RegisterSimple(name string, fn func()) {
	m.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// NotifyContext is cancelled on SIGINT, SIGTERM or SIGHUP.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
}

// Wait blocks until ctx ends or a stop signal arrives and then shuts down.
func (m *Manager) Wait(ctx context.Context) error {
	sigCtx, stop := NotifyContext(ctx)
	defer stop()
	<-sigCtx.Done()

	reason := "signal"
	if ctx.Err() != nil {
		reason = "context"
	}
	m.log.Info("stopping", "reason", reason)
	return m.Shutdown()
}

// Shutdown runs every step once and joins their errors. Steps that have not
// started when the deadline passes are skipped; a running step is
// abandoned. Later calls return the first result.
func (m *Manager) Shutdown() error {
	m.once.Do(func() { m.result = m.stopAll() })
	return m.result
}

func (m *Manager) stopAll() error {
	m.mu.Lock()
	steps := append([]step(nil), m.steps...)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if ctx.Err() != nil {
			m.log.Warn("shutdown deadline passed, skipping", "name", s.name)
			errs = append(errs, fmt.Errorf("%s: skipped: %w", s.name, ctx.Err()))
			continue
		}
		start := time.Now()
		err := runStep(ctx, s)
		took := time.Since(start).Milliseconds()
		if err != nil {
			m.log.Error("stop failed", "name", s.name, "error", err.Error(), "duration_ms", took)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		m.log.Debug("stopped", "name", s.name, "duration_ms", took)
	}

	if len(errs) == 0 {
		m.log.Info("shutdown complete", "steps", len(steps))
	}
	return errors.Join(errs...)
}

// runStep returns when fn does or when ctx expires, whichever is first.
func runStep(ctx context.Context, s step) error {
	done := make(chan error, 1)
	go func() { done <- s.fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
