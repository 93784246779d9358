package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"vidrender/internal/pkg/errors"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/scene"
)

// Handle is a leased renderer instance. A handle is owned by at most one
// frame task at a time.
type Handle struct {
	ID      string
	Renders int

	inst Instance
}

// Render draws one frame on the leased instance.
func (h *Handle) Render(ctx context.Context, state scene.FrameState) ([]byte, error) {
	h.Renders++
	return h.inst.Render(ctx, state)
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Leased     int `json:"leased"`
	Idle       int `json:"idle"`
	Created    int `json:"created"`
	Disposed   int `json:"disposed"`
	PeakLeased int `json:"peak_leased"`
}

// Pool leases renderer instances to frame tasks. At most size instances
// exist at any time; they are provisioned only when no idle one is
// available.
type Pool struct {
	factory Factory
	size    int
	log     *logger.Logger
	obs     Observer

	slots *semaphore.Weighted

	mu     sync.Mutex
	idle   []*Handle
	leased map[*Handle]struct{}
	stats  PoolStats
	closed bool
}

// NewPool creates a pool of at most size instances.
func NewPool(factory Factory, size int, log *logger.Logger, obs Observer) *Pool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Pool{
		factory: factory,
		size:    size,
		log:     log.WithComponent("pool"),
		obs:     obs,
		slots:   semaphore.NewWeighted(int64(size)),
		leased:  make(map[*Handle]struct{}),
	}
}

// Acquire blocks until a slot is free and returns an idle or freshly
// provisioned handle. Provisioning failures are PROVISION_FAILED errors and
// free the slot again.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, errors.Canceled(err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.slots.Release(1)
		return nil, errors.New(errors.CodeUnavailable, "instance pool is shut down")
	}
	if n := len(p.idle); n > 0 {
		h := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.leaseLocked(h)
		p.mu.Unlock()
		return h, nil
	}
	p.mu.Unlock()

	start := time.Now()
	inst, err := p.factory.NewInstance(ctx)
	p.obs.InstanceProvisioned(time.Since(start), err)
	if err != nil {
		p.slots.Release(1)
		if ctx.Err() != nil {
			return nil, errors.Canceled(ctx.Err())
		}
		p.log.Warn("instance provisioning failed", "error", err.Error())
		return nil, errors.Provision(err)
	}

	h := &Handle{ID: uuid.NewString(), inst: inst}

	p.mu.Lock()
	p.stats.Created++
	if p.closed {
		p.stats.Disposed++
		p.mu.Unlock()
		p.slots.Release(1)
		p.dispose(h, "shutdown")
		return nil, errors.New(errors.CodeUnavailable, "instance pool is shut down")
	}
	p.leaseLocked(h)
	p.mu.Unlock()

	p.log.Debug("instance provisioned",
		"instance_id", h.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return h, nil
}

func (p *Pool) leaseLocked(h *Handle) {
	p.leased[h] = struct{}{}
	if n := len(p.leased); n > p.stats.PeakLeased {
		p.stats.PeakLeased = n
	}
}

// Release returns a leased handle. Healthy handles go back to the idle set;
// poisoned ones are closed and replaced lazily by a later Acquire. Releasing
// a handle that is not leased is a no-op.
func (p *Pool) Release(h *Handle, healthy bool) {
	if h == nil {
		return
	}

	p.mu.Lock()
	if _, ok := p.leased[h]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.leased, h)

	if healthy && !p.closed {
		p.idle = append(p.idle, h)
		p.mu.Unlock()
		p.slots.Release(1)
		return
	}
	p.stats.Disposed++
	p.mu.Unlock()
	p.slots.Release(1)

	reason := "poisoned"
	if healthy {
		reason = "shutdown"
	}
	p.dispose(h, reason)
}

// Shutdown closes idle handles, marks the pool closed and waits until every
// leased handle has been released (and closed) or ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.stats.Disposed += len(idle)
	p.mu.Unlock()

	for _, h := range idle {
		p.dispose(h, "shutdown")
	}

	// Holding every slot means nothing is leased or being provisioned.
	if err := p.slots.Acquire(ctx, int64(p.size)); err != nil {
		return errors.Wrap(err, "pool.shutdown", "leased instances were not returned")
	}
	p.slots.Release(int64(p.size))
	return nil
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Leased = len(p.leased)
	s.Idle = len(p.idle)
	return s
}

func (p *Pool) dispose(h *Handle, reason string) {
	if err := h.inst.Close(); err != nil {
		p.log.Warn("instance close failed",
			"instance_id", h.ID,
			"error", err.Error(),
		)
	}
	p.obs.InstanceDisposed(reason)
	p.log.Debug("instance disposed",
		"instance_id", h.ID,
		"reason", reason,
		"renders", h.Renders,
	)
}
