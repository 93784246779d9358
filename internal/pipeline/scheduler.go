package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"vidrender/internal/pkg/errors"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/scene"
)

// scheduler drives every frame of one scene through the pool to the
// assembler.
type scheduler struct {
	scene *scene.Scene
	cfg   Config
	pool  *Pool
	asm   *Assembler
	queue *workQueue
	log   *logger.Logger
	obs   Observer

	retries atomic.Int64
}

func newScheduler(sc *scene.Scene, cfg Config, pool *Pool, asm *Assembler, log *logger.Logger, obs Observer) *scheduler {
	q := newWorkQueue(sc.FrameCount(), cfg.Parallel)
	asm.OnAdvance(q.advance)
	return &scheduler{
		scene: sc,
		cfg:   cfg,
		pool:  pool,
		asm:   asm,
		queue: q,
		log:   log,
		obs:   obs,
	}
}

// run renders all frames or stops at the first fatal error. Cancelling ctx
// stops dispatch; renders already in flight finish or hit RenderTimeout and
// their frames are dropped.
func (s *scheduler) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, s.queue.close)
	defer stop()

	for w := 0; w < s.cfg.Parallel; w++ {
		g.Go(func() error {
			return s.loop(gctx, w)
		})
	}

	err := g.Wait()
	switch {
	case err != nil:
		return err
	case ctx.Err() != nil:
		return errors.Canceled(context.Cause(ctx))
	case !s.asm.Done():
		return errors.Newf(errors.CodeInternal, "scheduler stopped at frame %d of %d", s.asm.Next(), s.scene.FrameCount())
	}
	return nil
}

func (s *scheduler) loop(ctx context.Context, worker int) error {
	log := s.log.WithFields(map[string]any{"worker": worker})
	for {
		task, ok := s.queue.pop()
		if !ok {
			return nil
		}
		if err := s.renderOne(ctx, task, log); err != nil {
			s.queue.finish(task)
			return err
		}
	}
}

// renderOne runs one attempt of task. The handle is released on every path.
// A nil return means the task was either delivered, re-queued or dropped
// because the job is stopping.
func (s *scheduler) renderOne(ctx context.Context, task *FrameTask, log *logger.Logger) error {
	state, err := s.scene.StateAt(task.Index)
	if err != nil {
		return err
	}

	h, err := s.acquire(ctx, log)
	if err != nil {
		if ctx.Err() != nil {
			s.queue.finish(task)
			return nil
		}
		return err
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RenderTimeout)
	start := time.Now()
	data, err := h.Render(rctx, state)
	cancel()
	if err == nil && len(data) == 0 {
		err = errors.New(errors.CodeRender, "renderer returned an empty frame")
	}
	s.obs.FrameRendered(task.Index, task.Attempts+1, time.Since(start), err)

	if err != nil {
		s.pool.Release(h, false)
		if ctx.Err() != nil {
			s.queue.finish(task)
			return nil
		}
		task.Attempts++
		task.State = TaskFailed
		if task.Attempts >= s.cfg.RenderAttempts {
			task.State = TaskTerminal
			return errors.Render(task.Index, err).WithField("attempts", task.Attempts)
		}
		s.retries.Add(1)
		log.Warn("frame render failed, retrying on a fresh instance",
			"frame", task.Index,
			"attempt", task.Attempts,
			"instance_id", h.ID,
			"error", err.Error(),
		)
		s.queue.requeue(task)
		return nil
	}
	s.pool.Release(h, true)

	if ctx.Err() != nil {
		s.queue.finish(task)
		return nil
	}

	task.State = TaskRendered
	if err := s.asm.Submit(RenderedFrame{Index: task.Index, Data: data}); err != nil {
		return err
	}
	s.queue.finish(task)
	return nil
}

// acquire leases an instance, retrying provisioning failures with
// exponential backoff.
func (s *scheduler) acquire(ctx context.Context, log *logger.Logger) (*Handle, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ProvisionBackoff
	b.MaxInterval = s.cfg.ProvisionMaxWait

	return backoff.Retry(ctx, func() (*Handle, error) {
		h, err := s.pool.Acquire(ctx)
		var perm *PermanentError
		if err != nil && (!errors.IsProvision(err) || errors.As(err, &perm)) {
			return nil, backoff.Permanent(err)
		}
		return h, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.cfg.ProvisionAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("instance provisioning failed, backing off",
				"error", err.Error(),
				"retry_in_ms", next.Milliseconds(),
			)
		}),
	)
}
