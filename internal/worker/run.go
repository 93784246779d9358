// Package worker pulls render jobs from the queue and runs them one at a time.
package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"vidrender/internal/pkg/logger"
	"vidrender/internal/worker/processor"
)

const (
	defaultPopTimeout = 5 * time.Second
	maxPopRetryDelay  = 30 * time.Second
)

// Run consumes job IDs until ctx is cancelled. A cancel notification for the
// running job stops it with processor.ErrCancelRequested as the cause.
func Run(ctx context.Context, d Deps) error {
	if d.Log == nil {
		d.Log = logger.NewDefault()
	}
	log := d.Log.WithComponent("worker")
	if d.PopTimeout <= 0 {
		d.PopTimeout = defaultPopTimeout
	}

	proc := processor.New(processor.Deps{
		Jobs:         d.Jobs,
		Instances:    d.Instances,
		Sink:         d.Sink,
		Observer:     d.Observer,
		Progress:     d.Queue,
		Defaults:     d.Defaults,
		MaxParallel:  d.MaxParallel,
		StorageRoot:  d.StorageRoot,
		CleanupLocal: d.CleanupLocal,
		SP:           d.SP,
		Log:          log,
	})

	var running canceller
	cancels, err := d.Queue.SubscribeCancel(ctx)
	if err != nil {
		return err
	}
	go running.watch(cancels, processor.ErrCancelRequested, func(id string) {
		log.WithJobID(id).Info("cancel requested, stopping job")
	})

	retry := backoff.NewExponentialBackOff()
	retry.MaxInterval = maxPopRetryDelay

	for ctx.Err() == nil {
		jobID, err := d.Queue.Pop(ctx, d.PopTimeout)
		switch {
		case ctx.Err() != nil:
		case err != nil:
			delay := retry.NextBackOff()
			log.Warn("queue pop failed", "error", err.Error(), "retry_in", delay.String())
			sleep(ctx, delay)
		case jobID != "":
			retry.Reset()
			jobCtx, end := running.begin(logger.ContextWithJobID(ctx, jobID), jobID)
			process(jobCtx, proc, log.WithJobID(jobID), jobID)
			end()
		}
	}

	log.Info("worker stopped")
	return ctx.Err()
}

func process(ctx context.Context, proc *processor.Processor, log *logger.Logger, jobID string) {
	start := time.Now()
	log.Info("job picked up")
	if err := proc.ProcessJob(ctx, jobID); err != nil {
		log.Error("job failed", "error", err.Error(), "duration_ms", time.Since(start).Milliseconds())
		return
	}
	log.Info("job finished", "duration_ms", time.Since(start).Milliseconds())
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
