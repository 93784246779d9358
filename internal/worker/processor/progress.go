package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"vidrender/internal/pipeline"
	"vidrender/internal/pkg/logger"
)

// ProgressStore persists per-job frame counts (the Redis queue in production).
type ProgressStore interface {
	SetProgress(ctx context.Context, id string, done, total int) error
}

const progressInterval = 500 * time.Millisecond

// progressObserver publishes emitted-frame counts for one job. FrameEmitted
// runs on the assembler's critical path, so it only records the count; a
// background loop flushes it.
type progressObserver struct {
	pipeline.NopObserver

	jobID string
	store ProgressStore
	log   *logger.Logger

	done  atomic.Int64
	total atomic.Int64
	dirty atomic.Bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func newProgressObserver(jobID string, store ProgressStore, log *logger.Logger) *progressObserver {
	po := &progressObserver{
		jobID: jobID,
		store: store,
		log:   log,
		stop:  make(chan struct{}),
	}
	po.wg.Add(1)
	go po.run()
	return po
}

func (po *progressObserver) FrameEmitted(index, total int) {
	po.done.Store(int64(index + 1))
	po.total.Store(int64(total))
	po.dirty.Store(true)
}

func (po *progressObserver) run() {
	defer po.wg.Done()
	t := time.NewTicker(progressInterval)
	defer t.Stop()
	for {
		select {
		case <-po.stop:
			po.flush()
			return
		case <-t.C:
			po.flush()
		}
	}
}

func (po *progressObserver) flush() {
	if !po.dirty.Swap(false) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := po.store.SetProgress(ctx, po.jobID, int(po.done.Load()), int(po.total.Load())); err != nil {
		po.log.Warn("progress update failed", "error", err.Error())
	}
}

// Close flushes the last count and stops the loop.
func (po *progressObserver) Close() {
	close(po.stop)
	po.wg.Wait()
}
