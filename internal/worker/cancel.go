package worker

import (
	"context"
	"sync"
)

// canceller tracks the job this worker is running so a cancel notification
// can stop it.
type canceller struct {
	mu     sync.Mutex
	jobID  string
	cancel context.CancelCauseFunc
}

// begin derives the job context. end must be called when the job returns.
func (c *canceller) begin(ctx context.Context, jobID string) (context.Context, func()) {
	jctx, cancel := context.WithCancelCause(ctx)
	c.mu.Lock()
	c.jobID, c.cancel = jobID, cancel
	c.mu.Unlock()

	return jctx, func() {
		c.mu.Lock()
		c.jobID, c.cancel = "", nil
		c.mu.Unlock()
		cancel(nil)
	}
}

// cancelJob stops jobID with cause if it is the running job.
func (c *canceller) cancelJob(jobID string, cause error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil || c.jobID != jobID {
		return false
	}
	c.cancel(cause)
	return true
}

// watch applies cancel notifications until ids is closed.
func (c *canceller) watch(ids <-chan string, cause error, onCancel func(string)) {
	for id := range ids {
		if c.cancelJob(id, cause) {
			onCancel(id)
		}
	}
}
