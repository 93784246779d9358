package pipeline

import "time"

// JobState is a stage of a render job.
type JobState string

const (
	StateInitializing JobState = "initializing"
	StateScheduling   JobState = "scheduling"
	StateRendering    JobState = "rendering"
	StateAssembling   JobState = "assembling"
	StateEncoding     JobState = "encoding"
	StateCompleted    JobState = "completed"
	StateFailed       JobState = "failed"
)

// Terminal reports whether no further transition can happen.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Observer receives pipeline events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	JobStateChanged(jobID string, from, to JobState)
	InstanceProvisioned(d time.Duration, err error)
	InstanceDisposed(reason string)
	FrameRendered(index, attempt int, d time.Duration, err error)
	FrameEmitted(index, total int)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) JobStateChanged(string, JobState, JobState)   {}
func (NopObserver) InstanceProvisioned(time.Duration, error)     {}
func (NopObserver) InstanceDisposed(string)                      {}
func (NopObserver) FrameRendered(int, int, time.Duration, error) {}
func (NopObserver) FrameEmitted(int, int)                        {}

type multiObserver []Observer

// MultiObserver fans every event out to all non-nil observers in order.
func MultiObserver(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) JobStateChanged(jobID string, from, to JobState) {
	for _, o := range m {
		o.JobStateChanged(jobID, from, to)
	}
}

func (m multiObserver) InstanceProvisioned(d time.Duration, err error) {
	for _, o := range m {
		o.InstanceProvisioned(d, err)
	}
}

func (m multiObserver) InstanceDisposed(reason string) {
	for _, o := range m {
		o.InstanceDisposed(reason)
	}
}

func (m multiObserver) FrameRendered(index, attempt int, d time.Duration, err error) {
	for _, o := range m {
		o.FrameRendered(index, attempt, d, err)
	}
}

func (m multiObserver) FrameEmitted(index, total int) {
	for _, o := range m {
		o.FrameEmitted(index, total)
	}
}
