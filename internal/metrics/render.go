// Package metrics exposes render pipeline and job metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vidrender/internal/pipeline"
	"vidrender/internal/pkg/errors"
)

var (
	// JobStateTransitions counts pipeline job state changes by target state.
	JobStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidrender_job_state_transitions_total",
		Help: "Render job state transitions by target state",
	}, []string{"state"})

	// JobsActive is the number of jobs between initializing and a terminal state.
	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidrender_jobs_active",
		Help: "Render jobs currently running in this process",
	})

	// InstanceProvisionDuration tracks how long renderer instances take to come up.
	InstanceProvisionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidrender_instance_provision_duration_seconds",
		Help:    "Time taken to provision a renderer instance",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"result"})

	// InstancesLive is the number of provisioned, not yet disposed instances.
	InstancesLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidrender_instances_live",
		Help: "Renderer instances currently provisioned",
	})

	// InstanceDisposals counts disposed instances by reason.
	InstanceDisposals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidrender_instance_disposals_total",
		Help: "Renderer instances disposed, by reason",
	}, []string{"reason"})

	// FrameRenderDuration tracks single frame render time.
	FrameRenderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidrender_frame_render_duration_seconds",
		Help:    "Time taken to render one frame attempt",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"result"})

	// FramesEmitted counts frames handed to the encoder.
	FramesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidrender_frames_emitted_total",
		Help: "Frames written to the encoder in order",
	})

	// JobsFinished counts worker job outcomes by status and error code.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidrender_jobs_finished_total",
		Help: "Render jobs finished by the worker, by status and error code",
	}, []string{"status", "code"})

	// JobDuration tracks worker job wall time.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidrender_job_duration_seconds",
		Help:    "Wall time of a render job in the worker",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"status"})
)

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RenderObserver feeds pipeline events into the package metrics.
type RenderObserver struct{}

var _ pipeline.Observer = RenderObserver{}

func (RenderObserver) JobStateChanged(_ string, from, to pipeline.JobState) {
	JobStateTransitions.WithLabelValues(string(to)).Inc()
	started := from != pipeline.StateInitializing
	switch {
	case !started && !to.Terminal():
		JobsActive.Inc()
	case started && to.Terminal():
		JobsActive.Dec()
	}
}

func (RenderObserver) InstanceProvisioned(d time.Duration, err error) {
	InstanceProvisionDuration.WithLabelValues(result(err)).Observe(d.Seconds())
	if err == nil {
		InstancesLive.Inc()
	}
}

func (RenderObserver) InstanceDisposed(reason string) {
	InstancesLive.Dec()
	InstanceDisposals.WithLabelValues(reason).Inc()
}

func (RenderObserver) FrameRendered(_, _ int, d time.Duration, err error) {
	FrameRenderDuration.WithLabelValues(result(err)).Observe(d.Seconds())
}

func (RenderObserver) FrameEmitted(int, int) {
	FramesEmitted.Inc()
}

// ObserveJobFinished records a worker job outcome. A nil err counts as DONE.
func ObserveJobFinished(status string, err error, d time.Duration) {
	code := ""
	if err != nil {
		code = string(errors.GetCode(err))
	}
	JobsFinished.WithLabelValues(status, code).Inc()
	JobDuration.WithLabelValues(status).Observe(d.Seconds())
}

var (
	// HTTPRequests counts API requests by route pattern and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidrender_http_requests_total",
		Help: "API requests by method, route and status",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration tracks API latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidrender_http_request_duration_seconds",
		Help:    "API request latency by method and route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
