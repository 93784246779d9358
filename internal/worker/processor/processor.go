// Package processor runs one stored render job end to end: load, validate,
// materialize sources, render, upload and record the outcome.
package processor

import (
	"context"
	"time"

	"vidrender/internal/metrics"
	"vidrender/internal/models"
	"vidrender/internal/pipeline"
	"vidrender/internal/pkg/errors"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/ports"
)

// ErrCancelRequested is the cancel cause the worker uses when a user asked
// for a running job to stop.
var ErrCancelRequested = errors.New(errors.CodeCanceled, "cancel requested")

const (
	statusTimeout = 10 * time.Second
	maxErrorText  = 2000
)

// JobStore is the subset of the job repository the processor needs.
type JobStore interface {
	Get(ctx context.Context, id string) (*models.RenderJob, error)
	MarkRunning(ctx context.Context, id string) (bool, error)
	MarkDone(ctx context.Context, id string, frames int, key, provider string, size int64) error
	MarkFailed(ctx context.Context, id, code, text string) error
	MarkCanceled(ctx context.Context, id string) error
}

// InstanceSource hands out renderer factories labelled with the job id.
type InstanceSource interface {
	ForJob(jobID string) pipeline.Factory
}

type Deps struct {
	Jobs         JobStore
	Instances    InstanceSource
	Sink         pipeline.Sink
	Observer     pipeline.Observer
	Progress     ProgressStore
	Defaults     pipeline.Config
	MaxParallel  int
	StorageRoot  string
	CleanupLocal bool
	SP           ports.StorageProvider
	Log          *logger.Logger
}

type Processor struct {
	jobs      JobStore
	instances InstanceSource
	sink      pipeline.Sink
	obs       pipeline.Observer
	progress  ProgressStore
	log       *logger.Logger

	jobParser     *JobParser
	inputHandler  *InputHandler
	outputHandler *OutputHandler
	cleanup       *Cleanup
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("processor")

	obs := d.Observer
	if obs == nil {
		obs = pipeline.NopObserver{}
	}

	return &Processor{
		jobs:      d.Jobs,
		instances: d.Instances,
		sink:      d.Sink,
		obs:       obs,
		progress:  d.Progress,
		log:       log,

		jobParser:     NewJobParser(d.Defaults, d.MaxParallel),
		inputHandler:  NewInputHandler(d.SP, d.StorageRoot),
		outputHandler: NewOutputHandler(d.SP, d.StorageRoot),
		cleanup:       NewCleanup(d.StorageRoot, d.CleanupLocal, d.SP, log),
	}
}

// ProcessJob runs a QUEUED job. It returns nil without doing anything when
// the job is no longer claimable.
func (p *Processor) ProcessJob(ctx context.Context, jobID string) error {
	start := time.Now()
	status, err := p.processJob(ctx, jobID)
	if status != "" {
		metrics.ObserveJobFinished(string(status), err, time.Since(start))
	}
	return err
}

// processJob returns the final status it recorded, or "" when the job was
// skipped.
func (p *Processor) processJob(ctx context.Context, jobID string) (models.JobStatus, error) {
	log := p.log.FromContext(ctx).WithJobID(jobID)

	// 1. Load
	log.Debug("fetching job")
	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return "", errors.Wrap(err, "processor.fetch", "failed to fetch job")
	}
	if job.Status != models.JobQueued || job.CancelRequested {
		log.Info("job not claimable, skipping", "status", string(job.Status))
		return "", nil
	}

	// 2. Validate before claiming so bad scenes fail fast.
	parsed, err := p.jobParser.Parse(job)
	if err != nil {
		return p.failJob(ctx, jobID, err)
	}

	// 3. Claim
	claimed, err := p.jobs.MarkRunning(ctx, jobID)
	if err != nil {
		return p.failJob(ctx, jobID, errors.Wrap(err, "processor.status", "failed to mark job as running"))
	}
	if !claimed {
		log.Info("job claimed elsewhere or cancelled, skipping")
		return "", nil
	}
	defer p.cleanup.CleanupJob(jobID)

	// 4. Sources
	sc, n, err := p.inputHandler.Materialize(ctx, jobID, parsed.Scene)
	if err != nil {
		return p.failJob(ctx, jobID, errors.Wrap(err, "processor.inputs", "failed to materialize inputs"))
	}
	if n > 0 {
		log.Debug("inputs materialized", "count", n)
	}

	// 5. Render
	cfg := parsed.Config
	cfg.Out = p.outputHandler.LocalPath(jobID, parsed.OutputName)

	obs := p.obs
	if p.progress != nil {
		po := newProgressObserver(jobID, p.progress, log)
		defer po.Close()
		obs = pipeline.MultiObserver(p.obs, po)
	}

	pl := pipeline.New(pipeline.Deps{
		Factory:  p.instances.ForJob(jobID),
		Sink:     p.sink,
		Log:      log,
		Observer: obs,
	})
	res, err := pl.RunScene(logger.ContextWithJobID(ctx, jobID), sc, cfg)
	if err != nil {
		return p.failJob(ctx, jobID, err)
	}

	// 6. Store
	out, err := p.outputHandler.Store(ctx, jobID, parsed.OutputName)
	if err != nil {
		return p.failJob(ctx, jobID, errors.Wrap(err, "processor.outputs", "failed to store output"))
	}

	// 7. Record
	sctx, cancel := statusContext(ctx)
	defer cancel()
	if err := p.jobs.MarkDone(sctx, jobID, res.Frames, out.ObjectKey, out.Provider, out.Size); err != nil {
		return models.JobFailed, errors.Wrap(err, "processor.save", "failed to mark job as done")
	}

	log.Info("job output stored",
		"object_key", out.ObjectKey,
		"provider", out.Provider,
		"size_bytes", out.Size,
		"frames", res.Frames,
	)
	return models.JobDone, nil
}

// failJob records the failure. A user cancel marks the job CANCELED; any
// other failure, including a worker shutdown, marks it FAILED with the
// error code.
func (p *Processor) failJob(ctx context.Context, jobID string, cause error) (models.JobStatus, error) {
	log := p.log.FromContext(ctx).WithJobID(jobID)

	sctx, cancel := statusContext(ctx)
	defer cancel()

	if errors.Is(context.Cause(ctx), ErrCancelRequested) {
		log.Info("job cancelled")
		if err := p.jobs.MarkCanceled(sctx, jobID); err != nil {
			log.Error("failed to mark job as cancelled", "error", err.Error())
		}
		return models.JobCanceled, cause
	}

	code := errors.GetCode(cause)
	msg := cause.Error()
	if len(msg) > maxErrorText {
		msg = msg[:maxErrorText]
	}

	var e *errors.Error
	if errors.As(cause, &e) {
		log.Error("job failed",
			"code", string(e.Code),
			"op", e.Op,
			"message", e.Message,
		)
	} else {
		log.Error("job failed", "error", msg)
	}

	if err := p.jobs.MarkFailed(sctx, jobID, string(code), msg); err != nil {
		log.Error("failed to mark job as failed", "error", err.Error())
	}
	return models.JobFailed, cause
}

func statusContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
}
