package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"vidrender/internal/pkg/errors"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/scene"
)

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Factory  Factory
	Sink     Sink
	Log      *logger.Logger
	Observer Observer
}

// Pipeline renders scenes to video files. It is safe to run several jobs
// concurrently; each job gets its own instance pool.
type Pipeline struct {
	factory Factory
	sink    Sink
	log     *logger.Logger
	obs     Observer
}

// Result summarizes a completed job.
type Result struct {
	JobID     string        `json:"job_id"`
	Frames    int           `json:"frames"`
	FPS       float64       `json:"fps"`
	Out       string        `json:"out"`
	Elapsed   time.Duration `json:"elapsed"`
	Instances PoolStats     `json:"instances"`
	Retries   int           `json:"retries"`
}

// New creates a pipeline.
func New(d Deps) *Pipeline {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	obs := d.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	return &Pipeline{
		factory: d.Factory,
		sink:    d.Sink,
		log:     log.WithComponent("pipeline"),
		obs:     obs,
	}
}

// Run parses raw and renders it. Invalid scenes fail before any instance is
// provisioned.
func (p *Pipeline) Run(ctx context.Context, raw []byte, cfg Config) (*Result, error) {
	sc, err := scene.Parse(raw)
	if err != nil {
		p.log.Warn("scene rejected", "error", err.Error())
		return nil, err
	}
	return p.RunScene(ctx, sc, cfg)
}

// RunScene renders a parsed scene to cfg.Out. On success the output holds
// exactly FrameCount frames in order; on any failure the output is removed
// and every instance is closed before RunScene returns.
func (p *Pipeline) RunScene(ctx context.Context, sc *scene.Scene, cfg Config) (*Result, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p.factory == nil || p.sink == nil {
		return nil, errors.New(errors.CodeInternal, "pipeline needs a factory and a sink")
	}

	jobID := uuid.NewString()
	if id, ok := ctx.Value(logger.JobIDKey).(string); ok && id != "" {
		jobID = id
	}
	log := p.log.FromContext(ctx).WithJobID(jobID)
	job := &jobTracker{id: jobID, state: StateInitializing, obs: p.obs, log: log}

	started := time.Now()
	sc = sc.WithFPS(cfg.FPS)
	total := sc.FrameCount()

	log.Info("render job starting",
		"frames", total,
		"fps", sc.EffectiveFPS(),
		"parallel", cfg.Parallel,
		"out", cfg.Out,
	)

	if err := ctx.Err(); err != nil {
		cerr := errors.Canceled(err)
		job.fail(cerr)
		return nil, cerr
	}

	job.transition(StateScheduling)
	writer, err := p.sink.Open(ctx, StreamSpec{
		Path:   cfg.Out,
		FPS:    sc.EffectiveFPS(),
		Width:  sc.Width,
		Height: sc.Height,
		Frames: total,
	})
	if err != nil {
		job.fail(err)
		return nil, errors.Encode(err)
	}

	pool := NewPool(p.factory, cfg.Parallel, log, p.obs)
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := pool.Shutdown(sctx); err != nil {
			log.Error("instance pool shutdown failed", "error", err.Error())
		}
	}()

	asm := NewAssembler(total, func(f RenderedFrame) error {
		if f.Index == 0 {
			job.transition(StateAssembling)
		}
		if err := writer.WriteFrame(f); err != nil {
			return err
		}
		p.obs.FrameEmitted(f.Index, total)
		return nil
	})

	job.transition(StateRendering)
	sched := newScheduler(sc, cfg, pool, asm, log, p.obs)
	if err := sched.run(ctx); err != nil {
		p.abort(writer, log)
		job.fail(err)
		return nil, err
	}

	job.transition(StateEncoding)
	if err := writer.Commit(); err != nil {
		p.abort(writer, log)
		job.fail(err)
		if errors.IsEncode(err) {
			return nil, err
		}
		return nil, errors.Encode(err)
	}

	res := &Result{
		JobID:   jobID,
		Frames:  total,
		FPS:     sc.EffectiveFPS(),
		Out:     cfg.Out,
		Elapsed: time.Since(started),
		Retries: int(sched.retries.Load()),
	}
	// Idle instances are closed by the deferred shutdown; stats are final
	// apart from those disposals.
	res.Instances = pool.Stats()
	job.transition(StateCompleted)

	log.Info("render job completed",
		"frames", total,
		"elapsed_ms", res.Elapsed.Milliseconds(),
		"instances_created", res.Instances.Created,
		"retries", res.Retries,
	)
	return res, nil
}

func (p *Pipeline) abort(w FrameWriter, log *logger.Logger) {
	if err := w.Abort(); err != nil {
		log.Error("failed to remove partial output", "error", err.Error())
	}
}

// jobTracker enforces the job state machine and reports transitions.
type jobTracker struct {
	mu    sync.Mutex
	id    string
	state JobState
	obs   Observer
	log   *logger.Logger
}

func (j *jobTracker) transition(to JobState) {
	j.mu.Lock()
	from := j.state
	if from.Terminal() || from == to {
		j.mu.Unlock()
		return
	}
	j.state = to
	j.mu.Unlock()

	j.obs.JobStateChanged(j.id, from, to)
	j.log.Debug("job state changed", "from", string(from), "to", string(to))
}

func (j *jobTracker) fail(err error) {
	j.transition(StateFailed)
	j.log.Error("render job failed",
		"code", string(errors.GetCode(err)),
		"error", err.Error(),
	)
}
