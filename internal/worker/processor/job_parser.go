package processor

import (
	"vidrender/internal/models"
	"vidrender/internal/pipeline"
	"vidrender/internal/scene"
)

// ParsedJob is a stored job turned into something the pipeline can run.
type ParsedJob struct {
	Scene      *scene.Scene
	Config     pipeline.Config
	OutputName string
}

// JobParser validates a stored scene and merges the job's options over the
// worker defaults.
type JobParser struct {
	defaults    pipeline.Config
	maxParallel int
}

func NewJobParser(defaults pipeline.Config, maxParallel int) *JobParser {
	return &JobParser{defaults: defaults, maxParallel: maxParallel}
}

func (jp *JobParser) Parse(job *models.RenderJob) (*ParsedJob, error) {
	sc, err := scene.Parse(job.Scene)
	if err != nil {
		return nil, err
	}

	cfg := jp.defaults
	if job.Parallel > 0 {
		cfg.Parallel = job.Parallel
	}
	if jp.maxParallel > 0 && cfg.Parallel > jp.maxParallel {
		cfg.Parallel = jp.maxParallel
	}
	if job.FPS > 0 {
		cfg.FPS = job.FPS
	}

	return &ParsedJob{
		Scene:      sc,
		Config:     cfg,
		OutputName: OutputName(job.OutputName),
	}, nil
}
