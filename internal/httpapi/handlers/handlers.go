// Package handlers implements the render API endpoints.
package handlers

import (
	"context"
	"net/http"

	"vidrender/internal/models"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/pkg/middleware"
	"vidrender/internal/ports"
	"vidrender/internal/worker/queue"
)

// JobStore persists render jobs (repositories.JobRepository).
type JobStore interface {
	Create(ctx context.Context, j *models.RenderJob) error
	Get(ctx context.Context, id string) (*models.RenderJob, error)
	List(ctx context.Context, status models.JobStatus, limit int) ([]models.RenderJob, error)
	RequestCancel(ctx context.Context, id string) (models.JobStatus, error)
	MarkFailed(ctx context.Context, id, code, text string) error
}

// SceneStore persists saved scenes (repositories.SceneRepository).
type SceneStore interface {
	Create(ctx context.Context, s *models.SavedScene) error
	List(ctx context.Context) ([]models.SavedScene, error)
	Get(ctx context.Context, id string) (*models.SavedScene, error)
	Delete(ctx context.Context, id string) error
}

// Queue is the worker control plane (queue.RedisQueue).
type Queue interface {
	Push(ctx context.Context, id string) error
	PublishCancel(ctx context.Context, id string) error
	Progress(ctx context.Context, id string) (*queue.Progress, error)
}

// Check is a named dependency probe for deep health checks.
type Check func(ctx context.Context) (map[string]any, error)

type Deps struct {
	Jobs   JobStore
	Scenes SceneStore
	Queue  Queue
	SP     ports.StorageProvider
	Checks map[string]Check
	Log    *logger.Logger

	// MaxFrames rejects scenes longer than this many frames (0 = no limit).
	MaxFrames int
	// MaxParallel caps the parallel option (0 = no cap).
	MaxParallel int
	// MaxUploadBytes bounds asset uploads.
	MaxUploadBytes int64
	Version        string
}

type Handler struct {
	jobs   JobStore
	scenes SceneStore
	queue  Queue
	sp     ports.StorageProvider
	checks map[string]Check
	log    *logger.Logger

	maxFrames      int
	maxParallel    int
	maxUploadBytes int64
	version        string
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	maxUpload := d.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 512 << 20
	}
	version := d.Version
	if version == "" {
		version = "dev"
	}
	return &Handler{
		jobs:   d.Jobs,
		scenes: d.Scenes,
		queue:  d.Queue,
		sp:     d.SP,
		checks: d.Checks,
		log:    log.WithComponent("api"),

		maxFrames:      d.MaxFrames,
		maxParallel:    d.MaxParallel,
		maxUploadBytes: maxUpload,
		version:        version,
	}
}

// fail writes a coded error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	middleware.HandleError(w, r, h.log, err)
}
