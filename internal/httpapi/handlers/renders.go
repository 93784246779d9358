package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vidrender/internal/httpkit"
	"vidrender/internal/models"
	"vidrender/internal/pkg/errors"
	"vidrender/internal/repositories"
	"vidrender/internal/scene"
	"vidrender/internal/worker/processor"
	"vidrender/internal/worker/util"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	signedURLTTL     = 30 * time.Minute
)

type CreateRenderRequest struct {
	Name string `json:"name"`
	// Exactly one of Scene and SceneID is set.
	Scene      json.RawMessage `json:"scene"`
	SceneID    string          `json:"scene_id"`
	Parallel   int             `json:"parallel"`
	FPS        float64         `json:"fps"`
	OutputName string          `json:"output_name"`
}

type renderView struct {
	*models.RenderJob
	Progress *progressView `json:"progress,omitempty"`
	URL      string        `json:"url,omitempty"`
}

type progressView struct {
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PostRender validates a scene and queues a render job for it.
func (h *Handler) PostRender(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRenderRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, errors.WrapWithCode(err, errors.CodeValidation, "renders.create", "invalid json body"))
		return
	}

	raw, sceneID, err := h.resolveScene(ctx, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	sc, err := scene.Parse(raw)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validateOptions(req, sc); err != nil {
		h.fail(w, r, err)
		return
	}

	job := &models.RenderJob{
		ID:         util.NewID("rnd"),
		Name:       strings.TrimSpace(req.Name),
		SceneID:    sceneID,
		Scene:      raw,
		Parallel:   req.Parallel,
		FPS:        req.FPS,
		OutputName: processor.OutputName(req.OutputName),
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		h.fail(w, r, errors.Wrap(err, "renders.create", "db insert failed"))
		return
	}

	if err := h.queue.Push(ctx, job.ID); err != nil {
		// The job would never be picked up; close it out.
		if merr := h.jobs.MarkFailed(context.WithoutCancel(ctx), job.ID, string(errors.CodeUnavailable), "queue push failed: "+err.Error()); merr != nil {
			h.log.FromContext(ctx).WithJobID(job.ID).Error("failed to mark unqueued job as failed", "error", merr.Error())
		}
		h.fail(w, r, errors.WrapWithCode(err, errors.CodeUnavailable, "renders.create", "queue push failed"))
		return
	}

	h.log.FromContext(ctx).WithJobID(job.ID).Info("render queued",
		"frames", sc.WithFPS(req.FPS).FrameCount(),
		"parallel", job.Parallel,
	)

	job.Scene = nil
	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{"render": job})
}

func (h *Handler) resolveScene(ctx context.Context, req CreateRenderRequest) (json.RawMessage, *string, error) {
	hasScene := len(req.Scene) > 0 && string(req.Scene) != "null"
	sceneID := strings.TrimSpace(req.SceneID)

	switch {
	case hasScene && sceneID != "":
		return nil, nil, errors.ValidationField("scene", "scene and scene_id are mutually exclusive")
	case hasScene:
		return req.Scene, nil, nil
	case sceneID == "":
		return nil, nil, errors.ValidationField("scene", "scene or scene_id is required")
	}

	saved, err := h.scenes.Get(ctx, sceneID)
	if err != nil {
		if errors.Is(err, repositories.ErrSceneNotFound) {
			return nil, nil, errors.NotFound("scene", sceneID)
		}
		return nil, nil, errors.Wrap(err, "renders.create", "db query failed")
	}
	return saved.Definition, &saved.ID, nil
}

func (h *Handler) validateOptions(req CreateRenderRequest, sc *scene.Scene) error {
	if req.Parallel < 0 {
		return errors.ValidationField("parallel", "parallel must be >= 0 (0 = default)")
	}
	if h.maxParallel > 0 && req.Parallel > h.maxParallel {
		return errors.ValidationField("parallel", "parallel must be <= "+strconv.Itoa(h.maxParallel))
	}
	if req.FPS < 0 {
		return errors.ValidationField("fps", "fps must be a positive number")
	}
	if h.maxFrames > 0 {
		if n := sc.WithFPS(req.FPS).FrameCount(); n > h.maxFrames {
			return errors.InvalidSceneField("duration", "scene has %d frames, limit is %d", n, h.maxFrames)
		}
	}
	return nil
}

// ListRenders lists jobs, newest first, optionally filtered by ?status=.
func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := models.JobStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	switch status {
	case "", models.JobQueued, models.JobRunning, models.JobDone, models.JobFailed, models.JobCanceled:
	default:
		h.fail(w, r, errors.ValidationField("status", "unknown status "+string(status)))
		return
	}

	limit := defaultListLimit
	if v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit"))); err == nil && v > 0 && v <= maxListLimit {
		limit = v
	}

	jobs, err := h.jobs.List(ctx, status, limit)
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "renders.list", "db query failed"))
		return
	}
	if jobs == nil {
		jobs = []models.RenderJob{}
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"renders": jobs})
}

// GetRender returns one job with its live progress while running and a
// download URL once done.
func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	job, err := h.getJob(ctx, chi.URLParam(r, "renderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	view := renderView{RenderJob: job}
	if job.Status == models.JobRunning {
		if p, err := h.queue.Progress(ctx, job.ID); err != nil {
			h.log.FromContext(ctx).Warn("progress lookup failed", "job_id", job.ID, "error", err)
		} else if p != nil {
			view.Progress = &progressView{Done: p.Done, Total: p.Total, UpdatedAt: p.UpdatedAt}
		}
	}
	if job.Status == models.JobDone && job.OutputKey != nil && h.sp != nil {
		if out, err := h.sp.GetSignedURL(ctx, *job.OutputKey, signedURLTTL); err == nil {
			view.URL = out.URL
		}
		if view.URL == "" {
			view.URL = "/renders/" + job.ID + "/content"
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"render": view})
}

// CancelRender cancels a queued job at once and asks the worker to stop a
// running one.
func (h *Handler) CancelRender(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "renderId")

	status, err := h.jobs.RequestCancel(ctx, id)
	switch {
	case errors.Is(err, repositories.ErrJobNotFound):
		h.fail(w, r, errors.NotFound("render", id))
		return
	case errors.Is(err, repositories.ErrJobFinished):
		h.fail(w, r, errors.New(errors.CodeConflict, "render already finished").WithField("render_id", id))
		return
	case err != nil:
		h.fail(w, r, errors.Wrap(err, "renders.cancel", "db update failed"))
		return
	}

	if status == models.JobRunning {
		if err := h.queue.PublishCancel(ctx, id); err != nil {
			// The worker also checks the flag before claiming a job.
			h.log.FromContext(ctx).Warn("cancel publish failed", "job_id", id, "error", err)
		}
	}

	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
		"render": map[string]any{
			"id":               id,
			"status":           status,
			"cancel_requested": true,
		},
	})
}

// StreamRender streams the finished video.
func (h *Handler) StreamRender(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "renderId")

	job, err := h.getJob(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if job.Status != models.JobDone || job.OutputKey == nil {
		h.fail(w, r, errors.New(errors.CodeConflict, "render is not done").
			WithField("render_id", id).
			WithField("status", string(job.Status)))
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+processor.SanitizeFilename(job.OutputName)+`"`)
	if err := h.streamObject(w, r, *job.OutputKey, "render output", processor.ContentTypeForName(job.OutputName)); err != nil {
		w.Header().Del("Content-Disposition")
		h.fail(w, r, err)
	}
}

func (h *Handler) getJob(ctx context.Context, id string) (*models.RenderJob, error) {
	job, err := h.jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrJobNotFound) {
			return nil, errors.NotFound("render", id)
		}
		return nil, errors.Wrap(err, "renders.get", "db query failed")
	}
	return job, nil
}
