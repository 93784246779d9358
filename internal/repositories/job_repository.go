package repositories

import (
	"context"
	"errors"
	"strings"

	"vidrender/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrJobNotFound = errors.New("render job not found")

// ErrJobFinished is returned when a transition is requested on a job that
// already reached DONE, FAILED or CANCELED.
var ErrJobFinished = errors.New("render job already finished")

const jobColumns = `
	id, name, scene_id, status, scene_json, parallel, fps, output_name, frames,
	output_key, output_provider, size_bytes, error_code, error_text,
	cancel_requested, created_at, started_at, finished_at`

type JobRepository struct {
	db *pgxpool.Pool
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a QUEUED job.
func (r *JobRepository) Create(ctx context.Context, j *models.RenderJob) error {
	j.Status = models.JobQueued
	return r.db.QueryRow(ctx, `
		INSERT INTO render_jobs (id, name, scene_id, status, scene_json, parallel, fps, output_name)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, j.ID, j.Name, j.SceneID, string(j.Status), []byte(j.Scene), j.Parallel, j.FPS, j.OutputName).
		Scan(&j.CreatedAt)
}

func (r *JobRepository) Get(ctx context.Context, id string) (*models.RenderJob, error) {
	row := r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM render_jobs WHERE id=$1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

// List returns the newest jobs first, optionally filtered by status. Scenes
// are omitted.
func (r *JobRepository) List(ctx context.Context, status models.JobStatus, limit int) ([]models.RenderJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM render_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, strings.ToUpper(string(status)), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.RenderJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		j.Scene = nil
		out = append(out, *j)
	}
	return out, rows.Err()
}

// Status returns the current status and whether a cancel was requested.
func (r *JobRepository) Status(ctx context.Context, id string) (models.JobStatus, bool, error) {
	var status string
	var cancel bool
	err := r.db.QueryRow(ctx, `SELECT status, cancel_requested FROM render_jobs WHERE id=$1`, id).
		Scan(&status, &cancel)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, ErrJobNotFound
	}
	return models.JobStatus(status), cancel, err
}

// MarkRunning claims a QUEUED job. It returns false when the job is no longer
// claimable (already picked up, finished or cancelled).
func (r *JobRepository) MarkRunning(ctx context.Context, id string) (bool, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE render_jobs
		SET status='RUNNING', started_at=now()
		WHERE id=$1 AND status='QUEUED' AND NOT cancel_requested
	`, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *JobRepository) MarkDone(ctx context.Context, id string, frames int, key, provider string, size int64) error {
	return r.finish(ctx, `
		UPDATE render_jobs
		SET status='DONE', frames=$2, output_key=$3, output_provider=$4, size_bytes=$5,
		    error_code=NULL, error_text=NULL, finished_at=now()
		WHERE id=$1 AND status='RUNNING'
	`, id, frames, key, provider, size)
}

func (r *JobRepository) MarkFailed(ctx context.Context, id, code, text string) error {
	return r.finish(ctx, `
		UPDATE render_jobs
		SET status='FAILED', error_code=$2, error_text=$3, finished_at=now()
		WHERE id=$1 AND status IN ('QUEUED','RUNNING')
	`, id, code, text)
}

func (r *JobRepository) MarkCanceled(ctx context.Context, id string) error {
	return r.finish(ctx, `
		UPDATE render_jobs
		SET status='CANCELED', error_code='CANCELED', finished_at=now()
		WHERE id=$1 AND status IN ('QUEUED','RUNNING')
	`, id)
}

// RequestCancel cancels a QUEUED job immediately and flags a RUNNING one for
// the worker. It returns the resulting status.
func (r *JobRepository) RequestCancel(ctx context.Context, id string) (models.JobStatus, error) {
	var status string
	err := r.db.QueryRow(ctx, `
		UPDATE render_jobs
		SET cancel_requested=true,
		    status=CASE WHEN status='QUEUED' THEN 'CANCELED' ELSE status END,
		    error_code=CASE WHEN status='QUEUED' THEN 'CANCELED' ELSE error_code END,
		    finished_at=CASE WHEN status='QUEUED' THEN now() ELSE finished_at END
		WHERE id=$1 AND status IN ('QUEUED','RUNNING')
		RETURNING status
	`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, _, serr := r.Status(ctx, id); serr != nil {
			return "", serr
		}
		return "", ErrJobFinished
	}
	if err != nil {
		return "", err
	}
	return models.JobStatus(status), nil
}

func (r *JobRepository) finish(ctx context.Context, sql string, args ...any) error {
	cmd, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		if _, _, serr := r.Status(ctx, args[0].(string)); serr != nil {
			return serr
		}
		return ErrJobFinished
	}
	return nil
}

func scanJob(row pgx.Row) (*models.RenderJob, error) {
	var j models.RenderJob
	var status string
	var scene []byte
	err := row.Scan(
		&j.ID, &j.Name, &j.SceneID, &status, &scene, &j.Parallel, &j.FPS, &j.OutputName, &j.Frames,
		&j.OutputKey, &j.OutputProvider, &j.SizeBytes, &j.ErrorCode, &j.ErrorText,
		&j.CancelRequested, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	j.Scene = scene
	return &j, nil
}
