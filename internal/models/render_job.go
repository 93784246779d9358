package models

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobQueued   JobStatus = "QUEUED"
	JobRunning  JobStatus = "RUNNING"
	JobDone     JobStatus = "DONE"
	JobFailed   JobStatus = "FAILED"
	JobCanceled JobStatus = "CANCELED"
)

// Final reports whether no further transition is possible.
func (s JobStatus) Final() bool {
	return s == JobDone || s == JobFailed || s == JobCanceled
}

// RenderJob is one submitted scene-to-video job.
type RenderJob struct {
	ID      string          `json:"id"`
	Name    string          `json:"name,omitempty"`
	SceneID *string         `json:"scene_id,omitempty"`
	Status  JobStatus       `json:"status"`
	Scene   json.RawMessage `json:"scene,omitempty"`

	// Requested options; zero means the worker default.
	Parallel   int     `json:"parallel,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	OutputName string  `json:"output_name,omitempty"`

	Frames         int     `json:"frames,omitempty"`
	OutputKey      *string `json:"output_key,omitempty"`
	OutputProvider *string `json:"output_provider,omitempty"`
	SizeBytes      *int64  `json:"size_bytes,omitempty"`

	ErrorCode *string `json:"error_code,omitempty"`
	ErrorText *string `json:"error_text,omitempty"`

	CancelRequested bool `json:"cancel_requested,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
