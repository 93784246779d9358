// Package v1 is the wire contract between the worker and the headless render
// service.
//
//	POST   /v1/instances              Authorization: Bearer <key>  -> CreateInstanceResponse
//	POST   /v1/instances/{id}/frames  FrameRequest                 -> image bytes
//	DELETE /v1/instances/{id}
//	GET    /healthz
package v1

import "encoding/json"

// CreateInstanceRequest asks the service for a dedicated renderer.
type CreateInstanceRequest struct {
	// JobID is informational; the service may use it to label the instance.
	JobID string `json:"job_id,omitempty"`
}

// CreateInstanceResponse identifies the provisioned renderer.
type CreateInstanceResponse struct {
	ID string `json:"id"`
}

// FrameRequest is the full state of one frame. Elements are in paint order.
type FrameRequest struct {
	Index      int       `json:"index"`
	Time       float64   `json:"time"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Background string    `json:"background,omitempty"`
	Format     string    `json:"format"`
	Elements   []Element `json:"elements"`
}

// Element is one visible element of a frame.
type Element struct {
	ID         string  `json:"id,omitempty"`
	Type       string  `json:"type"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Rotation   float64 `json:"rotation"`
	Opacity    float64 `json:"opacity"`
	LocalTime  float64 `json:"local_time"`
	SourceTime float64 `json:"source_time"`
	// Props holds the type-specific fields (text, src, shape, ...).
	Props json.RawMessage `json:"props"`
}

// ErrorResponse is returned by the service with any non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Frame formats.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)
