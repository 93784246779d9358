// Package renderer talks to the headless render service and exposes its
// instances as pipeline instances.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	v1 "vidrender/internal/contracts/renderer/v1"
	"vidrender/internal/pipeline"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/scene"
)

const (
	maxErrorBody = 4 << 10
	closeTimeout = 10 * time.Second
)

// StatusError is a non-2xx answer from the render service.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("renderer %s: http %d", e.Op, e.Status)
	}
	return fmt.Sprintf("renderer %s: http %d: %s", e.Op, e.Status, e.Body)
}

// Options configures an HTTPClient.
type Options struct {
	BaseURL string
	APIKey  string
	// Format is the frame image format requested from the service.
	Format string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	JobID   string
}

// HTTPClient is the render service client.
type HTTPClient struct {
	baseURL string
	apiKey  string
	format  string
	jobID   string
	client  *http.Client
	log     *logger.Logger
}

func NewHTTPClient(opts Options, log *logger.Logger) *HTTPClient {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Format == "" {
		opts.Format = v1.FormatPNG
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		format:  opts.Format,
		jobID:   opts.JobID,
		client:  &http.Client{Timeout: opts.Timeout},
		log:     log.WithComponent("renderer"),
	}
}

// WithJobID returns a copy of the client that labels new instances with id.
func (c *HTTPClient) WithJobID(id string) *HTTPClient {
	cp := *c
	cp.jobID = id
	return &cp
}

// Factory exposes instance provisioning to the pipeline.
func (c *HTTPClient) Factory() pipeline.Factory {
	return pipeline.FactoryFunc(func(ctx context.Context) (pipeline.Instance, error) {
		inst, err := c.CreateInstance(ctx)
		if err != nil {
			return nil, err
		}
		return inst, nil
	})
}

// ForJob is Factory for a copy labelled with jobID.
func (c *HTTPClient) ForJob(jobID string) pipeline.Factory {
	return c.WithJobID(jobID).Factory()
}

// Health checks GET /healthz.
func (c *HTTPClient) Health(ctx context.Context) error {
	res, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return checkStatus("health", res)
}

// CreateInstance provisions a renderer. Rejected credentials are permanent
// failures.
func (c *HTTPClient) CreateInstance(ctx context.Context) (*Instance, error) {
	res, err := c.do(ctx, http.MethodPost, "/v1/instances", v1.CreateInstanceRequest{JobID: c.jobID})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := checkStatus("create instance", res); err != nil {
		if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
			return nil, pipeline.Permanent(err)
		}
		return nil, err
	}

	var out v1.CreateInstanceResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("renderer create instance: decode response: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("renderer create instance: empty instance id")
	}

	c.log.Debug("renderer instance created", "instance_id", out.ID)
	return &Instance{c: c, ID: out.ID}, nil
}

// Instance is one remote renderer.
type Instance struct {
	c  *HTTPClient
	ID string
}

// Render requests one frame and returns the encoded image.
func (i *Instance) Render(ctx context.Context, st scene.FrameState) ([]byte, error) {
	req, err := FrameRequest(st, i.c.format)
	if err != nil {
		return nil, err
	}

	res, err := i.c.do(ctx, http.MethodPost, "/v1/instances/"+url.PathEscape(i.ID)+"/frames", req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := checkStatus("render", res); err != nil {
		return nil, err
	}
	return io.ReadAll(res.Body)
}

// Close deletes the remote instance. A missing instance is not an error.
func (i *Instance) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	res, err := i.c.do(ctx, http.MethodDelete, "/v1/instances/"+url.PathEscape(i.ID), nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	return checkStatus("close instance", res)
}

// FrameRequest converts a frame state to its wire form.
func FrameRequest(st scene.FrameState, format string) (*v1.FrameRequest, error) {
	req := &v1.FrameRequest{
		Index:      st.Index,
		Time:       st.Time,
		Width:      st.Width,
		Height:     st.Height,
		Background: st.Background,
		Format:     format,
		Elements:   make([]v1.Element, 0, len(st.Elements)),
	}
	for _, el := range st.Elements {
		props, err := json.Marshal(el.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode element %q: %w", el.ID, err)
		}
		req.Elements = append(req.Elements, v1.Element{
			ID:         el.ID,
			Type:       string(el.Kind),
			X:          el.Box.X,
			Y:          el.Box.Y,
			Width:      el.Box.Width,
			Height:     el.Box.Height,
			Rotation:   el.Box.Rotation,
			Opacity:    el.Box.Opacity,
			LocalTime:  st.ElementTime(el),
			SourceTime: st.SourceTime(el),
			Props:      props,
		})
	}
	return req, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok && reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}

	return c.client.Do(req)
}

func checkStatus(op string, res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	var er v1.ErrorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	return &StatusError{Op: op, Status: res.StatusCode, Body: msg}
}
