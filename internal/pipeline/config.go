package pipeline

import (
	"math"
	"strings"
	"time"

	"vidrender/internal/pkg/errors"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultParallel          = 1
	DefaultRenderAttempts    = 3
	DefaultProvisionAttempts = 3
	DefaultProvisionBackoff  = 500 * time.Millisecond
	DefaultProvisionMaxWait  = 10 * time.Second
	DefaultRenderTimeout     = 2 * time.Minute
	DefaultShutdownTimeout   = 30 * time.Second
)

// Config holds the options of one render job.
type Config struct {
	// Out is the destination path of the video file.
	Out string `json:"out" mapstructure:"out"`
	// Parallel is the maximum number of concurrent renderer instances.
	Parallel int `json:"parallel" mapstructure:"parallel"`
	// FPS overrides the scene frame rate when > 0.
	FPS float64 `json:"fps" mapstructure:"fps"`

	RenderAttempts    int           `json:"render_attempts" mapstructure:"render_attempts"`
	ProvisionAttempts int           `json:"provision_attempts" mapstructure:"provision_attempts"`
	ProvisionBackoff  time.Duration `json:"provision_backoff" mapstructure:"provision_backoff"`
	ProvisionMaxWait  time.Duration `json:"provision_max_wait" mapstructure:"provision_max_wait"`
	// RenderTimeout bounds a single render call, including renders left
	// in flight by a cancellation.
	RenderTimeout   time.Duration `json:"render_timeout" mapstructure:"render_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.Parallel == 0 {
		c.Parallel = DefaultParallel
	}
	if c.RenderAttempts == 0 {
		c.RenderAttempts = DefaultRenderAttempts
	}
	if c.ProvisionAttempts == 0 {
		c.ProvisionAttempts = DefaultProvisionAttempts
	}
	if c.ProvisionBackoff == 0 {
		c.ProvisionBackoff = DefaultProvisionBackoff
	}
	if c.ProvisionMaxWait == 0 {
		c.ProvisionMaxWait = DefaultProvisionMaxWait
	}
	if c.RenderTimeout == 0 {
		c.RenderTimeout = DefaultRenderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Out) == "":
		return errors.ValidationField("out", "out is required")
	case c.Parallel < 1:
		return errors.ValidationField("parallel", "parallel must be >= 1")
	case c.FPS < 0 || math.IsNaN(c.FPS) || math.IsInf(c.FPS, 0):
		return errors.ValidationField("fps", "fps must be a positive number")
	case c.RenderAttempts < 1:
		return errors.ValidationField("render_attempts", "render_attempts must be >= 1")
	case c.ProvisionAttempts < 1:
		return errors.ValidationField("provision_attempts", "provision_attempts must be >= 1")
	case c.ProvisionBackoff < 0 || c.ProvisionMaxWait < 0:
		return errors.ValidationField("provision_backoff", "provision backoff must not be negative")
	case c.RenderTimeout < 0:
		return errors.ValidationField("render_timeout", "render_timeout must not be negative")
	}
	return nil
}
