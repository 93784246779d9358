// Package pipeline turns a parsed scene into an encoded video by rendering
// frames on a bounded pool of renderer instances in parallel and emitting
// them to a sink in strict ascending order.
//
// The pieces are:
//
//   - Pool leases renderer instances, provisioning them lazily up to the
//     configured parallelism.
//   - the scheduler runs one worker loop per slot over a work queue ordered
//     by frame index and retries failed frames on fresh instances.
//   - Assembler is the reorder buffer between out-of-order completion and the
//     in-order Sink.
//   - Pipeline wires them together for one job and owns teardown.
package pipeline

import (
	"context"

	"vidrender/internal/scene"
)

// Instance is a provisioned renderer able to draw one frame at a time.
type Instance interface {
	// Render draws the given frame state and returns the encoded image.
	Render(ctx context.Context, state scene.FrameState) ([]byte, error)
	// Close releases the renderer.
	Close() error
}

// Factory provisions renderer instances. It may be slow and may fail; the
// pool calls it at most once per free slot.
type Factory interface {
	NewInstance(ctx context.Context) (Instance, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Instance, error)

// NewInstance calls f(ctx).
func (f FactoryFunc) NewInstance(ctx context.Context) (Instance, error) {
	return f(ctx)
}

// PermanentError marks a provisioning failure that retrying cannot fix,
// such as a rejected credential.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the scheduler does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RenderedFrame is the output of one successful frame task.
type RenderedFrame struct {
	Index int
	Data  []byte
}
