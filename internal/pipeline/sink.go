package pipeline

import "context"

// StreamSpec describes the video a sink is asked to produce.
type StreamSpec struct {
	Path   string
	FPS    float64
	Width  int
	Height int
	Frames int
}

// Sink opens frame writers for output videos.
type Sink interface {
	Open(ctx context.Context, spec StreamSpec) (FrameWriter, error)
}

// FrameWriter consumes frames in ascending index order. Exactly one of Commit
// or Abort is called. After Abort no file remains at the output path.
type FrameWriter interface {
	WriteFrame(f RenderedFrame) error
	Commit() error
	Abort() error
}
