// Package encoder implements the video sink on top of an ffmpeg process.
//
// Frames are piped to ffmpeg as an image2pipe stream. The output is written
// to a pending file next to the destination and renamed into place only
// after ffmpeg exits cleanly with the expected number of frames, so a failed
// or aborted job never leaves a playable partial video behind.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/renameio/v2"

	"vidrender/internal/pipeline"
	"vidrender/internal/pkg/errors"
	"vidrender/internal/pkg/logger"
)

const stderrTail = 4 << 10

// Config configures the ffmpeg invocation.
type Config struct {
	// BinPath is the ffmpeg executable (default "ffmpeg").
	BinPath string
	// Codec overrides the codec chosen from the output extension.
	Codec string
	// CRF is the constant rate factor for x264/vp9 (0 keeps the codec default).
	CRF int
	// Preset is passed as -preset to x264.
	Preset string
	// ExtraArgs are appended before the output path.
	ExtraArgs []string
}

// FFmpeg is a pipeline.Sink that encodes frames with ffmpeg.
type FFmpeg struct {
	cfg Config
	log *logger.Logger
}

// New creates an ffmpeg sink.
func New(cfg Config, log *logger.Logger) *FFmpeg {
	if cfg.BinPath == "" {
		cfg.BinPath = "ffmpeg"
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &FFmpeg{cfg: cfg, log: log.WithComponent("encoder")}
}

// Version runs ffmpeg -version and returns its first line.
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, f.cfg.BinPath, "-hide_banner", "-version").Output() // #nosec G204
	if err != nil {
		return "", errors.Wrap(err, "encoder.version", "ffmpeg is not available")
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// Open starts ffmpeg for one output video.
func (f *FFmpeg) Open(ctx context.Context, spec pipeline.StreamSpec) (pipeline.FrameWriter, error) {
	if strings.TrimSpace(spec.Path) == "" {
		return nil, errors.ValidationField("out", "output path is required")
	}
	if !(spec.FPS > 0) || spec.Frames <= 0 {
		return nil, errors.Newf(errors.CodeValidation, "invalid stream: fps=%g frames=%d", spec.FPS, spec.Frames)
	}

	dir := filepath.Dir(spec.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Encode(err)
	}

	pending, err := renameio.NewPendingFile(spec.Path,
		renameio.WithTempDir(dir),
		renameio.WithPermissions(0o644),
	)
	if err != nil {
		return nil, errors.Encode(fmt.Errorf("create pending output: %w", err))
	}

	args := f.buildArgs(spec, pending.Name())
	cmd := exec.CommandContext(ctx, f.cfg.BinPath, args...) // #nosec G204
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = pending.Cleanup()
		return nil, errors.Encode(err)
	}
	if err := cmd.Start(); err != nil {
		_ = pending.Cleanup()
		return nil, errors.Encode(fmt.Errorf("ffmpeg start failed: %w", err))
	}

	f.log.Debug("ffmpeg started",
		"pid", cmd.Process.Pid,
		"out", spec.Path,
		"frames", spec.Frames,
		"fps", spec.FPS,
	)

	return &writer{
		spec:    spec,
		cmd:     cmd,
		stdin:   stdin,
		stderr:  stderr,
		pending: pending,
		log:     f.log,
	}, nil
}

func (f *FFmpeg) buildArgs(spec pipeline.StreamSpec, out string) []string {
	muxer := muxerFor(spec.Path)
	rate := strconv.FormatFloat(spec.FPS, 'f', -1, 64)

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "image2pipe",
		"-framerate", rate,
		"-i", "-",
		"-frames:v", strconv.Itoa(spec.Frames),
		"-r", rate,
	}

	codec := f.cfg.Codec
	if codec == "" {
		codec = codecFor(muxer)
	}
	args = append(args, "-c:v", codec)

	switch codec {
	case "libx264", "libx265":
		// yuv420p needs even dimensions.
		args = append(args, "-pix_fmt", "yuv420p", "-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2")
		if f.cfg.Preset != "" {
			args = append(args, "-preset", f.cfg.Preset)
		}
		if f.cfg.CRF > 0 {
			args = append(args, "-crf", strconv.Itoa(f.cfg.CRF))
		}
	case "libvpx-vp9":
		args = append(args, "-pix_fmt", "yuv420p", "-b:v", "0")
		if f.cfg.CRF > 0 {
			args = append(args, "-crf", strconv.Itoa(f.cfg.CRF))
		}
	}
	if muxer == "mp4" || muxer == "mov" {
		args = append(args, "-movflags", "+faststart")
	}

	args = append(args, f.cfg.ExtraArgs...)
	return append(args, "-f", muxer, out)
}

// muxerFor picks the container from the output extension. The pending file
// has a random suffix, so the format is always passed explicitly.
func muxerFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mov":
		return "mov"
	case ".webm":
		return "webm"
	case ".mkv":
		return "matroska"
	case ".gif":
		return "gif"
	default:
		return "mp4"
	}
}

func codecFor(muxer string) string {
	switch muxer {
	case "webm":
		return "libvpx-vp9"
	case "gif":
		return "gif"
	default:
		return "libx264"
	}
}

type writer struct {
	mu      sync.Mutex
	spec    pipeline.StreamSpec
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *tailBuffer
	pending *renameio.PendingFile
	log     *logger.Logger
	written int
	done    bool
}

func (w *writer) WriteFrame(f pipeline.RenderedFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return errors.New(errors.CodeEncode, "writer already closed")
	}
	if f.Index != w.written {
		return errors.Newf(errors.CodeEncode, "frame %d written out of order, expected %d", f.Index, w.written)
	}
	if _, err := w.stdin.Write(f.Data); err != nil {
		return w.failure(fmt.Errorf("write frame %d: %w", f.Index, err))
	}
	w.written++
	return nil
}

func (w *writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return errors.New(errors.CodeEncode, "writer already closed")
	}
	if w.written != w.spec.Frames {
		_ = w.abortLocked()
		return errors.Encode(fmt.Errorf("wrote %d of %d frames", w.written, w.spec.Frames))
	}

	w.done = true
	_ = w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		_ = w.pending.Cleanup()
		return w.failure(fmt.Errorf("ffmpeg exited: %w", err))
	}
	if err := w.pending.CloseAtomicallyReplace(); err != nil {
		_ = w.pending.Cleanup()
		return errors.Encode(fmt.Errorf("atomically replace output: %w", err))
	}

	w.log.Info("video written",
		"out", w.spec.Path,
		"frames", w.written,
	)
	return nil
}

func (w *writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	return w.abortLocked()
}

func (w *writer) abortLocked() error {
	w.done = true
	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.cmd.Wait()
	if err := w.pending.Cleanup(); err != nil {
		return errors.Wrap(err, "encoder.abort", "remove pending output")
	}
	w.log.Debug("partial output removed", "out", w.spec.Path, "frames_written", w.written)
	return nil
}

func (w *writer) failure(err error) error {
	e := errors.Encode(err)
	if tail := strings.TrimSpace(w.stderr.String()); tail != "" {
		e.WithField("stderr", tail)
	}
	return e
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
