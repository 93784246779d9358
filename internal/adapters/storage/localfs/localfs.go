// Package localfs keeps objects as files under one root directory.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"vidrender/internal/ports"
)

const sniffLen = 512

// LocalFS is a ports.StorageProvider on a directory. Object keys are
// slash separated paths relative to the root; objects appear atomically.
type LocalFS struct {
	root string
}

func New(root string) *LocalFS { return &LocalFS{root: root} }

func (l *LocalFS) Provider() string { return "localfs" }

// Path maps a key to its file, rejecting keys that leave the root.
func (l *LocalFS) Path(objectKey string) (string, error) {
	rel := filepath.FromSlash(objectKey)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("localfs: invalid object key %q", objectKey)
	}
	return filepath.Join(l.root, rel), nil
}

func (l *LocalFS) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	dst, err := l.Path(in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ports.PutObjectOutput{}, err
	}

	pending, err := renameio.NewPendingFile(dst, renameio.WithTempDir(dir), renameio.WithPermissions(0o644))
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	defer func() { _ = pending.Cleanup() }()

	n, err := io.Copy(pending, readerFunc(func(p []byte) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return in.Reader.Read(p)
	}))
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return ports.PutObjectOutput{}, err
	}
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: n}, nil
}

func (l *LocalFS) GetObject(_ context.Context, objectKey string) (io.ReadCloser, string, int64, error) {
	p, err := l.Path(objectKey)
	if err != nil {
		return nil, "", 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, "", 0, notFound(err)
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	return f, contentType(f, p), size, nil
}

func (l *LocalFS) DeleteObject(_ context.Context, objectKey string) error {
	p, err := l.Path(objectKey)
	if err != nil {
		return err
	}
	return notFound(os.Remove(p))
}

// GetSignedURL cannot sign anything locally; the empty URL tells the API to
// stream the object itself.
func (l *LocalFS) GetSignedURL(_ context.Context, _ string, expiresIn time.Duration) (ports.SignedURLOutput, error) {
	return ports.SignedURLOutput{ExpiresAt: time.Now().UTC().Add(expiresIn)}, nil
}

// contentType goes by extension and falls back to sniffing the head of f,
// which is rewound afterwards.
func contentType(f *os.File, name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	head := make([]byte, sniffLen)
	n, _ := io.ReadFull(f, head)
	_, _ = f.Seek(0, io.SeekStart)
	return http.DetectContentType(head[:n])
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ports.ErrObjectNotFound, err)
	}
	return err
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
