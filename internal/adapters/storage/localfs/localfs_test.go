package localfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidrender/internal/ports"
)

func TestPutGetDelete(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	ctx := context.Background()

	out, err := l.PutObject(ctx, ports.PutObjectInput{
		ObjectKey: "renders/job-1/poster.png",
		Reader:    strings.NewReader("video"),
	})
	if err != nil {
		t.Fatalf("PutObject() error: %v", err)
	}
	if out.ObjectKey != "renders/job-1/poster.png" || out.Size != 5 {
		t.Errorf("unexpected output: %+v", out)
	}

	rc, ct, size, err := l.GetObject(ctx, out.ObjectKey)
	if err != nil {
		t.Fatalf("GetObject() error: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "video" || size != 5 || ct != "image/png" {
		t.Errorf("GetObject() = %q, %q, %d", body, ct, size)
	}

	entries, _ := os.ReadDir(filepath.Join(root, "renders", "job-1"))
	if len(entries) != 1 {
		t.Errorf("expected only the final file, got %d entries", len(entries))
	}

	if err := l.DeleteObject(ctx, out.ObjectKey); err != nil {
		t.Fatalf("DeleteObject() error: %v", err)
	}
	if _, _, _, err := l.GetObject(ctx, out.ObjectKey); !errors.Is(err, ports.ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound after delete, got %v", err)
	}
}

func TestPathEscapes(t *testing.T) {
	l := New(t.TempDir())
	for _, key := range []string{"", "../secret", "a/../../b", "/etc/passwd"} {
		if _, err := l.Path(key); err == nil {
			t.Errorf("Path(%q) should be rejected", key)
		}
	}
	if _, err := l.Path("a/../b.png"); err != nil {
		t.Errorf("Path() rejected a key inside root: %v", err)
	}
}

func TestPutObjectCanceled(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.PutObject(ctx, ports.PutObjectInput{ObjectKey: "x.bin", Reader: strings.NewReader("data")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "x.bin")); !os.IsNotExist(err) {
		t.Error("canceled upload must not leave the object behind")
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("pending file left behind: %v", entries)
	}
}
