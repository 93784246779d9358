package processor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"vidrender/internal/ports"
	"vidrender/internal/scene"
)

// StorageScheme prefixes scene sources that live in the storage provider.
const StorageScheme = "storage:"

type InputHandler struct {
	sp          ports.ObjectReader
	storageRoot string
}

func NewInputHandler(sp ports.ObjectReader, storageRoot string) *InputHandler {
	return &InputHandler{
		sp:          sp,
		storageRoot: storageRoot,
	}
}

// InputsDir is where a job's sources are downloaded to.
func (ih *InputHandler) InputsDir(jobID string) string {
	return filepath.Join(ih.storageRoot, "jobs", jobID, "inputs")
}

// Materialize downloads every "storage:" source of the scene and returns a
// copy whose sources point at the local files. Other sources are kept.
func (ih *InputHandler) Materialize(ctx context.Context, jobID string, sc *scene.Scene) (*scene.Scene, int, error) {
	baseDir := ih.InputsDir(jobID)
	local := make(map[string]string)

	out, err := sc.MapSources(func(src string) (string, error) {
		key, ok := strings.CutPrefix(src, StorageScheme)
		if !ok {
			return src, nil
		}
		if p, done := local[key]; done {
			return p, nil
		}
		if ih.sp == nil {
			return "", fmt.Errorf("source %q needs a storage provider", src)
		}
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create inputs directory: %w", err)
		}
		p, err := ih.materializeInput(ctx, baseDir, len(local), key)
		if err != nil {
			return "", err
		}
		local[key] = p
		return p, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, len(local), nil
}

func (ih *InputHandler) materializeInput(ctx context.Context, baseDir string, n int, objectKey string) (string, error) {
	rc, mime, _, err := ih.sp.GetObject(ctx, objectKey)
	if err != nil {
		return "", fmt.Errorf("download input failed object_key=%s: %w", objectKey, err)
	}
	defer rc.Close()

	name := SanitizeFilename(path.Base(objectKey))
	if filepath.Ext(name) == "" {
		name += ExtFromMime(mime)
	}
	// Prefix with the ordinal so equal base names from different keys do
	// not collide.
	localPath := filepath.Join(baseDir, fmt.Sprintf("%02d_%s", n, name))

	if err := saveToLocal(localPath, rc); err != nil {
		return "", fmt.Errorf("failed to save input locally object_key=%s: %w", objectKey, err)
	}
	return localPath, nil
}

func saveToLocal(localPath string, rc io.Reader) error {
	pf, err := renameio.NewPendingFile(localPath, renameio.WithTempDir(filepath.Dir(localPath)))
	if err != nil {
		return err
	}
	defer pf.Cleanup()

	if _, err := io.Copy(pf, rc); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}
