package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"vidrender/internal/ports"
)

type OutputHandler struct {
	sp          ports.StorageProvider
	storageRoot string
}

func NewOutputHandler(sp ports.StorageProvider, storageRoot string) *OutputHandler {
	return &OutputHandler{
		sp:          sp,
		storageRoot: storageRoot,
	}
}

// LocalPath is where the pipeline writes a job's video.
func (oh *OutputHandler) LocalPath(jobID, name string) string {
	return filepath.Join(oh.storageRoot, filepath.FromSlash(OutputKey(jobID, name)))
}

// OutputResult is where a video ended up.
type OutputResult struct {
	ObjectKey string
	Provider  string
	Size      int64
}

// Store uploads the rendered video. When the provider already keeps objects
// at the local output path the upload is skipped.
func (oh *OutputHandler) Store(ctx context.Context, jobID, name string) (*OutputResult, error) {
	localPath := oh.LocalPath(jobID, name)
	key := OutputKey(jobID, name)

	st, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("output file not found: %w", err)
	}

	if oh.storedInPlace(key, localPath) {
		return &OutputResult{ObjectKey: key, Provider: oh.sp.Provider(), Size: st.Size()}, nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open output: %w", err)
	}
	defer f.Close()

	up, err := oh.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: ContentTypeForName(name),
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload output: %w", err)
	}

	return &OutputResult{ObjectKey: up.ObjectKey, Provider: oh.sp.Provider(), Size: up.Size}, nil
}

type localPather interface {
	Path(objectKey string) (string, error)
}

func (oh *OutputHandler) storedInPlace(key, localPath string) bool {
	lp, ok := oh.sp.(localPather)
	if !ok {
		return false
	}
	p, err := lp.Path(key)
	if err != nil {
		return false
	}
	a, errA := filepath.Abs(p)
	b, errB := filepath.Abs(localPath)
	return errA == nil && errB == nil && a == b
}
