package processor

import (
	"os"
	"path/filepath"

	"vidrender/internal/pkg/logger"
	"vidrender/internal/ports"
)

// Cleanup removes a job's scratch space once the job has a final status.
type Cleanup struct {
	root string
	// dropVideo is set when the video has a remote copy and the local one
	// may go.
	dropVideo bool
	log       *logger.Logger
}

func NewCleanup(storageRoot string, cleanupLocal bool, sp ports.StorageProvider, log *logger.Logger) *Cleanup {
	remote := sp != nil && sp.Provider() != "localfs"
	return &Cleanup{root: storageRoot, dropVideo: cleanupLocal && remote, log: log}
}

// CleanupJob deletes jobs/{id} (downloaded sources) and, for remote
// providers with local cleanup on, renders/{id}.
func (c *Cleanup) CleanupJob(jobID string) {
	dirs := []string{filepath.Join(c.root, "jobs", jobID)}
	if c.dropVideo {
		dirs = append(dirs, filepath.Join(c.root, "renders", jobID))
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			c.log.Warn("cleanup failed", "path", dir, "error", err.Error())
		}
	}
}
