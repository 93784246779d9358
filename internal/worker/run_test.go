package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"vidrender/internal/models"
	"vidrender/internal/pipeline"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/worker/queue"
)

type stubJobs struct {
	gets chan string
}

func (s *stubJobs) Get(ctx context.Context, id string) (*models.RenderJob, error) {
	s.gets <- id
	return &models.RenderJob{ID: id, Status: models.JobCanceled}, nil
}

func (s *stubJobs) MarkRunning(context.Context, string) (bool, error) { return false, nil }
func (s *stubJobs) MarkDone(context.Context, string, int, string, string, int64) error {
	return nil
}
func (s *stubJobs) MarkFailed(context.Context, string, string, string) error { return nil }
func (s *stubJobs) MarkCanceled(context.Context, string) error               { return nil }

type noInstances struct{}

func (noInstances) ForJob(string) pipeline.Factory {
	return pipeline.FactoryFunc(func(context.Context) (pipeline.Instance, error) {
		return nil, errors.New("unused")
	})
}

func TestRunPopsJobsUntilCancelled(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	q := queue.NewRedisQueue(rdb, "render_jobs")

	jobs := &stubJobs{gets: make(chan string, 1)}
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		errc <- Run(ctx, Deps{
			Jobs:        jobs,
			Queue:       q,
			Instances:   noInstances{},
			StorageRoot: t.TempDir(),
			Log:         logger.Discard(),
			PopTimeout:  time.Second,
		})
	}()

	if err := q.Push(context.Background(), "job-7"); err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-jobs.gets:
		if id != "job-7" {
			t.Errorf("processed %q, want job-7", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job was not picked up")
	}

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
