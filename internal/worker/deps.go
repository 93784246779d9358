package worker

import (
	"time"

	"vidrender/internal/pipeline"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/ports"
	"vidrender/internal/worker/processor"
	"vidrender/internal/worker/queue"
)

type Deps struct {
	Jobs      processor.JobStore
	Queue     *queue.RedisQueue
	Instances processor.InstanceSource
	Sink      pipeline.Sink
	Observer  pipeline.Observer

	Defaults     pipeline.Config
	MaxParallel  int
	StorageRoot  string
	CleanupLocal bool
	SP           ports.StorageProvider
	Log          *logger.Logger

	// PopTimeout bounds one BRPOP so shutdown is noticed promptly.
	PopTimeout time.Duration
}
