package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"vidrender/internal/encoder"
	"vidrender/internal/metrics"
	"vidrender/internal/pipeline"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/pkg/shutdown"
	"vidrender/internal/repositories"
	"vidrender/internal/storage"
	"vidrender/internal/worker"
	"vidrender/internal/worker/queue"
	"vidrender/internal/worker/renderer"
	"vidrender/internal/worker/util"
)

func main() {
	log := logger.New(logger.Config{
		Level:       util.Env("LOG_LEVEL", "info"),
		Format:      util.Env("LOG_FORMAT", "json"),
		ServiceName: "vidrender-worker",
		AddSource:   util.BoolEnv("LOG_SOURCE", false),
	})

	dbURL := mustEnv(log, "DATABASE_URL")
	redisAddr := mustEnv(log, "REDIS_ADDR")
	rendererBaseURL := mustEnv(log, "RENDERER_HTTP_BASEURL")
	storageRoot := util.Env("STORAGE_LOCAL_ROOT", "/data")
	queueName := util.Env("JOB_QUEUE_NAME", "vidrender:jobs")
	metricsAddr := util.Env("METRICS_ADDR", ":9090")

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	shutdownMgr := shutdown.NewManager(log, util.DurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second))

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	shutdownMgr.RegisterSimple("postgres", pool.Close)
	if err := repositories.EnsureSchema(ctx, pool); err != nil {
		log.LogFatal("failed to ensure schema", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})

	storageCfg := storage.ConfigFromEnv()
	if storageCfg.LocalRoot == "" {
		storageCfg.LocalRoot = storageRoot
	}
	sp, err := storage.NewProvider(ctx, storageCfg)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}

	ffmpeg := encoder.New(encoder.Config{
		BinPath: util.Env("FFMPEG_BIN", "ffmpeg"),
		Codec:   util.Env("FFMPEG_CODEC", ""),
		CRF:     util.IntEnv("FFMPEG_CRF", 0),
		Preset:  util.Env("FFMPEG_PRESET", ""),
	}, log)
	ffVersion, err := ffmpeg.Version(ctx)
	if err != nil {
		log.LogFatal("ffmpeg check failed", err)
	}

	renderers := renderer.NewHTTPClient(renderer.Options{
		BaseURL: rendererBaseURL,
		APIKey:  util.Env("RENDERER_API_KEY", ""),
		Format:  util.Env("RENDERER_FORMAT", ""),
		Timeout: util.DurationEnv("RENDERER_TIMEOUT", 2*time.Minute),
	}, log)
	if err := renderers.Health(ctx); err != nil {
		// Instances are provisioned with retries; the service may come up later.
		log.Warn("renderer health check failed", "error", err)
	}

	metricsSrv := &http.Server{
		Addr:              metricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdownMgr.Register("metrics-server", metricsSrv.Shutdown)
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	log.Info("vidrender worker started",
		"queue", queueName,
		"storage", sp.Provider(),
		"ffmpeg", ffVersion,
		"metrics_addr", metricsAddr,
	)

	err = worker.Run(ctx, worker.Deps{
		Jobs:      repositories.NewJobRepository(pool),
		Queue:     queue.NewRedisQueue(rdb, queueName),
		Instances: renderers,
		Sink:      ffmpeg,
		Observer:  metrics.RenderObserver{},
		Defaults: pipeline.Config{
			Parallel:          util.IntEnv("DEFAULT_PARALLEL", 4),
			RenderAttempts:    util.IntEnv("RENDER_ATTEMPTS", pipeline.DefaultRenderAttempts),
			ProvisionAttempts: util.IntEnv("PROVISION_ATTEMPTS", pipeline.DefaultProvisionAttempts),
			ProvisionBackoff:  util.DurationEnv("PROVISION_BACKOFF", pipeline.DefaultProvisionBackoff),
			ProvisionMaxWait:  util.DurationEnv("PROVISION_MAX_WAIT", pipeline.DefaultProvisionMaxWait),
			RenderTimeout:     util.DurationEnv("RENDER_TIMEOUT", pipeline.DefaultRenderTimeout),
			ShutdownTimeout:   util.DurationEnv("PIPELINE_SHUTDOWN_TIMEOUT", pipeline.DefaultShutdownTimeout),
		},
		MaxParallel:  util.IntEnv("MAX_PARALLEL", 16),
		StorageRoot:  storageRoot,
		CleanupLocal: util.BoolEnv("CLEANUP_LOCAL", true),
		SP:           sp,
		Log:          log,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", "error", err)
	}

	if err := shutdownMgr.Shutdown(); err != nil {
		log.Error("shutdown finished with errors", "error", err)
	}
}

func mustEnv(log *logger.Logger, key string) string {
	v := util.Env(key, "")
	if v == "" {
		log.LogFatal("missing required environment variable", nil, "key", key)
	}
	return v
}
