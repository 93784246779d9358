// Command api serves the render HTTP API: scene validation and storage,
// render submission, status, cancellation and video download.
package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"vidrender/internal/httpapi"
	"vidrender/internal/httpapi/handlers"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/pkg/shutdown"
	"vidrender/internal/repositories"
	"vidrender/internal/storage"
	"vidrender/internal/worker/queue"
	"vidrender/internal/worker/util"
)

var version = "dev"

type config struct {
	addr        string
	databaseURL string
	redisAddr   string
	queueName   string

	maxFrames      int
	maxParallel    int
	maxUploadBytes int64
	origins        []string
	requestTimeout time.Duration
	renderRate     int
	stopTimeout    time.Duration
}

func loadConfig(log *logger.Logger) config {
	required := func(key string) string {
		v := util.Env(key, "")
		if v == "" {
			log.LogFatal("missing required environment variable", nil, "key", key)
		}
		return v
	}
	return config{
		addr:           "0.0.0.0:" + util.Env("HTTP_PORT", "8080"),
		databaseURL:    required("DATABASE_URL"),
		redisAddr:      required("REDIS_ADDR"),
		queueName:      util.Env("JOB_QUEUE_NAME", "vidrender:jobs"),
		maxFrames:      util.IntEnv("MAX_FRAMES", 0),
		maxParallel:    util.IntEnv("MAX_PARALLEL", 16),
		maxUploadBytes: int64(util.IntEnv("MAX_UPLOAD_MB", 512)) << 20,
		origins:        util.CSVEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		requestTimeout: util.DurationEnv("REQUEST_TIMEOUT", 30*time.Second),
		renderRate:     util.IntEnv("RENDER_RATE_LIMIT", 30),
		stopTimeout:    util.DurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func main() {
	log := logger.New(logger.Config{
		Level:       util.Env("LOG_LEVEL", "info"),
		Format:      util.Env("LOG_FORMAT", "json"),
		ServiceName: "vidrender-api",
		AddSource:   util.BoolEnv("LOG_SOURCE", false),
	})
	cfg := loadConfig(log)
	log.Info("starting", "version", version, "addr", cfg.addr)

	ctx := context.Background()
	stopper := shutdown.NewManager(log, cfg.stopTimeout)

	pool, err := pgxpool.New(ctx, cfg.databaseURL)
	if err != nil {
		log.LogFatal("postgres config invalid", err)
	}
	stopper.RegisterSimple("postgres", pool.Close)
	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("postgres unreachable", err)
	}
	if err := repositories.EnsureSchema(ctx, pool); err != nil {
		log.LogFatal("schema migration failed", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
	stopper.Register("redis", func(context.Context) error { return rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("redis unreachable", err)
	}

	sp, err := storage.NewProvider(ctx, storage.ConfigFromEnv())
	if err != nil {
		log.LogFatal("storage provider unavailable", err)
	}
	log.Info("dependencies ready", "storage", sp.Provider(), "queue", cfg.queueName)

	router := httpapi.NewRouter(httpapi.Deps{
		Handlers: handlers.Deps{
			Jobs:           repositories.NewJobRepository(pool),
			Scenes:         repositories.NewSceneRepository(pool),
			Queue:          queue.NewRedisQueue(rdb, cfg.queueName),
			SP:             sp,
			Checks:         healthChecks(pool, rdb, cfg.queueName),
			MaxFrames:      cfg.maxFrames,
			MaxParallel:    cfg.maxParallel,
			MaxUploadBytes: cfg.maxUploadBytes,
			Version:        version,
		},
		Log:             log,
		AllowedOrigins:  cfg.origins,
		RequestTimeout:  cfg.requestTimeout,
		RenderRateLimit: cfg.renderRate,
	})

	server := &http.Server{
		Addr:              cfg.addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Registered last so it stops first and in-flight requests finish
	// while the pool and redis are still open.
	stopper.Register("http-server", server.Shutdown)

	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.LogFatal("http server failed", err)
		}
	}()

	if err := stopper.Wait(ctx); err != nil {
		log.Error("shutdown finished with errors", "error", err)
	}
}

// healthChecks backs GET /health?deep=true.
func healthChecks(pool *pgxpool.Pool, rdb *redis.Client, queueName string) map[string]handlers.Check {
	return map[string]handlers.Check{
		"postgres": func(ctx context.Context) (map[string]any, error) {
			st := pool.Stat()
			return map[string]any{"total_conns": st.TotalConns(), "idle_conns": st.IdleConns()}, pool.Ping(ctx)
		},
		"redis": func(ctx context.Context) (map[string]any, error) {
			depth, err := rdb.LLen(ctx, queueName).Result()
			return map[string]any{"queue_depth": depth}, err
		},
	}
}
