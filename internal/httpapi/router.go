// Package httpapi assembles the render API.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vidrender/internal/httpapi/handlers"
	"vidrender/internal/httpkit"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/pkg/middleware"
)

type Deps struct {
	Handlers handlers.Deps
	Log      *logger.Logger

	AllowedOrigins []string
	// RequestTimeout bounds every route except content streaming.
	RequestTimeout time.Duration
	// RenderRateLimit is the number of POST /renders allowed per minute
	// per client IP (0 disables the limit).
	RenderRateLimit int
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	if d.Handlers.Log == nil {
		d.Handlers.Log = log
	}
	if d.RequestTimeout == 0 {
		d.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Metrics)
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	h := handlers.New(d.Handlers)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Streams can outlive the request timeout.
	r.Get("/renders/{renderId}/content", h.StreamRender)
	r.Get("/assets/*", h.StreamAsset)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(d.RequestTimeout))

		r.Get("/health", h.Health)

		// ---- RENDERS ----
		r.With(rateLimit(d.RenderRateLimit)...).Post("/renders", h.PostRender)
		r.Get("/renders", h.ListRenders)
		r.Get("/renders/{renderId}", h.GetRender)
		r.Post("/renders/{renderId}/cancel", h.CancelRender)

		// ---- SCENES ----
		r.Post("/scenes", h.PostScene)
		r.Get("/scenes", h.ListScenes)
		r.Get("/scenes/{sceneId}", h.GetScene)
		r.Delete("/scenes/{sceneId}", h.DeleteScene)

		// ---- ASSETS ----
		r.Post("/assets", h.PostAsset)
		r.Delete("/assets/*", h.DeleteAsset)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpkit.WriteErr(w, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	return r
}

func rateLimit(perMinute int) []func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return nil
	}
	return []func(http.Handler) http.Handler{middleware.RateLimit(perMinute, time.Minute)}
}
