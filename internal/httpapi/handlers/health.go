package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vidrender/internal/httpkit"
)

const checkTimeout = 5 * time.Second

// Health answers liveness. With ?deep=true it runs every dependency check in
// parallel and reports "degraded" if any fails; the status code stays 200 so
// orchestrators only restart on a dead process.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"service": "vidrender-api",
		"version": h.version,
	}
	if r.URL.Query().Get("deep") == "true" {
		checks := h.runChecks(r.Context())
		body["checks"] = checks
		for name, res := range checks {
			if res["status"] == "ok" {
				continue
			}
			body["status"] = "degraded"
			h.log.FromContext(r.Context()).Warn("dependency unhealthy", "check", name, "error", res["error"])
		}
	}
	httpkit.WriteJSON(w, http.StatusOK, body)
}

func (h *Handler) runChecks(ctx context.Context) map[string]map[string]any {
	var (
		mu  sync.Mutex
		g   errgroup.Group
		out = make(map[string]map[string]any, len(h.checks)+1)
	)
	for name, check := range h.checks {
		g.Go(func() error {
			res := probe(ctx, check)
			mu.Lock()
			out[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if h.sp != nil {
		out["storage"] = map[string]any{"status": "ok", "provider": h.sp.Provider()}
	}
	return out
}

// probe runs one check under checkTimeout and adds status and latency_ms to
// whatever details it returned.
func probe(ctx context.Context, check Check) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	res, err := check(ctx)
	if res == nil {
		res = map[string]any{}
	}
	res["latency_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		res["status"], res["error"] = "error", err.Error()
	} else {
		res["status"] = "ok"
	}
	return res
}
