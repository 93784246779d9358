package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"vidrender/internal/httpkit"
	"vidrender/internal/metrics"
	"vidrender/internal/pkg/errors"
	"vidrender/internal/pkg/logger"
)

func jsonLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.New(logger.Config{Level: "debug", Format: "json", Output: buf})
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) httpkit.ErrorBody {
	t.Helper()
	var env httpkit.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return env.Error
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(logger.RequestIDKey).(string)
	}))

	rec := serve(h, "GET", "/renders")
	if id := rec.Header().Get(RequestIDHeader); len(id) != 36 || id != seen {
		t.Errorf("expected generated uuid echoed and in context, header=%q ctx=%q", id, seen)
	}

	req := httptest.NewRequest("GET", "/renders", nil)
	req.Header.Set(RequestIDHeader, "client-7")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get(RequestIDHeader) != "client-7" || seen != "client-7" {
		t.Errorf("incoming id not kept: header=%q ctx=%q", rec.Header().Get(RequestIDHeader), seen)
	}
}

func TestLoggingLevelByStatus(t *testing.T) {
	for status, level := range map[int]string{200: "INFO", 302: "INFO", 409: "WARN", 502: "ERROR"} {
		var buf bytes.Buffer
		h := RequestID(Logging(jsonLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})))
		serve(h, "POST", "/renders")

		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("status %d: bad log line %q", status, buf.String())
		}
		if line["level"] != level || line["msg"] != "request completed" {
			t.Errorf("status %d: got level %v msg %v", status, line["level"], line["msg"])
		}
		if line["path"] != "/renders" || line["status"] != float64(status) || line["request_id"] == nil {
			t.Errorf("status %d: missing attrs in %v", status, line)
		}
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	h := Recovery(jsonLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("scene pointer was nil")
	}))

	rec := serve(h, "GET", "/renders/rnd_1")
	if rec.Code != http.StatusInternalServerError || decodeErr(t, rec).Code != "INTERNAL_ERROR" {
		t.Fatalf("expected 500 INTERNAL_ERROR, got %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") || !strings.Contains(buf.String(), "scene pointer was nil") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestRecoveryReraisesAbort(t *testing.T) {
	h := Recovery(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if recover() != http.ErrAbortHandler {
			t.Error("expected ErrAbortHandler to propagate")
		}
	}()
	serve(h, "GET", "/renders/rnd_1/content")
}

func TestStatusRecorder(t *testing.T) {
	rec := record(httptest.NewRecorder())
	if rec.Status() != http.StatusOK {
		t.Errorf("unwritten recorder should report 200, got %d", rec.Status())
	}
	rec.WriteHeader(http.StatusAccepted)
	rec.WriteHeader(http.StatusOK)
	_, _ = rec.Write([]byte("queued"))
	if rec.Status() != http.StatusAccepted || rec.bytes != 6 {
		t.Errorf("got status %d bytes %d", rec.Status(), rec.bytes)
	}
	if record(rec) != rec {
		t.Error("record should not double wrap")
	}

	under := httptest.NewRecorder()
	rec = record(under)
	_, _ = rec.Write([]byte("chunk"))
	rec.Flush()
	if !under.Flushed || rec.Unwrap() != under {
		t.Error("flush should reach the underlying writer")
	}
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		message   string
		wantField string
	}{
		{
			name:      "invalid scene exposes path",
			err:       errors.InvalidSceneField("elements[0].type", "unknown element type %q", "blob"),
			status:    http.StatusBadRequest,
			code:      "INVALID_SCENE",
			message:   `elements[0].type: unknown element type "blob"`,
			wantField: "elements[0].type",
		},
		{
			name:    "missing render",
			err:     errors.NotFound("render", "rnd_x"),
			status:  http.StatusNotFound,
			code:    "NOT_FOUND",
			message: "render not found: rnd_x",
		},
		{
			name:    "queue down",
			err:     errors.WrapWithCode(io.ErrClosedPipe, errors.CodeUnavailable, "queue.push", "render queue unavailable"),
			status:  http.StatusServiceUnavailable,
			code:    "UNAVAILABLE",
			message: "render queue unavailable",
		},
		{
			name:    "internal cause hidden",
			err:     errors.Wrap(io.ErrUnexpectedEOF, "jobs.get", "select failed"),
			status:  http.StatusInternalServerError,
			code:    "INTERNAL_ERROR",
			message: internalMessage,
		},
		{
			name:    "plain error",
			err:     io.ErrUnexpectedEOF,
			status:  http.StatusInternalServerError,
			code:    "INTERNAL_ERROR",
			message: internalMessage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleError(rec, httptest.NewRequest("POST", "/renders", nil), logger.Discard(), tt.err)

			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			body := decodeErr(t, rec)
			if body.Code != tt.code || body.Message != tt.message {
				t.Errorf("got %s %q", body.Code, body.Message)
			}
			if tt.wantField != "" && body.Details["field"] != tt.wantField {
				t.Errorf("expected field %q in details %v", tt.wantField, body.Details)
			}
			if strings.Contains(rec.Body.String(), "unexpected EOF") {
				t.Errorf("cause leaked: %s", rec.Body.String())
			}
		})
	}
}

func TestTimeoutSetsDeadline(t *testing.T) {
	h := Timeout(30 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); !ok {
			t.Error("expected a deadline")
		}
		<-r.Context().Done()
		w.WriteHeader(http.StatusGatewayTimeout)
	}))

	start := time.Now()
	rec := serve(h, "GET", "/scenes")
	if time.Since(start) > time.Second || rec.Code != http.StatusGatewayTimeout {
		t.Errorf("deadline not enforced: %d after %s", rec.Code, time.Since(start))
	}
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/renders/{renderId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	series := metrics.HTTPRequests.WithLabelValues("GET", "/renders/{renderId}", "204")
	before := testutil.ToFloat64(series)
	serve(r, "GET", "/renders/rnd_a")
	serve(r, "GET", "/renders/rnd_b")
	if got := testutil.ToFloat64(series) - before; got != 2 {
		t.Errorf("expected 2 requests on the route series, got %v", got)
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/renders", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			if rec.Header().Get("Retry-After") != "60" || decodeErr(t, rec).Code != "RATE_LIMITED" {
				t.Errorf("unexpected 429 response: %v %s", rec.Header(), rec.Body.String())
			}
		}
	}
	if codes[0] != 201 || codes[1] != 201 || codes[2] != 429 {
		t.Errorf("expected 201,201,429 got %v", codes)
	}
}
