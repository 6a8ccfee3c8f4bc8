package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type logger interface {
	Info(msg string, args ...any)
}

type requestRecorder interface {
	RecordHTTPRequest(method, path string, statusCode int, elapsed time.Duration)
}

// RequestLogger logs every request and, when rec is set, records it by
// route pattern.
func RequestLogger(logger logger, rec requestRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)
			elapsed := time.Since(start)
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sr.status,
				"duration_ms", elapsed.Milliseconds(),
			)
			if rec == nil {
				return
			}
			pattern := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}
			rec.RecordHTTPRequest(r.Method, pattern, sr.status, elapsed)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
