package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/metrics"
)

// RequestLog логирует каждый HTTP-запрос (method, path, время) и пишет длительность
// в handler_duration_seconds по шаблону маршрута chi.
func RequestLog(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, start)()
			next.ServeHTTP(w, r)
			op := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				op = rc.RoutePattern()
			}
			m.ObserveSince(r.Method+" "+op, start)
		})
	}
}
