package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Proton-105/himera-analytics/pkg/metrics"
)

// Metrics reports request counts and latency per route pattern to Prometheus.
// Mount it on the chi router so the pattern is known once the handler returns.
func Metrics(next http.Handler) http.Handler {
	if next == nil {
		return nil
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec, ok := w.(*statusRecorder)
		if !ok {
			rec = &statusRecorder{ResponseWriter: w}
		}

		next.ServeHTTP(rec, r)

		metrics.RecordHTTPRequest(routePattern(r), rec.code(), time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
