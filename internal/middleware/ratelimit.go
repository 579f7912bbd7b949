package middleware

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Proton-105/himera-analytics/internal/ratelimit"
	"github.com/Proton-105/himera-analytics/pkg/config"
)

// RateLimit enforces a per-client request budget on the dashboard API.
type RateLimit struct {
	limiter ratelimit.Limiter
	cfg     config.RateLimitConfig
	log     *slog.Logger
}

// NewRateLimit constructs the rate-limit middleware.
func NewRateLimit(limiter ratelimit.Limiter, cfg config.RateLimitConfig, log *slog.Logger) *RateLimit {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimit{limiter: limiter, cfg: cfg, log: log}
}

// Handle wraps next. Limiter failures let the request through.
func (m *RateLimit) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limiter == nil || !m.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		client := clientKey(r)
		result, err := m.limiter.Check(r.Context(), client, m.cfg.Limit, m.cfg.Window)
		if err != nil && !errors.Is(err, ratelimit.ErrLimitExceeded) {
			m.log.Warn("rate limiter error", slog.String("client", client), slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}

		if result != nil {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}

		if result == nil || !result.Allowed {
			m.log.Warn("rate limit exceeded", slog.String("client", client), slog.String("path", r.URL.Path))
			if result != nil {
				retry := time.Until(result.ResetAt).Round(time.Second)
				if retry < time.Second {
					retry = time.Second
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
			}
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
