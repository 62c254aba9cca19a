// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// checkTimeout bounds each readiness check.
const checkTimeout = 2 * time.Second

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Readyz returns a handler that answers 200 "ready\n" when every named
// check passes and 503 naming the first failing check otherwise.
func Readyz(logger *slog.Logger, checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		for name, check := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := check(ctx)
			cancel()
			if err != nil {
				logger.Warn("readiness check failed", "component", "health", "check", name, "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("not ready: " + name + "\n"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready\n"))
	}
}
