// Package api serves the JSON control surface of the simulator.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/auth"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/health"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/metrics"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/session"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/setup"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/store"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/stream"
)

// RunLister reads the run history.
type RunLister interface {
	ListRuns(ctx context.Context, sessionID string, limit int) ([]store.Run, error)
}

// Deps are the components the control surface drives.
type Deps struct {
	Registry *session.Registry
	Setup    *setup.Store
	// Runs is nil when no run history is configured.
	Runs   RunLister
	Stream *stream.Handler
	// Ready holds the readiness checks served on /readyz.
	Ready map[string]health.Check
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	h := &handlers{
		registry: deps.Registry,
		setup:    deps.Setup,
		runs:     deps.Runs,
		logger:   logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(logger, deps.Ready))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/constants", h.constants)
	mux.HandleFunc("GET /api/v1/setup", h.getSetup)
	mux.HandleFunc("PUT /api/v1/setup", h.putSetup)
	mux.HandleFunc("GET /api/v1/runs", h.listRuns)

	mux.HandleFunc("POST /api/v1/sessions", h.createSession)
	mux.HandleFunc("GET /api/v1/sessions", h.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.getSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.deleteSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/reset", h.resetSession)

	mux.HandleFunc("POST /api/v1/sessions/{id}/stage/next", h.nextStage)
	mux.HandleFunc("POST /api/v1/sessions/{id}/stage/back", h.backStage)

	mux.HandleFunc("GET /api/v1/sessions/{id}/geometry", h.getGeometry)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/geometry", h.putGeometry)
	mux.HandleFunc("GET /api/v1/sessions/{id}/export", h.export)

	mux.HandleFunc("GET /api/v1/sessions/{id}/calibration", h.getCalibration)
	mux.HandleFunc("POST /api/v1/sessions/{id}/calibration/points", h.addPoint)
	mux.HandleFunc("POST /api/v1/sessions/{id}/calibration/adjust", h.adjustPoint)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/calibration/points/last", h.removeLastPoint)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/calibration/points", h.clearPoints)

	mux.HandleFunc("GET /api/v1/sessions/{id}/velocity", h.getVelocity)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/velocity/override", h.setOverride)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/velocity/override", h.clearOverride)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/velocity/stripes/{stripe}", h.setStripe)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/velocity/stripes/{stripe}", h.clearStripe)
	mux.HandleFunc("POST /api/v1/sessions/{id}/velocity/stripes/{stripe}/timer/start", h.startTimer)
	mux.HandleFunc("POST /api/v1/sessions/{id}/velocity/stripes/{stripe}/timer/stop", h.stopTimer)

	mux.HandleFunc("GET /api/v1/sessions/{id}/simulation", h.getSimulation)
	mux.HandleFunc("POST /api/v1/sessions/{id}/simulation/start", h.startSimulation)
	mux.HandleFunc("POST /api/v1/sessions/{id}/simulation/pause", h.pauseSimulation)
	mux.HandleFunc("POST /api/v1/sessions/{id}/simulation/reset", h.resetSimulation)
	mux.HandleFunc("POST /api/v1/sessions/{id}/simulation/seek", h.seekSimulation)

	mux.HandleFunc("GET /api/v1/sessions/{id}/render", h.render)
	mux.HandleFunc("GET /api/v1/sessions/{id}/alerts", h.alerts)
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/sessions/{id}/stream", deps.Stream.HandleSession)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the logging middleware.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
