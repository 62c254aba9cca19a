// Package stream implements Server-Sent Events (SSE) streaming of a
// session's render frames and countdown alerts. Clients connect via
// GET /api/v1/sessions/{id}/stream.
//
// SSE message format:
//
//	data: {"type":"frame","frame":{...}}\n\n
//	id: 7\ndata: {"type":"alert","alert":{"seq":7,"threshold_s":10,...}}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","session_id":"...","stage":"measure","last_alert_seq":6}\n\n
//
// Alerts carry their sequence number as the SSE event id, so a reconnecting
// client resumes after Last-Event-ID. Keep-alive comments (:\n\n) are sent
// every KeepaliveInterval. Disconnecting never affects the session.
package stream

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/httputil"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/metrics"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/session"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/simulation"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           `env:"MAX_PER_IP" envDefault:"10"`
	FrameInterval      time.Duration `env:"FRAME_INTERVAL" envDefault:"100ms"`
	KeepaliveInterval  time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"30s"`
	TrustProxy         bool
}

// DefaultConfig returns the streaming defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		FrameInterval:      100 * time.Millisecond,
		KeepaliveInterval:  30 * time.Second,
	}
}

// Validate checks the streaming limits and intervals.
func (c Config) Validate() error {
	if c.MaxConcurrentPerIP < 1 {
		return fmt.Errorf("stream max per IP must be >= 1, got %d", c.MaxConcurrentPerIP)
	}
	if c.FrameInterval < 10*time.Millisecond {
		return fmt.Errorf("stream frame interval must be >= 10ms, got %s", c.FrameInterval)
	}
	if c.KeepaliveInterval < time.Second {
		return fmt.Errorf("stream keepalive interval must be >= 1s, got %s", c.KeepaliveInterval)
	}
	return nil
}

// Sessions looks up live sessions by ID.
type Sessions interface {
	Get(id string) (*session.Session, error)
}

// Handler manages SSE streaming connections.
type Handler struct {
	sessions Sessions
	config   Config
	limiter  *streamLimiter
	logger   *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(sessions Sessions, config Config, logger *slog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		config:   config,
		limiter:  newStreamLimiter(config.MaxConcurrentPerIP),
		logger:   logger,
	}
}

// HandleSession serves the SSE stream of one session.
// GET /api/v1/sessions/{id}/stream
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, err := h.sessions.Get(id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	after, err := resumeFrom(r, s)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// Rate limiting: enforce concurrent stream limit per IP.
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"component", "stream",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorBody{Error: "too many concurrent streams"})
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"component", "stream",
		"session_id", id,
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
	)

	var c *client
	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		attrs := []any{
			"component", "stream",
			"session_id", id,
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		}
		if c != nil {
			attrs = append(attrs, "messages", c.messagesSent, "bytes", c.bytesSent)
		}
		h.logger.Info("stream disconnected", attrs...)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorBody{Error: "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c = &client{
		w:       w,
		flusher: flusher,
		rc:      rc,
		ip:      ip,
		logger:  h.logger,
	}

	// Jittered retry interval (3-7s) spreads reconnects after a restart.
	if err := c.sendRetry(3000 + rand.Intn(4000)); err != nil {
		return
	}

	sum := s.Summary()
	meta := metadataMessage{
		Type:         "metadata",
		SessionID:    sum.ID,
		Stage:        sum.Stage.String(),
		Created:      sum.Created.UTC().Format(time.RFC3339),
		LastAlertSeq: after,
	}
	if err := c.sendJSON("", meta); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	frameTicker := time.NewTicker(h.config.FrameInterval)
	defer frameTicker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-frameTicker.C:
			// A deleted session ends the stream.
			if _, err := h.sessions.Get(id); err != nil {
				_ = c.sendJSON("", closedMessage{Type: "closed", SessionID: id})
				return
			}

			for _, a := range s.AlertsAfter(after) {
				if err := c.sendJSON(strconv.FormatUint(a.Seq, 10), alertMessage{Type: "alert", Alert: a}); err != nil {
					metrics.IncStreamErrors("send_error")
					h.logger.Warn("stream send error (alert)", "remote_ip", ip, "error", err)
					return
				}
				after = a.Seq
			}

			if err := c.sendJSON("", frameMessage{Type: "frame", Frame: s.Render()}); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// resumeFrom returns the alert sequence number to stream after: the
// Last-Event-ID header or ?after= query when present, otherwise the newest
// logged alert so a fresh connection sees only new alerts.
func resumeFrom(r *http.Request, s *session.Session) (uint64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, apperr.Wrap(apperr.Validation, "after", err, "invalid alert sequence %q", raw)
		}
		return n, nil
	}
	alerts := s.AlertsAfter(0)
	if len(alerts) == 0 {
		return 0, nil
	}
	return alerts[len(alerts)-1].Seq, nil
}

// SSE message payload types.

type metadataMessage struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	Stage        string `json:"stage"`
	Created      string `json:"created"`
	LastAlertSeq uint64 `json:"last_alert_seq"`
}

type frameMessage struct {
	Type  string        `json:"type"`
	Frame session.Frame `json:"frame"`
}

type alertMessage struct {
	Type  string           `json:"type"`
	Alert simulation.Alert `json:"alert"`
}

type closedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}
