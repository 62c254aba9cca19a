package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/geometry"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		FrameInterval:      20 * time.Millisecond,
		KeepaliveInterval:  5 * time.Second,
	}
}

func testGeometry() geometry.Config {
	return geometry.Config{
		LatitudeDeg:       51,
		FocalLengthMM:     200,
		DistanceToScreenM: 3.41,
		MainPeriodSeconds: 480,
		ScreenWidthPx:     1920,
		ScreenHeightPx:    1080,
		ScreenWidthMM:     600,
		PixelSizeUM:       3.75,
		CameraWidthPx:     1280,
		CameraHeightPx:    960,
		StarSizePx:        5,
		StarBrightness:    200,
	}
}

func testRegistry(t *testing.T) (*session.Registry, *session.Session) {
	t.Helper()
	reg := session.NewRegistry(session.DefaultRegistryConfig(), testLogger())
	s, err := reg.Create(testGeometry())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return reg, s
}

// measuring drives s to a completed run that logged the final countdown
// alerts.
func measuring(t *testing.T, s *session.Session) {
	t.Helper()
	for s.Stage() < session.Measure {
		switch s.Stage() {
		case session.Calibrate:
			for d := 200; d <= 340; d += 20 {
				phi := float64(d) * math.Pi / 180
				if _, err := s.AddPoint(960+900*math.Cos(phi), 700+300*math.Sin(phi)); err != nil {
					t.Fatalf("add point: %v", err)
				}
			}
		case session.Velocity:
			if err := s.SetOverride(500); err != nil {
				t.Fatalf("override: %v", err)
			}
		}
		if _, err := s.Next(); err != nil {
			t.Fatalf("next from %s: %v", s.Stage(), err)
		}
	}
	if _, err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Tick(60)
}

type sseEvent struct {
	id   string
	data map[string]any
}

// parseEvents splits an SSE body into its data events.
func parseEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		id     string
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			var msg map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
				t.Errorf("invalid JSON in SSE data line: %v", err)
				continue
			}
			events = append(events, sseEvent{id: id, data: msg})
			id = ""
		}
	}
	return events
}

func serve(h *Handler, r *http.Request, id string, timeout time.Duration) *httptest.ResponseRecorder {
	r.SetPathValue("id", id)
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	w := httptest.NewRecorder()
	h.HandleSession(w, r.WithContext(ctx))
	return w
}

// TestSSEMessageFormat verifies headers, the metadata-first rule and the
// wire format.
func TestSSEMessageFormat(t *testing.T) {
	reg, s := testRegistry(t)
	handler := NewHandler(reg, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/sessions/"+s.ID()+"/stream", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := serve(handler, req, s.ID(), 200*time.Millisecond)

	resp := w.Result()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	body := w.Body.String()
	events := parseEvents(t, body)
	if len(events) < 2 {
		t.Fatalf("got %d events, want metadata plus frames", len(events))
	}
	meta := events[0].data
	if meta["type"] != "metadata" {
		t.Fatalf("first message type = %v, want metadata", meta["type"])
	}
	if meta["session_id"] != s.ID() {
		t.Errorf("metadata session_id = %v, want %s", meta["session_id"], s.ID())
	}
	if meta["stage"] != "configure" {
		t.Errorf("metadata stage = %v, want configure", meta["stage"])
	}

	frame := events[1].data
	if frame["type"] != "frame" {
		t.Fatalf("second message type = %v, want frame", frame["type"])
	}
	inner, ok := frame["frame"].(map[string]any)
	if !ok {
		t.Fatalf("frame payload = %v", frame["frame"])
	}
	if inner["mode"] != "waiting" {
		t.Errorf("frame mode = %v, want waiting", inner["mode"])
	}

	for _, line := range strings.Split(body, "\n") {
		if line == "" || line == ":" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") && !strings.HasPrefix(line, "retry: ") && !strings.HasPrefix(line, "id: ") {
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
}

// TestStreamResumesAlerts verifies alerts are replayed after Last-Event-ID
// with their sequence number as the event id.
func TestStreamResumesAlerts(t *testing.T) {
	reg, s := testRegistry(t)
	measuring(t, s)

	all := s.AlertsAfter(0)
	if len(all) < 3 {
		t.Fatalf("got %d logged alerts, want at least 3", len(all))
	}
	handler := NewHandler(reg, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/sessions/"+s.ID()+"/stream", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	req.Header.Set("Last-Event-ID", "1")
	w := serve(handler, req, s.ID(), 150*time.Millisecond)

	var ids []string
	for _, ev := range parseEvents(t, w.Body.String()) {
		if ev.data["type"] == "alert" {
			ids = append(ids, ev.id)
		}
	}
	if len(ids) != len(all)-1 {
		t.Fatalf("streamed %d alerts, want %d", len(ids), len(all)-1)
	}
	if ids[0] != "2" {
		t.Errorf("first alert id = %q, want 2", ids[0])
	}
}

// TestStreamSkipsOldAlerts verifies a fresh connection only sees new alerts.
func TestStreamSkipsOldAlerts(t *testing.T) {
	reg, s := testRegistry(t)
	measuring(t, s)
	last := s.AlertsAfter(0)
	handler := NewHandler(reg, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/sessions/"+s.ID()+"/stream", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := serve(handler, req, s.ID(), 100*time.Millisecond)

	events := parseEvents(t, w.Body.String())
	if len(events) == 0 {
		t.Fatal("no events")
	}
	if got := events[0].data["last_alert_seq"].(float64); uint64(got) != last[len(last)-1].Seq {
		t.Errorf("last_alert_seq = %v, want %d", got, last[len(last)-1].Seq)
	}
	for _, ev := range events {
		if ev.data["type"] == "alert" {
			t.Errorf("unexpected replayed alert %v", ev.data)
		}
	}
}

// TestStreamEndsOnDelete verifies a deleted session closes its streams.
func TestStreamEndsOnDelete(t *testing.T) {
	reg, s := testRegistry(t)
	handler := NewHandler(reg, testConfig(), testLogger())

	go func() {
		time.Sleep(60 * time.Millisecond)
		_ = reg.Delete(s.ID())
	}()

	req := httptest.NewRequest("GET", "/api/v1/sessions/"+s.ID()+"/stream", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	start := time.Now()
	w := serve(handler, req, s.ID(), 5*time.Second)

	if time.Since(start) > 2*time.Second {
		t.Error("stream did not end after the session was deleted")
	}
	events := parseEvents(t, w.Body.String())
	if last := events[len(events)-1].data; last["type"] != "closed" {
		t.Errorf("last message = %v, want closed", last)
	}
}

func TestStreamRequestErrors(t *testing.T) {
	reg, s := testRegistry(t)
	handler := NewHandler(reg, testConfig(), testLogger())

	tests := []struct {
		name  string
		id    string
		query string
		want  int
	}{
		{"unknown session", "nope", "", http.StatusNotFound},
		{"bad after", s.ID(), "?after=abc", http.StatusBadRequest},
		{"negative after", s.ID(), "?after=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/sessions/"+tt.id+"/stream"+tt.query, nil)
			req.RemoteAddr = "127.0.0.1:12345"
			w := serve(handler, req, tt.id, time.Second)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// TestRateLimiting verifies per-IP concurrent stream limits.
func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3)

	for i := 0; i < 3; i++ {
		if !limiter.acquire("10.0.0.1") {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if limiter.acquire("10.0.0.1") {
		t.Error("acquire beyond limit should fail")
	}
	if !limiter.acquire("10.0.0.2") {
		t.Error("different IP should not be rate limited")
	}

	limiter.release("10.0.0.1")
	if !limiter.acquire("10.0.0.1") {
		t.Error("acquire after release should succeed")
	}

	if c := limiter.count("10.0.0.1"); c != 3 {
		t.Errorf("count = %d, want 3", c)
	}
	if c := limiter.count("10.0.0.2"); c != 1 {
		t.Errorf("count = %d, want 1", c)
	}
	if a := limiter.active(); a != 4 {
		t.Errorf("active = %d, want 4", a)
	}

	// Releasing an unknown IP is a no-op.
	limiter.release("10.9.9.9")
	if a := limiter.active(); a != 4 {
		t.Errorf("active after stray release = %d, want 4", a)
	}
}

// TestRateLimitingConcurrent verifies rate limiter thread safety.
func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	reg, s := testRegistry(t)
	cfg := testConfig()
	cfg.MaxConcurrentPerIP = 1
	handler := NewHandler(reg, cfg, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/sessions/"+s.ID()+"/stream", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		serve(handler, req, s.ID(), 300*time.Millisecond)
	}()

	deadline := time.Now().Add(time.Second)
	for handler.limiter.count("10.0.0.1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first stream never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	req := httptest.NewRequest("GET", "/api/v1/sessions/"+s.ID()+"/stream", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := serve(handler, req, s.ID(), time.Second)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	<-done
	if c := handler.limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after disconnect = %d, want 0", c)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config: %v", err)
	}
	bad := []Config{
		{MaxConcurrentPerIP: 0, FrameInterval: time.Second, KeepaliveInterval: time.Minute},
		{MaxConcurrentPerIP: 1, FrameInterval: time.Millisecond, KeepaliveInterval: time.Minute},
		{MaxConcurrentPerIP: 1, FrameInterval: time.Second, KeepaliveInterval: time.Millisecond},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("config %d: expected error", i)
		}
	}
}
