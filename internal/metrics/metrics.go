package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bwmt_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bwmt_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bwmt_sessions_active",
		Help: "Number of live sessions.",
	})

	ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bwmt_simulation_ticks_total",
		Help: "Total number of simulation ticks.",
	})

	tickDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bwmt_simulation_tick_duration_seconds",
		Help:    "Time spent advancing all sessions in one tick.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bwmt_countdown_alerts_total",
			Help: "Countdown alerts raised, by threshold in seconds.",
		},
		[]string{"threshold"},
	)

	fitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bwmt_calibration_fits_total",
			Help: "Calibration fits, by resulting model.",
		},
		[]string{"outcome"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bwmt_runs_total",
			Help: "Completed runs, by what happened to their record.",
		},
		[]string{"result"},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bwmt_stream_connections_total",
			Help: "SSE stream connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bwmt_streams_active",
		Help: "Number of open SSE streams.",
	})

	streamMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bwmt_stream_messages_total",
		Help: "SSE data messages sent.",
	})

	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bwmt_stream_bytes_total",
		Help: "Bytes written to SSE streams.",
	})

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bwmt_stream_errors_total",
			Help: "SSE stream errors, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		sessionsActive,
		ticksTotal,
		tickDurationSeconds,
		alertsTotal,
		fitsTotal,
		runsTotal,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func SetSessions(n int) { sessionsActive.Set(float64(n)) }

func IncTicks() { ticksTotal.Inc() }

func ObserveTickDuration(d time.Duration) { tickDurationSeconds.Observe(d.Seconds()) }

func IncAlerts(threshold int) { alertsTotal.WithLabelValues(strconv.Itoa(threshold)).Inc() }

// IncFits counts a fit; outcome is the curve kind or "insufficient".
func IncFits(outcome string) { fitsTotal.WithLabelValues(outcome).Inc() }

func IncRunsCompleted() { runsTotal.WithLabelValues("completed").Inc() }

func IncRunsDropped() { runsTotal.WithLabelValues("dropped").Inc() }

func IncRunsRecorded() { runsTotal.WithLabelValues("recorded").Inc() }

func IncRunRecordErrors() { runsTotal.WithLabelValues("record_error").Inc() }

// IncStreamConnections counts a connect or disconnect event.
func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }

func IncStreamsActive() { streamsActive.Inc() }

func DecStreamsActive() { streamsActive.Dec() }

func IncStreamMessages() { streamMessagesTotal.Inc() }

func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

func IncStreamErrors(reason string) { streamErrorsTotal.WithLabelValues(reason).Inc() }

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers flush through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}

// exactRoutes are labelled as-is.
var exactRoutes = map[string]bool{
	"/healthz":          true,
	"/readyz":           true,
	"/metrics":          true,
	"/api/v1/sessions":  true,
	"/api/v1/runs":      true,
	"/api/v1/setup":     true,
	"/api/v1/constants": true,
}

// sessionRoutes are the sub-routes below /api/v1/sessions/{id}, with the
// stripe segment already replaced by {stripe}.
var sessionRoutes = map[string]bool{
	"":                                      true,
	"reset":                                 true,
	"stage/next":                            true,
	"stage/back":                            true,
	"geometry":                              true,
	"export":                                true,
	"calibration":                           true,
	"calibration/points":                    true,
	"calibration/points/last":               true,
	"calibration/adjust":                    true,
	"velocity":                              true,
	"velocity/override":                     true,
	"velocity/stripes/{stripe}":             true,
	"velocity/stripes/{stripe}/timer/start": true,
	"velocity/stripes/{stripe}/timer/stop":  true,
	"simulation":                            true,
	"simulation/start":                      true,
	"simulation/pause":                      true,
	"simulation/reset":                      true,
	"simulation/seek":                       true,
	"render":                                true,
	"alerts":                                true,
	"stream":                                true,
}

// normalizeRoute maps a request path to a bounded label set: session IDs
// and stripe names collapse to placeholders, unknown paths to "other".
func normalizeRoute(path string) string {
	if exactRoutes[path] {
		return path
	}

	rest, ok := strings.CutPrefix(path, "/api/v1/sessions/")
	if !ok || rest == "" {
		return "other"
	}

	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		return "other"
	}
	tail := parts[1:]
	if len(tail) >= 3 && tail[0] == "velocity" && tail[1] == "stripes" {
		tail[2] = "{stripe}"
	}

	sub := strings.Join(tail, "/")
	if !sessionRoutes[sub] {
		return "other"
	}
	if sub == "" {
		return "/api/v1/sessions/{id}"
	}
	return "/api/v1/sessions/{id}/" + sub
}
