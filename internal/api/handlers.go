package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/arc"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/geometry"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/httputil"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/observability"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/session"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/setup"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/sidereal"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/simulation"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/store"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/velocity"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
)

type handlers struct {
	registry *session.Registry
	setup    *setup.Store
	runs     RunLister
	logger   *slog.Logger
}

// command runs fn against the addressed session inside a span and writes
// its result or error.
func (h *handlers) command(w http.ResponseWriter, r *http.Request, name string, fn func(ctx context.Context, s *session.Session) (any, error)) {
	id := r.PathValue("id")
	ctx, span := observability.Tracer().Start(r.Context(), "session."+name,
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()

	s, err := h.registry.Get(id)
	if err == nil {
		var out any
		out, err = fn(ctx, s)
		if err == nil {
			span.SetAttributes(attribute.String("session.stage", s.Stage().String()))
			httputil.WriteJSON(w, http.StatusOK, out)
			return
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	h.logger.Debug("command rejected",
		"component", "api",
		"command", name,
		"session_id", id,
		"kind", string(apperr.KindOf(err)),
		"error", err,
	)
	httputil.WriteError(w, err)
}

// view serves a read-only snapshot of the addressed session.
func (h *handlers) view(w http.ResponseWriter, r *http.Request, fn func(s *session.Session) any) {
	s, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fn(s))
}

// Process-wide endpoints.

type constantsResponse struct {
	SiderealRateArcsecPerSec float64         `json:"sidereal_rate_arcsec_per_s"`
	AlertThresholdsS         []int           `json:"alert_thresholds_s"`
	Stages                   []string        `json:"stages"`
	Stripes                  []string        `json:"stripes"`
	StripeLayout             velocity.Layout `json:"stripe_layout"`
}

func (h *handlers) constants(w http.ResponseWriter, r *http.Request) {
	resp := constantsResponse{
		SiderealRateArcsecPerSec: sidereal.RateArcsecPerSec,
		AlertThresholdsS:         simulation.Thresholds,
		StripeLayout:             velocity.DefaultLayout(),
	}
	for st := session.Configure; st <= session.Measure; st++ {
		resp.Stages = append(resp.Stages, st.String())
	}
	for _, s := range velocity.Stripes {
		resp.Stripes = append(resp.Stripes, s.String())
	}
	if h.setup != nil {
		resp.StripeLayout = h.setup.Get().Stripes
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type setupResponse struct {
	Path       string              `json:"path,omitempty"`
	Geometry   geometry.Config     `json:"geometry"`
	Calculated geometry.Calculated `json:"calculated"`
	Stripes    velocity.Layout     `json:"stripes"`
}

func (h *handlers) setupView() setupResponse {
	f := h.setup.Get()
	return setupResponse{
		Path:       h.setup.Path(),
		Geometry:   f.Geometry,
		Calculated: f.Geometry.Calculate(),
		Stripes:    f.Stripes,
	}
}

func (h *handlers) getSetup(w http.ResponseWriter, r *http.Request) {
	if h.setup == nil {
		httputil.NotFound(w, "setup")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.setupView())
}

func (h *handlers) putSetup(w http.ResponseWriter, r *http.Request) {
	if h.setup == nil {
		httputil.NotFound(w, "setup")
		return
	}
	var g geometry.Config
	if err := httputil.DecodeJSON(w, r, &g); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := g.CheckValues(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.setup.SetGeometry(g); err != nil {
		h.logger.Error("setup save failed", "component", "api", "path", h.setup.Path(), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.setupView())
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		httputil.NotFound(w, "run history")
		return
	}
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRunLimit {
			httputil.WriteError(w, apperr.New(apperr.Validation, "limit", "must be 1-%d", maxRunLimit))
			return
		}
		limit = n
	}
	runs, err := h.runs.ListRuns(r.Context(), r.URL.Query().Get("session"), limit)
	if err != nil {
		h.logger.Error("list runs failed", "component", "api", "error", err)
		httputil.WriteError(w, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// Sessions.

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	_, span := observability.Tracer().Start(r.Context(), "session.create")
	defer span.End()

	g := geometry.Default()
	if h.setup != nil {
		g = h.setup.Get().Geometry
	}
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(w, r, &g); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	s, err := h.registry.Create(g)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		httputil.WriteError(w, err)
		return
	}
	span.SetAttributes(attribute.String("session.id", s.ID()))
	h.logger.Info("session created", "component", "api", "session_id", s.ID(), "sessions", h.registry.Len())
	w.Header().Set("Location", "/api/v1/sessions/"+s.ID())
	httputil.WriteJSON(w, http.StatusCreated, s.Summary())
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	list := h.registry.List()
	out := make([]session.Summary, 0, len(list))
	for _, s := range list {
		out = append(out, s.Summary())
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, func(s *session.Session) any { return s.Summary() })
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.Delete(id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.Info("session deleted", "component", "api", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) resetSession(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "reset", func(_ context.Context, s *session.Session) (any, error) {
		s.Reset()
		return s.Summary(), nil
	})
}

// Stages.

func (h *handlers) nextStage(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "stage.next", func(_ context.Context, s *session.Session) (any, error) {
		if _, err := s.Next(); err != nil {
			return nil, err
		}
		return s.Summary(), nil
	})
}

func (h *handlers) backStage(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "stage.back", func(_ context.Context, s *session.Session) (any, error) {
		if _, err := s.Back(); err != nil {
			return nil, err
		}
		return s.Summary(), nil
	})
}

// Geometry.

type geometryResponse struct {
	Geometry   geometry.Config     `json:"geometry"`
	Calculated geometry.Calculated `json:"calculated"`
}

func geometryView(s *session.Session) geometryResponse {
	g := s.Geometry()
	return geometryResponse{Geometry: g, Calculated: g.Calculate()}
}

func (h *handlers) getGeometry(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, func(s *session.Session) any { return geometryView(s) })
}

func (h *handlers) putGeometry(w http.ResponseWriter, r *http.Request) {
	var g geometry.Config
	if err := httputil.DecodeJSON(w, r, &g); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.command(w, r, "geometry.set", func(_ context.Context, s *session.Session) (any, error) {
		if err := s.SetGeometry(g); err != nil {
			return nil, err
		}
		if h.setup != nil {
			if err := h.setup.SetGeometry(g); err != nil {
				// The session keeps the new geometry; only persistence failed.
				h.logger.Warn("setup save failed", "component", "api", "path", h.setup.Path(), "error", err)
			}
		}
		return geometryView(s), nil
	})
}

func (h *handlers) export(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/toml")
	w.Header().Set("Content-Disposition", `attachment; filename="bwmt-setup.toml"`)
	if err := setup.NewExport(s.Geometry(), time.Now()).WriteTOML(w); err != nil {
		h.logger.Warn("export write failed", "component", "api", "session_id", s.ID(), "error", err)
	}
}

// Calibration.

type pointRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type adjustRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

type pointResponse struct {
	Point       arc.Point               `json:"point"`
	Calibration session.CalibrationView `json:"calibration"`
}

func (h *handlers) getCalibration(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, func(s *session.Session) any { return s.Calibration() })
}

func (h *handlers) addPoint(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.command(w, r, "calibration.add", func(_ context.Context, s *session.Session) (any, error) {
		p, err := s.AddPoint(req.X, req.Y)
		if err != nil {
			return nil, err
		}
		return pointResponse{Point: p, Calibration: s.Calibration()}, nil
	})
}

func (h *handlers) adjustPoint(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.command(w, r, "calibration.adjust", func(_ context.Context, s *session.Session) (any, error) {
		p, err := s.AdjustPoint(req.DX, req.DY)
		if err != nil {
			return nil, err
		}
		return pointResponse{Point: p, Calibration: s.Calibration()}, nil
	})
}

func (h *handlers) removeLastPoint(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "calibration.undo", func(_ context.Context, s *session.Session) (any, error) {
		if err := s.RemoveLastPoint(); err != nil {
			return nil, err
		}
		return s.Calibration(), nil
	})
}

func (h *handlers) clearPoints(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "calibration.clear", func(_ context.Context, s *session.Session) (any, error) {
		if err := s.ClearPoints(); err != nil {
			return nil, err
		}
		return s.Calibration(), nil
	})
}

// Velocity.

type overrideRequest struct {
	PxPerSec float64 `json:"px_per_s"`
}

type stripeRequest struct {
	Seconds float64 `json:"seconds"`
}

type timerResponse struct {
	Stripe   string               `json:"stripe"`
	Seconds  float64              `json:"seconds,omitempty"`
	Velocity session.VelocityView `json:"velocity"`
}

func (h *handlers) getVelocity(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, func(s *session.Session) any { return s.Velocity() })
}

func (h *handlers) setOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.command(w, r, "velocity.override", func(_ context.Context, s *session.Session) (any, error) {
		if err := s.SetOverride(req.PxPerSec); err != nil {
			return nil, err
		}
		return s.Velocity(), nil
	})
}

func (h *handlers) clearOverride(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "velocity.override.clear", func(_ context.Context, s *session.Session) (any, error) {
		if err := s.ClearOverride(); err != nil {
			return nil, err
		}
		return s.Velocity(), nil
	})
}

// stripeCommand parses the {stripe} path segment before running fn.
func (h *handlers) stripeCommand(w http.ResponseWriter, r *http.Request, name string, fn func(s *session.Session, id velocity.Stripe) (any, error)) {
	id, err := velocity.ParseStripe(r.PathValue("stripe"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.command(w, r, name, func(_ context.Context, s *session.Session) (any, error) {
		return fn(s, id)
	})
}

func (h *handlers) setStripe(w http.ResponseWriter, r *http.Request) {
	var req stripeRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.stripeCommand(w, r, "velocity.stripe.set", func(s *session.Session, id velocity.Stripe) (any, error) {
		if err := s.SetStripe(id, req.Seconds); err != nil {
			return nil, err
		}
		return s.Velocity(), nil
	})
}

func (h *handlers) clearStripe(w http.ResponseWriter, r *http.Request) {
	h.stripeCommand(w, r, "velocity.stripe.clear", func(s *session.Session, id velocity.Stripe) (any, error) {
		if err := s.ClearStripe(id); err != nil {
			return nil, err
		}
		return s.Velocity(), nil
	})
}

func (h *handlers) startTimer(w http.ResponseWriter, r *http.Request) {
	h.stripeCommand(w, r, "velocity.timer.start", func(s *session.Session, id velocity.Stripe) (any, error) {
		if err := s.StartTimer(id); err != nil {
			return nil, err
		}
		return timerResponse{Stripe: id.String(), Velocity: s.Velocity()}, nil
	})
}

func (h *handlers) stopTimer(w http.ResponseWriter, r *http.Request) {
	h.stripeCommand(w, r, "velocity.timer.stop", func(s *session.Session, id velocity.Stripe) (any, error) {
		secs, err := s.StopTimer(id)
		if err != nil {
			return nil, err
		}
		return timerResponse{Stripe: id.String(), Seconds: secs, Velocity: s.Velocity()}, nil
	})
}

// Simulation transport.

type seekRequest struct {
	Fraction *float64 `json:"fraction"`
}

func (h *handlers) getSimulation(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, func(s *session.Session) any { return s.Simulation() })
}

func (h *handlers) startSimulation(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "simulation.start", func(_ context.Context, s *session.Session) (any, error) {
		return s.Start()
	})
}

func (h *handlers) pauseSimulation(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "simulation.pause", func(_ context.Context, s *session.Session) (any, error) {
		return s.Pause()
	})
}

func (h *handlers) resetSimulation(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "simulation.reset", func(_ context.Context, s *session.Session) (any, error) {
		return s.ResetSimulation()
	})
}

func (h *handlers) seekSimulation(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Fraction == nil {
		httputil.WriteError(w, apperr.New(apperr.Validation, "fraction", "is required"))
		return
	}
	h.command(w, r, "simulation.seek", func(_ context.Context, s *session.Session) (any, error) {
		return s.Seek(*req.Fraction)
	})
}

// Render and alerts.

func (h *handlers) render(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, func(s *session.Session) any { return s.Render() })
}

func (h *handlers) alerts(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			httputil.WriteError(w, apperr.Wrap(apperr.Validation, "after", err, "invalid alert sequence %q", v))
			return
		}
		after = n
	}
	h.view(w, r, func(s *session.Session) any {
		alerts := s.AlertsAfter(after)
		if alerts == nil {
			alerts = []simulation.Alert{}
		}
		return map[string]any{"alerts": alerts}
	})
}
