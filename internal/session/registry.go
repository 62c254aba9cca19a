package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/geometry"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/metrics"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/velocity"
)

// RegistryConfig holds the registry settings.
type RegistryConfig struct {
	TickRate        time.Duration // nominal tick cadence
	MaxTick         time.Duration // upper bound on the dt passed to a tick
	MaxSessions     int
	CompletedBuffer int
	Layout          velocity.Layout
}

// DefaultRegistryConfig returns a 60 Hz registry.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		TickRate:        time.Second / 60,
		MaxTick:         250 * time.Millisecond,
		MaxSessions:     16,
		CompletedBuffer: 64,
		Layout:          velocity.DefaultLayout(),
	}
}

// Registry owns all live sessions and drives their simulations from one
// ticker.
type Registry struct {
	config RegistryConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	completed chan RunRecord
}

// NewRegistry creates an empty registry.
func NewRegistry(config RegistryConfig, logger *slog.Logger) *Registry {
	if config.TickRate <= 0 {
		config.TickRate = time.Second / 60
	}
	if config.MaxTick < config.TickRate {
		config.MaxTick = config.TickRate
	}
	if config.CompletedBuffer < 0 {
		config.CompletedBuffer = 0
	}
	return &Registry{
		config:    config,
		logger:    logger,
		now:       time.Now,
		sessions:  make(map[string]*Session),
		completed: make(chan RunRecord, config.CompletedBuffer),
	}
}

// Create starts a new session with the given geometry.
func (r *Registry) Create(cfg geometry.Config) (*Session, error) {
	if err := cfg.CheckValues(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.config.MaxSessions > 0 && len(r.sessions) >= r.config.MaxSessions {
		r.mu.Unlock()
		return nil, apperr.New(apperr.StateConflict, "sessions",
			"session limit of %d reached", r.config.MaxSessions)
	}
	s := New(cfg, Options{Layout: r.config.Layout, Now: r.now})
	r.sessions[s.ID()] = s
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.SetSessions(n)
	r.logger.Info("session created", "session_id", s.ID(), "sessions", n)
	return s, nil
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "session", "session %q not found", id)
	}
	return s, nil
}

// List returns all sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Created().Equal(out[j].Created()) {
			return out[i].ID() < out[j].ID()
		}
		return out[i].Created().Before(out[j].Created())
	})
	return out
}

// Delete removes a session. A running simulation simply stops being ticked.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	if _, ok := r.sessions[id]; !ok {
		r.mu.Unlock()
		return apperr.New(apperr.NotFound, "session", "session %q not found", id)
	}
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.SetSessions(n)
	r.logger.Info("session deleted", "session_id", id, "sessions", n)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Completed delivers a record for every completed run. Records are dropped
// when nobody drains the channel fast enough.
func (r *Registry) Completed() <-chan RunRecord {
	return r.completed
}

// Run ticks every session at the configured rate, passing the measured
// wall-clock interval capped at MaxTick. Blocks until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.TickRate)
	defer ticker.Stop()

	r.logger.Info("simulation loop started",
		"tick_rate", r.config.TickRate.String(),
		"max_tick", r.config.MaxTick.String(),
	)

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("simulation loop stopped")
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if dt > r.config.MaxTick {
				dt = r.config.MaxTick
			}
			r.tick(dt)
		}
	}
}

// tick advances every session by dt.
func (r *Registry) tick(dt time.Duration) {
	start := time.Now()

	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		alerts, rec := s.Tick(dt.Seconds())
		for _, a := range alerts {
			metrics.IncAlerts(a.ThresholdSeconds)
			r.logger.Debug("countdown alert",
				"session_id", s.ID(),
				"run", a.Run,
				"threshold_s", a.ThresholdSeconds,
			)
		}
		if rec != nil {
			r.publish(*rec)
		}
	}

	metrics.IncTicks()
	metrics.ObserveTickDuration(time.Since(start))
}

func (r *Registry) publish(rec RunRecord) {
	metrics.IncRunsCompleted()
	r.logger.Info("run completed",
		"session_id", rec.SessionID,
		"run", rec.Run,
		"duration_s", rec.DurationSeconds,
		"source", rec.Source,
	)
	select {
	case r.completed <- rec:
	default:
		metrics.IncRunsDropped()
		r.logger.Warn("run record dropped, recorder is behind", "session_id", rec.SessionID, "run", rec.Run)
	}
}
