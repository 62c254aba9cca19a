// Package session ties the geometry, calibration, velocity and simulation
// of one measurement run together behind a single lock and gates commands
// by workflow stage.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/arc"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/geometry"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/metrics"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/simulation"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/velocity"
)

// maxAlertLog bounds the alerts kept for polling clients.
const maxAlertLog = 256

// Options configures a new Session.
type Options struct {
	Layout velocity.Layout
	// Now is the wall clock for stripe timers and run records; nil uses
	// time.Now.
	Now func() time.Time
}

// RunRecord summarizes a completed run.
type RunRecord struct {
	SessionID       string              `json:"session_id"`
	Run             int                 `json:"run"`
	Hemisphere      string              `json:"hemisphere"`
	LatitudeDeg     float64             `json:"latitude_deg"`
	Source          velocity.Source     `json:"source"`
	FitKind         arc.Kind            `json:"fit_kind"`
	PathLengthPx    float64             `json:"path_length_px"`
	DurationSeconds float64             `json:"duration_s"`
	StartedAt       time.Time           `json:"started_at"`
	CompletedAt     time.Time           `json:"completed_at"`
	Resolution      velocity.Resolution `json:"resolution"`
	Alerts          int                 `json:"alerts"`
}

// Session is one measurement run. All methods are safe for concurrent use;
// every command and every tick serializes through one mutex.
type Session struct {
	mu sync.Mutex

	id      string
	created time.Time
	now     func() time.Time

	geometry geometry.Config
	stage    Stage

	calib  arc.Calibration
	curve  *arc.Curve
	fitErr error

	layout velocity.Layout
	model  *velocity.Model
	timers *velocity.Timers
	driver *simulation.Driver

	alerts     []simulation.Alert
	runStarted time.Time
	runAlerts  int
}

// New returns a session in the Configure stage.
func New(cfg geometry.Config, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Layout.WidthPx == 0 {
		opts.Layout = velocity.DefaultLayout()
	}
	s := &Session{
		id:       uuid.NewString(),
		now:      opts.Now,
		created:  opts.Now(),
		geometry: cfg,
		layout:   opts.Layout,
	}
	s.rebuild()
	return s
}

// rebuild reconstructs all child state from the geometry. Alert sequence
// numbers continue from the previous driver.
func (s *Session) rebuild() {
	s.stage = Configure
	s.calib = arc.Calibration{}
	s.model = velocity.NewModel(s.layout)
	s.timers = velocity.NewTimers(s.now)
	var lastSeq uint64
	if s.driver != nil {
		lastSeq = s.driver.LastAlertSeq()
	}
	s.driver = simulation.NewDriver(s.geometry.Hemisphere())
	s.driver.ContinueAlertsAfter(lastSeq)
	s.alerts = nil
	s.runAlerts = 0
	s.replan()
}

// ID returns the session UUID.
func (s *Session) ID() string { return s.id }

// Created returns the creation time.
func (s *Session) Created() time.Time { return s.created }

// Stage returns the current stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Geometry returns the current configuration.
func (s *Session) Geometry() geometry.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geometry
}

// SetGeometry replaces the configuration. Only accepted in Configure.
// Missing values are allowed here; leaving Configure requires a complete,
// valid configuration.
func (s *Session) SetGeometry(cfg geometry.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stage.permits(cmdGeometry) {
		return violation(s.stage, cmdGeometry)
	}
	if err := cfg.CheckValues(); err != nil {
		return err
	}
	s.geometry = cfg
	s.driver.SetHemisphere(cfg.Hemisphere())
	s.replan()
	return nil
}

// Reset discards calibration, velocity and run state and returns to
// Configure. The geometry is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuild()
}

// Next advances to the following stage if its prerequisite holds.
func (s *Session) Next() (Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage == Measure {
		return s.stage, apperr.New(apperr.StateConflict, "stage", "measure is the last stage")
	}
	next := s.stage + 1
	if err := s.prerequisite(next); err != nil {
		return s.stage, err
	}
	s.stage = next
	return s.stage, nil
}

// Back returns to the previous stage. Data entered so far is kept; leaving
// Measure pauses a running simulation.
func (s *Session) Back() (Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage == Configure {
		return s.stage, apperr.New(apperr.StateConflict, "stage", "configure is the first stage")
	}
	if s.stage == Measure {
		s.driver.Pause()
	}
	s.stage--
	return s.stage, nil
}

func (s *Session) prerequisite(st Stage) error {
	switch st {
	case Calibrate:
		if err := s.geometry.Validate(); err != nil {
			return apperr.Wrap(apperr.StageNotReady, ArtifactGeometry, err, "geometry is incomplete")
		}
	case Velocity:
		if s.fitErr != nil {
			return apperr.Wrap(apperr.StageNotReady, ArtifactCalibrationFit, s.fitErr, "calibration cannot be fitted")
		}
	case Measure:
		if _, err := s.resolve(); err != nil {
			return apperr.Wrap(apperr.StageNotReady, ArtifactVelocity, err, "velocity cannot be resolved")
		}
	}
	return nil
}

// AddPoint appends a calibration point.
func (s *Session) AddPoint(x, y float64) (arc.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stage.permits(cmdCalibration) {
		return arc.Point{}, violation(s.stage, cmdCalibration)
	}
	p, err := s.calib.Add(x, y)
	if err != nil {
		return arc.Point{}, err
	}
	s.replan()
	return p, nil
}

// AdjustPoint moves the most recent calibration point.
func (s *Session) AdjustPoint(dx, dy float64) (arc.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stage.permits(cmdCalibration) {
		return arc.Point{}, violation(s.stage, cmdCalibration)
	}
	p, err := s.calib.Adjust(dx, dy)
	if err != nil {
		return arc.Point{}, err
	}
	s.replan()
	return p, nil
}

// RemoveLastPoint undoes the most recent calibration point.
func (s *Session) RemoveLastPoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stage.permits(cmdCalibration) {
		return violation(s.stage, cmdCalibration)
	}
	if _, ok := s.calib.RemoveLast(); !ok {
		return apperr.New(apperr.InsufficientData, "calibration", "no point to remove")
	}
	s.replan()
	return nil
}

// ClearPoints removes every calibration point.
func (s *Session) ClearPoints() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stage.permits(cmdCalibration) {
		return violation(s.stage, cmdCalibration)
	}
	s.calib.Clear()
	s.replan()
	return nil
}

// CalibrationView is the calibration state with its current fit.
type CalibrationView struct {
	Points     []arc.Point  `json:"points"`
	Kind       arc.Kind     `json:"kind,omitempty"`
	Ellipse    *arc.Ellipse `json:"ellipse,omitempty"`
	Degenerate bool         `json:"degenerate"`
	LengthPx   float64      `json:"length_px,omitempty"`
	FitError   string       `json:"fit_error,omitempty"`
}

// Calibration returns the points and the fit they produce.
func (s *Session) Calibration() CalibrationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := CalibrationView{Points: s.calib.Points()}
	if s.curve != nil {
		e := s.curve.Ellipse()
		v.Kind = s.curve.Kind()
		v.Ellipse = &e
		v.Degenerate = s.curve.Degenerate()
		v.LengthPx = s.curve.Length()
	} else if s.fitErr != nil {
		v.FitError = s.fitErr.Error()
	}
	return v
}

func (s *Session) velocityCommand() error {
	if !s.stage.permits(cmdVelocity) {
		return violation(s.stage, cmdVelocity)
	}
	return nil
}

// SetStripe records a stripe crossing time.
func (s *Session) SetStripe(id velocity.Stripe, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.velocityCommand(); err != nil {
		return err
	}
	if err := s.model.SetStripe(id, seconds); err != nil {
		return err
	}
	s.replan()
	return nil
}

// ClearStripe removes a stripe measurement and cancels its timer.
func (s *Session) ClearStripe(id velocity.Stripe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.velocityCommand(); err != nil {
		return err
	}
	s.timers.Clear(id, s.model)
	s.replan()
	return nil
}

// StartTimer starts the stopwatch of a stripe.
func (s *Session) StartTimer(id velocity.Stripe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.velocityCommand(); err != nil {
		return err
	}
	return s.timers.Start(id)
}

// StopTimer stops the stopwatch of a stripe and stores the measurement.
func (s *Session) StopTimer(id velocity.Stripe) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.velocityCommand(); err != nil {
		return 0, err
	}
	secs, err := s.timers.Stop(id, s.model)
	if err != nil {
		return 0, err
	}
	s.replan()
	return secs, nil
}

// SetOverride fixes the speed in px/s.
func (s *Session) SetOverride(pxPerSec float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.velocityCommand(); err != nil {
		return err
	}
	if err := s.model.SetOverride(pxPerSec); err != nil {
		return err
	}
	s.replan()
	return nil
}

// ClearOverride removes the speed override.
func (s *Session) ClearOverride() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.velocityCommand(); err != nil {
		return err
	}
	s.model.ClearOverride()
	s.replan()
	return nil
}

// VelocityView is the velocity inputs with their current resolution.
type VelocityView struct {
	velocity.Snapshot
	Timers        map[string]float64   `json:"running_timers,omitempty"`
	Resolution    *velocity.Resolution `json:"resolution,omitempty"`
	ResolveError  string               `json:"resolve_error,omitempty"`
	TotalDuration float64              `json:"total_duration_s,omitempty"`
}

// Velocity returns the velocity inputs and their resolution.
func (s *Session) Velocity() VelocityView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := VelocityView{Snapshot: s.model.Snapshot()}
	for _, id := range velocity.Stripes {
		if s.timers.Running(id) {
			if v.Timers == nil {
				v.Timers = make(map[string]float64)
			}
			v.Timers[id.String()] = s.timers.Elapsed(id)
		}
	}
	r, err := s.resolve()
	if err != nil {
		v.ResolveError = err.Error()
		return v
	}
	v.Resolution = &r
	if s.curve != nil {
		v.TotalDuration = velocity.TotalDuration(r, s.curve.Length())
	}
	return v
}

func (s *Session) transportCommand() error {
	if !s.stage.permits(cmdTransport) {
		return violation(s.stage, cmdTransport)
	}
	return nil
}

// Start starts or resumes the simulation.
func (s *Session) Start() (simulation.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transportCommand(); err != nil {
		return s.driver.State(), err
	}
	before := s.driver.State()
	if err := s.driver.Start(); err != nil {
		return before, err
	}
	after := s.driver.State()
	if after.Run != before.Run {
		s.runStarted = s.now()
		s.runAlerts = 0
	}
	return after, nil
}

// Pause pauses the simulation.
func (s *Session) Pause() (simulation.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transportCommand(); err != nil {
		return s.driver.State(), err
	}
	s.driver.Pause()
	return s.driver.State(), nil
}

// Seek moves the star to a path fraction.
func (s *Session) Seek(fraction float64) (simulation.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transportCommand(); err != nil {
		return s.driver.State(), err
	}
	s.driver.Seek(fraction)
	return s.driver.State(), nil
}

// ResetSimulation stops the simulation at the start edge.
func (s *Session) ResetSimulation() (simulation.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transportCommand(); err != nil {
		return s.driver.State(), err
	}
	s.driver.Reset()
	return s.driver.State(), nil
}

// Simulation returns the driver state.
func (s *Session) Simulation() simulation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver.State()
}

// Tick advances the simulation by dt seconds. It returns the alerts raised
// and, if the run completed, its record.
func (s *Session) Tick(dt float64) ([]simulation.Alert, *RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alerts, completed := s.driver.Tick(dt)
	if len(alerts) > 0 {
		s.alerts = append(s.alerts, alerts...)
		if n := len(s.alerts); n > maxAlertLog {
			s.alerts = append([]simulation.Alert(nil), s.alerts[n-maxAlertLog:]...)
		}
		s.runAlerts += len(alerts)
	}
	if !completed {
		return alerts, nil
	}
	return alerts, s.record()
}

func (s *Session) record() *RunRecord {
	st := s.driver.State()
	rec := &RunRecord{
		SessionID:       s.id,
		Run:             st.Run,
		Hemisphere:      st.Hemisphere.String(),
		LatitudeDeg:     s.geometry.LatitudeDeg,
		DurationSeconds: st.ElapsedSeconds,
		StartedAt:       s.runStarted,
		CompletedAt:     s.now(),
		Alerts:          s.runAlerts,
	}
	if s.curve != nil {
		rec.FitKind = s.curve.Kind()
		rec.PathLengthPx = s.curve.Length()
	}
	if r, err := s.resolve(); err == nil {
		rec.Source = r.Source
		rec.Resolution = r
	}
	return rec
}

// AlertsAfter returns the logged alerts with a sequence number above seq.
func (s *Session) AlertsAfter(seq uint64) []simulation.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []simulation.Alert
	for _, a := range s.alerts {
		if a.Seq > seq {
			out = append(out, a)
		}
	}
	return out
}

// Summary is the JSON view of a session.
type Summary struct {
	ID         string           `json:"id"`
	Created    time.Time        `json:"created"`
	Stage      Stage            `json:"stage"`
	Geometry   geometry.Config  `json:"geometry"`
	Points     int              `json:"points"`
	Simulation simulation.State `json:"simulation"`
	Source     velocity.Source  `json:"source,omitempty"`
}

// Summary returns a snapshot of the session.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		ID:         s.id,
		Created:    s.created,
		Stage:      s.stage,
		Geometry:   s.geometry,
		Points:     s.calib.Len(),
		Simulation: s.driver.State(),
	}
	if r, err := s.resolve(); err == nil {
		sum.Source = r.Source
	}
	return sum
}

func (s *Session) resolve() (velocity.Resolution, error) {
	return s.model.Resolve(s.geometry.SiderealSpeedPxPerSec)
}

// replan refits the calibration and re-resolves the speed, then installs
// the resulting plan in the driver. Called after every input change.
func (s *Session) replan() {
	s.curve, s.fitErr = arc.Fit(s.calib.Points())
	if s.fitErr != nil {
		s.curve = nil
		metrics.IncFits("insufficient")
		s.driver.SetPlan(nil, s.fitErr)
		return
	}
	metrics.IncFits(string(s.curve.Kind()))

	r, err := s.resolve()
	if err != nil {
		s.driver.SetPlan(nil, err)
		return
	}
	s.driver.SetPlan(simulation.NewPlan(s.curve, r), nil)
}
