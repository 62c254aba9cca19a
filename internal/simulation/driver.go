// Package simulation advances the simulated star along the fitted path in
// real time and raises countdown alerts.
package simulation

import (
	"math"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/arc"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/geometry"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/velocity"
)

// Status is the transport state of a Driver.
type Status string

const (
	Stopped   Status = "stopped"
	Running   Status = "running"
	Paused    Status = "paused"
	Completed Status = "completed"
)

// Plan is everything a run needs: the path, the resolved speed and the
// path length in pixels.
type Plan struct {
	Curve      *arc.Curve
	Resolution velocity.Resolution
	Length     float64
}

// NewPlan builds a plan from a fitted curve and a resolution.
func NewPlan(c *arc.Curve, r velocity.Resolution) *Plan {
	return &Plan{Curve: c, Resolution: r, Length: c.Length()}
}

// State is a snapshot of a Driver.
type State struct {
	Hemisphere           geometry.Hemisphere `json:"hemisphere"`
	Status               Status              `json:"status"`
	Fraction             float64             `json:"fraction"`
	ElapsedSeconds       float64             `json:"elapsed_s"`
	TotalDurationSeconds float64             `json:"total_duration_s"`
	RemainingSeconds     float64             `json:"remaining_s"`
	Run                  int                 `json:"run"`
	Ready                bool                `json:"ready"`
}

// Driver owns the run state of one session. Fraction is the path fraction
// travelled since the start edge; for the southern hemisphere the star
// enters from the opposite end of the curve.
//
// Not safe for concurrent use. The session lock serializes ticks and
// commands.
type Driver struct {
	hemisphere geometry.Hemisphere

	plan    *Plan
	planErr error

	status    Status
	fraction  float64
	elapsed   float64
	total     float64
	remaining float64

	run      int
	alerts   *schedule
	alertSeq uint64
}

// NewDriver returns a stopped driver without a plan.
func NewDriver(h geometry.Hemisphere) *Driver {
	return &Driver{
		hemisphere: h,
		status:     Stopped,
		alerts:     newSchedule(),
		planErr:    apperr.New(apperr.NotReady, "plan", "no path fitted"),
	}
}

// ContinueAlertsAfter makes the next alert's sequence number seq+1. A
// replacement driver uses it to keep alert numbering monotonic for the
// session it serves.
func (d *Driver) ContinueAlertsAfter(seq uint64) {
	if seq > d.alertSeq {
		d.alertSeq = seq
	}
}

// LastAlertSeq returns the sequence number of the newest alert, or 0.
func (d *Driver) LastAlertSeq() uint64 { return d.alertSeq }

// SetHemisphere changes the traversal direction.
func (d *Driver) SetHemisphere(h geometry.Hemisphere) {
	d.hemisphere = h
	d.refresh()
}

// SetPlan installs the plan for subsequent runs. A nil plan records err as
// the reason Start is refused; a running driver without a plan pauses.
func (d *Driver) SetPlan(p *Plan, err error) {
	d.plan = p
	d.planErr = err
	if p == nil && d.status == Running {
		d.status = Paused
	}
	d.refresh()
}

// Ready reports whether a plan is installed.
func (d *Driver) Ready() bool { return d.plan != nil }

// Start begins or resumes the run. Start from Stopped or Completed begins a
// new run; from Completed the star returns to the start edge. Starting a
// running driver is a no-op.
func (d *Driver) Start() error {
	if d.plan == nil {
		cause := d.planErr
		if cause == nil {
			cause = apperr.New(apperr.NotReady, "plan", "no plan")
		}
		return apperr.Wrap(apperr.NotReady, "simulation", cause, "cannot start")
	}

	switch d.status {
	case Running:
		return nil
	case Completed:
		d.fraction = 0
		d.elapsed = 0
		fallthrough
	case Stopped:
		d.run++
		d.alerts.rearm()
	}
	d.status = Running
	d.refresh()
	return nil
}

// Pause halts a running driver, keeping fraction and elapsed time.
func (d *Driver) Pause() {
	if d.status == Running {
		d.status = Paused
	}
}

// Seek moves to path fraction f (clamped to [0, 1]) and re-derives the
// elapsed time from the plan. The status is kept, except that a completed
// run becomes paused.
func (d *Driver) Seek(f float64) {
	if math.IsNaN(f) || f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	d.fraction = f
	if d.status == Completed {
		d.status = Paused
	}
	d.elapsed = d.durationTo(f)
	d.refresh()
}

// Reset stops the driver at the start edge and re-arms the alerts.
func (d *Driver) Reset() {
	d.status = Stopped
	d.fraction = 0
	d.elapsed = 0
	d.alerts.rearm()
	d.refresh()
}

// Tick advances a running driver by dt seconds. It returns the alerts whose
// thresholds were crossed and whether this tick completed the run.
func (d *Driver) Tick(dt float64) (alerts []Alert, completed bool) {
	if d.status != Running || d.plan == nil || !(dt > 0) || d.plan.Length <= 0 {
		return nil, false
	}

	prevRemaining := d.remaining
	speed := d.plan.Resolution.Speed(d.curveFraction(d.fraction))
	next := d.fraction + dt*speed/d.plan.Length

	if next >= 1 {
		d.elapsed += d.remaining
		d.fraction = 1
		d.status = Completed
		completed = true
	} else {
		d.fraction = next
		d.elapsed += dt
	}
	d.remaining = d.durationFrom(d.fraction)

	for _, th := range d.alerts.crossed(prevRemaining, d.remaining) {
		d.alertSeq++
		alerts = append(alerts, Alert{
			Seq:              d.alertSeq,
			Run:              d.run,
			ThresholdSeconds: th,
			RemainingSeconds: d.remaining,
		})
	}
	return alerts, completed
}

// Position returns the screen position of the star. ok is false without a
// plan.
func (d *Driver) Position() (x, y float64, ok bool) {
	if d.plan == nil {
		return 0, 0, false
	}
	x, y = d.plan.Curve.PositionAt(d.curveFraction(d.fraction))
	return x, y, true
}

// State returns a snapshot.
func (d *Driver) State() State {
	return State{
		Hemisphere:           d.hemisphere,
		Status:               d.status,
		Fraction:             d.fraction,
		ElapsedSeconds:       d.elapsed,
		TotalDurationSeconds: d.total,
		RemainingSeconds:     d.remaining,
		Run:                  d.run,
		Ready:                d.plan != nil,
	}
}

// curveFraction maps a travelled fraction to the curve parameter.
func (d *Driver) curveFraction(f float64) float64 {
	if d.hemisphere == geometry.South {
		return 1 - f
	}
	return f
}

// durationTo is the time needed to travel from the start edge to f.
func (d *Driver) durationTo(f float64) float64 {
	if d.plan == nil {
		return 0
	}
	if d.hemisphere == geometry.South {
		return velocity.Duration(d.plan.Resolution, d.plan.Length, 1-f, 1)
	}
	return velocity.Duration(d.plan.Resolution, d.plan.Length, 0, f)
}

// durationFrom is the time needed to travel from f to the end edge.
func (d *Driver) durationFrom(f float64) float64 {
	if d.plan == nil {
		return 0
	}
	if d.hemisphere == geometry.South {
		return velocity.Duration(d.plan.Resolution, d.plan.Length, 0, 1-f)
	}
	return velocity.Duration(d.plan.Resolution, d.plan.Length, f, 1)
}

// refresh recomputes the duration estimates from the current plan.
func (d *Driver) refresh() {
	if d.plan == nil {
		d.total, d.remaining = 0, 0
		return
	}
	d.total = velocity.TotalDuration(d.plan.Resolution, d.plan.Length)
	d.remaining = d.durationFrom(d.fraction)
}
