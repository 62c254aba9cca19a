package velocity

import (
	"time"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
)

// Timers are the per-stripe stopwatches an operator uses while watching the
// star cross a stripe. Stopping a timer stores its elapsed time in a Model.
// Not safe for concurrent use.
type Timers struct {
	now     func() time.Time
	started [3]time.Time
	running [3]bool
}

// NewTimers returns stopwatches reading now; nil uses time.Now.
func NewTimers(now func() time.Time) *Timers {
	if now == nil {
		now = time.Now
	}
	return &Timers{now: now}
}

// Start starts (or restarts) the timer of stripe id.
func (t *Timers) Start(id Stripe) error {
	if !id.valid() {
		return apperr.New(apperr.Validation, "stripe", "unknown stripe %d", int(id))
	}
	t.started[id] = t.now()
	t.running[id] = true
	return nil
}

// Stop stops the timer of stripe id and records the elapsed seconds in m.
// The timer is stopped even when the measurement is rejected.
func (t *Timers) Stop(id Stripe, m *Model) (float64, error) {
	if !id.valid() {
		return 0, apperr.New(apperr.Validation, "stripe", "unknown stripe %d", int(id))
	}
	if !t.running[id] {
		return 0, apperr.New(apperr.StateConflict, "stripe", "timer for %s stripe is not running", id)
	}
	t.running[id] = false
	elapsed := t.now().Sub(t.started[id]).Seconds()
	if err := m.SetStripe(id, elapsed); err != nil {
		return 0, err
	}
	return elapsed, nil
}

// Clear cancels any running timer of stripe id and removes its measurement
// from m.
func (t *Timers) Clear(id Stripe, m *Model) {
	if !id.valid() {
		return
	}
	t.running[id] = false
	t.started[id] = time.Time{}
	m.ClearStripe(id)
}

// Running reports whether the timer of stripe id is running.
func (t *Timers) Running(id Stripe) bool {
	return id.valid() && t.running[id]
}

// Elapsed returns the seconds on a running timer, or 0.
func (t *Timers) Elapsed(id Stripe) float64 {
	if !t.Running(id) {
		return 0
	}
	return t.now().Sub(t.started[id]).Seconds()
}
