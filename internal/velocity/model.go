// Package velocity turns stripe timings, a manual override or the sidereal
// rate into a speed along the fitted path.
package velocity

import (
	"math"
	"strings"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
)

// Stripe identifies one of the three timing stripes on the screen.
type Stripe int

const (
	Left Stripe = iota
	Middle
	Right
)

// Stripes lists every stripe in path order.
var Stripes = [...]Stripe{Left, Middle, Right}

var stripeNames = [...]string{"left", "middle", "right"}

func (s Stripe) String() string {
	if s < Left || s > Right {
		return "unknown"
	}
	return stripeNames[s]
}

// ParseStripe maps "left", "middle" or "right" to a Stripe.
func ParseStripe(name string) (Stripe, error) {
	for i, n := range stripeNames {
		if strings.EqualFold(name, n) {
			return Stripe(i), nil
		}
	}
	return 0, apperr.New(apperr.Validation, "stripe", "unknown stripe %q", name)
}

func (s Stripe) valid() bool { return s >= Left && s <= Right }

// Layout places the stripes on the screen. Centers are path fractions in
// increasing order.
type Layout struct {
	WidthPx float64    `json:"width_px" toml:"width_px"`
	Centers [3]float64 `json:"centers" toml:"centers"`
}

// DefaultLayout divides the path into thirds with a 300 px stripe centered
// in each.
func DefaultLayout() Layout {
	return Layout{WidthPx: 300, Centers: [3]float64{1.0 / 6, 0.5, 5.0 / 6}}
}

// Validate checks the width is positive and the centers are ordered within
// [0, 1].
func (l Layout) Validate() error {
	if !(l.WidthPx > 0) || math.IsInf(l.WidthPx, 0) {
		return apperr.New(apperr.Validation, "width_px", "stripe width must be positive, got %v", l.WidthPx)
	}
	prev := -1.0
	for i, c := range l.Centers {
		if math.IsNaN(c) || c < 0 || c > 1 || c <= prev {
			return apperr.New(apperr.Validation, "centers",
				"stripe center %d (%v) must be in [0, 1] and right of the previous one", i, c)
		}
		prev = c
	}
	return nil
}

// Model holds the velocity inputs of one session. It never caches a
// resolution; Resolve recomputes from the current inputs every time.
// Not safe for concurrent use.
type Model struct {
	layout Layout

	seconds  [3]float64
	measured [3]bool

	override    float64
	hasOverride bool
}

// NewModel returns an empty model using layout.
func NewModel(layout Layout) *Model {
	return &Model{layout: layout}
}

// Layout returns the stripe layout.
func (m *Model) Layout() Layout { return m.layout }

// SetStripe records the time the star took to cross stripe id.
func (m *Model) SetStripe(id Stripe, seconds float64) error {
	if !id.valid() {
		return apperr.New(apperr.Validation, "stripe", "unknown stripe %d", int(id))
	}
	if !(seconds > 0) || math.IsInf(seconds, 0) {
		return apperr.New(apperr.Validation, "seconds", "stripe time must be positive, got %v", seconds)
	}
	m.seconds[id] = seconds
	m.measured[id] = true
	return nil
}

// ClearStripe removes the measurement of stripe id.
func (m *Model) ClearStripe(id Stripe) {
	if id.valid() {
		m.seconds[id] = 0
		m.measured[id] = false
	}
}

// StripeSeconds returns the measurement of stripe id, if any.
func (m *Model) StripeSeconds(id Stripe) (float64, bool) {
	if !id.valid() {
		return 0, false
	}
	return m.seconds[id], m.measured[id]
}

// SetOverride fixes the speed regardless of stripe data.
func (m *Model) SetOverride(pxPerSec float64) error {
	if !(pxPerSec > 0) || math.IsInf(pxPerSec, 0) {
		return apperr.New(apperr.Validation, "px_per_s", "invalid velocity %v: must be positive", pxPerSec)
	}
	m.override = pxPerSec
	m.hasOverride = true
	return nil
}

// ClearOverride removes the override. Clearing an absent override is a no-op.
func (m *Model) ClearOverride() {
	m.override = 0
	m.hasOverride = false
}

// Override returns the manual speed, if set.
func (m *Model) Override() (float64, bool) { return m.override, m.hasOverride }

// Snapshot is the JSON view of the model inputs.
type Snapshot struct {
	Layout   Layout             `json:"layout"`
	Stripes  map[string]float64 `json:"stripes"`
	Override *float64           `json:"override_px_per_s,omitempty"`
}

// Snapshot copies the current inputs.
func (m *Model) Snapshot() Snapshot {
	s := Snapshot{Layout: m.layout, Stripes: make(map[string]float64, 3)}
	for _, id := range Stripes {
		if m.measured[id] {
			s.Stripes[id.String()] = m.seconds[id]
		}
	}
	if m.hasOverride {
		v := m.override
		s.Override = &v
	}
	return s
}

// Resolve picks the speed source by priority: override, then all three
// stripes interpolated, then the mean of the measured stripes, then the
// sidereal estimate from sidereal.
func (m *Model) Resolve(sidereal func() (float64, error)) (Resolution, error) {
	if m.hasOverride {
		return constant(SourceOverride, m.override), nil
	}

	var speeds []float64
	for _, id := range Stripes {
		if m.measured[id] {
			speeds = append(speeds, m.layout.WidthPx/m.seconds[id])
		}
	}

	switch len(speeds) {
	case 3:
		centers := m.layout.Centers
		return Resolution{
			Source:       SourceInterpolated,
			StripeSpeeds: speeds,
			Centers:      centers[:],
		}, nil
	case 1, 2:
		var sum float64
		for _, s := range speeds {
			sum += s
		}
		return constant(SourcePartialAverage, sum/float64(len(speeds))), nil
	}

	if sidereal == nil {
		return Resolution{}, apperr.New(apperr.InsufficientData, "velocity",
			"no stripe measured and no sidereal estimate available")
	}
	v, err := sidereal()
	if err != nil {
		return Resolution{}, apperr.Wrap(apperr.InsufficientData, "velocity", err,
			"no stripe measured and sidereal estimate unavailable")
	}
	if !(v > 0) || math.IsInf(v, 0) {
		return Resolution{}, apperr.New(apperr.InsufficientData, "velocity",
			"sidereal estimate %v px/s is not usable", v)
	}
	return constant(SourceSiderealEstimate, v), nil
}
