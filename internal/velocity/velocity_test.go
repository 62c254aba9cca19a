package velocity

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
)

func noSidereal() (float64, error) {
	return 0, apperr.New(apperr.InsufficientData, "latitude_deg", "latitude not set")
}

func fixedSidereal(v float64) func() (float64, error) {
	return func() (float64, error) { return v, nil }
}

func TestParseStripe(t *testing.T) {
	tests := []struct {
		in   string
		want Stripe
		ok   bool
	}{
		{"left", Left, true},
		{"Middle", Middle, true},
		{"RIGHT", Right, true},
		{"top", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseStripe(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseStripe(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("ParseStripe(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestResolveInterpolated(t *testing.T) {
	m := NewModel(DefaultLayout())
	m.SetStripe(Left, 150)
	m.SetStripe(Middle, 100)
	m.SetStripe(Right, 150)

	r, err := m.Resolve(noSidereal)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Source != SourceInterpolated {
		t.Fatalf("source = %s, want interpolated", r.Source)
	}

	want := []float64{2, 3, 2}
	for i, v := range want {
		if math.Abs(r.StripeSpeeds[i]-v) > 1e-12 {
			t.Errorf("stripe speed %d = %v, want %v", i, r.StripeSpeeds[i], v)
		}
	}

	cases := []struct {
		t    float64
		want float64
	}{
		{0, 2}, // flat before the left center
		{1.0 / 6, 2},
		{1.0 / 3, 2.5},
		{0.5, 3},
		{2.0 / 3, 2.5},
		{5.0 / 6, 2},
		{1, 2}, // flat after the right center
	}
	for _, c := range cases {
		if got := r.Speed(c.t); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("Speed(%.4f) = %v, want %v", c.t, got, c.want)
		}
	}
}

func TestInterpolatedDurationExceedsMeanSpeedDuration(t *testing.T) {
	m := NewModel(DefaultLayout())
	m.SetStripe(Left, 150)
	m.SetStripe(Middle, 100)
	m.SetStripe(Right, 150)
	r, _ := m.Resolve(noSidereal)

	const length = 1800.0
	got := TotalDuration(r, length)

	mean := (2.0 + 3.0 + 2.0) / 3
	if !(got > length/mean) {
		t.Errorf("TotalDuration = %v, want > %v", got, length/mean)
	}

	// Flat thirds at 2 px/s plus two linear ramps between 2 and 3 px/s.
	exact := length * (1.0/6 + 2.0/3*math.Log(1.5))
	if math.Abs(got-exact) > 1e-6*exact {
		t.Errorf("TotalDuration = %.9f, want %.9f", got, exact)
	}
}

func TestResolvePartialAverage(t *testing.T) {
	m := NewModel(DefaultLayout())
	m.SetStripe(Middle, 120)

	r, err := m.Resolve(noSidereal)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Source != SourcePartialAverage {
		t.Fatalf("source = %s, want partial_average", r.Source)
	}
	for _, f := range []float64{0, 0.25, 0.5, 0.9, 1} {
		if got := r.Speed(f); got != 2.5 {
			t.Errorf("Speed(%v) = %v, want 2.5", f, got)
		}
	}

	m.SetStripe(Left, 100) // 3 px/s
	r, _ = m.Resolve(noSidereal)
	if r.Speed(0.3) != 2.75 {
		t.Errorf("two-stripe mean = %v, want 2.75", r.Speed(0.3))
	}
}

func TestOverrideWinsAndClearRestores(t *testing.T) {
	m := NewModel(DefaultLayout())
	m.SetStripe(Left, 150)
	m.SetStripe(Middle, 100)
	m.SetStripe(Right, 150)
	before, _ := m.Resolve(noSidereal)

	if err := m.SetOverride(7); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	r, _ := m.Resolve(noSidereal)
	if r.Source != SourceOverride || r.Speed(0.5) != 7 {
		t.Errorf("with override: %+v, want override 7", r)
	}

	m.ClearOverride()
	m.ClearOverride()
	after, _ := m.Resolve(noSidereal)
	if after.Source != before.Source {
		t.Fatalf("source after clear = %s, want %s", after.Source, before.Source)
	}
	for _, f := range []float64{0, 0.2, 0.5, 0.7, 1} {
		if after.Speed(f) != before.Speed(f) {
			t.Errorf("Speed(%v) after clear = %v, want %v", f, after.Speed(f), before.Speed(f))
		}
	}
}

func TestSetOverrideRejectsInvalid(t *testing.T) {
	m := NewModel(DefaultLayout())
	for _, v := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := m.SetOverride(v); !errors.Is(err, apperr.Validation) {
			t.Errorf("SetOverride(%v) err = %v, want validation", v, err)
		}
	}
	if _, ok := m.Override(); ok {
		t.Error("rejected override was stored")
	}
}

func TestSetStripeRejectsInvalid(t *testing.T) {
	m := NewModel(DefaultLayout())
	if err := m.SetStripe(Middle, 0); !errors.Is(err, apperr.Validation) {
		t.Errorf("zero seconds err = %v, want validation", err)
	}
	if err := m.SetStripe(Stripe(5), 10); !errors.Is(err, apperr.Validation) {
		t.Errorf("unknown stripe err = %v, want validation", err)
	}
}

func TestResolveSiderealFallback(t *testing.T) {
	m := NewModel(DefaultLayout())

	r, err := m.Resolve(fixedSidereal(0.62))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Source != SourceSiderealEstimate || r.Speed(0.5) != 0.62 {
		t.Errorf("resolution = %+v, want sidereal 0.62", r)
	}

	_, err = m.Resolve(noSidereal)
	if !errors.Is(err, apperr.InsufficientData) {
		t.Errorf("no inputs err = %v, want insufficient data", err)
	}
	_, err = m.Resolve(fixedSidereal(0))
	if !errors.Is(err, apperr.InsufficientData) {
		t.Errorf("zero sidereal err = %v, want insufficient data", err)
	}
}

func TestResolveRecomputesAfterChange(t *testing.T) {
	m := NewModel(DefaultLayout())
	m.SetStripe(Middle, 150)
	r1, _ := m.Resolve(noSidereal)
	m.SetStripe(Middle, 100)
	r2, _ := m.Resolve(noSidereal)
	if r1.Speed(0) == r2.Speed(0) {
		t.Errorf("resolution did not follow the new measurement: %v", r2.Speed(0))
	}
	m.ClearStripe(Middle)
	if _, err := m.Resolve(noSidereal); err == nil {
		t.Error("Resolve after clearing every stripe should fall back and fail")
	}
}

func TestDurationConstantSpeed(t *testing.T) {
	r := Resolution{Source: SourceOverride, PxPerSec: 4}
	if got := TotalDuration(r, 1000); math.Abs(got-250) > 1e-9 {
		t.Errorf("TotalDuration = %v, want 250", got)
	}
	if got := RemainingDuration(r, 1000, 0.75); math.Abs(got-62.5) > 1e-9 {
		t.Errorf("RemainingDuration = %v, want 62.5", got)
	}
	if got := Duration(r, 1000, 0.5, 0.25); got != 0 {
		t.Errorf("inverted Duration = %v, want 0", got)
	}
	if got := RemainingDuration(r, 1000, 1.5); got != 0 {
		t.Errorf("RemainingDuration past end = %v, want 0", got)
	}
}

func TestLayoutValidate(t *testing.T) {
	if err := DefaultLayout().Validate(); err != nil {
		t.Errorf("default layout: %v", err)
	}
	bad := []Layout{
		{WidthPx: 0, Centers: [3]float64{0.1, 0.5, 0.9}},
		{WidthPx: 300, Centers: [3]float64{0.5, 0.5, 0.9}},
		{WidthPx: 300, Centers: [3]float64{0.1, 0.5, 1.2}},
	}
	for _, l := range bad {
		if err := l.Validate(); !errors.Is(err, apperr.Validation) {
			t.Errorf("Validate(%+v) = %v, want validation", l, err)
		}
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTimersMeasureStripe(t *testing.T) {
	clk := &fakeClock{t: time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)}
	timers := NewTimers(clk.now)
	m := NewModel(DefaultLayout())

	if err := timers.Start(Left); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clk.advance(150 * time.Second)
	if got := timers.Elapsed(Left); got != 150 {
		t.Errorf("Elapsed = %v, want 150", got)
	}

	secs, err := timers.Stop(Left, m)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if secs != 150 {
		t.Errorf("Stop = %v, want 150", secs)
	}
	if v, ok := m.StripeSeconds(Left); !ok || v != 150 {
		t.Errorf("stored = %v, %v; want 150, true", v, ok)
	}
	if timers.Running(Left) {
		t.Error("timer still running after Stop")
	}
}

func TestTimersStopWithoutStart(t *testing.T) {
	timers := NewTimers(nil)
	_, err := timers.Stop(Right, NewModel(DefaultLayout()))
	if !errors.Is(err, apperr.StateConflict) {
		t.Errorf("Stop without Start err = %v, want state conflict", err)
	}
}

func TestTimersClear(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	timers := NewTimers(clk.now)
	m := NewModel(DefaultLayout())
	m.SetStripe(Middle, 90)
	timers.Start(Middle)

	timers.Clear(Middle, m)
	if timers.Running(Middle) {
		t.Error("timer running after Clear")
	}
	if _, ok := m.StripeSeconds(Middle); ok {
		t.Error("measurement kept after Clear")
	}
}

func TestSnapshot(t *testing.T) {
	m := NewModel(DefaultLayout())
	m.SetStripe(Right, 80)
	m.SetOverride(3)

	s := m.Snapshot()
	if len(s.Stripes) != 1 || s.Stripes["right"] != 80 {
		t.Errorf("stripes = %v, want right=80", s.Stripes)
	}
	if s.Override == nil || *s.Override != 3 {
		t.Errorf("override = %v, want 3", s.Override)
	}
}
