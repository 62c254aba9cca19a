package sidereal

import (
	"math"
	"testing"
	"time"
)

func TestApparentRate(t *testing.T) {
	tests := []struct {
		name string
		lat  float64
		want float64
	}{
		{"pole", 90, 15.041},
		{"south pole", -90, 15.041},
		{"30 north", 30, 7.5205},
		{"30 south", -30, 7.5205},
		{"equator", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApparentRate(tt.lat)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ApparentRate(%v) = %.10f, want %.10f", tt.lat, got, tt.want)
			}
		})
	}
}

// TestClockAt checks the sidereal clock against known epochs.
func TestClockAt(t *testing.T) {
	tests := []struct {
		name   string
		time   time.Time
		wantJD float64
		// GMST in hours, 1e-4 h ≈ 0.36 s tolerance.
		wantGMST float64
	}{
		{
			name:     "J2000.0 epoch",
			time:     time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC),
			wantJD:   2451545.0,
			wantGMST: 18.697374558,
		},
		{
			name:     "Unix epoch",
			time:     time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
			wantJD:   2440587.5,
			wantGMST: 6.681976,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClockAt(tt.time)
			if math.Abs(c.JulianDate-tt.wantJD) > 1e-6 {
				t.Errorf("JulianDate = %.8f, want %.8f", c.JulianDate, tt.wantJD)
			}
			if math.Abs(c.GMSTHours-tt.wantGMST) > 1e-3 {
				t.Errorf("GMSTHours = %.6f, want %.6f", c.GMSTHours, tt.wantGMST)
			}
		})
	}
}

func TestClockAtTruncatesToSeconds(t *testing.T) {
	at := time.Date(2026, 2, 6, 4, 1, 0, 750_000_000, time.FixedZone("CET", 3600))
	c := ClockAt(at)

	want := time.Date(2026, 2, 6, 3, 1, 0, 0, time.UTC)
	if !c.At.Equal(want) {
		t.Errorf("At = %v, want %v", c.At, want)
	}
	if c.GMSTHours < 0 || c.GMSTHours >= 24 {
		t.Errorf("GMSTHours = %v out of [0,24)", c.GMSTHours)
	}
}
