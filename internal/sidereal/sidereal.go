// Package sidereal provides the sidereal tracking rate and the sidereal clock
// reported alongside exported configurations.
package sidereal

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// RateArcsecPerSec is the sidereal tracking rate of a mount's RA axis.
const RateArcsecPerSec = 15.041

// ApparentRate returns the angular rate (arcsec/s) at which a target drifts
// across a horizontal line of sight from a mount at the given latitude.
//
// The line of sight toward the screen points at declination |lat|−90°, so the
// apparent rate is scaled by cos(90°−|lat|).
func ApparentRate(latitudeDeg float64) float64 {
	return RateArcsecPerSec * math.Cos((90-math.Abs(latitudeDeg))*math.Pi/180)
}

// Clock is a sidereal time snapshot.
type Clock struct {
	At         time.Time
	JulianDate float64
	GMSTHours  float64 // Greenwich Mean Sidereal Time in hours [0, 24)
}

// ClockAt computes the sidereal clock for t (truncated to whole UTC seconds).
//
// Julian date and GMST come from go-satellite (IAU-82 model, Vallado).
func ClockAt(t time.Time) Clock {
	t = t.UTC().Truncate(time.Second)
	y, mo, d := t.Date()
	h, mi, s := t.Clock()

	jd := satellite.JDay(y, int(mo), d, h, mi, s)
	gmstRad := satellite.GSTimeFromDate(y, int(mo), d, h, mi, s)

	hours := math.Mod(gmstRad*12/math.Pi, 24)
	if hours < 0 {
		hours += 24
	}

	return Clock{
		At:         t,
		JulianDate: jd,
		GMSTHours:  hours,
	}
}
