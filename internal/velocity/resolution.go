package velocity

// Source tags which input a Resolution came from.
type Source string

const (
	SourceOverride         Source = "override"
	SourceInterpolated     Source = "interpolated"
	SourcePartialAverage   Source = "partial_average"
	SourceSiderealEstimate Source = "sidereal_estimate"
)

// Resolution is a resolved speed function over path fraction.
//
// For SourceInterpolated, StripeSpeeds holds the local speed at each of the
// Centers; otherwise PxPerSec is the constant speed.
type Resolution struct {
	Source       Source    `json:"source"`
	PxPerSec     float64   `json:"px_per_s,omitempty"`
	StripeSpeeds []float64 `json:"stripe_speeds,omitempty"`
	Centers      []float64 `json:"centers,omitempty"`
}

func constant(src Source, v float64) Resolution {
	return Resolution{Source: src, PxPerSec: v}
}

// Speed returns the speed in px/s at path fraction t. Interpolated speeds
// are linear between stripe centers and flat beyond the outer ones.
func (r Resolution) Speed(t float64) float64 {
	if r.Source != SourceInterpolated {
		return r.PxPerSec
	}
	c, s := r.Centers, r.StripeSpeeds
	if t <= c[0] {
		return s[0]
	}
	last := len(c) - 1
	if t >= c[last] {
		return s[last]
	}
	for i := 1; i <= last; i++ {
		if t <= c[i] {
			w := (t - c[i-1]) / (c[i] - c[i-1])
			return s[i-1] + w*(s[i]-s[i-1])
		}
	}
	return s[last]
}

// breakpoints returns the fractions where Speed is not smooth.
func (r Resolution) breakpoints() []float64 {
	if r.Source != SourceInterpolated {
		return nil
	}
	return r.Centers
}
