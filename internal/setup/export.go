package setup

import (
	"io"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/geometry"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/sidereal"
)

// Export is the read-only configuration snapshot handed to the user.
type Export struct {
	GeneratedAt time.Time           `toml:"generated_at"`
	Geometry    geometry.Config     `toml:"geometry"`
	Calculated  geometry.Calculated `toml:"calculated"`
	Sidereal    SiderealSection     `toml:"sidereal"`
}

// SiderealSection records the sidereal reference at export time.
type SiderealSection struct {
	RateArcsecPerSec         float64 `toml:"rate_arcsec_per_s"`
	ApparentRateArcsecPerSec float64 `toml:"apparent_rate_arcsec_per_s"`
	JulianDate               float64 `toml:"julian_date"`
	GMSTHours                float64 `toml:"gmst_hours"`
}

// NewExport builds the export of g at time at.
func NewExport(g geometry.Config, at time.Time) Export {
	clk := sidereal.ClockAt(at)
	return Export{
		GeneratedAt: clk.At,
		Geometry:    g,
		Calculated:  g.Calculate(),
		Sidereal: SiderealSection{
			RateArcsecPerSec:         sidereal.RateArcsecPerSec,
			ApparentRateArcsecPerSec: sidereal.ApparentRate(g.LatitudeDeg),
			JulianDate:               clk.JulianDate,
			GMSTHours:                clk.GMSTHours,
		},
	}
}

// WriteTOML encodes the export as a TOML document.
func (e Export) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(e)
}
