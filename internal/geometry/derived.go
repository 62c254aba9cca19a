package geometry

import (
	"math"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/sidereal"
)

// arcsecPerRadian is 206264.8…, rounded the way the setup sheet does it.
const arcsecPerRadian = 206265.0

// EffectiveFocalLengthMM is the guide scope focal length when focused on the
// screen at a finite distance (thin lens equation). Zero if the screen is not
// beyond the focal point.
func (c Config) EffectiveFocalLengthMM() float64 {
	flM := c.FocalLengthMM / 1000
	d := c.DistanceToScreenM
	if d > flM && d > 0 && c.FocalLengthMM > 0 {
		return c.FocalLengthMM * d / (d - flM)
	}
	return 0
}

// CameraResolutionArcsec is the sky angle of one camera pixel.
func (c Config) CameraResolutionArcsec() float64 {
	efl := c.EffectiveFocalLengthMM()
	if efl <= 0 || c.PixelSizeUM <= 0 {
		return 0
	}
	return arcsecPerRadian / 1000 * c.PixelSizeUM / efl
}

// RecommendedBinning is the camera binning at which one binned camera pixel
// covers roughly a tenth of a simulator pixel. Never below 1.
func (c Config) RecommendedBinning() int {
	efl := c.EffectiveFocalLengthMM()
	d := c.DistanceToScreenM
	if efl <= 0 || c.PixelSizeUM <= 0 || d <= 0 || c.ScreenWidthPx <= 0 {
		return 1
	}
	cameraPixelOnScreenMM := c.PixelSizeUM * d / efl
	screenPixelMM := c.ScreenWidthMM / float64(c.ScreenWidthPx)
	b := int(math.Round(screenPixelMM / 10 / cameraPixelOnScreenMM))
	if b < 1 {
		return 1
	}
	return b
}

// AreaOnSimulatorMM is the screen area seen by the guide camera.
func (c Config) AreaOnSimulatorMM() (width, height float64) {
	efl := c.EffectiveFocalLengthMM()
	if efl <= 0 {
		return 0, 0
	}
	sensorW := float64(c.CameraWidthPx) * c.PixelSizeUM / 1000
	sensorH := float64(c.CameraHeightPx) * c.PixelSizeUM / 1000
	d := c.DistanceToScreenM * 1000
	return sensorW * d / efl, sensorH * d / efl
}

// PixelPitchMM is the physical width of one simulator pixel.
func (c Config) PixelPitchMM() float64 {
	if c.ScreenWidthMM <= 0 || c.ScreenWidthPx <= 0 {
		return 0
	}
	return c.ScreenWidthMM / float64(c.ScreenWidthPx)
}

// PixelPitchArcsec is the angle one simulator pixel subtends at the mount.
func (c Config) PixelPitchArcsec() float64 {
	pitch := c.PixelPitchMM()
	if pitch <= 0 || c.DistanceToScreenM <= 0 {
		return 0
	}
	return pitch / (c.DistanceToScreenM * 1000) * arcsecPerRadian
}

// DurationMinutes estimates how long a sidereal-rate star needs to cross the
// whole screen width.
func (c Config) DurationMinutes() float64 {
	return c.PixelPitchArcsec() * float64(c.ScreenWidthPx) / 15.0 / 60.0
}

// DeclinationTargetDeg is the declination at which the guide scope looks
// horizontally at the screen: toward the south horizon in the northern
// hemisphere, toward the north horizon in the southern.
func (c Config) DeclinationTargetDeg() float64 {
	if c.Hemisphere() == South {
		return c.LatitudeDeg + 90
	}
	return c.LatitudeDeg - 90
}

// SiderealSpeedPxPerSec converts the apparent sidereal rate at the configured
// latitude into simulator pixels per second.
func (c Config) SiderealSpeedPxPerSec() (float64, error) {
	if c.LatitudeDeg == 0 || !finite(c.LatitudeDeg) {
		return 0, apperr.New(apperr.InsufficientData, "latitude_deg", "required for the sidereal estimate")
	}
	scale := c.PixelPitchArcsec()
	if scale <= 0 {
		return 0, apperr.New(apperr.InsufficientData, "screen_width_mm", "screen scale required for the sidereal estimate")
	}
	speed := sidereal.ApparentRate(c.LatitudeDeg) / scale
	if speed <= 0 || !finite(speed) {
		return 0, apperr.New(apperr.InsufficientData, "latitude_deg", "sidereal estimate is not positive")
	}
	return speed, nil
}

// Calculated bundles every derived value.
type Calculated struct {
	EffectiveFocalLengthMM float64 `toml:"effective_focal_length_mm" json:"effective_focal_length_mm"`
	CameraResolutionArcsec float64 `toml:"camera_resolution_arcsec" json:"camera_resolution_arcsec"`
	RecommendedBinning     int     `toml:"recommended_binning" json:"recommended_binning"`
	AreaWidthMM            float64 `toml:"area_width_mm" json:"area_width_mm"`
	AreaHeightMM           float64 `toml:"area_height_mm" json:"area_height_mm"`
	PixelPitchMM           float64 `toml:"pixel_pitch_mm" json:"pixel_pitch_mm"`
	PixelPitchArcsec       float64 `toml:"pixel_pitch_arcsec" json:"pixel_pitch_arcsec"`
	DurationMinutes        float64 `toml:"duration_minutes" json:"duration_minutes"`
	DeclinationTargetDeg   float64 `toml:"declination_target_deg" json:"declination_target_deg"`
	SiderealSpeedPxPerSec  float64 `toml:"sidereal_speed_px_per_s" json:"sidereal_speed_px_per_s"`
	Hemisphere             string  `toml:"hemisphere" json:"hemisphere"`
}

// Calculate evaluates all derived values. A sidereal speed that cannot be
// computed is reported as zero.
func (c Config) Calculate() Calculated {
	w, h := c.AreaOnSimulatorMM()
	speed, _ := c.SiderealSpeedPxPerSec()
	return Calculated{
		EffectiveFocalLengthMM: c.EffectiveFocalLengthMM(),
		CameraResolutionArcsec: c.CameraResolutionArcsec(),
		RecommendedBinning:     c.RecommendedBinning(),
		AreaWidthMM:            w,
		AreaHeightMM:           h,
		PixelPitchMM:           c.PixelPitchMM(),
		PixelPitchArcsec:       c.PixelPitchArcsec(),
		DurationMinutes:        c.DurationMinutes(),
		DeclinationTargetDeg:   c.DeclinationTargetDeg(),
		SiderealSpeedPxPerSec:  speed,
		Hemisphere:             c.Hemisphere().String(),
	}
}
