// Package geometry holds the physical parameters of a measurement setup and
// the values derived from them.
//
// A Config is immutable for the lifetime of a session once the session leaves
// the Configure stage. All derived values are pure functions of the Config.
package geometry

import (
	"math"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
)

// Hemisphere selects the traversal direction of the simulated star.
type Hemisphere int

const (
	North Hemisphere = iota
	South
)

func (h Hemisphere) String() string {
	if h == South {
		return "south"
	}
	return "north"
}

// MarshalText encodes the hemisphere by name.
func (h Hemisphere) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// Config describes mount, guide scope, camera and simulator screen.
type Config struct {
	LatitudeDeg       float64 `toml:"latitude_deg" json:"latitude_deg"`
	FocalLengthMM     float64 `toml:"focal_length_mm" json:"focal_length_mm"`
	DistanceToScreenM float64 `toml:"distance_to_screen_m" json:"distance_to_screen_m"`
	MainPeriodSeconds float64 `toml:"main_period_seconds" json:"main_period_seconds"`

	ScreenWidthPx  int     `toml:"screen_width_px" json:"screen_width_px"`
	ScreenHeightPx int     `toml:"screen_height_px" json:"screen_height_px"`
	ScreenWidthMM  float64 `toml:"screen_width_mm" json:"screen_width_mm"`

	PixelSizeUM    float64 `toml:"pixel_size_um" json:"pixel_size_um"`
	CameraWidthPx  int     `toml:"camera_width_px" json:"camera_width_px"`
	CameraHeightPx int     `toml:"camera_height_px" json:"camera_height_px"`

	StarSizePx     int `toml:"star_size_px" json:"star_size_px"`
	StarBrightness int `toml:"star_brightness" json:"star_brightness"`
}

// Default returns the configuration a fresh installation starts with.
// Camera and physical screen width are unknown until entered.
func Default() Config {
	return Config{
		LatitudeDeg:       0,
		FocalLengthMM:     200,
		DistanceToScreenM: 5,
		MainPeriodSeconds: 480,
		ScreenWidthPx:     1920,
		ScreenHeightPx:    1080,
		StarSizePx:        5,
		StarBrightness:    255,
	}
}

// Validate checks that every required field is present and positive.
// The first offending field is named in the returned error.
func (c Config) Validate() error {
	if !finite(c.LatitudeDeg) || c.LatitudeDeg < -90 || c.LatitudeDeg > 90 {
		return apperr.New(apperr.Validation, "latitude_deg", "must be within [-90, 90], got %v", c.LatitudeDeg)
	}
	if c.LatitudeDeg == 0 {
		return apperr.New(apperr.Validation, "latitude_deg", "must be non-zero")
	}

	positive := []struct {
		field string
		value float64
	}{
		{"focal_length_mm", c.FocalLengthMM},
		{"distance_to_screen_m", c.DistanceToScreenM},
		{"main_period_seconds", c.MainPeriodSeconds},
		{"screen_width_px", float64(c.ScreenWidthPx)},
		{"screen_height_px", float64(c.ScreenHeightPx)},
		{"screen_width_mm", c.ScreenWidthMM},
		{"pixel_size_um", c.PixelSizeUM},
		{"camera_width_px", float64(c.CameraWidthPx)},
		{"camera_height_px", float64(c.CameraHeightPx)},
	}
	for _, p := range positive {
		if !finite(p.value) || p.value <= 0 {
			return apperr.New(apperr.Validation, p.field, "must be positive, got %v", p.value)
		}
	}

	if c.DistanceToScreenM*1000 <= c.FocalLengthMM {
		return apperr.New(apperr.Validation, "distance_to_screen_m", "must exceed the focal length")
	}
	if c.StarSizePx < 0 {
		return apperr.New(apperr.Validation, "star_size_px", "must not be negative")
	}
	if c.StarBrightness < 0 || c.StarBrightness > 255 {
		return apperr.New(apperr.Validation, "star_brightness", "must be within [0, 255]")
	}
	return nil
}

// CheckValues rejects malformed input: non-finite or negative numbers and
// out-of-range latitude or brightness. Zero means "not entered yet" and is
// accepted; Validate requires completeness.
func (c Config) CheckValues() error {
	if !finite(c.LatitudeDeg) || c.LatitudeDeg < -90 || c.LatitudeDeg > 90 {
		return apperr.New(apperr.Validation, "latitude_deg", "must be within [-90, 90], got %v", c.LatitudeDeg)
	}
	values := []struct {
		field string
		value float64
	}{
		{"focal_length_mm", c.FocalLengthMM},
		{"distance_to_screen_m", c.DistanceToScreenM},
		{"main_period_seconds", c.MainPeriodSeconds},
		{"screen_width_px", float64(c.ScreenWidthPx)},
		{"screen_height_px", float64(c.ScreenHeightPx)},
		{"screen_width_mm", c.ScreenWidthMM},
		{"pixel_size_um", c.PixelSizeUM},
		{"camera_width_px", float64(c.CameraWidthPx)},
		{"camera_height_px", float64(c.CameraHeightPx)},
		{"star_size_px", float64(c.StarSizePx)},
	}
	for _, v := range values {
		if !finite(v.value) || v.value < 0 {
			return apperr.New(apperr.Validation, v.field, "must not be negative, got %v", v.value)
		}
	}
	if c.StarBrightness < 0 || c.StarBrightness > 255 {
		return apperr.New(apperr.Validation, "star_brightness", "must be within [0, 255]")
	}
	return nil
}

// Hemisphere returns South for negative latitudes.
func (c Config) Hemisphere() Hemisphere {
	if c.LatitudeDeg < 0 {
		return South
	}
	return North
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
