package session

import (
	"github.com/jscheidtmann/BadWeatherMountTester/internal/arc"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/simulation"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/velocity"
)

// Mode is what the simulator screen shows.
type Mode string

const (
	ModeWaiting     Mode = "waiting"
	ModeLocator     Mode = "locator"
	ModeCalibration Mode = "calibration"
	ModeSimulation  Mode = "simulation"
)

// locatorMarginPx is the distance of the locator target from the left edge.
const locatorMarginPx = 10

var stageModes = map[Stage]Mode{
	Configure: ModeWaiting,
	Locate:    ModeLocator,
	Align:     ModeLocator,
	Calibrate: ModeCalibration,
	Velocity:  ModeSimulation,
	Measure:   ModeSimulation,
}

// Marker is a screen position.
type Marker struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Star is the simulated star: position plus intensity profile.
type Star struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	RadiusPx   int     `json:"radius_px"`
	Brightness int     `json:"brightness"`
}

// StripeMark locates a timing stripe on the path.
type StripeMark struct {
	Stripe  string  `json:"stripe"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	WidthPx float64 `json:"width_px"`
}

// Frame is everything a render sink needs to draw the screen once.
type Frame struct {
	SessionID      string           `json:"session_id"`
	Stage          Stage            `json:"stage"`
	Mode           Mode             `json:"mode"`
	ScreenWidthPx  int              `json:"screen_width_px"`
	ScreenHeightPx int              `json:"screen_height_px"`
	Target         *Marker          `json:"target,omitempty"`
	Points         []arc.Point      `json:"points,omitempty"`
	Stripes        []StripeMark     `json:"stripes,omitempty"`
	Star           *Star            `json:"star,omitempty"`
	Simulation     simulation.State `json:"simulation"`
}

// Render returns the frame for the current stage.
func (s *Session) Render() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := Frame{
		SessionID:      s.id,
		Stage:          s.stage,
		Mode:           stageModes[s.stage],
		ScreenWidthPx:  s.geometry.ScreenWidthPx,
		ScreenHeightPx: s.geometry.ScreenHeightPx,
		Simulation:     s.driver.State(),
	}

	switch f.Mode {
	case ModeLocator:
		f.Target = s.locatorTarget()
	case ModeCalibration:
		f.Target = s.locatorTarget()
		f.Points = s.calib.Points()
	case ModeSimulation:
		if s.curve != nil {
			for i, id := range velocity.Stripes {
				x, y := s.curve.PositionAt(s.layout.Centers[i])
				f.Stripes = append(f.Stripes, StripeMark{Stripe: id.String(), X: x, Y: y, WidthPx: s.layout.WidthPx})
			}
		}
		if x, y, ok := s.driver.Position(); ok {
			f.Star = &Star{
				X:          x,
				Y:          y,
				RadiusPx:   s.geometry.StarSizePx,
				Brightness: s.geometry.StarBrightness,
			}
		}
	}
	return f
}

// locatorTarget is the crosshair the guide camera is aimed at: the left
// edge, one third up from the bottom.
func (s *Session) locatorTarget() *Marker {
	return &Marker{X: locatorMarginPx, Y: float64(s.geometry.ScreenHeightPx * 2 / 3)}
}
