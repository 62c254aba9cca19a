package session

import (
	"strings"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
)

// Stage is a step of the measurement workflow. Stages are linear.
type Stage int

const (
	Configure Stage = iota
	Locate
	Align
	Calibrate
	Velocity
	Measure
)

var stageNames = [...]string{"configure", "locate", "align", "calibrate", "velocity", "measure"}

func (s Stage) String() string {
	if s < Configure || s > Measure {
		return "unknown"
	}
	return stageNames[s]
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Artifacts named by StageNotReady errors.
const (
	ArtifactGeometry       = "geometry"
	ArtifactCalibrationFit = "calibration_fit"
	ArtifactVelocity       = "velocity"
)

// Commands gated by stage.
type command string

const (
	cmdGeometry    command = "geometry"
	cmdCalibration command = "calibration"
	cmdVelocity    command = "velocity"
	cmdTransport   command = "transport"
)

// allowed lists the stages each command is accepted in.
var allowed = map[command][]Stage{
	cmdGeometry:    {Configure},
	cmdCalibration: {Calibrate},
	cmdVelocity:    {Velocity, Measure},
	cmdTransport:   {Measure},
}

func (s Stage) permits(c command) bool {
	for _, st := range allowed[c] {
		if st == s {
			return true
		}
	}
	return false
}

func violation(s Stage, c command) error {
	names := make([]string, 0, len(allowed[c]))
	for _, st := range allowed[c] {
		names = append(names, st.String())
	}
	return apperr.New(apperr.StageViolation, "stage",
		"%s commands are accepted in %s, current stage is %s", c, strings.Join(names, " or "), s)
}
