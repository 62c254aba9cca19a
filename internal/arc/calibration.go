// Package arc fits the calibration points a user clicks along the guide
// camera's view of the screen to a continuous curve the simulated star can
// follow.
package arc

import (
	"math"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
)

// Point is one calibration point in screen pixels. Seq is its position in
// entry order, which is also path order.
type Point struct {
	Seq int     `json:"seq"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

// Calibration is the ordered point set of one calibration pass.
// Not safe for concurrent use; the owning session serializes access.
type Calibration struct {
	points  []Point
	nextSeq int
}

// Add appends a point. Points are entered left to right, so x must exceed
// the x of the previous point.
func (c *Calibration) Add(x, y float64) (Point, error) {
	if !finite(x) || !finite(y) {
		return Point{}, apperr.New(apperr.Validation, "point", "coordinates must be finite, got (%v, %v)", x, y)
	}
	if n := len(c.points); n > 0 && x <= c.points[n-1].X {
		return Point{}, apperr.New(apperr.Validation, "x",
			"points must be entered left to right: %v is not right of %v", x, c.points[n-1].X)
	}
	p := Point{Seq: c.nextSeq, X: x, Y: y}
	c.nextSeq++
	c.points = append(c.points, p)
	return p, nil
}

// Adjust moves the most recent point by (dx, dy).
func (c *Calibration) Adjust(dx, dy float64) (Point, error) {
	n := len(c.points)
	if n == 0 {
		return Point{}, apperr.New(apperr.InsufficientData, "point", "no point to adjust")
	}
	if !finite(dx) || !finite(dy) {
		return Point{}, apperr.New(apperr.Validation, "delta", "offsets must be finite")
	}
	p := c.points[n-1]
	p.X += dx
	p.Y += dy
	if n > 1 && p.X <= c.points[n-2].X {
		return Point{}, apperr.New(apperr.Validation, "dx",
			"adjusted point would no longer be right of %v", c.points[n-2].X)
	}
	c.points[n-1] = p
	return p, nil
}

// RemoveLast drops the most recent point. It reports false if there was none.
func (c *Calibration) RemoveLast() (Point, bool) {
	n := len(c.points)
	if n == 0 {
		return Point{}, false
	}
	p := c.points[n-1]
	c.points = c.points[:n-1]
	return p, true
}

// Clear removes every point and restarts the sequence.
func (c *Calibration) Clear() {
	c.points = nil
	c.nextSeq = 0
}

// Len returns the number of points.
func (c *Calibration) Len() int {
	return len(c.points)
}

// Points returns a copy of the points in entry order.
func (c *Calibration) Points() []Point {
	out := make([]Point, len(c.points))
	copy(out, c.points)
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
