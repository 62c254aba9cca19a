package arc

import (
	"math"
	"sort"
)

// lengthSegments is the number of chords used to measure arc length and to
// map path fractions to distances along the curve.
const lengthSegments = 512

// Curve is a fitted path from the first to the last calibration point,
// parameterized by distance: PositionAt(t) lies t·Length() pixels along
// the path. Immutable; safe for concurrent reads.
type Curve struct {
	kind    Kind
	ellipse Ellipse

	// Eccentric anomalies of the first and last point, unwrapped so that
	// phi0→phi1 runs through the points in entry order.
	phi0, phi1 float64

	first, last Point
	// Residuals of the endpoints against the fitted ellipse; blended along
	// the arc so PositionAt(0) and PositionAt(1) hit the entered points.
	off0, off1 [2]float64

	// samples[i] is the path at anomaly fraction i/lengthSegments and
	// cum[i] the chord length from samples[0] to samples[i].
	samples [][2]float64
	cum     []float64

	length float64
}

func newCurve(kind Kind, e Ellipse, points []Point) *Curve {
	c := &Curve{
		kind:    kind,
		ellipse: e,
		first:   points[0],
		last:    points[len(points)-1],
	}

	prev := c.anomaly(points[0])
	c.phi0 = prev
	total := 0.0
	for _, p := range points[1:] {
		phi := c.anomaly(p)
		total += wrapAngle(phi - prev)
		prev = phi
	}
	c.phi1 = c.phi0 + total

	x0, y0 := c.onEllipse(c.phi0)
	x1, y1 := c.onEllipse(c.phi1)
	c.off0 = [2]float64{c.first.X - x0, c.first.Y - y0}
	c.off1 = [2]float64{c.last.X - x1, c.last.Y - y1}

	c.samples = make([][2]float64, lengthSegments+1)
	c.cum = make([]float64, lengthSegments+1)
	for i := range c.samples {
		x, y := c.atAnomaly(float64(i) / lengthSegments)
		c.samples[i] = [2]float64{x, y}
		if i > 0 {
			p := c.samples[i-1]
			c.cum[i] = c.cum[i-1] + math.Hypot(x-p[0], y-p[1])
		}
	}
	c.length = c.cum[lengthSegments]
	return c
}

func newLine(points []Point) *Curve {
	first, last := points[0], points[len(points)-1]
	dx, dy := last.X-first.X, last.Y-first.Y
	length := math.Hypot(dx, dy)
	return &Curve{
		kind: KindLine,
		ellipse: Ellipse{
			CenterX:   (first.X + last.X) / 2,
			CenterY:   (first.Y + last.Y) / 2,
			SemiMajor: length / 2,
			Rotation:  normalizeAxis(math.Atan2(dy, dx)),
		},
		first:   first,
		last:    last,
		samples: [][2]float64{{first.X, first.Y}, {last.X, last.Y}},
		length:  length,
	}
}

// Kind reports which model the fit settled on.
func (c *Curve) Kind() Kind { return c.kind }

// Ellipse returns the fit parameters.
func (c *Curve) Ellipse() Ellipse { return c.ellipse }

// Degenerate reports whether the points were fitted by a straight segment,
// i.e. fewer than three non-collinear points were available.
func (c *Curve) Degenerate() bool { return c.kind == KindLine }

// Length returns the arc length in pixels between the first and last point.
func (c *Curve) Length() float64 { return c.length }

// PositionAt returns the screen position at path fraction t. t is clamped
// to [0, 1]; 0 is the first entered point and 1 the last.
func (c *Curve) PositionAt(t float64) (x, y float64) {
	if t < 0 || math.IsNaN(t) {
		t = 0
	} else if t > 1 {
		t = 1
	}

	if c.kind == KindLine {
		return c.first.X + t*(c.last.X-c.first.X), c.first.Y + t*(c.last.Y-c.first.Y)
	}
	return c.atAnomaly(c.anomalyFraction(t))
}

// anomalyFraction inverts the cumulative length table: it returns s such
// that atAnomaly(s) lies t·length along the path.
func (c *Curve) anomalyFraction(t float64) float64 {
	switch {
	case t <= 0:
		return 0
	case t >= 1:
		return 1
	}
	d := t * c.length
	i := sort.SearchFloat64s(c.cum, d)
	if i == 0 {
		return 0
	}
	if i > lengthSegments {
		return 1
	}
	f := 0.0
	if seg := c.cum[i] - c.cum[i-1]; seg > 0 {
		f = (d - c.cum[i-1]) / seg
	}
	return (float64(i-1) + f) / lengthSegments
}

// atAnomaly evaluates the path at anomaly fraction s, blending the endpoint
// residuals.
func (c *Curve) atAnomaly(s float64) (float64, float64) {
	ex, ey := c.onEllipse(c.phi0 + s*(c.phi1-c.phi0))
	return ex + (1-s)*c.off0[0] + s*c.off1[0], ey + (1-s)*c.off0[1] + s*c.off1[1]
}

func (c *Curve) onEllipse(phi float64) (float64, float64) {
	e := c.ellipse
	u := e.SemiMajor * math.Cos(phi)
	v := e.SemiMinor * math.Sin(phi)
	cr, sr := math.Cos(e.Rotation), math.Sin(e.Rotation)
	return e.CenterX + u*cr - v*sr, e.CenterY + u*sr + v*cr
}

// anomaly returns the eccentric anomaly of the ellipse point nearest in
// angle to p.
func (c *Curve) anomaly(p Point) float64 {
	e := c.ellipse
	dx, dy := p.X-e.CenterX, p.Y-e.CenterY
	cr, sr := math.Cos(e.Rotation), math.Sin(e.Rotation)
	u := dx*cr + dy*sr
	v := -dx*sr + dy*cr
	return math.Atan2(v/e.SemiMinor, u/e.SemiMajor)
}

// residual returns the largest distance from any of points to the path.
func (c *Curve) residual(points []Point) float64 {
	var worst float64
	for _, p := range points {
		best := math.Inf(1)
		for i := 1; i < len(c.samples); i++ {
			best = math.Min(best, segmentDistance(p, c.samples[i-1], c.samples[i]))
		}
		worst = math.Max(worst, best)
	}
	return worst
}

// segmentDistance is the distance from p to the segment a–b.
func segmentDistance(p Point, a, b [2]float64) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(p.X-a[0], p.Y-a[1])
	}
	t := ((p.X-a[0])*dx + (p.Y-a[1])*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-a[0]-t*dx, p.Y-a[1]-t*dy)
}

// wrapAngle maps a into (-π, π].
func wrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
