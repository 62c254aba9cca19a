package arc

import (
	"math"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/apperr"
)

// Kind names the model a fit settled on.
type Kind string

const (
	KindEllipse Kind = "ellipse"
	KindCircle  Kind = "circle"
	KindLine    Kind = "line"
)

// Ellipse holds the geometric fit parameters in screen pixels. Rotation is
// the angle of the major axis in radians, within (-π/2, π/2].
// A straight-line fit has SemiMinor == 0.
type Ellipse struct {
	CenterX   float64 `json:"center_x"`
	CenterY   float64 `json:"center_y"`
	SemiMajor float64 `json:"semi_major"`
	SemiMinor float64 `json:"semi_minor"`
	Rotation  float64 `json:"rotation"`
}

const (
	// minConicPoints is the number of points a general conic needs.
	minConicPoints = 5
	// maxRadiusRatio bounds a circle radius relative to the point spread
	// before the points are treated as collinear.
	maxRadiusRatio = 1e4
	// maxResidualRatio bounds the distance of any point from a fitted
	// ellipse or circle, relative to the diagonal of the points' bounding
	// box.
	maxResidualRatio = 0.03
	// maxLengthRatio bounds the fitted path length relative to the polyline
	// through the points in entry order.
	maxLengthRatio = 2
	singularEps    = 1e-12
)

// Fit fits the points, taken in slice order, to a curve. It is a pure
// function: the same points always produce the same curve.
//
// Five or more points are fitted with a least-squares conic; if that is not
// a real ellipse, or there are fewer points, a least-squares circle is used.
// A candidate is kept only if every point lies close to it and it follows
// the points more closely than the straight segment from the first to the
// last point. Otherwise, and for two or collinear points, the result is
// that segment.
func Fit(points []Point) (*Curve, error) {
	if len(points) < 2 {
		return nil, apperr.New(apperr.InsufficientData, "calibration",
			"insufficient points: need at least 2, have %d", len(points))
	}

	n := normalize(points)
	if n.scale == 0 {
		return nil, apperr.New(apperr.InsufficientData, "calibration", "all points coincide")
	}

	line := newLine(points)
	if len(points) < 3 {
		return line, nil
	}
	g := newGate(points, line)

	if len(points) >= minConicPoints {
		if e, ok := fitConic(n); ok {
			if c := newCurve(KindEllipse, n.denormalize(e), points); g.accepts(c) {
				return c, nil
			}
		}
	}
	if e, ok := fitCircle(n); ok {
		if c := newCurve(KindCircle, n.denormalize(e), points); g.accepts(c) {
			return c, nil
		}
	}
	return line, nil
}

// gate decides whether a fitted curve actually follows the points.
type gate struct {
	points       []Point
	maxResidual  float64
	lineResidual float64
	maxLength    float64
}

func newGate(points []Point, line *Curve) gate {
	minX, maxX := points[0].X, points[0].X
	minY, maxY := points[0].Y, points[0].Y
	var poly float64
	for i, p := range points {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
		if i > 0 {
			poly += math.Hypot(p.X-points[i-1].X, p.Y-points[i-1].Y)
		}
	}
	return gate{
		points:       points,
		maxResidual:  maxResidualRatio * math.Hypot(maxX-minX, maxY-minY),
		lineResidual: line.residual(points),
		maxLength:    maxLengthRatio * poly,
	}
}

func (g gate) accepts(c *Curve) bool {
	if !finite(c.Length()) || c.Length() > g.maxLength {
		return false
	}
	r := c.residual(g.points)
	return r <= g.maxResidual && r < g.lineResidual
}

// normalized holds points shifted to their centroid and scaled to unit RMS
// distance, which keeps the normal equations well conditioned.
type normalized struct {
	xs, ys []float64
	cx, cy float64
	scale  float64
}

func normalize(points []Point) normalized {
	var mx, my float64
	for _, p := range points {
		mx += p.X
		my += p.Y
	}
	mx /= float64(len(points))
	my /= float64(len(points))

	var ss float64
	for _, p := range points {
		dx, dy := p.X-mx, p.Y-my
		ss += dx*dx + dy*dy
	}
	scale := math.Sqrt(ss / float64(len(points)))

	n := normalized{cx: mx, cy: my, scale: scale}
	if scale == 0 {
		return n
	}
	n.xs = make([]float64, len(points))
	n.ys = make([]float64, len(points))
	for i, p := range points {
		n.xs[i] = (p.X - mx) / scale
		n.ys[i] = (p.Y - my) / scale
	}
	return n
}

func (n normalized) denormalize(e Ellipse) Ellipse {
	return Ellipse{
		CenterX:   e.CenterX*n.scale + n.cx,
		CenterY:   e.CenterY*n.scale + n.cy,
		SemiMajor: e.SemiMajor * n.scale,
		SemiMinor: e.SemiMinor * n.scale,
		Rotation:  e.Rotation,
	}
}

// fitConic solves A x² + B xy + C y² + D x + E y = 1 in the least-squares
// sense and converts the conic to geometric ellipse parameters.
func fitConic(n normalized) (Ellipse, bool) {
	rows := make([][]float64, len(n.xs))
	rhs := make([]float64, len(n.xs))
	for i := range n.xs {
		x, y := n.xs[i], n.ys[i]
		rows[i] = []float64{x * x, x * y, y * y, x, y}
		rhs[i] = 1
	}
	sol, ok := leastSquares(rows, rhs)
	if !ok {
		return Ellipse{}, false
	}
	A, B, C, D, E := sol[0], sol[1], sol[2], sol[3], sol[4]

	det := 4*A*C - B*B
	if det <= singularEps {
		return Ellipse{}, false
	}
	x0 := (B*E - 2*C*D) / det
	y0 := (B*D - 2*A*E) / det
	f0 := (D*x0+E*y0)/2 - 1

	rot := 0.5 * math.Atan2(B, A-C)
	cos, sin := math.Cos(rot), math.Sin(rot)
	ap := A*cos*cos + B*cos*sin + C*sin*sin
	cp := A*sin*sin - B*cos*sin + C*cos*cos
	a2 := -f0 / ap
	b2 := -f0 / cp
	if !(a2 > 0) || !(b2 > 0) || !finite(a2) || !finite(b2) {
		return Ellipse{}, false
	}

	a, b := math.Sqrt(a2), math.Sqrt(b2)
	if b > a {
		a, b = b, a
		rot += math.Pi / 2
	}
	return Ellipse{CenterX: x0, CenterY: y0, SemiMajor: a, SemiMinor: b, Rotation: normalizeAxis(rot)}, true
}

// fitCircle is the algebraic (Kåsa) circle fit:
// x² + y² + D x + E y + F = 0.
func fitCircle(n normalized) (Ellipse, bool) {
	rows := make([][]float64, len(n.xs))
	rhs := make([]float64, len(n.xs))
	for i := range n.xs {
		x, y := n.xs[i], n.ys[i]
		rows[i] = []float64{x, y, 1}
		rhs[i] = -(x*x + y*y)
	}
	sol, ok := leastSquares(rows, rhs)
	if !ok {
		return Ellipse{}, false
	}
	cx, cy := -sol[0]/2, -sol[1]/2
	r2 := cx*cx + cy*cy - sol[2]
	if !(r2 > 0) {
		return Ellipse{}, false
	}
	r := math.Sqrt(r2)
	if r > maxRadiusRatio || !finite(r) {
		return Ellipse{}, false
	}
	return Ellipse{CenterX: cx, CenterY: cy, SemiMajor: r, SemiMinor: r}, true
}

// leastSquares solves the normal equations of rows·x = rhs.
func leastSquares(rows [][]float64, rhs []float64) ([]float64, bool) {
	k := len(rows[0])
	m := make([][]float64, k)
	v := make([]float64, k)
	for i := range m {
		m[i] = make([]float64, k)
	}
	for r, row := range rows {
		for i := 0; i < k; i++ {
			v[i] += row[i] * rhs[r]
			for j := 0; j < k; j++ {
				m[i][j] += row[i] * row[j]
			}
		}
	}
	return solve(m, v)
}

// solve runs Gaussian elimination with partial pivoting. m and v are
// overwritten.
func solve(m [][]float64, v []float64) ([]float64, bool) {
	k := len(v)
	var norm float64
	for i := range m {
		for j := range m[i] {
			norm = math.Max(norm, math.Abs(m[i][j]))
		}
	}
	if norm == 0 {
		return nil, false
	}

	for col := 0; col < k; col++ {
		pivot := col
		for r := col + 1; r < k; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) <= singularEps*norm {
			return nil, false
		}
		m[col], m[pivot] = m[pivot], m[col]
		v[col], v[pivot] = v[pivot], v[col]

		for r := col + 1; r < k; r++ {
			f := m[r][col] / m[col][col]
			for c := col; c < k; c++ {
				m[r][c] -= f * m[col][c]
			}
			v[r] -= f * v[col]
		}
	}

	x := make([]float64, k)
	for r := k - 1; r >= 0; r-- {
		s := v[r]
		for c := r + 1; c < k; c++ {
			s -= m[r][c] * x[c]
		}
		x[r] = s / m[r][r]
	}
	return x, true
}

// normalizeAxis maps an axis angle into (-π/2, π/2].
func normalizeAxis(a float64) float64 {
	a = math.Mod(a, math.Pi)
	if a > math.Pi/2 {
		a -= math.Pi
	} else if a <= -math.Pi/2 {
		a += math.Pi
	}
	return a
}
