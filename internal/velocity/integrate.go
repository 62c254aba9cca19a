package velocity

import "math"

// simpsonIntervals is the number of Simpson subintervals per smooth segment.
const simpsonIntervals = 64

// TotalDuration returns the seconds needed to traverse a path of length px
// at the resolved speed.
func TotalDuration(r Resolution, length float64) float64 {
	return Duration(r, length, 0, 1)
}

// RemainingDuration returns the seconds left from path fraction from to the
// end of the path.
func RemainingDuration(r Resolution, length, from float64) float64 {
	return Duration(r, length, from, 1)
}

// Duration integrates length/speed(t) over [from, to]. Bounds are clamped to
// [0, 1]; an empty or inverted interval yields 0.
func Duration(r Resolution, length, from, to float64) float64 {
	from, to = clamp01(from), clamp01(to)
	if !(to > from) || !(length > 0) {
		return 0
	}

	edges := []float64{from}
	for _, b := range r.breakpoints() {
		if b > from && b < to {
			edges = append(edges, b)
		}
	}
	edges = append(edges, to)

	inv := func(t float64) float64 {
		v := r.Speed(t)
		if !(v > 0) {
			return math.Inf(1)
		}
		return length / v
	}

	var total float64
	for i := 1; i < len(edges); i++ {
		total += simpson(inv, edges[i-1], edges[i], simpsonIntervals)
	}
	return total
}

// simpson is the composite Simpson rule over n (even) subintervals.
func simpson(f func(float64) float64, a, b float64, n int) float64 {
	h := (b - a) / float64(n)
	sum := f(a) + f(b)
	for i := 1; i < n; i++ {
		x := a + float64(i)*h
		if i%2 == 1 {
			sum += 4 * f(x)
		} else {
			sum += 2 * f(x)
		}
	}
	return sum * h / 3
}

func clamp01(t float64) float64 {
	switch {
	case math.IsNaN(t), t < 0:
		return 0
	case t > 1:
		return 1
	}
	return t
}
