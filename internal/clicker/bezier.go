package clicker

import (
	"image"
	"math/rand"
)

func bezierPoint(t, p0, p1, p2, p3 float64) float64 {
	u := 1 - t
	return u*u*u*p0 + 3*u*u*t*p1 + 3*u*t*t*p2 + t*t*t*p3
}

// BezierPath returns n+1 waypoints on a cubic curve from start to end. The
// two control points sit roughly a third and two thirds of the way along,
// each pushed up to 50 pixels off the line.
func BezierPath(start, end image.Point, n int, rng *rand.Rand) []image.Point {
	if n < 1 {
		n = 1
	}
	sx, sy := float64(start.X), float64(start.Y)
	ex, ey := float64(end.X), float64(end.Y)
	dx, dy := ex-sx, ey-sy

	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }
	wobble := func() float64 { return float64(rng.Intn(101) - 50) }

	cp1x := sx + dx*uniform(0.2, 0.4) + wobble()
	cp1y := sy + dy*uniform(0.0, 0.3) + wobble()
	cp2x := sx + dx*uniform(0.6, 0.8) + wobble()
	cp2y := sy + dy*uniform(0.7, 1.0) + wobble()

	path := make([]image.Point, 0, n+1)
	for i := 0; i <= n; i++ {
		t := float64(i) / float64(n)
		path = append(path, image.Pt(
			int(bezierPoint(t, sx, cp1x, cp2x, ex)),
			int(bezierPoint(t, sy, cp1y, cp2y, ey)),
		))
	}
	return path
}
