package cv

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// homography is a row-major 3x3 projective transform
type homography [9]float64

// apply maps (x, y); ok is false for points sent to infinity
func (h homography) apply(x, y float64) (float64, float64, bool) {
	w := h[6]*x + h[7]*y + h[8]
	if math.Abs(w) < 1e-12 {
		return 0, 0, false
	}
	px := (h[0]*x + h[1]*y + h[2]) / w
	py := (h[3]*x + h[4]*y + h[5]) / w
	if math.IsNaN(px) || math.IsNaN(py) || math.IsInf(px, 0) || math.IsInf(py, 0) {
		return 0, 0, false
	}
	return px, py, true
}

func (h homography) reprojectionError(c correspondence) float64 {
	px, py, ok := h.apply(c.src[0], c.src[1])
	if !ok {
		return math.Inf(1)
	}
	return math.Hypot(px-c.dst[0], py-c.dst[1])
}

// findHomography estimates a homography robust to outliers: random minimal
// samples of four correspondences, the largest consensus set wins and is
// refitted with all of its inliers
func findHomography(matches []correspondence, threshold float64, iterations int, seed int64) (homography, bool) {
	if len(matches) < 4 {
		return homography{}, false
	}

	rng := rand.New(rand.NewSource(seed))
	var best homography
	var bestInliers []correspondence
	sample := make([]correspondence, 4)

	for it := 0; it < iterations; it++ {
		idx := rng.Perm(len(matches))[:4]
		for i, j := range idx {
			sample[i] = matches[j]
		}
		h, ok := fitHomography(sample)
		if !ok {
			continue
		}

		var inliers []correspondence
		for _, m := range matches {
			if h.reprojectionError(m) < threshold {
				inliers = append(inliers, m)
			}
		}
		if len(inliers) > len(bestInliers) {
			best, bestInliers = h, inliers
			if len(inliers) == len(matches) {
				break
			}
		}
	}

	if len(bestInliers) < 4 {
		return homography{}, false
	}
	if refined, ok := fitHomography(bestInliers); ok {
		return refined, true
	}
	return best, true
}

// fitHomography solves the normalized direct linear transform for four or
// more correspondences
func fitHomography(matches []correspondence) (homography, bool) {
	n := len(matches)
	srcT, srcOK := normalization(matches, func(c correspondence) [2]float64 { return c.src })
	dstT, dstOK := normalization(matches, func(c correspondence) [2]float64 { return c.dst })
	if !srcOK || !dstOK {
		return homography{}, false
	}

	a := mat.NewDense(2*n, 9, nil)
	for i, m := range matches {
		x, y := transformPoint(srcT, m.src)
		u, v := transformPoint(dstT, m.dst)
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return homography{}, false
	}
	var right mat.Dense
	svd.VTo(&right)

	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, right.At(i, 8))
	}

	// H = inv(Tdst) * Hn * Tsrc
	var dstInv mat.Dense
	if err := dstInv.Inverse(dstT); err != nil {
		return homography{}, false
	}
	var tmp, full mat.Dense
	tmp.Mul(&dstInv, hn)
	full.Mul(&tmp, srcT)

	scale := full.At(2, 2)
	if math.Abs(scale) < 1e-12 {
		return homography{}, false
	}
	var h homography
	for i := 0; i < 9; i++ {
		h[i] = full.At(i/3, i%3) / scale
	}
	return h, true
}

// normalization returns the similarity moving the points' centroid to the
// origin with mean distance sqrt(2)
func normalization(matches []correspondence, pick func(correspondence) [2]float64) (*mat.Dense, bool) {
	var cx, cy float64
	for _, m := range matches {
		p := pick(m)
		cx += p[0]
		cy += p[1]
	}
	n := float64(len(matches))
	cx /= n
	cy /= n

	var dist float64
	for _, m := range matches {
		p := pick(m)
		dist += math.Hypot(p[0]-cx, p[1]-cy)
	}
	dist /= n
	if dist < 1e-9 {
		return nil, false
	}

	s := math.Sqrt2 / dist
	return mat.NewDense(3, 3, []float64{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	}), true
}

func transformPoint(t *mat.Dense, p [2]float64) (float64, float64) {
	return t.At(0, 0)*p[0] + t.At(0, 2), t.At(1, 1)*p[1] + t.At(1, 2)
}
