package cv

import (
	"image"
	"math"
	"math/bits"
	"math/rand"
	"sort"
)

// FeatureConfig configures keypoint matching
type FeatureConfig struct {
	MaxFeatures      int     // keypoints kept per image, strongest first
	MinGoodMatches   int     // matches surviving the ratio test
	RatioTest        float64 // best < RatioTest * second best
	RansacThreshold  float64 // reprojection error in pixels
	RansacIterations int
	FastThreshold    float64
	Seed             int64
}

// DefaultFeatureConfig returns recommended settings
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		MaxFeatures:      1000,
		MinGoodMatches:   10,
		RatioTest:        0.75,
		RansacThreshold:  5.0,
		RansacIterations: 2000,
		FastThreshold:    20,
		Seed:             1,
	}
}

func (c *FeatureConfig) applyDefaults() {
	d := DefaultFeatureConfig()
	if c.MaxFeatures <= 0 {
		c.MaxFeatures = d.MaxFeatures
	}
	if c.MinGoodMatches <= 0 {
		c.MinGoodMatches = d.MinGoodMatches
	}
	if c.RatioTest <= 0 {
		c.RatioTest = d.RatioTest
	}
	if c.RansacThreshold <= 0 {
		c.RansacThreshold = d.RansacThreshold
	}
	if c.RansacIterations <= 0 {
		c.RansacIterations = d.RansacIterations
	}
	if c.FastThreshold <= 0 {
		c.FastThreshold = d.FastThreshold
	}
}

const (
	patchRadius = 15
	briefRadius = 13
	// keypoints closer than this to an edge are discarded so every patch,
	// centroid window and Harris window stays inside the image
	featureBorder = patchRadius + 1
)

// keypoint is a detected corner with its orientation and descriptor
type keypoint struct {
	x, y  int
	score float64
	angle float64
	desc  [4]uint64
}

// fastCircle is the Bresenham circle of radius 3 used by FAST-9
var fastCircle = [16]image.Point{
	{0, -3}, {1, -3}, {2, -2}, {3, -1}, {3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1}, {-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// briefPattern holds 256 point pairs inside a disc of radius briefRadius
var briefPattern = makeBriefPattern(256, briefRadius, 0x5EED)

type pointPair struct {
	ax, ay, bx, by float64
}

func makeBriefPattern(n int, radius float64, seed int64) []pointPair {
	rng := rand.New(rand.NewSource(seed))
	sigma := float64(2*patchRadius+1) / 5
	sample := func() (float64, float64) {
		for {
			x := math.Round(rng.NormFloat64() * sigma)
			y := math.Round(rng.NormFloat64() * sigma)
			if x*x+y*y <= radius*radius {
				return x, y
			}
		}
	}
	pattern := make([]pointPair, n)
	for i := range pattern {
		ax, ay := sample()
		bx, by := sample()
		pattern[i] = pointPair{ax, ay, bx, by}
	}
	return pattern
}

// detectFeatures finds oriented FAST corners and computes rotated BRIEF
// descriptors for them
func detectFeatures(gray *plane, cfg FeatureConfig) []keypoint {
	if gray.w <= 2*featureBorder || gray.h <= 2*featureBorder {
		return nil
	}

	scores := newPlane(gray.w, gray.h)
	for y := featureBorder; y < gray.h-featureBorder; y++ {
		for x := featureBorder; x < gray.w-featureBorder; x++ {
			scores.pix[y*gray.w+x] = fastScore(gray, x, y, cfg.FastThreshold)
		}
	}

	// 3x3 non-max suppression
	var kps []keypoint
	for y := featureBorder; y < gray.h-featureBorder; y++ {
		for x := featureBorder; x < gray.w-featureBorder; x++ {
			s := scores.at(x, y)
			if s <= 0 || !isLocalMax(scores, x, y) {
				continue
			}
			kps = append(kps, keypoint{x: x, y: y, score: harrisResponse(gray, x, y)})
		}
	}

	sort.SliceStable(kps, func(i, j int) bool { return kps[i].score > kps[j].score })
	if len(kps) > cfg.MaxFeatures {
		kps = kps[:cfg.MaxFeatures]
	}

	smooth := boxBlur(gray, 2)
	for i := range kps {
		kps[i].angle = centroidAngle(gray, kps[i].x, kps[i].y)
		kps[i].desc = briefDescriptor(smooth, kps[i].x, kps[i].y, kps[i].angle)
	}
	return kps
}

// fastScore returns a positive corner strength when 9 contiguous circle
// pixels are all brighter or all darker than the center by more than t
func fastScore(gray *plane, x, y int, t float64) float64 {
	center := gray.at(x, y)
	var state [16]int
	var strength float64
	for i, off := range fastCircle {
		v := gray.at(x+off.X, y+off.Y)
		switch {
		case v > center+t:
			state[i] = 1
			strength += v - center - t
		case v < center-t:
			state[i] = -1
			strength += center - t - v
		}
	}

	for _, want := range [2]int{1, -1} {
		run := 0
		for i := 0; i < 16+9; i++ {
			if state[i%16] == want {
				run++
				if run >= 9 {
					return strength
				}
			} else {
				run = 0
			}
		}
	}
	return 0
}

func isLocalMax(scores *plane, x, y int) bool {
	s := scores.at(x, y)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := scores.at(x+dx, y+dy)
			// ties go to the earlier pixel in raster order
			if n > s || (n == s && (dy < 0 || (dy == 0 && dx < 0))) {
				return false
			}
		}
	}
	return true
}

// harrisResponse computes det(M) - k*trace(M)^2 over a 7x7 window of
// Sobel gradients
func harrisResponse(gray *plane, x, y int) float64 {
	const k = 0.04
	var ixx, iyy, ixy float64
	for dy := -3; dy <= 3; dy++ {
		for dx := -3; dx <= 3; dx++ {
			px, py := x+dx, y+dy
			gx := gray.at(px+1, py-1) + 2*gray.at(px+1, py) + gray.at(px+1, py+1) -
				gray.at(px-1, py-1) - 2*gray.at(px-1, py) - gray.at(px-1, py+1)
			gy := gray.at(px-1, py+1) + 2*gray.at(px, py+1) + gray.at(px+1, py+1) -
				gray.at(px-1, py-1) - 2*gray.at(px, py-1) - gray.at(px+1, py-1)
			ixx += gx * gx
			iyy += gy * gy
			ixy += gx * gy
		}
	}
	trace := ixx + iyy
	return ixx*iyy - ixy*ixy - k*trace*trace
}

// centroidAngle is the orientation of the intensity centroid of the
// circular patch around (x, y)
func centroidAngle(gray *plane, x, y int) float64 {
	var m01, m10 float64
	for dy := -patchRadius; dy <= patchRadius; dy++ {
		for dx := -patchRadius; dx <= patchRadius; dx++ {
			if dx*dx+dy*dy > patchRadius*patchRadius {
				continue
			}
			v := gray.at(x+dx, y+dy)
			m10 += float64(dx) * v
			m01 += float64(dy) * v
		}
	}
	return math.Atan2(m01, m10)
}

func briefDescriptor(smooth *plane, x, y int, angle float64) [4]uint64 {
	var desc [4]uint64
	sin, cos := math.Sincos(angle)
	sample := func(px, py float64) float64 {
		rx := int(math.Round(cos*px - sin*py))
		ry := int(math.Round(sin*px + cos*py))
		return smooth.at(x+rx, y+ry)
	}
	for i, p := range briefPattern {
		if sample(p.ax, p.ay) < sample(p.bx, p.by) {
			desc[i/64] |= 1 << uint(i%64)
		}
	}
	return desc
}

// boxBlur averages a (2r+1)^2 neighbourhood, clamping at the edges
func boxBlur(p *plane, r int) *plane {
	in := newIntegral(p)
	out := newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		y0, y1 := max(0, y-r), min(p.h, y+r+1)
		for x := 0; x < p.w; x++ {
			x0, x1 := max(0, x-r), min(p.w, x+r+1)
			sum, _ := in.window(x0, y0, x1-x0, y1-y0)
			out.pix[y*p.w+x] = sum / float64((x1-x0)*(y1-y0))
		}
	}
	return out
}

func hamming(a, b [4]uint64) int {
	return bits.OnesCount64(a[0]^b[0]) + bits.OnesCount64(a[1]^b[1]) +
		bits.OnesCount64(a[2]^b[2]) + bits.OnesCount64(a[3]^b[3])
}

// correspondence is a template point matched to a scene point
type correspondence struct {
	src, dst [2]float64
}

// ratioMatches runs brute-force 2-NN matching and keeps unambiguous pairs
func ratioMatches(tpl, scene []keypoint, ratio float64) []correspondence {
	if len(scene) < 2 {
		return nil
	}
	var good []correspondence
	for _, t := range tpl {
		best, second := math.MaxInt, math.MaxInt
		bestIdx := -1
		for j, s := range scene {
			d := hamming(t.desc, s.desc)
			if d < best {
				second = best
				best, bestIdx = d, j
			} else if d < second {
				second = d
			}
		}
		if bestIdx >= 0 && float64(best) < ratio*float64(second) {
			good = append(good, correspondence{
				src: [2]float64{float64(t.x), float64(t.y)},
				dst: [2]float64{float64(scene[bestIdx].x), float64(scene[bestIdx].y)},
			})
		}
	}
	return good
}

// matchFeatures locates tpl in search by keypoint correspondences and a
// RANSAC homography. Confidence is good matches over template keypoints.
func matchFeatures(search, tpl *image.RGBA, confidence float64, cfg FeatureConfig) MatchOutcome {
	tplKps := detectFeatures(toGrayscale(tpl), cfg)
	sceneKps := detectFeatures(toGrayscale(search), cfg)
	if len(tplKps) < 2 || len(sceneKps) < 2 {
		return MatchOutcome{}
	}

	good := ratioMatches(tplKps, sceneKps, cfg.RatioTest)
	conf := float64(len(good)) / float64(len(tplKps))
	if len(good) < cfg.MinGoodMatches {
		return MatchOutcome{Confidence: conf}
	}

	h, ok := findHomography(good, cfg.RansacThreshold, cfg.RansacIterations, cfg.Seed)
	if !ok {
		return MatchOutcome{Confidence: conf}
	}

	w, ht := float64(tpl.Bounds().Dx()), float64(tpl.Bounds().Dy())
	corners := [4][2]float64{{0, 0}, {w, 0}, {w, ht}, {0, ht}}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	var cx, cy float64
	for _, c := range corners {
		px, py, ok := h.apply(c[0], c[1])
		if !ok {
			return MatchOutcome{Confidence: conf}
		}
		cx += px / 4
		cy += py / 4
		minX, maxX = math.Min(minX, px), math.Max(maxX, px)
		minY, maxY = math.Min(minY, py), math.Max(maxY, py)
	}

	bx, by := int(minX), int(minY)
	return MatchOutcome{
		Found:      conf >= confidence,
		Center:     Point{X: int(cx), Y: int(cy)},
		Confidence: conf,
		BBox:       Rect{X: bx, Y: by, W: int(maxX) - bx, H: int(maxY) - by},
		Scale:      1,
	}
}
