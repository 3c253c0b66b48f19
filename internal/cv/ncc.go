package cv

import (
	"image"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Templates at or below this many pixels are correlated directly; the
// transform setup costs more than the sliding loop for them.
const directMaxArea = 64

// integral holds summed-area tables for a plane and its squares
type integral struct {
	w, h  int // plane size; tables are (w+1) x (h+1)
	sum   []float64
	sumSq []float64
}

func newIntegral(p *plane) *integral {
	stride := p.w + 1
	in := &integral{
		w:     p.w,
		h:     p.h,
		sum:   make([]float64, stride*(p.h+1)),
		sumSq: make([]float64, stride*(p.h+1)),
	}
	for y := 0; y < p.h; y++ {
		var rowSum, rowSq float64
		for x := 0; x < p.w; x++ {
			v := p.pix[y*p.w+x]
			rowSum += v
			rowSq += v * v
			in.sum[(y+1)*stride+x+1] = in.sum[y*stride+x+1] + rowSum
			in.sumSq[(y+1)*stride+x+1] = in.sumSq[y*stride+x+1] + rowSq
		}
	}
	return in
}

// window returns sum and sum of squares over [x,x+w) x [y,y+h)
func (in *integral) window(x, y, w, h int) (float64, float64) {
	stride := in.w + 1
	a := y*stride + x
	b := y*stride + x + w
	c := (y+h)*stride + x
	d := (y+h)*stride + x + w
	return in.sum[d] - in.sum[b] - in.sum[c] + in.sum[a],
		in.sumSq[d] - in.sumSq[b] - in.sumSq[c] + in.sumSq[a]
}

// nccResult is the best correlation over all placements
type nccResult struct {
	score    float64
	location image.Point
}

// bestNCC slides tpl over scene and returns the best zero-mean normalized
// cross-correlation (TM_CCOEFF_NORMED). Channels are correlated jointly.
// ok is false when the template does not fit inside the scene.
func bestNCC(scene, tpl []*plane) (nccResult, bool) {
	if len(scene) == 0 {
		return nccResult{}, false
	}
	return newCorrelator(scene).best(tpl)
}

// correlator scores templates against one scene. The scene spectra are
// computed on first use and shared by every template passed to best, so a
// multi-scale search transforms the frame once.
type correlator struct {
	w, h      int
	pw, ph    int // transform size, >= scene size with small prime factors
	scene     []*plane
	integrals []*integral
	fft       *fft2
	spectra   [][]complex128 // channel pairs packed as re+im
}

func newCorrelator(scene []*plane) *correlator {
	c := &correlator{
		w:         scene[0].w,
		h:         scene[0].h,
		scene:     scene,
		integrals: make([]*integral, len(scene)),
	}
	for i, p := range scene {
		c.integrals[i] = newIntegral(p)
	}
	return c
}

func (c *correlator) best(tpl []*plane) (nccResult, bool) {
	if len(tpl) != len(c.scene) {
		return nccResult{}, false
	}
	tw, th := tpl[0].w, tpl[0].h
	if tw == 0 || th == 0 || tw > c.w || th > c.h {
		return nccResult{}, false
	}
	n := float64(tw * th)

	// Zero-mean template; the scene mean then drops out of the numerator.
	centered := make([][]float64, len(tpl))
	var denT float64
	for ch, p := range tpl {
		var mean float64
		for _, v := range p.pix {
			mean += v
		}
		mean /= n
		centered[ch] = make([]float64, len(p.pix))
		for i, v := range p.pix {
			d := v - mean
			centered[ch][i] = d
			denT += d * d
		}
	}

	var nums []float64
	if tw*th <= directMaxArea {
		nums = c.directNumerators(centered, tw, th)
	} else {
		nums = c.fftNumerators(centered, tw, th)
	}

	ow := c.w - tw + 1
	best := nccResult{score: -1}
	for y := 0; y <= c.h-th; y++ {
		for x := 0; x <= c.w-tw; x++ {
			var denS float64
			for _, in := range c.integrals {
				s, sq := in.window(x, y, tw, th)
				denS += sq - s*s/n
			}
			// Pixel values are integers, so any non-flat window has
			// denS >= 1 - 1/n; anything smaller is rounding noise.
			score := 0.0
			if denT > 0 && denS > 1e-3 {
				score = nums[y*ow+x] / math.Sqrt(denS*denT)
			}
			if score > best.score {
				best = nccResult{score: score, location: image.Point{X: x, Y: y}}
			}
		}
	}

	best.score = math.Max(0, math.Min(1, best.score))
	return best, true
}

// directNumerators computes sum(scene * centered) for every placement by
// sliding the template. The result is (w-tw+1) x (h-th+1), row major.
func (c *correlator) directNumerators(centered [][]float64, tw, th int) []float64 {
	ow, oh := c.w-tw+1, c.h-th+1
	out := make([]float64, ow*oh)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			var num float64
			for ch, p := range c.scene {
				t := centered[ch]
				for ty := 0; ty < th; ty++ {
					row := p.pix[(y+ty)*c.w+x : (y+ty)*c.w+x+tw]
					trow := t[ty*tw : ty*tw+tw]
					for tx, v := range row {
						num += v * trow[tx]
					}
				}
			}
			out[y*ow+x] = num
		}
	}
	return out
}

// fftNumerators computes the same values as directNumerators through the
// frequency domain. Two real channels ride in one complex transform: with
// scene s1+i*s2 and template t1+i*t2 the real part of their correlation is
// s1*t1 + s2*t2, which is exactly the joint channel sum.
func (c *correlator) fftNumerators(centered [][]float64, tw, th int) []float64 {
	c.prepare()
	size := c.pw * c.ph
	acc := make([]complex128, size)
	buf := make([]complex128, size)

	for i := 0; i < len(centered); i += 2 {
		clear(buf)
		for ty := 0; ty < th; ty++ {
			for tx := 0; tx < tw; tx++ {
				re := centered[i][ty*tw+tx]
				var im float64
				if i+1 < len(centered) {
					im = centered[i+1][ty*tw+tx]
				}
				buf[ty*c.pw+tx] = complex(re, im)
			}
		}
		c.fft.forward(buf, th)

		spec := c.spectra[i/2]
		for k := range acc {
			acc[k] += spec[k] * cmplx.Conj(buf[k])
		}
	}

	ow, oh := c.w-tw+1, c.h-th+1
	c.fft.inverse(acc, oh)

	scale := 1 / float64(size)
	out := make([]float64, ow*oh)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			out[y*ow+x] = real(acc[y*c.pw+x]) * scale
		}
	}
	return out
}

// prepare transforms the scene once. Placements never wrap because the
// transform is at least as large as the scene.
func (c *correlator) prepare() {
	if c.fft != nil {
		return
	}
	c.pw, c.ph = fftSize(c.w), fftSize(c.h)
	c.fft = newFFT2(c.pw, c.ph)
	for i := 0; i < len(c.scene); i += 2 {
		spec := make([]complex128, c.pw*c.ph)
		for y := 0; y < c.h; y++ {
			for x := 0; x < c.w; x++ {
				re := c.scene[i].pix[y*c.w+x]
				var im float64
				if i+1 < len(c.scene) {
					im = c.scene[i+1].pix[y*c.w+x]
				}
				spec[y*c.pw+x] = complex(re, im)
			}
		}
		c.fft.forward(spec, c.h)
		c.spectra = append(c.spectra, spec)
	}
}

// fft2 is a row-column 2D complex transform over a w x h row-major grid.
// gonum leaves the inverse unscaled; callers divide by w*h.
type fft2 struct {
	w, h      int
	row, col  *fourier.CmplxFFT
	line, out []complex128
}

func newFFT2(w, h int) *fft2 {
	n := max(w, h)
	return &fft2{
		w:    w,
		h:    h,
		row:  fourier.NewCmplxFFT(w),
		col:  fourier.NewCmplxFFT(h),
		line: make([]complex128, n),
		out:  make([]complex128, n),
	}
}

// forward transforms data in place. Rows at or past rows are known to be
// zero, and their transform is zero too, so the row pass skips them.
func (f *fft2) forward(data []complex128, rows int) {
	for y := 0; y < rows; y++ {
		f.rowPass(data, y, f.row.Coefficients)
	}
	f.colPass(data, f.col.Coefficients)
}

// inverse transforms data in place, producing only the first rows rows.
func (f *fft2) inverse(data []complex128, rows int) {
	f.colPass(data, f.col.Sequence)
	for y := 0; y < rows; y++ {
		f.rowPass(data, y, f.row.Sequence)
	}
}

func (f *fft2) rowPass(data []complex128, y int, fn func(dst, src []complex128) []complex128) {
	row := data[y*f.w : (y+1)*f.w]
	line := f.line[:f.w]
	copy(line, row)
	fn(row, line)
}

func (f *fft2) colPass(data []complex128, fn func(dst, src []complex128) []complex128) {
	line, out := f.line[:f.h], f.out[:f.h]
	for x := 0; x < f.w; x++ {
		for y := 0; y < f.h; y++ {
			line[y] = data[y*f.w+x]
		}
		fn(out, line)
		for y := 0; y < f.h; y++ {
			data[y*f.w+x] = out[y]
		}
	}
}

// fftSize returns the smallest n' >= n whose only prime factors are 2, 3
// and 5, the lengths the transform handles without a slow generic pass.
func fftSize(n int) int {
	for m := max(n, 1); ; m++ {
		r := m
		for _, p := range []int{2, 3, 5} {
			for r%p == 0 {
				r /= p
			}
		}
		if r == 1 {
			return m
		}
	}
}
