package cv

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noiseImage(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 0xFF
	}
	return img
}

// blockImage fills w x h with random gray blocks of the given size
func blockImage(w, h, block int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for by := 0; by < h; by += block {
		for bx := 0; bx < w; bx += block {
			level := uint8(15 + 30*rng.Intn(8))
			for y := by; y < min(by+block, h); y++ {
				for x := bx; x < min(bx+block, w); x++ {
					img.SetRGBA(x, y, color.RGBA{R: level, G: level, B: level, A: 0xFF})
				}
			}
		}
	}
	return img
}

func flatImage(w, h int, level uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = level, level, level, 0xFF
	}
	return img
}

func paste(dst, src *image.RGBA, at image.Point) {
	b := src.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.SetRGBA(at.X+x, at.Y+y, src.RGBAAt(b.Min.X+x, b.Min.Y+y))
		}
	}
}

func TestMatchSingleScaleExact(t *testing.T) {
	scene := noiseImage(120, 100, 1)
	tpl := CropRegion(scene, image.Rect(37, 45, 57, 65))

	m := NewMatcher(DefaultMatcherConfig())
	res := m.Match(scene, tpl)

	require.True(t, res.Found)
	assert.InDelta(t, 1.0, res.Confidence, 1e-6)
	assert.Equal(t, Point{X: 47, Y: 55}, res.Center)
	assert.Equal(t, Rect{X: 37, Y: 45, W: 20, H: 20}, res.BBox)
	assert.Equal(t, 1.0, res.Scale)
}

func TestMatchConfidenceThreshold(t *testing.T) {
	scene := noiseImage(80, 60, 2)
	tpl := noiseImage(16, 16, 3)

	m := NewMatcher(DefaultMatcherConfig())
	res := m.Match(scene, tpl)

	assert.False(t, res.Found)
	assert.Less(t, res.Confidence, 0.8)
	assert.GreaterOrEqual(t, res.Confidence, 0.0)

	res = m.Match(scene, tpl, WithConfidence(0))
	assert.True(t, res.Found)
}

func TestMatchRegionTranslatesToFrame(t *testing.T) {
	scene := noiseImage(120, 100, 4)
	tpl := CropRegion(scene, image.Rect(50, 40, 66, 56))
	region := NewRect(40, 30, 60, 50)

	m := NewMatcher(DefaultMatcherConfig())
	res := m.Match(scene, tpl, WithRegion(&region))

	require.True(t, res.Found)
	assert.Equal(t, Point{X: 58, Y: 48}, res.Center)
	assert.GreaterOrEqual(t, res.BBox.X, region.X)
	assert.GreaterOrEqual(t, res.BBox.Y, region.Y)
}

func TestMatchRegionOutsideFrame(t *testing.T) {
	scene := noiseImage(50, 50, 5)
	tpl := CropRegion(scene, image.Rect(0, 0, 8, 8))
	region := NewRect(100, 100, 20, 20)

	res := NewMatcher(DefaultMatcherConfig()).Match(scene, tpl, WithRegion(&region))
	assert.False(t, res.Found)
	assert.Zero(t, res.Confidence)
}

func TestMatchTemplateLargerThanSearchArea(t *testing.T) {
	scene := noiseImage(60, 60, 6)
	tpl := noiseImage(30, 30, 7)
	region := NewRect(0, 0, 20, 20)

	m := NewMatcher(DefaultMatcherConfig())
	res := m.Match(scene, tpl, WithRegion(&region))
	assert.False(t, res.Found)
	assert.Zero(t, res.Confidence)

	res = m.Match(tpl, scene)
	assert.False(t, res.Found)
}

func TestMatchNilInputs(t *testing.T) {
	m := NewMatcher(DefaultMatcherConfig())
	assert.False(t, m.Match(nil, noiseImage(4, 4, 1)).Found)
	assert.False(t, m.Match(noiseImage(4, 4, 1), nil).Found)
}

func TestMatchFlatTemplateNeverFound(t *testing.T) {
	scene := noiseImage(40, 40, 8)
	tpl := flatImage(10, 10, 90)

	res := NewMatcher(DefaultMatcherConfig()).Match(scene, tpl)
	assert.False(t, res.Found)
	assert.Zero(t, res.Confidence)
}

func TestMatchMultiScaleRecoversScale(t *testing.T) {
	pattern := blockImage(40, 40, 5, 9)
	scene := flatImage(120, 100, 128)
	paste(scene, Resize(pattern, 50, 50), image.Pt(30, 20))

	cfg := DefaultMatcherConfig()
	cfg.Grayscale = true
	cfg.Mode = ModeMultiScale
	m := NewMatcher(cfg)

	res := m.Match(scene, pattern)
	require.True(t, res.Found)
	assert.InDelta(t, 1.25, res.Scale, 0.05)
	assert.InDelta(t, 55, res.Center.X, 2)
	assert.InDelta(t, 45, res.Center.Y, 2)

	// single scale over the same scene misses
	single := m.Match(scene, pattern, WithMode(ModeSingleScale))
	assert.Less(t, single.Confidence, res.Confidence)
}

func TestMatchMultiScaleKeepsBestBelowThreshold(t *testing.T) {
	scene := noiseImage(60, 50, 10)
	tpl := noiseImage(12, 12, 11)

	cfg := DefaultMatcherConfig()
	cfg.Grayscale = true
	cfg.Mode = ModeMultiScale
	res := NewMatcher(cfg).Match(scene, tpl)

	assert.False(t, res.Found)
	assert.Greater(t, res.Confidence, 0.0)
	assert.False(t, res.BBox.Empty())
}

func TestParseMatchMode(t *testing.T) {
	tests := []struct {
		in   string
		want MatchMode
		err  bool
	}{
		{"single", ModeSingleScale, false},
		{"", ModeSingleScale, false},
		{"Multi", ModeMultiScale, false},
		{"orb", ModeFeature, false},
		{"feature", ModeFeature, false},
		{"sift", ModeSingleScale, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMatchMode(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadTemplate(filepath.Join(dir, "nope.png"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
		assert.False(t, errors.Is(err, ErrTemplateDecode))
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(dir, "bad.png")
		require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))
		_, err := LoadTemplate(path)
		assert.ErrorIs(t, err, ErrTemplateDecode)
	})

	t.Run("png with alpha", func(t *testing.T) {
		src := image.NewNRGBA(image.Rect(0, 0, 6, 4))
		src.SetNRGBA(1, 1, color.NRGBA{R: 200, G: 10, B: 10, A: 0})
		path := filepath.Join(dir, "ok.png")
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, src))
		require.NoError(t, f.Close())

		img, err := LoadTemplate(path)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 6, 4), img.Bounds())
		assert.Equal(t, uint8(0xFF), img.RGBAAt(1, 1).A)
	})
}

func TestFFTSize(t *testing.T) {
	cases := map[int]int{
		0:    1,
		1:    1,
		7:    8,
		11:   12,
		1080: 1080,
		1081: 1125,
		1366: 1440,
		1920: 1920,
	}
	for n, want := range cases {
		assert.Equal(t, want, fftSize(n), "n=%d", n)
	}
}

func TestFFTNumeratorsMatchDirect(t *testing.T) {
	for _, grayscale := range []bool{false, true} {
		m := NewMatcher(MatcherConfig{Grayscale: grayscale})
		scene := m.planes(noiseImage(53, 41, 11))
		tpl := m.planes(noiseImage(9, 7, 12))

		centered := make([][]float64, len(tpl))
		for ch, p := range tpl {
			centered[ch] = make([]float64, len(p.pix))
			for i, v := range p.pix {
				centered[ch][i] = v - 128
			}
		}

		c := newCorrelator(scene)
		direct := c.directNumerators(centered, 9, 7)
		viaFFT := c.fftNumerators(centered, 9, 7)
		require.Len(t, viaFFT, len(direct))
		for i := range direct {
			assert.InDelta(t, direct[i], viaFFT[i], 1e-6*(1+math.Abs(direct[i])), "grayscale=%v i=%d", grayscale, i)
		}
	}
}

func TestMatchLargeFrameUsesTransform(t *testing.T) {
	scene := blockImage(640, 360, 8, 21)
	tpl := CropRegion(scene, image.Rect(400, 200, 448, 248))

	m := NewMatcher(DefaultMatcherConfig())
	res := m.Match(scene, tpl)

	require.True(t, res.Found)
	assert.InDelta(t, 1.0, res.Confidence, 1e-6)
	assert.Equal(t, Rect{X: 400, Y: 200, W: 48, H: 48}, res.BBox)

	multi := m.Match(scene, tpl, WithMode(ModeMultiScale))
	require.True(t, multi.Found)
	assert.InDelta(t, 1.0, multi.Scale, 1e-9)
	assert.Equal(t, res.BBox, multi.BBox)
}

func TestCorrelatorReusesSceneSpectra(t *testing.T) {
	m := NewMatcher(DefaultMatcherConfig())
	c := newCorrelator(m.planes(noiseImage(90, 70, 31)))

	_, ok := c.best(m.planes(noiseImage(12, 12, 32)))
	require.True(t, ok)
	first := c.spectra[0]

	_, ok = c.best(m.planes(noiseImage(15, 10, 33)))
	require.True(t, ok)
	assert.Same(t, &first[0], &c.spectra[0][0])
	assert.Len(t, c.spectra, 2)
}

func benchmarkMatch(b *testing.B, opts ...Option) {
	scene := blockImage(1920, 1080, 16, 41)
	tpl := CropRegion(scene, image.Rect(1200, 700, 1248, 748))
	m := NewMatcher(DefaultMatcherConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if res := m.Match(scene, tpl, opts...); !res.Found {
			b.Fatalf("template not found: %+v", res)
		}
	}
}

func BenchmarkMatch(b *testing.B) {
	b.Run("single-1920x1080", func(b *testing.B) { benchmarkMatch(b) })
	b.Run("multi-1920x1080", func(b *testing.B) { benchmarkMatch(b, WithMode(ModeMultiScale)) })
	b.Run("region-400x300", func(b *testing.B) {
		benchmarkMatch(b, WithRegion(&Rect{X: 1000, Y: 550, W: 400, H: 300}))
	})
}
