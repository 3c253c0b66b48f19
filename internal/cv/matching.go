package cv

import (
	"fmt"
	"image"
	"strings"
)

// MatchOutcome contains template matching results. Coordinates are always
// in full-frame space.
type MatchOutcome struct {
	Found      bool
	Center     Point
	Confidence float64
	BBox       Rect
	Scale      float64
}

// located reports whether the outcome carries a position
func (o MatchOutcome) located() bool {
	return !o.BBox.Empty()
}

// MatchMode selects the matching strategy
type MatchMode int

const (
	// ModeSingleScale - one NCC pass at native size
	ModeSingleScale MatchMode = iota
	// ModeMultiScale - NCC across a range of template scales
	ModeMultiScale
	// ModeFeature - keypoint descriptors plus homography
	ModeFeature
)

func (m MatchMode) String() string {
	switch m {
	case ModeSingleScale:
		return "single"
	case ModeMultiScale:
		return "multi"
	case ModeFeature:
		return "feature"
	}
	return fmt.Sprintf("MatchMode(%d)", int(m))
}

// ParseMatchMode converts a config value into a MatchMode
func ParseMatchMode(s string) (MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "single-scale", "":
		return ModeSingleScale, nil
	case "multi", "multi-scale":
		return ModeMultiScale, nil
	case "feature", "features", "orb":
		return ModeFeature, nil
	}
	return ModeSingleScale, fmt.Errorf("unknown match mode %q", s)
}

// MatcherConfig configures template matching
type MatcherConfig struct {
	DefaultConfidence float64
	Grayscale         bool
	Mode              MatchMode
	ScaleMin          float64
	ScaleMax          float64
	ScaleStep         float64
	Features          FeatureConfig
}

// DefaultMatcherConfig returns recommended settings
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		DefaultConfidence: 0.8,
		Mode:              ModeSingleScale,
		ScaleMin:          0.7,
		ScaleMax:          1.3,
		ScaleStep:         0.05,
		Features:          DefaultFeatureConfig(),
	}
}

// Matcher locates template images inside frames. It holds no mutable state
// and is safe for concurrent use.
type Matcher struct {
	cfg MatcherConfig
}

// NewMatcher creates a matcher
func NewMatcher(cfg MatcherConfig) *Matcher {
	if cfg.ScaleStep <= 0 {
		cfg.ScaleStep = 0.05
	}
	if cfg.ScaleMin <= 0 {
		cfg.ScaleMin = 0.7
	}
	if cfg.ScaleMax < cfg.ScaleMin {
		cfg.ScaleMax = cfg.ScaleMin
	}
	cfg.Features.applyDefaults()
	return &Matcher{cfg: cfg}
}

// Config returns the matcher configuration
func (m *Matcher) Config() MatcherConfig {
	return m.cfg
}

// LoadTemplate decodes a template from disk
func (m *Matcher) LoadTemplate(path string) (*image.RGBA, error) {
	return LoadTemplate(path)
}

// Match finds tpl inside frame
func (m *Matcher) Match(frame, tpl *image.RGBA, opts ...Option) MatchOutcome {
	o := matchOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	confidence := m.cfg.DefaultConfidence
	if o.confidence != nil {
		confidence = *o.confidence
	}
	mode := m.cfg.Mode
	if o.mode != nil {
		mode = *o.mode
	}

	if frame == nil || tpl == nil {
		return MatchOutcome{}
	}

	// Crop to the region and remember the offset
	search := frame
	offset := image.Point{}
	if o.region != nil {
		clip := o.region.Clip(frame.Bounds())
		if clip.Empty() {
			return MatchOutcome{}
		}
		search = CropRegion(frame, clip.ToImageRectangle())
		offset = image.Point{X: clip.X, Y: clip.Y}
	}

	var result MatchOutcome
	switch mode {
	case ModeFeature:
		result = matchFeatures(search, tpl, confidence, m.cfg.Features)
	case ModeMultiScale:
		result = m.matchMultiScale(search, tpl, confidence)
	case ModeSingleScale:
		result = m.matchSingleScale(search, tpl, confidence)
	default:
		return MatchOutcome{}
	}

	if result.located() {
		result.Center.X += offset.X
		result.Center.Y += offset.Y
		result.BBox = result.BBox.Offset(offset.X, offset.Y)
	}
	return result
}

func (m *Matcher) planes(img *image.RGBA) []*plane {
	if m.cfg.Grayscale {
		return []*plane{toGrayscale(img)}
	}
	return toChannels(img)
}

func (m *Matcher) matchSingleScale(search, tpl *image.RGBA, confidence float64) MatchOutcome {
	tw, th := tpl.Bounds().Dx(), tpl.Bounds().Dy()
	if tw > search.Bounds().Dx() || th > search.Bounds().Dy() {
		return MatchOutcome{Scale: 1}
	}

	best, ok := bestNCC(m.planes(search), m.planes(tpl))
	if !ok {
		return MatchOutcome{Scale: 1}
	}
	return outcomeAt(best, tw, th, 1, confidence)
}

// matchMultiScale keeps the globally best scale even when it misses the
// threshold, so callers can report the closest confidence.
func (m *Matcher) matchMultiScale(search, tpl *image.RGBA, confidence float64) MatchOutcome {
	sw, sh := search.Bounds().Dx(), search.Bounds().Dy()
	tw, th := tpl.Bounds().Dx(), tpl.Bounds().Dy()
	corr := newCorrelator(m.planes(search))

	best := MatchOutcome{Confidence: -1}
	for i := 0; ; i++ {
		scale := m.cfg.ScaleMin + float64(i)*m.cfg.ScaleStep
		if scale > m.cfg.ScaleMax+1e-6 {
			break
		}
		w := max(1, int(float64(tw)*scale))
		h := max(1, int(float64(th)*scale))
		if w > sw || h > sh {
			continue
		}

		resized := tpl
		if w != tw || h != th {
			resized = Resize(tpl, w, h)
		}
		res, ok := corr.best(m.planes(resized))
		if !ok {
			continue
		}
		if res.score > best.Confidence {
			best = outcomeAt(res, w, h, scale, confidence)
		}
	}

	if best.Confidence < 0 {
		return MatchOutcome{}
	}
	return best
}

func outcomeAt(res nccResult, w, h int, scale, confidence float64) MatchOutcome {
	bbox := Rect{X: res.location.X, Y: res.location.Y, W: w, H: h}
	return MatchOutcome{
		Found:      res.score >= confidence,
		Center:     bbox.Center(),
		Confidence: res.score,
		BBox:       bbox,
		Scale:      scale,
	}
}
