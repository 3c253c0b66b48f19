package cv

import (
	"image"
	"sync"
	"time"
)

// DefaultFrameTTL is how long a captured frame is reused
const DefaultFrameTTL = 150 * time.Millisecond

// FrameCache reuses one capture across several recognition attempts made
// at the same decision point
type FrameCache struct {
	capturer Capturer
	ttl      time.Duration
	now      func() time.Time

	cachedFrame     *image.RGBA
	cachedFrameTime time.Time
	hits, misses    int64

	mu sync.Mutex
}

// NewFrameCache creates a frame cache with the given time-to-live
func NewFrameCache(capturer Capturer, ttl time.Duration) *FrameCache {
	if ttl <= 0 {
		ttl = DefaultFrameTTL
	}
	return &FrameCache{
		capturer: capturer,
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithClock replaces the time source
func (fc *FrameCache) WithClock(now func() time.Time) *FrameCache {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = now
	return fc
}

// CaptureFrame returns the cached frame while it is fresh, otherwise
// captures a new one. useCache=false always captures.
func (fc *FrameCache) CaptureFrame(useCache bool) (*image.RGBA, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	now := fc.now()
	if useCache && fc.cachedFrame != nil && now.Sub(fc.cachedFrameTime) < fc.ttl {
		fc.hits++
		return fc.cachedFrame, nil
	}

	frame, err := fc.capturer.CaptureFrame()
	if err != nil {
		return nil, err
	}
	fc.misses++

	fc.cachedFrame = frame
	fc.cachedFrameTime = now
	return frame, nil
}

// InvalidateCache forces next capture to get fresh frame
func (fc *FrameCache) InvalidateCache() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.cachedFrame = nil
	fc.cachedFrameTime = time.Time{}
}

// Stats returns cache hits and misses
func (fc *FrameCache) Stats() (hits, misses int64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.hits, fc.misses
}
