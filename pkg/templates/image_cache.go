package templates

import (
	"fmt"
	"image"
	"sync"

	"golang.org/x/sync/singleflight"

	"jordanella.com/autoclick-vision/internal/cv"
)

// Loader decodes the template image at path
type Loader func(path string) (*image.RGBA, error)

// ImageCache decodes each template path at most once. Failures are cached
// too, so a missing file is reported once and then answered from memory.
// Concurrent requests for the same path share one decode.
type ImageCache struct {
	load        Loader
	onLoadError func(path string, err error)

	images map[string]*image.RGBA
	failed map[string]error
	mu     sync.RWMutex
	group  singleflight.Group

	stats   CacheStats
	statsMu sync.Mutex
}

// CacheStats tracks cache performance
type CacheStats struct {
	Hits     int64 // Served from memory
	Misses   int64 // Had to load
	Loads    int64 // Successful decodes
	Failures int64 // Failed decodes
}

// NewImageCache creates a cache backed by load (cv.LoadTemplate when nil)
func NewImageCache(load Loader) *ImageCache {
	if load == nil {
		load = cv.LoadTemplate
	}
	return &ImageCache{
		load:   load,
		images: make(map[string]*image.RGBA),
		failed: make(map[string]error),
	}
}

// OnLoadError registers a callback invoked once for every path that fails
// to load
func (ic *ImageCache) OnLoadError(fn func(path string, err error)) *ImageCache {
	ic.onLoadError = fn
	return ic
}

// Get returns the decoded template for path, loading it on first use
func (ic *ImageCache) Get(path string) (*image.RGBA, error) {
	ic.mu.RLock()
	img, ok := ic.images[path]
	failErr, failed := ic.failed[path]
	ic.mu.RUnlock()

	if ok || failed {
		ic.count(func(s *CacheStats) { s.Hits++ })
		return img, failErr
	}

	v, err, _ := ic.group.Do(path, func() (interface{}, error) {
		// Double-check after winning the flight
		ic.mu.RLock()
		img, ok := ic.images[path]
		failErr, failed := ic.failed[path]
		ic.mu.RUnlock()
		if ok || failed {
			return img, failErr
		}

		ic.count(func(s *CacheStats) { s.Misses++ })
		img, err := ic.load(path)

		ic.mu.Lock()
		if err != nil {
			ic.failed[path] = err
		} else {
			ic.images[path] = img
		}
		ic.mu.Unlock()

		if err != nil {
			ic.count(func(s *CacheStats) { s.Failures++ })
			if ic.onLoadError != nil {
				ic.onLoadError(path, err)
			}
			return nil, err
		}
		ic.count(func(s *CacheStats) { s.Loads++ })
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*image.RGBA), nil
}

// Preload loads every path and returns the first failure
func (ic *ImageCache) Preload(paths []string) error {
	var failures []error
	for _, p := range paths {
		if _, err := ic.Get(p); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("failed to preload %d templates: %w", len(failures), failures[0])
	}
	return nil
}

// Clear drops every cached image and failure
func (ic *ImageCache) Clear() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.images = make(map[string]*image.RGBA)
	ic.failed = make(map[string]error)
}

// Len returns the number of cached paths, failures included
func (ic *ImageCache) Len() int {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return len(ic.images) + len(ic.failed)
}

// Stats returns cache statistics
func (ic *ImageCache) Stats() CacheStats {
	ic.statsMu.Lock()
	defer ic.statsMu.Unlock()
	return ic.stats
}

func (ic *ImageCache) count(fn func(*CacheStats)) {
	ic.statsMu.Lock()
	fn(&ic.stats)
	ic.statsMu.Unlock()
}
