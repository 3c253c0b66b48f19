// Package archive writes failure frames to disk as PNG files and produces
// small thumbnails for the run history.
package archive

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nfnt/resize"

	"jordanella.com/autoclick-vision/internal/logging"
)

// stampLayout is the time layout of the file name prefix. The fraction
// separator is written as '_' on disk.
const stampLayout = "20060102_150405.000000"

// DefaultThumbnailSize bounds the longer thumbnail edge in pixels
const DefaultThumbnailSize = 160

var unsafeTagChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Archive saves failure screenshots into a directory
type Archive struct {
	dir       string
	thumbSize uint
	logger    *logging.Logger
	now       func() time.Time

	mu   sync.Mutex
	last string // guards against same-microsecond name collisions
}

// New creates an archive rooted at dir. The directory is created on first save.
func New(dir string, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.NewLogger("Archive")
	}
	return &Archive{
		dir:       dir,
		thumbSize: DefaultThumbnailSize,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source used for file names
func (a *Archive) WithClock(now func() time.Time) *Archive {
	a.now = now
	return a
}

// WithThumbnailSize sets the thumbnail bound; 0 disables thumbnails
func (a *Archive) WithThumbnailSize(px uint) *Archive {
	a.thumbSize = px
	return a
}

// Dir returns the archive directory
func (a *Archive) Dir() string {
	return a.dir
}

// Save writes frame as {timestamp}_{tag}.png and returns the path and a PNG thumbnail
func (a *Archive) Save(frame *image.RGBA, tag string) (string, []byte, error) {
	if frame == nil {
		return "", nil, fmt.Errorf("archive %s: nil frame", tag)
	}
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	path := filepath.Join(a.dir, a.fileName(tag))

	file, err := os.Create(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(file, frame); err != nil {
		file.Close()
		os.Remove(path)
		return "", nil, fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return "", nil, fmt.Errorf("failed to write %s: %w", path, err)
	}

	a.logger.DebugWithContext("Archived failure screenshot", map[string]interface{}{
		"tag":  tag,
		"path": path,
	})

	thumb, err := Thumbnail(frame, a.thumbSize)
	if err != nil {
		// The full screenshot is already on disk
		a.logger.Warn(fmt.Sprintf("Thumbnail for %s failed: %v", tag, err))
		return path, nil, nil
	}
	return path, thumb, nil
}

func (a *Archive) fileName(tag string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	stamp := FormatTimestamp(a.now())
	name := stamp + "_" + SanitizeTag(tag)
	candidate := name
	for i := 1; candidate == a.last || exists(filepath.Join(a.dir, candidate+".png")); i++ {
		candidate = fmt.Sprintf("%s_%d", name, i)
	}
	a.last = candidate
	return candidate + ".png"
}

// List returns the archived PNG files, oldest first
func (a *Archive) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(a.dir, "*.png"))
	if err != nil {
		return nil, err
	}
	// Names start with a sortable timestamp and Glob returns them sorted
	return matches, nil
}

// Prune removes archived files older than maxAge and returns how many were removed
func (a *Archive) Prune(maxAge time.Duration) (int, error) {
	files, err := a.List()
	if err != nil {
		return 0, err
	}

	cutoff := a.now().Add(-maxAge)
	removed := 0
	for _, f := range files {
		taken, ok := ParseTimestamp(filepath.Base(f))
		if !ok || !taken.Before(cutoff) {
			continue
		}
		if err := os.Remove(f); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", f, err)
		}
		removed++
	}
	return removed, nil
}

// FormatTimestamp renders t in the archive file name layout
func FormatTimestamp(t time.Time) string {
	return strings.Replace(t.Format(stampLayout), ".", "_", 1)
}

// ParseTimestamp extracts the timestamp prefix of an archive file name
func ParseTimestamp(name string) (time.Time, bool) {
	if len(name) < len(stampLayout) {
		return time.Time{}, false
	}
	prefix := []byte(name[:len(stampLayout)])
	prefix[15] = '.'
	t, err := time.ParseInLocation(stampLayout, string(prefix), time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SanitizeTag keeps a tag usable as part of a file name
func SanitizeTag(tag string) string {
	tag = unsafeTagChars.ReplaceAllString(strings.TrimSpace(tag), "-")
	if tag == "" {
		return "untagged"
	}
	return tag
}

// Thumbnail encodes a PNG thumbnail whose longer edge is at most size pixels
func Thumbnail(frame image.Image, size uint) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	thumb := resize.Thumbnail(size, size, frame, resize.Bilinear)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
