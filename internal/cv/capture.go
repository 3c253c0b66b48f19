package cv

import (
	"errors"
	"fmt"
	"image"
	"sync"
)

// Capturer interface for different capture methods
type Capturer interface {
	CaptureFrame() (*image.RGBA, error)
	GetDimensions() (width, height int)
}

// Backend grabs pixels from the operating system. A Backend instance is
// never shared between goroutines; each Handle owns its own.
type Backend interface {
	// Displays returns the bounds of every attached display in virtual
	// screen coordinates.
	Displays() ([]image.Rectangle, error)
	// Grab captures rect (virtual screen coordinates).
	Grab(rect image.Rectangle) (*image.RGBA, error)
	Close() error
}

// BackendFactory opens a new, independent Backend
type BackendFactory func() (Backend, error)

var (
	ErrHandleClosed      = errors.New("capture handle closed")
	ErrNoDisplays        = errors.New("no displays detected")
	ErrMonitorOutOfRange = errors.New("monitor index out of range")
)

// MonitorRangeError is returned when a monitor index is outside [0, Count)
type MonitorRangeError struct {
	Index int
	Count int
}

func (e *MonitorRangeError) Error() string {
	return fmt.Sprintf("monitor index %d out of range, available: 0..%d", e.Index, e.Count-1)
}

func (e *MonitorRangeError) Is(target error) bool {
	return target == ErrMonitorOutOfRange
}

// ScreenCapture holds the shared capture settings and hands out per-worker
// handles. Index 0 is the union of all displays, 1..n are single displays.
type ScreenCapture struct {
	open         BackendFactory
	monitorIndex int
	mu           sync.RWMutex
}

// NewScreenCapture creates a capture source for the given monitor
func NewScreenCapture(open BackendFactory, monitorIndex int) *ScreenCapture {
	return &ScreenCapture{
		open:         open,
		monitorIndex: monitorIndex,
	}
}

// Monitors lists the capturable monitors. The list is queried through a
// short-lived backend so no native handle outlives the call.
func (sc *ScreenCapture) Monitors() ([]Rect, error) {
	b, err := sc.open()
	if err != nil {
		return nil, fmt.Errorf("failed to open capture backend: %w", err)
	}
	defer b.Close()

	displays, err := b.Displays()
	if err != nil {
		return nil, err
	}
	return monitorList(displays), nil
}

// MonitorCount returns the number of valid monitor indexes
func (sc *ScreenCapture) MonitorCount() (int, error) {
	monitors, err := sc.Monitors()
	if err != nil {
		return 0, err
	}
	return len(monitors), nil
}

// MonitorIndex returns the selected monitor
func (sc *ScreenCapture) MonitorIndex() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.monitorIndex
}

// SetMonitor selects which monitor full captures read from
func (sc *ScreenCapture) SetMonitor(index int) error {
	count, err := sc.MonitorCount()
	if err != nil {
		return err
	}
	if index < 0 || index >= count {
		return &MonitorRangeError{Index: index, Count: count}
	}

	sc.mu.Lock()
	sc.monitorIndex = index
	sc.mu.Unlock()
	return nil
}

// NewHandle opens a capture handle. The caller owns it and must Close it;
// a handle must only be used from one goroutine.
func (sc *ScreenCapture) NewHandle() (*Handle, error) {
	b, err := sc.open()
	if err != nil {
		return nil, fmt.Errorf("failed to open capture backend: %w", err)
	}
	return &Handle{source: sc, backend: b}, nil
}

// Handle is a single worker's capture handle
type Handle struct {
	source  *ScreenCapture
	backend Backend
	origin  image.Point
	size    image.Point
	closed  bool
}

// CaptureFull captures the selected monitor
func (h *Handle) CaptureFull() (*image.RGBA, error) {
	if h.closed {
		return nil, ErrHandleClosed
	}
	monitor, err := h.monitorBounds()
	if err != nil {
		return nil, err
	}
	h.origin = monitor.Min
	h.size = monitor.Size()
	return h.grab(monitor)
}

// CaptureRegion captures a rectangle given relative to the selected monitor
func (h *Handle) CaptureRegion(x, y, w, height int) (*image.RGBA, error) {
	if h.closed {
		return nil, ErrHandleClosed
	}
	if w <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid capture region %dx%d", w, height)
	}
	monitor, err := h.monitorBounds()
	if err != nil {
		return nil, err
	}
	rect := image.Rect(x, y, x+w, y+height).Add(monitor.Min)
	return h.grab(rect)
}

// CaptureROI captures roi, or the full monitor when roi is nil
func (h *Handle) CaptureROI(roi *Rect) (*image.RGBA, error) {
	if roi == nil {
		return h.CaptureFull()
	}
	return h.CaptureRegion(roi.X, roi.Y, roi.W, roi.H)
}

// CaptureFrame implements Capturer
func (h *Handle) CaptureFrame() (*image.RGBA, error) {
	return h.CaptureFull()
}

// GetDimensions returns the size of the last full capture
func (h *Handle) GetDimensions() (width, height int) {
	return h.size.X, h.size.Y
}

// Origin is the virtual-screen position of frame pixel (0,0) for the last
// full capture. Frame coordinates plus Origin give pointer coordinates.
func (h *Handle) Origin() image.Point {
	return h.origin
}

// Close releases the native handle
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	return h.backend.Close()
}

func (h *Handle) monitorBounds() (image.Rectangle, error) {
	displays, err := h.backend.Displays()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to query displays: %w", err)
	}
	monitors := monitorList(displays)
	index := h.source.MonitorIndex()
	if index < 0 || index >= len(monitors) {
		return image.Rectangle{}, &MonitorRangeError{Index: index, Count: len(monitors)}
	}
	return monitors[index].ToImageRectangle(), nil
}

func (h *Handle) grab(rect image.Rectangle) (*image.RGBA, error) {
	img, err := h.backend.Grab(rect)
	if err != nil {
		return nil, fmt.Errorf("failed to grab %v: %w", rect, err)
	}
	return ownedFrame(img), nil
}

// monitorList prepends the union of all displays as index 0
func monitorList(displays []image.Rectangle) []Rect {
	if len(displays) == 0 {
		return nil
	}
	all := displays[0]
	for _, d := range displays[1:] {
		all = all.Union(d)
	}
	monitors := make([]Rect, 0, len(displays)+1)
	monitors = append(monitors, RectFromImage(all))
	for _, d := range displays {
		monitors = append(monitors, RectFromImage(d))
	}
	return monitors
}

// ownedFrame copies img into a fresh opaque RGBA buffer anchored at (0,0)
func ownedFrame(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()*4]
		copy(dst, src[:b.Dx()*4])
		for i := 3; i < len(dst); i += 4 {
			dst[i] = 0xFF
		}
	}
	return out
}
