package cv

import (
	"image"

	"github.com/go-vgo/robotgo"
	"github.com/vova616/screenshot"
)

// screenBackend reads pixels through vova616/screenshot and enumerates
// displays through robotgo
type screenBackend struct{}

// NewScreenBackend opens the desktop capture backend
func NewScreenBackend() (Backend, error) {
	return &screenBackend{}, nil
}

func (b *screenBackend) Displays() ([]image.Rectangle, error) {
	n := robotgo.DisplaysNum()
	if n <= 0 {
		rect, err := screenshot.ScreenRect()
		if err != nil {
			return nil, err
		}
		if rect.Empty() {
			return nil, ErrNoDisplays
		}
		return []image.Rectangle{rect}, nil
	}

	displays := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		x, y, w, h := robotgo.GetDisplayBounds(i)
		displays = append(displays, image.Rect(x, y, x+w, y+h))
	}
	return displays, nil
}

func (b *screenBackend) Grab(rect image.Rectangle) (*image.RGBA, error) {
	return screenshot.CaptureRect(rect)
}

func (b *screenBackend) Close() error {
	return nil
}
