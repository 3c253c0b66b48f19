//go:build windows
// +build windows

package clicker

import (
	"fmt"
	"syscall"
	"unsafe"
)

var (
	user32               = syscall.NewLazyDLL("user32.dll")
	procSendInput        = user32.NewProc("SendInput")
	procGetCursorPos     = user32.NewProc("GetCursorPos")
	procGetSystemMetrics = user32.NewProc("GetSystemMetrics")
)

const (
	INPUT_MOUSE = 0

	MOUSEEVENTF_MOVE        = 0x0001
	MOUSEEVENTF_LEFTDOWN    = 0x0002
	MOUSEEVENTF_LEFTUP      = 0x0004
	MOUSEEVENTF_RIGHTDOWN   = 0x0008
	MOUSEEVENTF_RIGHTUP     = 0x0010
	MOUSEEVENTF_MIDDLEDOWN  = 0x0020
	MOUSEEVENTF_MIDDLEUP    = 0x0040
	MOUSEEVENTF_VIRTUALDESK = 0x4000
	MOUSEEVENTF_ABSOLUTE    = 0x8000

	SM_XVIRTUALSCREEN  = 76
	SM_YVIRTUALSCREEN  = 77
	SM_CXVIRTUALSCREEN = 78
	SM_CYVIRTUALSCREEN = 79
)

// MOUSEINPUT structure
type MOUSEINPUT struct {
	Dx          int32
	Dy          int32
	MouseData   uint32
	DwFlags     uint32
	Time        uint32
	DwExtraInfo uintptr
}

// INPUT structure restricted to the mouse member of the union
type INPUT struct {
	Type uint32
	Mi   MOUSEINPUT
}

// POINT structure for Windows API
type POINT struct {
	X int32
	Y int32
}

// sendInputBackend injects events with SendInput, which reaches windows that
// ignore synthesized high-level events (exclusive fullscreen)
type sendInputBackend struct{}

// NewLowLevelBackend returns the SendInput backend
func NewLowLevelBackend() (Backend, error) {
	if err := procSendInput.Find(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLowLevelUnavailable, err)
	}
	return &sendInputBackend{}, nil
}

func (b *sendInputBackend) Location() (int, int) {
	var pt POINT
	procGetCursorPos.Call(uintptr(unsafe.Pointer(&pt)))
	return int(pt.X), int(pt.Y)
}

func (b *sendInputBackend) Move(x, y int) error {
	vx := metric(SM_XVIRTUALSCREEN)
	vy := metric(SM_YVIRTUALSCREEN)
	vw := metric(SM_CXVIRTUALSCREEN)
	vh := metric(SM_CYVIRTUALSCREEN)
	if vw <= 1 || vh <= 1 {
		return fmt.Errorf("invalid virtual screen %dx%d", vw, vh)
	}

	// absolute coordinates are normalized to 0..65535 across the virtual desktop
	nx := int32((x - vx) * 65535 / (vw - 1))
	ny := int32((y - vy) * 65535 / (vh - 1))
	return send(MOUSEINPUT{
		Dx:      nx,
		Dy:      ny,
		DwFlags: MOUSEEVENTF_MOVE | MOUSEEVENTF_ABSOLUTE | MOUSEEVENTF_VIRTUALDESK,
	})
}

func (b *sendInputBackend) Press(button Button) error {
	down, _ := buttonFlags(button)
	return send(MOUSEINPUT{DwFlags: down})
}

func (b *sendInputBackend) Release(button Button) error {
	_, up := buttonFlags(button)
	return send(MOUSEINPUT{DwFlags: up})
}

// SendInput moves are instantaneous
func (b *sendInputBackend) SupportsTimedMove() bool {
	return false
}

func buttonFlags(button Button) (down, up uint32) {
	switch button {
	case ButtonRight:
		return MOUSEEVENTF_RIGHTDOWN, MOUSEEVENTF_RIGHTUP
	case ButtonMiddle:
		return MOUSEEVENTF_MIDDLEDOWN, MOUSEEVENTF_MIDDLEUP
	default:
		return MOUSEEVENTF_LEFTDOWN, MOUSEEVENTF_LEFTUP
	}
}

func send(mi MOUSEINPUT) error {
	in := INPUT{Type: INPUT_MOUSE, Mi: mi}
	ret, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
	if ret != 1 {
		return fmt.Errorf("SendInput failed: %v", err)
	}
	return nil
}

func metric(index int) int {
	ret, _, _ := procGetSystemMetrics.Call(uintptr(index))
	return int(int32(ret))
}
