//go:build !windows
// +build !windows

package clicker

// NewLowLevelBackend is only implemented on Windows
func NewLowLevelBackend() (Backend, error) {
	return nil, ErrLowLevelUnavailable
}
