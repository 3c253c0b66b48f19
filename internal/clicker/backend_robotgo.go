package clicker

import (
	"github.com/go-vgo/robotgo"
)

// RobotBackend drives the pointer through robotgo
type RobotBackend struct{}

// NewRobotBackend creates the default backend
func NewRobotBackend() *RobotBackend {
	return &RobotBackend{}
}

func (b *RobotBackend) Location() (int, int) {
	return robotgo.Location()
}

func (b *RobotBackend) Move(x, y int) error {
	robotgo.Move(x, y)
	return nil
}

func (b *RobotBackend) Press(button Button) error {
	return robotgo.Toggle(robotButton(button))
}

func (b *RobotBackend) Release(button Button) error {
	return robotgo.Toggle(robotButton(button), "up")
}

func (b *RobotBackend) SupportsTimedMove() bool {
	return true
}

// robotgo names the middle button "center"
func robotButton(b Button) string {
	if b == ButtonMiddle {
		return "center"
	}
	return b.String()
}
