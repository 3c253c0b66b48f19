package cv

import (
	"fmt"
	"image"
)

// Rect is an x/y/width/height rectangle in frame coordinates
type Rect struct {
	X, Y, W, H int
}

// Point is a pixel position in frame coordinates
type Point struct {
	X, Y int
}

// NewRect creates a new rectangle
func NewRect(x, y, w, h int) Rect {
	return Rect{X: x, Y: y, W: w, H: h}
}

// RectFromImage converts an image.Rectangle
func RectFromImage(r image.Rectangle) Rect {
	return Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Contains checks if a point is within the rectangle
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.W && p.Y >= r.Y && p.Y < r.Y+r.H
}

// Center returns the integer centroid of the rectangle
func (r Rect) Center() Point {
	return Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// Empty reports whether the rectangle has no area
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Offset translates the rectangle by (dx, dy)
func (r Rect) Offset(dx, dy int) Rect {
	r.X += dx
	r.Y += dy
	return r
}

// ToImageRectangle converts Rect to image.Rectangle for use with CV operations
func (r Rect) ToImageRectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Clip intersects the rectangle with bounds. The result may be empty.
func (r Rect) Clip(bounds image.Rectangle) Rect {
	return RectFromImage(r.ToImageRectangle().Intersect(bounds))
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.W, r.H)
}
