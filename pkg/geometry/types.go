// Package geometry provides the integer rectangle and point types used for
// screen regions and regions of interest.
package geometry

import (
	"fmt"
	"image"
)

// PointInt represents a 2D point with integer coordinates.
type PointInt struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add returns the sum of two points.
func (p PointInt) Add(other PointInt) PointInt {
	return PointInt{X: p.X + other.X, Y: p.Y + other.Y}
}

// ImagePoint converts to image.Point.
func (p PointInt) ImagePoint() image.Point {
	return image.Pt(p.X, p.Y)
}

// RectInt represents a rectangle with integer coordinates. The JSON form
// matches the calibration artifact: {"x", "y", "w", "h"}.
type RectInt struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"w"`
	Height int `json:"h"`
}

// FromImageRect converts an image.Rectangle.
func FromImageRect(r image.Rectangle) RectInt {
	return RectInt{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect converts to image.Rectangle.
func (r RectInt) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Empty reports whether the rectangle has no area.
func (r RectInt) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Center returns the center point (rounded down).
func (r RectInt) Center() PointInt {
	return PointInt{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// TopLeft returns the top-left corner.
func (r RectInt) TopLeft() PointInt {
	return PointInt{X: r.X, Y: r.Y}
}

// Translate returns the rectangle moved by the given offset.
func (r RectInt) Translate(dx, dy int) RectInt {
	return RectInt{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// Within reports whether the rectangle is non-empty and lies inside
// [0, width) x [0, height).
func (r RectInt) Within(width, height int) bool {
	if r.Empty() || r.X < 0 || r.Y < 0 {
		return false
	}
	return r.X+r.Width <= width && r.Y+r.Height <= height
}

// Clamp returns the intersection of the rectangle with [0, width) x [0, height).
func (r RectInt) Clamp(width, height int) RectInt {
	return FromImageRect(r.Rect().Intersect(image.Rect(0, 0, width, height)))
}

func (r RectInt) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}
