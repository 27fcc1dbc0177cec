// Package capture grabs screen pixels as BGR frames.
package capture

import (
	"errors"
	"fmt"
	"image"
	"time"

	"fitcats-env/pkg/geometry"

	"gocv.io/x/gocv"
)

// ErrOutOfBounds is returned when a requested region does not intersect the screen.
var ErrOutOfBounds = errors.New("region outside screen")

// Frame is a captured BGR image together with its absolute screen origin.
type Frame struct {
	Mat      gocv.Mat
	Origin   image.Point
	Captured time.Time
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.Mat.Cols() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.Mat.Rows() }

// Bounds returns the frame's absolute screen rectangle.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(f.Origin.X, f.Origin.Y, f.Origin.X+f.Width(), f.Origin.Y+f.Height())
}

// Crop returns a copy of a region given relative to the frame origin. The
// caller owns the returned Mat.
func (f *Frame) Crop(r geometry.RectInt) (gocv.Mat, error) {
	if !r.Within(f.Width(), f.Height()) {
		return gocv.NewMat(), fmt.Errorf("%w: %s not inside %dx%d frame", ErrOutOfBounds, r, f.Width(), f.Height())
	}
	region := f.Mat.Region(r.Rect())
	defer region.Close()
	return region.Clone(), nil
}

// Close releases the frame's pixels.
func (f *Frame) Close() {
	f.Mat.Close()
}

// Grabber captures rectangular screen regions.
type Grabber interface {
	// Grab captures the given absolute screen rectangle.
	Grab(rect image.Rectangle) (*Frame, error)
	// Screen returns the virtual screen, the union of all displays.
	Screen() (image.Rectangle, error)
	Close() error
}

// GrabScreen captures the whole virtual screen.
func GrabScreen(g Grabber) (*Frame, error) {
	screen, err := g.Screen()
	if err != nil {
		return nil, err
	}
	return g.Grab(screen)
}

// SaveFrame writes a frame to disk in the format implied by the extension.
func SaveFrame(path string, m gocv.Mat) error {
	if m.Empty() {
		return fmt.Errorf("failed to save %s: empty image", path)
	}
	if !gocv.IMWrite(path, m) {
		return fmt.Errorf("failed to save %s", path)
	}
	return nil
}
