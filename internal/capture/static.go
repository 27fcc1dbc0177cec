package capture

import (
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// StaticGrabber serves crops of an in-memory screen image. The screen can be
// swapped between grabs to script a sequence of scenes.
type StaticGrabber struct {
	mu     sync.Mutex
	screen gocv.Mat
	grabs  int
}

// NewStaticGrabber takes ownership of screen.
func NewStaticGrabber(screen gocv.Mat) *StaticGrabber {
	return &StaticGrabber{screen: screen}
}

// SetScreen replaces the screen image, closing the previous one.
func (g *StaticGrabber) SetScreen(screen gocv.Mat) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.screen.Close()
	g.screen = screen
}

// Grabs returns how many successful grabs have been served.
func (g *StaticGrabber) Grabs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.grabs
}

// Screen returns the bounds of the current screen image.
func (g *StaticGrabber) Screen() (image.Rectangle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return image.Rect(0, 0, g.screen.Cols(), g.screen.Rows()), nil
}

// Grab crops rect out of the screen image.
func (g *StaticGrabber) Grab(rect image.Rectangle) (*Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cropScreen(g.screen, rect, &g.grabs)
}

// Close releases the screen image.
func (g *StaticGrabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.screen.Close()
	return nil
}

func cropScreen(screen gocv.Mat, rect image.Rectangle, grabs *int) (*Frame, error) {
	bounds := image.Rect(0, 0, screen.Cols(), screen.Rows())
	if screen.Empty() || !rect.In(bounds) || rect.Empty() {
		return nil, fmt.Errorf("%w: %v not inside %v", ErrOutOfBounds, rect, bounds)
	}

	region := screen.Region(rect)
	defer region.Close()

	*grabs++
	return &Frame{Mat: region.Clone(), Origin: rect.Min, Captured: time.Now()}, nil
}
