package capture

import (
	"fmt"
	"image"
	"time"

	"github.com/kbinani/screenshot"
	"gocv.io/x/gocv"
)

// ScreenGrabber captures the live X display.
type ScreenGrabber struct{}

// NewScreenGrabber returns a grabber for the current display.
func NewScreenGrabber() *ScreenGrabber {
	return &ScreenGrabber{}
}

// Screen returns the union of all active display bounds.
func (g *ScreenGrabber) Screen() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays")
	}

	var all image.Rectangle
	for i := 0; i < n; i++ {
		all = all.Union(screenshot.GetDisplayBounds(i))
	}
	return all, nil
}

// Grab captures rect and converts it to a BGR Mat.
func (g *ScreenGrabber) Grab(rect image.Rectangle) (*Frame, error) {
	if rect.Empty() {
		return nil, fmt.Errorf("%w: empty rectangle", ErrOutOfBounds)
	}

	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, fmt.Errorf("failed to capture %v: %w", rect, err)
	}
	captured := time.Now()

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert capture: %w", err)
	}
	return &Frame{Mat: mat, Origin: rect.Min, Captured: captured}, nil
}

// Close is a no-op; the screenshot backend holds no resources between grabs.
func (g *ScreenGrabber) Close() error { return nil }
