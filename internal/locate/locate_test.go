package locate

import (
	"context"
	"image"
	"image/color"
	"io"
	"log/slog"
	"testing"
	"time"

	"fitcats-env/internal/calibration"
	"fitcats-env/internal/capture"
	"fitcats-env/internal/input"
	"fitcats-env/internal/vision"
	"fitcats-env/internal/wait"
	"fitcats-env/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var background = gocv.NewScalar(35, 35, 35, 0)

func blank(w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(background, h, w, gocv.MatTypeCV8UC3)
}

func drawTitle(img *gocv.Mat, x, y int) {
	gocv.Rectangle(img, image.Rect(x+5, y+5, x+95, y+45), color.RGBA{R: 250, G: 120, B: 160}, -1)
	gocv.PutText(img, "FIT", image.Pt(x+15, y+35), gocv.FontHersheySimplex, 1, color.RGBA{R: 255, G: 255, B: 255}, 2)
}

func drawOverlay(img *gocv.Mat, x, y int) {
	gocv.Circle(img, image.Pt(x+30, y+30), 25, color.RGBA{G: 200, B: 90}, -1)
	gocv.Rectangle(img, image.Rect(x+22, y+15, x+42, y+45), color.RGBA{R: 250, G: 250, B: 250}, -1)
}

func templates(t *testing.T) *vision.TemplateSet {
	t.Helper()
	title := blank(100, 50)
	drawTitle(&title, 0, 0)
	overlay := blank(60, 60)
	drawOverlay(&overlay, 0, 0)
	return vision.NewTemplateSet(
		vision.NewTemplate(vision.RoleTitle, title, vision.DefaultThreshold),
		vision.NewTemplate(vision.RoleOverlayPlay, overlay, vision.DefaultThreshold),
	)
}

func titleScene(x, y int) gocv.Mat {
	s := blank(640, 480)
	drawTitle(&s, x, y)
	return s
}

func overlayScene(x, y int) gocv.Mat {
	s := blank(640, 480)
	drawOverlay(&s, x, y)
	return s
}

func profile() *calibration.Profile {
	return &calibration.Profile{GameWidth: 400, GameHeight: 300}
}

func newLocator(t *testing.T, g capture.Grabber, p input.Pointer) (*Locator, *wait.Recorder) {
	t.Helper()
	set := templates(t)
	t.Cleanup(set.Close)

	l := New(g, set, p, profile(), DefaultOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := wait.NewRecorder(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	l.SetClock(rec.Sleep, rec.Now)
	return l, rec
}

func TestLocateTitleVisible(t *testing.T) {
	g := capture.NewStaticGrabber(titleScene(120, 60))
	defer g.Close()
	l, rec := newLocator(t, g, &input.RecordingPointer{})

	window, err := l.Locate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, geometry.RectInt{X: 120, Y: 60, Width: 400, Height: 300}, window)
	assert.Empty(t, rec.Waits)
}

func TestLocateTimeout(t *testing.T) {
	g := capture.NewStaticGrabber(blank(640, 480))
	defer g.Close()
	p := &input.RecordingPointer{}
	l, rec := newLocator(t, g, p)

	_, err := l.Locate(context.Background())
	require.ErrorIs(t, err, ErrLocateTimeout)

	assert.Equal(t, 60*time.Second, rec.Total())
	for _, d := range rec.Waits {
		assert.Equal(t, 2*time.Second, d)
	}
	assert.Empty(t, p.Taps())
}

func TestLocateDismissesOverlay(t *testing.T) {
	g := capture.NewStaticGrabber(overlayScene(300, 200))
	defer g.Close()

	p := &input.RecordingPointer{}
	p.OnClick = func(x, y int) { g.SetScreen(titleScene(50, 40)) }
	l, rec := newLocator(t, g, p)

	window, err := l.Locate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, geometry.RectInt{X: 50, Y: 40, Width: 400, Height: 300}, window)
	assert.Equal(t, []input.Tap{{X: 330, Y: 230}}, p.Taps())
	assert.Equal(t, []time.Duration{8 * time.Second}, rec.Waits)
}

func TestLocateCancelled(t *testing.T) {
	g := capture.NewStaticGrabber(blank(640, 480))
	defer g.Close()
	l, _ := newLocator(t, g, &input.RecordingPointer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Locate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
