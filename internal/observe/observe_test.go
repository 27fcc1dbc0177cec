package observe

import (
	"image"
	"testing"
	"time"

	"fitcats-env/internal/calibration"
	"fitcats-env/internal/capture"
	"fitcats-env/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func testProfile() *calibration.Profile {
	return &calibration.Profile{
		GameWidth:    400,
		GameHeight:   300,
		ClickXMinRel: 50,
		ClickXMaxRel: 350,
		ScoreROI:     &geometry.RectInt{X: 150, Y: 10, Width: 100, Height: 40},
		AgentViewROI: &geometry.RectInt{X: 20, Y: 60, Width: 200, Height: 200},
		NextCatROI:   &geometry.RectInt{X: 300, Y: 60, Width: 50, Height: 40},
	}
}

func fill(m *gocv.Mat, r image.Rectangle, bgr gocv.Scalar) {
	region := m.Region(r)
	region.SetTo(bgr)
	region.Close()
}

func testFrame() *capture.Frame {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 300, 400, gocv.MatTypeCV8UC3)
	// Left half of the board blue, right half untouched.
	fill(&m, image.Rect(20, 60, 120, 260), gocv.NewScalar(255, 0, 0, 0))
	// A quarter of the preview box white.
	fill(&m, image.Rect(300, 60, 325, 80), gocv.NewScalar(255, 255, 255, 0))
	return &capture.Frame{Mat: m}
}

func TestBuild(t *testing.T) {
	f := testFrame()
	defer f.Close()

	b := NewBuilder(testProfile(), DefaultOptions())
	last := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	obs, err := b.Build(f, last, last.Add(1500*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, 84, obs.Height)
	assert.Equal(t, 84, obs.Width)
	assert.Len(t, obs.Board, 84*84*3)
	assert.Equal(t, [3]uint8{255, 0, 0}, obs.Pixel(40, 10))
	assert.Equal(t, [3]uint8{10, 20, 30}, obs.Pixel(40, 75))
	assert.InDelta(t, 0.25, obs.NextPieceSize, 1e-6)
	assert.InDelta(t, 1.5, obs.TimeSinceAction, 1e-6)
}

func TestBuildClampsNegativeElapsed(t *testing.T) {
	f := testFrame()
	defer f.Close()

	now := time.Now()
	obs, err := NewBuilder(testProfile(), DefaultOptions()).Build(f, now.Add(time.Second), now)
	require.NoError(t, err)
	assert.Zero(t, obs.TimeSinceAction)
}

func TestNextPieceSizeBounds(t *testing.T) {
	f := testFrame()
	defer f.Close()
	b := NewBuilder(testProfile(), DefaultOptions())

	fill(&f.Mat, image.Rect(300, 60, 350, 100), gocv.NewScalar(255, 255, 255, 0))
	size, err := b.NextPieceSize(f)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, size, 1e-6)

	fill(&f.Mat, image.Rect(300, 60, 350, 100), gocv.NewScalar(120, 120, 120, 0))
	size, err = b.NextPieceSize(f)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestBuildFrameTooSmall(t *testing.T) {
	f := &capture.Frame{Mat: gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 100, 100, gocv.MatTypeCV8UC3)}
	defer f.Close()

	_, err := NewBuilder(testProfile(), DefaultOptions()).Build(f, time.Now(), time.Now())
	assert.ErrorIs(t, err, capture.ErrOutOfBounds)
}

func TestCustomBoardSize(t *testing.T) {
	f := testFrame()
	defer f.Close()

	obs, err := NewBuilder(testProfile(), Options{Width: 32, Height: 16, NextPieceThreshold: 200}).Build(f, time.Now(), time.Now())
	require.NoError(t, err)
	assert.Len(t, obs.Board, 32*16*3)
}
