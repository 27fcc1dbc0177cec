// Package observe builds the agent's observation from a window frame.
package observe

import (
	"fmt"
	"image"
	"time"

	"fitcats-env/internal/calibration"
	"fitcats-env/internal/capture"

	"gocv.io/x/gocv"
)

// Observation is what the agent sees after each step.
type Observation struct {
	// Board is the resized board view in row-major HWC order, BGR channels.
	Board  []uint8 `json:"board"`
	Height int     `json:"height"`
	Width  int     `json:"width"`
	// NextPieceSize is the bright-pixel fraction of the preview box, in [0, 1].
	NextPieceSize float32 `json:"next_piece_size"`
	// TimeSinceAction is seconds since the last executed click.
	TimeSinceAction float32 `json:"time_since_action"`
}

// Pixel returns the BGR value at (row, col).
func (o Observation) Pixel(row, col int) [3]uint8 {
	i := (row*o.Width + col) * 3
	return [3]uint8{o.Board[i], o.Board[i+1], o.Board[i+2]}
}

// Options sizes the board tensor.
type Options struct {
	Width              int
	Height             int
	NextPieceThreshold float32
}

// DefaultOptions matches the agent's 84x84 input.
func DefaultOptions() Options {
	return Options{Width: 84, Height: 84, NextPieceThreshold: 200}
}

// Builder cuts the calibrated regions out of a window frame.
type Builder struct {
	profile *calibration.Profile
	opts    Options
}

// NewBuilder creates a builder.
func NewBuilder(profile *calibration.Profile, opts Options) *Builder {
	return &Builder{profile: profile, opts: opts}
}

// Options returns the board sizing.
func (b *Builder) Options() Options { return b.opts }

// Build derives an observation from a window frame.
func (b *Builder) Build(frame *capture.Frame, lastAction, now time.Time) (Observation, error) {
	board, err := b.board(frame)
	if err != nil {
		return Observation{}, err
	}

	size, err := b.NextPieceSize(frame)
	if err != nil {
		return Observation{}, err
	}

	elapsed := now.Sub(lastAction).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	return Observation{
		Board:           board,
		Height:          b.opts.Height,
		Width:           b.opts.Width,
		NextPieceSize:   size,
		TimeSinceAction: float32(elapsed),
	}, nil
}

func (b *Builder) board(frame *capture.Frame) ([]uint8, error) {
	view, err := frame.Crop(b.profile.AgentView())
	if err != nil {
		return nil, fmt.Errorf("failed to crop board: %w", err)
	}
	defer view.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(view, &resized, image.Pt(b.opts.Width, b.opts.Height), 0, 0, gocv.InterpolationLinear)

	return resized.ToBytes(), nil
}

// NextPieceSize returns the fraction of preview pixels brighter than the
// threshold.
func (b *Builder) NextPieceSize(frame *capture.Frame) (float32, error) {
	roi := b.profile.NextPiece()
	preview, err := frame.Crop(roi)
	if err != nil {
		return 0, fmt.Errorf("failed to crop next piece: %w", err)
	}
	defer preview.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(preview, &gray, gocv.ColorBGRToGray)

	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(gray, &bin, b.opts.NextPieceThreshold, 255, gocv.ThresholdBinary)

	return float32(gocv.CountNonZero(bin)) / float32(roi.Width*roi.Height), nil
}
