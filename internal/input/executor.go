package input

import (
	"fmt"
	"math"
	"time"

	"fitcats-env/internal/calibration"
	"fitcats-env/pkg/geometry"
)

// DefaultDropFraction places drop clicks this far down the window.
const DefaultDropFraction = 0.15

// Command is one agent action. Trigger > 0 requests a drop at XNorm.
type Command struct {
	XNorm   float64
	Trigger float64
}

// FromVector builds a command from the agent's two-element action vector.
func FromVector(v []float64) (Command, error) {
	if len(v) != 2 {
		return Command{}, fmt.Errorf("action must have 2 elements, got %d", len(v))
	}
	return Command{XNorm: v[0], Trigger: v[1]}, nil
}

// Clicks reports whether the command requests a click.
func (c Command) Clicks() bool { return c.Trigger > 0 }

// Outcome describes what Execute did.
type Outcome struct {
	Clicked bool
	X, Y    int
	At      time.Time
}

// Executor maps normalized commands onto the located window.
type Executor struct {
	pointer      Pointer
	window       geometry.RectInt
	clickMin     int
	clickMax     int
	dropFraction float64
	now          func() time.Time
}

// NewExecutor binds an executor to a located window and its calibration.
func NewExecutor(p Pointer, window geometry.RectInt, profile *calibration.Profile, dropFraction float64) *Executor {
	return &Executor{
		pointer:      p,
		window:       window,
		clickMin:     profile.ClickXMinRel,
		clickMax:     profile.ClickXMaxRel,
		dropFraction: dropFraction,
		now:          time.Now,
	}
}

// SetClock replaces the time source.
func (e *Executor) SetClock(now func() time.Time) { e.now = now }

// Window returns the window the executor clicks into.
func (e *Executor) Window() geometry.RectInt { return e.window }

// Target returns the absolute click position for a normalized x in [-1, 1].
// Out-of-range values are clamped.
func (e *Executor) Target(xNorm float64) (int, int) {
	if math.IsNaN(xNorm) {
		xNorm = 0
	}
	xNorm = math.Max(-1, math.Min(1, xNorm))

	rel := (xNorm+1)/2*float64(e.clickMax-e.clickMin) + float64(e.clickMin)
	x := e.window.X + int(rel)
	y := e.window.Y + int(float64(e.window.Height)*e.dropFraction)
	return x, y
}

// Execute performs the command. A non-positive trigger does nothing.
func (e *Executor) Execute(cmd Command) (Outcome, error) {
	if !cmd.Clicks() {
		return Outcome{}, nil
	}

	x, y := e.Target(cmd.XNorm)
	if err := e.pointer.Click(x, y); err != nil {
		return Outcome{}, fmt.Errorf("failed to click at (%d,%d): %w", x, y, err)
	}
	return Outcome{Clicked: true, X: x, Y: y, At: e.now()}, nil
}

// ClickRelative clicks a point given relative to the window origin.
func (e *Executor) ClickRelative(p geometry.PointInt) error {
	abs := e.window.TopLeft().Add(p)
	if err := e.pointer.Click(abs.X, abs.Y); err != nil {
		return fmt.Errorf("failed to click at %v: %w", abs, err)
	}
	return nil
}
