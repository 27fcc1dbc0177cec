// Package input turns agent commands into pointer clicks on the game window.
package input

import (
	"sync"

	"github.com/go-vgo/robotgo"
)

// Pointer clicks at absolute screen coordinates.
type Pointer interface {
	Click(x, y int) error
}

// RobotPointer drives the real mouse on the current display.
type RobotPointer struct{}

// Click moves to (x, y) and presses the left button.
func (RobotPointer) Click(x, y int) error {
	robotgo.Move(x, y)
	robotgo.Click()
	return nil
}

// Tap is one recorded click.
type Tap struct {
	X, Y int
}

// RecordingPointer records clicks instead of moving the mouse.
type RecordingPointer struct {
	mu   sync.Mutex
	taps []Tap
	// OnClick, if set, runs after each recorded click.
	OnClick func(x, y int)
}

// Click records the position.
func (p *RecordingPointer) Click(x, y int) error {
	p.mu.Lock()
	p.taps = append(p.taps, Tap{X: x, Y: y})
	cb := p.OnClick
	p.mu.Unlock()
	if cb != nil {
		cb(x, y)
	}
	return nil
}

// Taps returns a copy of the recorded clicks.
func (p *RecordingPointer) Taps() []Tap {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Tap(nil), p.taps...)
}
