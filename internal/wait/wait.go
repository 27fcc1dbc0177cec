// Package wait provides the cancellable sleeps the control loop is built on.
package wait

import (
	"context"
	"time"
)

// Func blocks for d or until ctx is done.
type Func func(ctx context.Context, d time.Duration) error

// Sleep waits for d, returning ctx.Err() if the context ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recorder is a fake Func that records requested waits and advances a
// virtual clock instead of blocking.
type Recorder struct {
	Waits []time.Duration
	now   time.Time
}

// NewRecorder starts the virtual clock at start.
func NewRecorder(start time.Time) *Recorder {
	return &Recorder{now: start}
}

// Sleep records d and advances the clock.
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.Waits = append(r.Waits, d)
	r.now = r.now.Add(d)
	return nil
}

// Now returns the virtual time.
func (r *Recorder) Now() time.Time { return r.now }

// Total returns the sum of all recorded waits.
func (r *Recorder) Total() time.Duration {
	var total time.Duration
	for _, d := range r.Waits {
		total += d
	}
	return total
}
