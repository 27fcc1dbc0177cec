// Package locate finds the game window on screen by its title banner.
package locate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fitcats-env/internal/calibration"
	"fitcats-env/internal/capture"
	"fitcats-env/internal/config"
	"fitcats-env/internal/input"
	"fitcats-env/internal/vision"
	"fitcats-env/internal/wait"
	"fitcats-env/pkg/geometry"
)

// ErrLocateTimeout is returned when the title never appears.
var ErrLocateTimeout = errors.New("game window not found")

// Options controls the polling schedule.
type Options struct {
	Timeout       time.Duration
	Poll          time.Duration
	OverlaySettle time.Duration
}

// DefaultOptions polls every 2s for up to a minute.
func DefaultOptions() Options {
	return Options{
		Timeout:       60 * time.Second,
		Poll:          2 * time.Second,
		OverlaySettle: 8 * time.Second,
	}
}

// OptionsFromConfig takes the polling schedule from the run timings.
func OptionsFromConfig(t config.Timing) Options {
	return Options{
		Timeout:       t.LocateTimeout,
		Poll:          t.LocatePoll,
		OverlaySettle: t.LocateSettle,
	}
}

// Locator searches the virtual screen for the title template.
type Locator struct {
	grabber capture.Grabber
	title   *vision.Template
	overlay *vision.Template
	pointer input.Pointer
	profile *calibration.Profile
	opts    Options
	logger  *slog.Logger

	sleep wait.Func
	now   func() time.Time
}

// New creates a locator. overlay may be nil.
func New(g capture.Grabber, templates *vision.TemplateSet, p input.Pointer, profile *calibration.Profile, opts Options, logger *slog.Logger) *Locator {
	return &Locator{
		grabber: g,
		title:   templates.Get(vision.RoleTitle),
		overlay: templates.Get(vision.RoleOverlayPlay),
		pointer: p,
		profile: profile,
		opts:    opts,
		logger:  logger,
		sleep:   wait.Sleep,
		now:     time.Now,
	}
}

// SetClock swaps the sleep and time sources.
func (l *Locator) SetClock(sleep wait.Func, now func() time.Time) {
	l.sleep = sleep
	l.now = now
}

// Locate polls until the title matches and returns the absolute window
// rectangle. A visible overlay is clicked away along the way.
func (l *Locator) Locate(ctx context.Context) (geometry.RectInt, error) {
	if l.title == nil {
		return geometry.RectInt{}, fmt.Errorf("%w: %s", vision.ErrMissingTemplate, vision.RoleTitle)
	}

	deadline := l.now().Add(l.opts.Timeout)
	for attempt := 1; ; attempt++ {
		res, err := l.attempt(ctx)
		if err != nil {
			return geometry.RectInt{}, err
		}
		if res.found {
			l.logger.Info("Game window located", slog.String("window", res.window.String()), slog.Int("attempts", attempt))
			return res.window, nil
		}

		if !l.now().Before(deadline) {
			return geometry.RectInt{}, fmt.Errorf("%w after %s", ErrLocateTimeout, l.opts.Timeout)
		}
		if res.dismissed {
			continue
		}
		if err := l.sleep(ctx, l.opts.Poll); err != nil {
			return geometry.RectInt{}, err
		}
	}
}

type attemptResult struct {
	window    geometry.RectInt
	found     bool
	dismissed bool
}

// attempt grabs the screen once. If the title is not visible but the overlay
// is, the overlay is clicked and given time to settle.
func (l *Locator) attempt(ctx context.Context) (attemptResult, error) {
	frame, err := capture.GrabScreen(l.grabber)
	if err != nil {
		return attemptResult{}, fmt.Errorf("failed to grab screen: %w", err)
	}
	defer frame.Close()

	title, ok := vision.Find(frame.Mat, l.title)
	if ok {
		left := frame.Origin.X + title.Loc.X
		top := frame.Origin.Y + title.Loc.Y
		return attemptResult{window: l.profile.WindowAt(left, top), found: true}, nil
	}

	m, ok := vision.Find(frame.Mat, l.overlay)
	if !ok {
		l.logger.Debug("Title not visible", slog.Float64("score", title.Score))
		return attemptResult{}, nil
	}

	c := m.Center()
	x, y := frame.Origin.X+c.X, frame.Origin.Y+c.Y
	l.logger.Info("Dismissing overlay", slog.Int("x", x), slog.Int("y", y), slog.Float64("score", m.Score))
	if err := l.pointer.Click(x, y); err != nil {
		return attemptResult{}, fmt.Errorf("failed to click overlay: %w", err)
	}
	if err := l.sleep(ctx, l.opts.OverlaySettle); err != nil {
		return attemptResult{}, err
	}
	return attemptResult{dismissed: true}, nil
}
