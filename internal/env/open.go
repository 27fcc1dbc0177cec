package env

import (
	"context"
	"fmt"
	"log/slog"

	"fitcats-env/internal/calibration"
	"fitcats-env/internal/capture"
	"fitcats-env/internal/config"
	"fitcats-env/internal/input"
	"fitcats-env/internal/locate"
	"fitcats-env/internal/observe"
	"fitcats-env/internal/ocr"
	"fitcats-env/internal/state"
	"fitcats-env/internal/vision"
)

// Hardware is the screen and pointer an environment runs against.
type Hardware struct {
	Grabber capture.Grabber
	Pointer input.Pointer
}

// Open loads the calibration and assets named in cfg, locates the game window
// and returns a ready environment. A missing calibration, a missing required
// template or a window that never appears is fatal. On success the returned
// Env owns the grabber and releases it on Close.
func Open(ctx context.Context, cfg *config.Config, hw Hardware, rec Recorder, display string, logger *slog.Logger) (*Env, error) {
	profile, err := calibration.Load(cfg.CalibrationPath)
	if err != nil {
		return nil, err
	}

	templates, err := vision.LoadTemplateSet(cfg.TemplatesDir, cfg.Thresholds.Structural)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	store := ocr.NewExemplarStore(cfg.ExemplarsDir, logger)
	set, err := store.Current()
	if err != nil {
		templates.Close()
		return nil, err
	}
	if n := len(set.Labels()); n < 10 {
		logger.Warn("Not every digit has an exemplar; score reading may be unreliable", slog.Int("digits", n))
	}

	loc := locate.New(hw.Grabber, templates, hw.Pointer, profile, locate.OptionsFromConfig(cfg.Timing), logger)
	window, err := loc.Locate(ctx)
	if err != nil {
		store.Close()
		templates.Close()
		return nil, err
	}

	recognizer := ocr.NewRecognizer(ocr.ParamsFromConfig(cfg.Thresholds))

	e := New(Deps{
		Grabber:    hw.Grabber,
		Window:     window,
		Classifier: state.NewClassifier(templates, cfg.Thresholds.SignalMargin),
		Scores:     ocr.NewReader(store, recognizer, profile.Score()),
		Builder: observe.NewBuilder(profile, observe.Options{
			Width:              cfg.Observation.BoardWidth,
			Height:             cfg.Observation.BoardHeight,
			NextPieceThreshold: float32(cfg.Observation.NextPieceThreshold),
		}),
		Executor: input.NewExecutor(hw.Pointer, window, profile, cfg.Action.DropHeightFraction),
		Recorder: rec,
	}, Options{
		Timing:          cfg.Timing,
		Policy:          PolicyFromConfig(cfg.Reward),
		MaxEpisodeSteps: cfg.MaxEpisodeSteps,
		SnapshotsDir:    cfg.SnapshotsDir,
		Display:         display,
	}, logger)

	e.OnClose(hw.Grabber.Close)
	e.OnClose(func() error { templates.Close(); return nil })
	e.OnClose(func() error { store.Close(); return nil })
	return e, nil
}
