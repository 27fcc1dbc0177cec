// Package env runs the episode loop: it drives the game back to a playable
// state on Reset and turns each agent action into an observation and reward
// on Step.
package env

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"fitcats-env/internal/capture"
	"fitcats-env/internal/config"
	"fitcats-env/internal/input"
	"fitcats-env/internal/observe"
	"fitcats-env/internal/ocr"
	"fitcats-env/internal/state"
	"fitcats-env/internal/vision"
	"fitcats-env/internal/wait"
	"fitcats-env/pkg/geometry"

	"github.com/jpillora/backoff"
	"gocv.io/x/gocv"
)

// Classifier derives the UI state of a window frame.
type Classifier interface {
	Classify(frame gocv.Mat, muted bool) state.Classification
	GameOver(frame gocv.Mat) (vision.Match, bool)
}

// ScoreReader reads the score counter from a window frame.
type ScoreReader interface {
	ReadScore(window gocv.Mat) (ocr.Reading, error)
}

// Recorder receives a summary of every finished episode.
type Recorder interface {
	RecordEpisode(ctx context.Context, s EpisodeSummary) error
}

// Info accompanies every observation.
type Info struct {
	Score         int     `json:"score"`
	NextPieceSize float32 `json:"next_piece_size"`
	DidClick      bool    `json:"did_click"`
	IsGameOver    bool    `json:"is_game_over"`
	State         string  `json:"state"`
	EpisodeID     string  `json:"episode_id"`
	Step          int     `json:"step"`
}

// StepResult is the outcome of one Step.
type StepResult struct {
	Observation observe.Observation `json:"observation"`
	Reward      float64             `json:"reward"`
	Terminated  bool                `json:"terminated"`
	Truncated   bool                `json:"truncated"`
	Info        Info                `json:"info"`
}

// EpisodeSummary is handed to the Recorder when an episode ends.
type EpisodeSummary struct {
	ID         string
	Episode    int
	Display    string
	Steps      int
	Return     float64
	FinalScore int
	HighScore  int
	Terminated bool
	Truncated  bool
	Started    time.Time
	Ended      time.Time
}

// Options tunes the controller.
type Options struct {
	Timing          config.Timing
	Policy          RewardPolicy
	MaxEpisodeSteps int
	SnapshotsDir    string
	Display         string
}

// DefaultOptions mirrors config.Default.
func DefaultOptions() Options {
	cfg := config.Default()
	return Options{
		Timing:          cfg.Timing,
		Policy:          PolicyFromConfig(cfg.Reward),
		MaxEpisodeSteps: cfg.MaxEpisodeSteps,
		SnapshotsDir:    cfg.SnapshotsDir,
	}
}

// Deps are the collaborators an Env drives.
type Deps struct {
	Grabber    capture.Grabber
	Window     geometry.RectInt
	Classifier Classifier
	Scores     ScoreReader
	Builder    *observe.Builder
	Executor   *input.Executor
	// Recorder is optional.
	Recorder Recorder
}

// Env is a single game instance. It is not safe for concurrent use.
type Env struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	sleep wait.Func
	now   func() time.Time

	ec      EpisodeContext
	muted   bool
	closers []func() error
}

// New creates an environment over an already located window.
func New(deps Deps, opts Options, logger *slog.Logger) *Env {
	return &Env{
		deps:   deps,
		opts:   opts,
		logger: logger,
		sleep:  wait.Sleep,
		now:    time.Now,
	}
}

// SetClock swaps the sleep and time sources.
func (e *Env) SetClock(sleep wait.Func, now func() time.Time) {
	e.sleep = sleep
	e.now = now
	e.deps.Executor.SetClock(now)
}

// Context returns a copy of the current episode state.
func (e *Env) Context() EpisodeContext { return e.ec }

// Window returns the located game window.
func (e *Env) Window() geometry.RectInt { return e.deps.Window }

// OnClose registers a release function run by Close in reverse order.
func (e *Env) OnClose(fn func() error) {
	e.closers = append(e.closers, fn)
}

// Close releases every registered resource.
func (e *Env) Close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	e.closers = nil
	return first
}

// Reset starts a new episode. It clicks through the overlay, game-over and
// menu screens until the board is active, waiting with a capped backoff while
// the state is unknown.
func (e *Env) Reset(ctx context.Context) (observe.Observation, Info, error) {
	e.ec.reset(e.now())
	e.logger.Info("Resetting environment", slog.Int("episode", e.ec.Episode), slog.String("episode_id", e.ec.ID.String()))

	unknown := &backoff.Backoff{
		Min:    e.opts.Timing.UnknownRetryMin,
		Max:    e.opts.Timing.UnknownRetryMax,
		Factor: 2,
	}

	for {
		if err := ctx.Err(); err != nil {
			return observe.Observation{}, Info{}, err
		}

		obs, info, ready, err := e.resetTick(ctx, unknown)
		if err != nil {
			return observe.Observation{}, Info{}, err
		}
		if ready {
			return obs, info, nil
		}
	}
}

// resetTick classifies one frame and acts on it. It reports ready once the
// board is active.
func (e *Env) resetTick(ctx context.Context, unknown *backoff.Backoff) (observe.Observation, Info, bool, error) {
	frame, err := e.grabWindow()
	if err != nil {
		return observe.Observation{}, Info{}, false, err
	}
	defer frame.Close()

	cl := e.deps.Classifier.Classify(frame.Mat, e.muted)
	if cl.State != state.Unknown {
		unknown.Reset()
	}

	switch cl.State {
	case state.Overlay:
		e.logger.Info("State: overlay, clicking play")
		return e.clickAndSettle(ctx, cl.Match, e.opts.Timing.OverlaySettle)

	case state.GameOver:
		e.logger.Info("State: game over, clicking restart")
		return e.clickAndSettle(ctx, cl.Match, e.opts.Timing.RestartSettle)

	case state.Menu:
		if cl.Mute != nil {
			e.logger.Info("State: menu, muting music")
			if err := e.deps.Executor.ClickRelative(cl.Mute.Center()); err != nil {
				return observe.Observation{}, Info{}, false, err
			}
			e.muted = true
			if err := e.sleep(ctx, e.opts.Timing.MuteSettle); err != nil {
				return observe.Observation{}, Info{}, false, err
			}
			return observe.Observation{}, Info{}, false, nil
		}
		e.logger.Info("State: menu, clicking play")
		return e.clickAndSettle(ctx, cl.Match, e.opts.Timing.PlaySettle)

	case state.Active:
		reading, err := e.deps.Scores.ReadScore(frame.Mat)
		if err != nil {
			return observe.Observation{}, Info{}, false, err
		}
		if v, ok := reading.Value(); ok {
			e.ec.LastScore = v
		}

		obs, err := e.deps.Builder.Build(frame, e.ec.LastActionTime, e.now())
		if err != nil {
			return observe.Observation{}, Info{}, false, err
		}
		e.logger.Info("State: active, starting episode", slog.Int("score", e.ec.LastScore))
		return obs, e.info(obs, false, false, state.Active), true, nil

	default:
		d := unknown.Duration()
		e.logger.Warn("State: unknown, waiting for a known state",
			slog.Duration("retry_in", d),
			slog.Any("scores", cl.Scores))
		if err := e.sleep(ctx, d); err != nil {
			return observe.Observation{}, Info{}, false, err
		}
		return observe.Observation{}, Info{}, false, nil
	}
}

func (e *Env) clickAndSettle(ctx context.Context, m vision.Match, settle time.Duration) (observe.Observation, Info, bool, error) {
	if err := e.deps.Executor.ClickRelative(m.Center()); err != nil {
		return observe.Observation{}, Info{}, false, err
	}
	if err := e.sleep(ctx, settle); err != nil {
		return observe.Observation{}, Info{}, false, err
	}
	return observe.Observation{}, Info{}, false, nil
}

// Step executes one action and returns the resulting observation and reward.
func (e *Env) Step(ctx context.Context, cmd input.Command) (StepResult, error) {
	e.ec.Steps++

	out, err := e.deps.Executor.Execute(cmd)
	if err != nil {
		return StepResult{}, err
	}
	if out.Clicked {
		e.ec.LastActionTime = out.At
		e.ec.ConsecutiveWaits = 0
		err = e.sleep(ctx, e.opts.Timing.ClickSettle)
	} else {
		e.ec.ConsecutiveWaits++
		err = e.sleep(ctx, e.opts.Timing.WaitTick)
	}
	if err != nil {
		return StepResult{}, err
	}

	frame, err := e.grabWindow()
	if err != nil {
		return StepResult{}, err
	}
	defer frame.Close()

	obs, err := e.deps.Builder.Build(frame, e.ec.LastActionTime, e.now())
	if err != nil {
		return StepResult{}, err
	}
	res := StepResult{Observation: obs, Info: e.info(obs, out.Clicked, false, state.Active)}

	if _, over := e.deps.Classifier.GameOver(frame.Mat); over {
		return e.finish(ctx, frame, res, out.Clicked), nil
	}

	reading, err := e.deps.Scores.ReadScore(frame.Mat)
	if err != nil {
		return StepResult{}, err
	}
	v, readable := reading.Value()

	before := e.ec.LastScore
	reward, outcome := e.opts.Policy.ScoreReward(&e.ec, v, readable)
	switch outcome {
	case ScoreRejectedJump:
		e.logger.Debug("Ignoring implausible score jump", slog.Int("from", before), slog.Int("to", v))
	case ScoreResynced:
		e.logger.Info("Score correction", slog.Int("from", before), slog.Int("to", v))
	}
	if !out.Clicked {
		reward += e.opts.Policy.WaitPenalty(e.ec.ConsecutiveWaits)
	}

	e.ec.Return += reward
	res.Reward = reward

	if e.opts.MaxEpisodeSteps > 0 && e.ec.Steps >= e.opts.MaxEpisodeSteps {
		res.Truncated = true
		e.record(ctx, e.ec.LastScore, false, true)
	}

	e.logger.Debug("Step",
		slog.Int("step", e.ec.Steps),
		slog.String("action", actionString(cmd, out)),
		slog.Int("score", e.ec.LastScore),
		slog.Float64("reward", reward),
		slog.Float64("next_piece", float64(obs.NextPieceSize)))
	return res, nil
}

// finish handles a game-over frame: it saves a snapshot on a new session
// high, applies the terminal reward and clears the score.
func (e *Env) finish(ctx context.Context, frame *capture.Frame, res StepResult, clicked bool) StepResult {
	final := e.ec.LastScore
	e.logger.Info("Game over detected", slog.Int("score", final), slog.Int("steps", e.ec.Steps))

	if final > e.ec.SessionHighScore {
		e.ec.SessionHighScore = final
		e.logger.Info("New session high score", slog.Int("score", final))
		path := filepath.Join(e.opts.SnapshotsDir, fmt.Sprintf("highscore_%d.png", final))
		if err := capture.SaveFrame(path, frame.Mat); err != nil {
			e.logger.Warn("Failed to save high score snapshot", slog.Any("error", err))
		}
	}

	e.ec.LastScore = 0
	e.ec.LowScoreCounter = 0

	res.Reward = e.opts.Policy.TerminalReward(clicked)
	res.Terminated = true
	res.Info.IsGameOver = true
	res.Info.State = state.GameOver.String()
	e.ec.Return += res.Reward

	e.record(ctx, final, true, false)
	return res
}

func (e *Env) record(ctx context.Context, final int, terminated, truncated bool) {
	if e.deps.Recorder == nil {
		return
	}
	s := EpisodeSummary{
		ID:         e.ec.ID.String(),
		Episode:    e.ec.Episode,
		Display:    e.opts.Display,
		Steps:      e.ec.Steps,
		Return:     e.ec.Return,
		FinalScore: final,
		HighScore:  e.ec.SessionHighScore,
		Terminated: terminated,
		Truncated:  truncated,
		Started:    e.ec.Started,
		Ended:      e.now(),
	}
	if err := e.deps.Recorder.RecordEpisode(ctx, s); err != nil {
		e.logger.Warn("Failed to record episode", slog.Any("error", err))
	}
}

func (e *Env) grabWindow() (*capture.Frame, error) {
	frame, err := e.deps.Grabber.Grab(e.deps.Window.Rect())
	if err != nil {
		return nil, fmt.Errorf("failed to grab window: %w", err)
	}
	return frame, nil
}

func (e *Env) info(obs observe.Observation, clicked, over bool, s state.GameState) Info {
	return Info{
		Score:         e.ec.LastScore,
		NextPieceSize: obs.NextPieceSize,
		DidClick:      clicked,
		IsGameOver:    over,
		State:         s.String(),
		EpisodeID:     e.ec.ID.String(),
		Step:          e.ec.Steps,
	}
}

func actionString(cmd input.Command, out input.Outcome) string {
	if !out.Clicked {
		return "WAIT"
	}
	return fmt.Sprintf("CLICK @ %.2f", cmd.XNorm)
}
