package env

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fitcats-env/internal/calibration"
	"fitcats-env/internal/capture"
	"fitcats-env/internal/input"
	"fitcats-env/internal/observe"
	"fitcats-env/internal/ocr"
	"fitcats-env/internal/state"
	"fitcats-env/internal/vision"
	"fitcats-env/internal/wait"
	"fitcats-env/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// scriptedClassifier replays a fixed sequence of classifications, repeating
// the last one.
type scriptedClassifier struct {
	states   []state.Classification
	gameOver []bool
	muted    []bool
}

func (c *scriptedClassifier) Classify(_ gocv.Mat, muted bool) state.Classification {
	c.muted = append(c.muted, muted)
	cl := c.states[0]
	if len(c.states) > 1 {
		c.states = c.states[1:]
	}
	return cl
}

func (c *scriptedClassifier) GameOver(gocv.Mat) (vision.Match, bool) {
	if len(c.gameOver) == 0 {
		return vision.Match{}, false
	}
	over := c.gameOver[0]
	c.gameOver = c.gameOver[1:]
	return vision.Match{Score: 0.95}, over
}

// scriptedScores replays readings; -1 is unreadable.
type scriptedScores struct {
	values []int
}

func (s *scriptedScores) ReadScore(gocv.Mat) (ocr.Reading, error) {
	if len(s.values) == 0 {
		return ocr.Reading{}, fmt.Errorf("no more readings")
	}
	v := s.values[0]
	s.values = s.values[1:]
	if v < 0 {
		return ocr.Reading{}, nil
	}
	return ocr.Reading{Digits: fmt.Sprint(v), Valid: true}, nil
}

type memRecorder struct {
	episodes []EpisodeSummary
}

func (r *memRecorder) RecordEpisode(_ context.Context, s EpisodeSummary) error {
	r.episodes = append(r.episodes, s)
	return nil
}

func matchAt(x, y, w, h int) vision.Match {
	return vision.Match{Score: 0.9, Loc: image.Pt(x, y), Size: image.Pt(w, h)}
}

type harness struct {
	env     *Env
	pointer *input.RecordingPointer
	clock   *wait.Recorder
	cls     *scriptedClassifier
	scores  *scriptedScores
	rec     *memRecorder
	snaps   string
}

func newHarness(t *testing.T, cls *scriptedClassifier, scores *scriptedScores, maxSteps int) *harness {
	t.Helper()

	profile := &calibration.Profile{
		GameWidth:    400,
		GameHeight:   300,
		ClickXMinRel: 100,
		ClickXMaxRel: 300,
		ScoreROI:     &geometry.RectInt{X: 150, Y: 10, Width: 100, Height: 40},
		AgentViewROI: &geometry.RectInt{X: 20, Y: 60, Width: 200, Height: 200},
		NextCatROI:   &geometry.RectInt{X: 300, Y: 60, Width: 50, Height: 40},
	}
	window := geometry.RectInt{X: 10, Y: 20, Width: 400, Height: 300}

	screen := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(50, 60, 70, 0), 400, 500, gocv.MatTypeCV8UC3)
	grabber := capture.NewStaticGrabber(screen)
	t.Cleanup(func() { grabber.Close() })

	pointer := &input.RecordingPointer{}
	rec := &memRecorder{}
	snaps := t.TempDir()

	opts := DefaultOptions()
	opts.MaxEpisodeSteps = maxSteps
	opts.SnapshotsDir = snaps

	e := New(Deps{
		Grabber:    grabber,
		Window:     window,
		Classifier: cls,
		Scores:     scores,
		Builder:    observe.NewBuilder(profile, observe.DefaultOptions()),
		Executor:   input.NewExecutor(pointer, window, profile, input.DefaultDropFraction),
		Recorder:   rec,
	}, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))

	clock := wait.NewRecorder(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	e.SetClock(clock.Sleep, clock.Now)

	return &harness{env: e, pointer: pointer, clock: clock, cls: cls, scores: scores, rec: rec, snaps: snaps}
}

func active() state.Classification { return state.Classification{State: state.Active} }

func TestResetDrivesToActive(t *testing.T) {
	mute := matchAt(360, 5, 20, 20)
	cls := &scriptedClassifier{states: []state.Classification{
		{State: state.Overlay, Match: matchAt(100, 100, 40, 20)},
		{State: state.GameOver, Match: matchAt(150, 200, 60, 30)},
		{State: state.Menu, Match: matchAt(170, 140, 60, 40), Mute: &mute},
		{State: state.Menu, Match: matchAt(170, 140, 60, 40)},
		{State: state.Unknown},
		{State: state.Unknown},
		{State: state.Unknown},
		active(),
	}}
	h := newHarness(t, cls, &scriptedScores{values: []int{37}}, 0)

	obs, info, err := h.env.Reset(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []input.Tap{
		{X: 10 + 120, Y: 20 + 110}, // overlay center
		{X: 10 + 180, Y: 20 + 215}, // restart center
		{X: 10 + 370, Y: 20 + 15},  // mute center
		{X: 10 + 200, Y: 20 + 160}, // play center
	}, h.pointer.Taps())
	assert.Equal(t, []time.Duration{
		5 * time.Second,
		2 * time.Second,
		500 * time.Millisecond,
		2 * time.Second,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
	}, h.clock.Waits)

	// The mute toggle is only offered until it has been clicked.
	assert.Equal(t, []bool{false, false, false, true, true, true, true, true}, cls.muted)

	assert.Equal(t, 37, h.env.Context().LastScore)
	assert.Equal(t, 37, info.Score)
	assert.Equal(t, "ACTIVE", info.State)
	assert.Len(t, obs.Board, 84*84*3)
	assert.Equal(t, 1, h.env.Context().Episode)
}

func TestResetUnreadableScoreStartsAtZero(t *testing.T) {
	h := newHarness(t, &scriptedClassifier{states: []state.Classification{active()}}, &scriptedScores{values: []int{-1}}, 0)

	_, info, err := h.env.Reset(context.Background())
	require.NoError(t, err)
	assert.Zero(t, info.Score)
}

func TestResetUnknownBackoffIsCapped(t *testing.T) {
	states := make([]state.Classification, 0, 7)
	for i := 0; i < 6; i++ {
		states = append(states, state.Classification{State: state.Unknown})
	}
	states = append(states, active())
	h := newHarness(t, &scriptedClassifier{states: states}, &scriptedScores{values: []int{0}}, 0)

	_, _, err := h.env.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second,
	}, h.clock.Waits)
}

func TestResetCancelled(t *testing.T) {
	h := newHarness(t, &scriptedClassifier{states: []state.Classification{{State: state.Unknown}}}, &scriptedScores{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := h.env.Reset(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func resetAt(t *testing.T, h *harness) {
	t.Helper()
	_, _, err := h.env.Reset(context.Background())
	require.NoError(t, err)
	h.clock.Waits = nil
}

func TestStepClickRewardsScoreIncrease(t *testing.T) {
	h := newHarness(t, &scriptedClassifier{states: []state.Classification{active()}}, &scriptedScores{values: []int{100, 105}}, 0)
	resetAt(t, h)

	res, err := h.env.Step(context.Background(), input.Command{XNorm: 0, Trigger: 1})
	require.NoError(t, err)

	assert.Equal(t, 5.0, res.Reward)
	assert.False(t, res.Terminated)
	assert.False(t, res.Truncated)
	assert.True(t, res.Info.DidClick)
	assert.Equal(t, 100, res.Info.Score)
	assert.Equal(t, 105, h.env.Context().LastScore)
	assert.Equal(t, []time.Duration{750 * time.Millisecond}, h.clock.Waits)
	assert.Equal(t, []input.Tap{{X: 10 + 200, Y: 20 + 45}}, h.pointer.Taps())
	assert.InDelta(t, 0.75, res.Observation.TimeSinceAction, 1e-6)
}

func TestStepImplausibleJumpIgnored(t *testing.T) {
	h := newHarness(t, &scriptedClassifier{states: []state.Classification{active()}}, &scriptedScores{values: []int{100, 700}}, 0)
	resetAt(t, h)

	res, err := h.env.Step(context.Background(), input.Command{Trigger: 1})
	require.NoError(t, err)
	assert.Zero(t, res.Reward)
	assert.Equal(t, 100, h.env.Context().LastScore)
}

func TestStepWaitPenaltyGrows(t *testing.T) {
	h := newHarness(t, &scriptedClassifier{states: []state.Classification{active()}}, &scriptedScores{values: []int{10, 10, 10, 10}}, 0)
	resetAt(t, h)

	var rewards []float64
	for i := 0; i < 3; i++ {
		res, err := h.env.Step(context.Background(), input.Command{XNorm: 0.5, Trigger: -1})
		require.NoError(t, err)
		rewards = append(rewards, res.Reward)
	}

	assert.InDelta(t, -0.011, rewards[0], 1e-9)
	assert.InDelta(t, -0.0121, rewards[1], 1e-9)
	assert.InDelta(t, -0.01331, rewards[2], 1e-9)
	assert.Equal(t, 3, h.env.Context().ConsecutiveWaits)
	assert.Empty(t, h.pointer.Taps())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond}, h.clock.Waits)
}

func TestStepUnreadableWaitCombinesPenalties(t *testing.T) {
	h := newHarness(t, &scriptedClassifier{states: []state.Classification{active()}}, &scriptedScores{values: []int{10, -1}}, 0)
	resetAt(t, h)

	res, err := h.env.Step(context.Background(), input.Command{Trigger: 0})
	require.NoError(t, err)
	assert.InDelta(t, -0.111, res.Reward, 1e-9)
	assert.Equal(t, 10, h.env.Context().LastScore)
}

func TestStepClickResetsWaitCount(t *testing.T) {
	h := newHarness(t, &scriptedClassifier{states: []state.Classification{active()}}, &scriptedScores{values: []int{0, 0, 0, 0}}, 0)
	resetAt(t, h)

	for i := 0; i < 2; i++ {
		_, err := h.env.Step(context.Background(), input.Command{Trigger: -1})
		require.NoError(t, err)
	}
	res, err := h.env.Step(context.Background(), input.Command{Trigger: 1})
	require.NoError(t, err)
	assert.Zero(t, res.Reward)
	assert.Zero(t, h.env.Context().ConsecutiveWaits)
}

func TestStepGameOverAfterClick(t *testing.T) {
	cls := &scriptedClassifier{
		states:   []state.Classification{active()},
		gameOver: []bool{false, true},
	}
	h := newHarness(t, cls, &scriptedScores{values: []int{0, 120}}, 0)
	resetAt(t, h)

	_, err := h.env.Step(context.Background(), input.Command{Trigger: 1})
	require.NoError(t, err)
	require.Equal(t, 120, h.env.Context().LastScore)

	res, err := h.env.Step(context.Background(), input.Command{Trigger: 1})
	require.NoError(t, err)

	assert.True(t, res.Terminated)
	assert.Equal(t, -1000.0, res.Reward)
	assert.True(t, res.Info.IsGameOver)
	assert.Equal(t, "GAME_OVER", res.Info.State)
	assert.Equal(t, 120, res.Info.Score)

	ec := h.env.Context()
	assert.Zero(t, ec.LastScore)
	assert.Zero(t, ec.LowScoreCounter)
	assert.Equal(t, 120, ec.SessionHighScore)

	_, err = os.Stat(filepath.Join(h.snaps, "highscore_120.png"))
	assert.NoError(t, err)

	require.Len(t, h.rec.episodes, 1)
	ep := h.rec.episodes[0]
	assert.True(t, ep.Terminated)
	assert.Equal(t, 120, ep.FinalScore)
	assert.Equal(t, 2, ep.Steps)
	assert.InDelta(t, 120.0-1000.0, ep.Return, 1e-9)
}

func TestStepGameOverWhileWaiting(t *testing.T) {
	cls := &scriptedClassifier{
		states:   []state.Classification{active()},
		gameOver: []bool{true},
	}
	h := newHarness(t, cls, &scriptedScores{values: []int{0}}, 0)
	resetAt(t, h)

	res, err := h.env.Step(context.Background(), input.Command{Trigger: -1})
	require.NoError(t, err)
	assert.True(t, res.Terminated)
	assert.Zero(t, res.Reward)

	// No new high score, so no snapshot.
	entries, err := os.ReadDir(h.snaps)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSessionHighSurvivesReset(t *testing.T) {
	cls := &scriptedClassifier{
		states:   []state.Classification{active()},
		gameOver: []bool{false, true},
	}
	h := newHarness(t, cls, &scriptedScores{values: []int{0, 50, 0}}, 0)
	resetAt(t, h)

	_, err := h.env.Step(context.Background(), input.Command{Trigger: 1})
	require.NoError(t, err)
	_, err = h.env.Step(context.Background(), input.Command{Trigger: 1})
	require.NoError(t, err)

	resetAt(t, h)
	ec := h.env.Context()
	assert.Equal(t, 50, ec.SessionHighScore)
	assert.Equal(t, 2, ec.Episode)
	assert.Zero(t, ec.Steps)
}

func TestStepTruncates(t *testing.T) {
	h := newHarness(t, &scriptedClassifier{states: []state.Classification{active()}}, &scriptedScores{values: []int{0, 0, 0}}, 2)
	resetAt(t, h)

	res, err := h.env.Step(context.Background(), input.Command{Trigger: 1})
	require.NoError(t, err)
	assert.False(t, res.Truncated)

	res, err = h.env.Step(context.Background(), input.Command{Trigger: 1})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.False(t, res.Terminated)

	require.Len(t, h.rec.episodes, 1)
	assert.True(t, h.rec.episodes[0].Truncated)
}

func TestStepPropagatesReadErrors(t *testing.T) {
	h := newHarness(t, &scriptedClassifier{states: []state.Classification{active()}}, &scriptedScores{values: []int{0}}, 0)
	resetAt(t, h)

	_, err := h.env.Step(context.Background(), input.Command{Trigger: 1})
	assert.Error(t, err)
}

func TestSpaces(t *testing.T) {
	h := newHarness(t, &scriptedClassifier{states: []state.Classification{active()}}, &scriptedScores{}, 0)

	s := h.env.Spaces()
	assert.Equal(t, []int{2}, s.Action.Shape)
	assert.Equal(t, -1.0, s.Action.Low)
	assert.Equal(t, 1.0, s.Action.High)
	assert.Equal(t, []int{84, 84, 3}, s.Observation["board"].Shape)
	assert.Equal(t, 1.0, s.Observation["next_piece_size"].High)
}
