// Package config holds the run configuration: asset paths, matching
// thresholds, reward constants and timings. Every constant has a default and
// can be overridden from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "fitcats.yaml"

// Config is the top-level run configuration.
type Config struct {
	CalibrationPath string `yaml:"calibration"`
	TemplatesDir    string `yaml:"templates_dir"`
	ExemplarsDir    string `yaml:"exemplars_dir"`
	SnapshotsDir    string `yaml:"snapshots_dir"`
	EpisodesDB      string `yaml:"episodes_db"`

	// MaxEpisodeSteps truncates an episode after this many steps; 0 disables.
	MaxEpisodeSteps int `yaml:"max_episode_steps"`

	Thresholds  Thresholds  `yaml:"thresholds"`
	Reward      Reward      `yaml:"reward"`
	Timing      Timing      `yaml:"timing"`
	Observation Observation `yaml:"observation"`
	Action      Action      `yaml:"action"`
}

// Thresholds are the match acceptance constants.
type Thresholds struct {
	// Structural is the NCC acceptance threshold for UI templates.
	Structural float64 `yaml:"structural"`
	// SignalMargin widens the band below Structural in which a restart or play
	// match counts as a signal and prevents the ACTIVE default.
	SignalMargin float64 `yaml:"signal_margin"`
	// Digit is the floor a glyph's best exemplar score must exceed.
	Digit float64 `yaml:"digit"`
	// GlyphMinWidth and GlyphMinHeight drop contour boxes smaller than this.
	GlyphMinWidth  int `yaml:"glyph_min_width"`
	GlyphMinHeight int `yaml:"glyph_min_height"`
	// GlyphPadding is added around each box when cropping.
	GlyphPadding int `yaml:"glyph_padding"`
	// ErodeKernel is the side of the square erosion element.
	ErodeKernel int `yaml:"erode_kernel"`
}

// Reward holds reward shaping constants.
type Reward struct {
	// MaxPlausibleJump rejects score increases at or above this as misreads.
	MaxPlausibleJump int `yaml:"max_plausible_jump"`
	// ResyncTicks is how many consecutive lower readings resync the score.
	ResyncTicks       int     `yaml:"resync_ticks"`
	UnreadablePenalty float64 `yaml:"unreadable_penalty"`
	LosingMovePenalty float64 `yaml:"losing_move_penalty"`
	WaitPenaltyBase   float64 `yaml:"wait_penalty_base"`
	WaitPenaltyGrowth float64 `yaml:"wait_penalty_growth"`
	WaitPenaltyFloor  float64 `yaml:"wait_penalty_floor"`
}

// Timing holds the fixed waits of the control loop.
type Timing struct {
	LocateTimeout   time.Duration `yaml:"locate_timeout"`
	LocatePoll      time.Duration `yaml:"locate_poll"`
	LocateSettle    time.Duration `yaml:"locate_settle"`
	OverlaySettle   time.Duration `yaml:"overlay_settle"`
	RestartSettle   time.Duration `yaml:"restart_settle"`
	PlaySettle      time.Duration `yaml:"play_settle"`
	MuteSettle      time.Duration `yaml:"mute_settle"`
	ClickSettle     time.Duration `yaml:"click_settle"`
	WaitTick        time.Duration `yaml:"wait_tick"`
	UnknownRetryMin time.Duration `yaml:"unknown_retry_min"`
	UnknownRetryMax time.Duration `yaml:"unknown_retry_max"`
}

// Observation describes the observation tensor.
type Observation struct {
	BoardWidth  int `yaml:"board_width"`
	BoardHeight int `yaml:"board_height"`
	// NextPieceThreshold is the gray level above which a preview pixel counts.
	NextPieceThreshold int `yaml:"next_piece_threshold"`
}

// Action describes where clicks land.
type Action struct {
	// DropHeightFraction places clicks this far down the window.
	DropHeightFraction float64 `yaml:"drop_height_fraction"`
}

// Default returns the configuration the game was tuned with.
func Default() *Config {
	return &Config{
		CalibrationPath: "calibration_data.json",
		TemplatesDir:    ".",
		ExemplarsDir:    "digit_templates",
		SnapshotsDir:    ".",
		EpisodesDB:      "",
		Thresholds: Thresholds{
			Structural:     0.8,
			SignalMargin:   0,
			Digit:          0.5,
			GlyphMinWidth:  5,
			GlyphMinHeight: 10,
			GlyphPadding:   5,
			ErodeKernel:    2,
		},
		Reward: Reward{
			MaxPlausibleJump:  500,
			ResyncTicks:       5,
			UnreadablePenalty: -0.1,
			LosingMovePenalty: -1000,
			WaitPenaltyBase:   -0.01,
			WaitPenaltyGrowth: 1.1,
			WaitPenaltyFloor:  -1.0,
		},
		Timing: Timing{
			LocateTimeout:   60 * time.Second,
			LocatePoll:      2 * time.Second,
			LocateSettle:    8 * time.Second,
			OverlaySettle:   5 * time.Second,
			RestartSettle:   2 * time.Second,
			PlaySettle:      2 * time.Second,
			MuteSettle:      500 * time.Millisecond,
			ClickSettle:     750 * time.Millisecond,
			WaitTick:        100 * time.Millisecond,
			UnknownRetryMin: time.Second,
			UnknownRetryMax: 8 * time.Second,
		},
		Observation: Observation{
			BoardWidth:         84,
			BoardHeight:        84,
			NextPieceThreshold: 200,
		},
		Action: Action{
			DropHeightFraction: 0.15,
		},
	}
}

// Load reads a YAML config on top of the defaults. A missing file yields the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	r, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("error loading %s: %w", path, err)
	}
	defer r.Close()

	d := yaml.NewDecoder(r)
	if err := d.Decode(cfg); err != nil {
		return nil, fmt.Errorf("error reading config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the control loop cannot run with.
func (c *Config) Validate() error {
	t := c.Thresholds
	if t.Structural <= 0 || t.Structural > 1 {
		return fmt.Errorf("thresholds.structural must be in (0, 1], got %v", t.Structural)
	}
	if t.Digit <= 0 || t.Digit > 1 {
		return fmt.Errorf("thresholds.digit must be in (0, 1], got %v", t.Digit)
	}
	if t.SignalMargin < 0 {
		return fmt.Errorf("thresholds.signal_margin must be >= 0, got %v", t.SignalMargin)
	}
	if t.ErodeKernel < 1 {
		return fmt.Errorf("thresholds.erode_kernel must be >= 1, got %d", t.ErodeKernel)
	}
	if c.Reward.MaxPlausibleJump <= 0 {
		return fmt.Errorf("reward.max_plausible_jump must be > 0, got %d", c.Reward.MaxPlausibleJump)
	}
	if c.Reward.ResyncTicks <= 0 {
		return fmt.Errorf("reward.resync_ticks must be > 0, got %d", c.Reward.ResyncTicks)
	}
	if c.Observation.BoardWidth <= 0 || c.Observation.BoardHeight <= 0 {
		return fmt.Errorf("observation board size must be positive, got %dx%d",
			c.Observation.BoardWidth, c.Observation.BoardHeight)
	}
	if c.Action.DropHeightFraction < 0 || c.Action.DropHeightFraction >= 1 {
		return fmt.Errorf("action.drop_height_fraction must be in [0, 1), got %v", c.Action.DropHeightFraction)
	}
	if c.Timing.UnknownRetryMax < c.Timing.UnknownRetryMin {
		return fmt.Errorf("timing.unknown_retry_max (%s) below unknown_retry_min (%s)",
			c.Timing.UnknownRetryMax, c.Timing.UnknownRetryMin)
	}
	return nil
}
