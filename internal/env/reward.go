package env

import (
	"math"
	"time"

	"fitcats-env/internal/config"

	"github.com/google/uuid"
)

// EpisodeContext is the mutable per-episode state. Everything except
// SessionHighScore is cleared by Reset.
type EpisodeContext struct {
	ID      uuid.UUID
	Episode int
	Steps   int
	Return  float64
	Started time.Time

	LastScore        int
	SessionHighScore int
	LowScoreCounter  int
	ConsecutiveWaits int
	LastActionTime   time.Time
}

// reset clears the episode while keeping the session high score.
func (ec *EpisodeContext) reset(now time.Time) {
	*ec = EpisodeContext{
		ID:               uuid.New(),
		Episode:          ec.Episode + 1,
		Started:          now,
		SessionHighScore: ec.SessionHighScore,
		LastActionTime:   now,
	}
}

// RewardPolicy holds the reward shaping constants.
type RewardPolicy struct {
	MaxPlausibleJump  int
	ResyncTicks       int
	UnreadablePenalty float64
	LosingMovePenalty float64
	WaitBase          float64
	WaitGrowth        float64
	WaitFloor         float64
}

// DefaultRewardPolicy returns the tuned constants.
func DefaultRewardPolicy() RewardPolicy {
	return PolicyFromConfig(config.Default().Reward)
}

// PolicyFromConfig copies the reward section of the run config.
func PolicyFromConfig(r config.Reward) RewardPolicy {
	return RewardPolicy{
		MaxPlausibleJump:  r.MaxPlausibleJump,
		ResyncTicks:       r.ResyncTicks,
		UnreadablePenalty: r.UnreadablePenalty,
		LosingMovePenalty: r.LosingMovePenalty,
		WaitBase:          r.WaitPenaltyBase,
		WaitGrowth:        r.WaitPenaltyGrowth,
		WaitFloor:         r.WaitPenaltyFloor,
	}
}

// ScoreOutcome describes how a reading was applied.
type ScoreOutcome int

const (
	ScoreUnreadable ScoreOutcome = iota
	ScoreAccepted
	ScoreRejectedJump
	ScoreLower
	ScoreResynced
	ScoreUnchanged
)

// ScoreReward applies an observed score to the episode and returns the score
// component of the reward.
//
// An increase below MaxPlausibleJump is rewarded and accepted. A larger jump
// is treated as a misread and ignored. A lower reading only replaces the
// score after ResyncTicks consecutive lower readings, with no penalty. Every
// reading that is not lower clears the lower-reading counter.
func (p RewardPolicy) ScoreReward(ec *EpisodeContext, observed int, readable bool) (float64, ScoreOutcome) {
	if !readable {
		return p.UnreadablePenalty, ScoreUnreadable
	}

	switch {
	case observed > ec.LastScore:
		ec.LowScoreCounter = 0
		delta := observed - ec.LastScore
		if delta >= p.MaxPlausibleJump {
			return 0, ScoreRejectedJump
		}
		ec.LastScore = observed
		return float64(delta), ScoreAccepted

	case observed < ec.LastScore:
		ec.LowScoreCounter++
		if ec.LowScoreCounter >= p.ResyncTicks {
			ec.LastScore = observed
			ec.LowScoreCounter = 0
			return 0, ScoreResynced
		}
		return 0, ScoreLower

	default:
		ec.LowScoreCounter = 0
		return 0, ScoreUnchanged
	}
}

// WaitPenalty returns the penalty for the n-th consecutive wait. It grows
// geometrically and is clamped at WaitFloor.
func (p RewardPolicy) WaitPenalty(n int) float64 {
	return math.Max(p.WaitBase*math.Pow(p.WaitGrowth, float64(n)), p.WaitFloor)
}

// TerminalReward is the reward for the step that ended the game.
func (p RewardPolicy) TerminalReward(clicked bool) float64 {
	if clicked {
		return p.LosingMovePenalty
	}
	return 0
}
