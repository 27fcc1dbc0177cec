// Package state classifies a window frame into a discrete game state.
package state

import (
	"fitcats-env/internal/vision"

	"gocv.io/x/gocv"
)

// GameState is the UI state derived from a single frame.
type GameState int

const (
	Locating GameState = iota
	Overlay
	Menu
	Active
	GameOver
	Unknown
)

func (s GameState) String() string {
	switch s {
	case Locating:
		return "LOCATING"
	case Overlay:
		return "OVERLAY"
	case Menu:
		return "MENU"
	case Active:
		return "ACTIVE"
	case GameOver:
		return "GAME_OVER"
	case Unknown:
		return "UNKNOWN"
	default:
		return "INVALID"
	}
}

// Classification is the state plus the match that decided it.
type Classification struct {
	State GameState
	// Match locates the template that decided the state. It is zero for
	// Active and Unknown.
	Match vision.Match
	// Mute is set when the menu's music toggle was matched.
	Mute *vision.Match
	// Scores holds the confidence of every role evaluated.
	Scores map[vision.Role]float64
}

// Classifier applies the fixed priority order to template matches.
type Classifier struct {
	templates    *vision.TemplateSet
	signalMargin float64
}

// NewClassifier creates a classifier. signalMargin widens the band below a
// template's threshold in which restart or play still count as a signal.
func NewClassifier(templates *vision.TemplateSet, signalMargin float64) *Classifier {
	return &Classifier{templates: templates, signalMargin: signalMargin}
}

// Classify evaluates overlay, restart, play and empty board in that order.
// The first accepted template wins and later ones are not evaluated. With no
// accepted template the frame is Active unless restart or play showed a
// signal, in which case it is Unknown. The mute toggle is only looked for on
// the menu, and only while audio is not yet muted.
func (c *Classifier) Classify(frame gocv.Mat, muted bool) Classification {
	cl := Classification{Scores: make(map[vision.Role]float64)}

	if t := c.templates.Get(vision.RoleOverlayPlay); t != nil {
		m, ok := c.find(frame, t, cl.Scores)
		if ok {
			cl.State, cl.Match = Overlay, m
			return cl
		}
	}

	restart, ok := c.find(frame, c.templates.Get(vision.RoleRestart), cl.Scores)
	if ok {
		cl.State, cl.Match = GameOver, restart
		return cl
	}

	play, ok := c.find(frame, c.templates.Get(vision.RolePlay), cl.Scores)
	if ok {
		cl.State, cl.Match = Menu, play
		if mute := c.templates.Get(vision.RoleMusicMute); mute != nil && !muted {
			if mm, ok := c.find(frame, mute, cl.Scores); ok {
				cl.Mute = &mm
			}
		}
		return cl
	}

	if empty, ok := c.find(frame, c.templates.Get(vision.RoleEmptyBoard), cl.Scores); ok {
		cl.State, cl.Match = Active, empty
		return cl
	}

	if c.signal(vision.RoleRestart, restart) || c.signal(vision.RolePlay, play) {
		cl.State = Unknown
		return cl
	}
	cl.State = Active
	return cl
}

// GameOver probes only the restart template.
func (c *Classifier) GameOver(frame gocv.Mat) (vision.Match, bool) {
	return vision.Find(frame, c.templates.Get(vision.RoleRestart))
}

func (c *Classifier) find(frame gocv.Mat, t *vision.Template, scores map[vision.Role]float64) (vision.Match, bool) {
	if t == nil {
		return vision.Match{}, false
	}
	m, ok := vision.Find(frame, t)
	scores[t.Role] = m.Score
	return m, ok
}

// signal reports whether a rejected match still came close enough to its
// threshold that the frame cannot safely be called Active.
func (c *Classifier) signal(role vision.Role, m vision.Match) bool {
	t := c.templates.Get(role)
	if t == nil {
		return false
	}
	return m.Score >= t.Threshold-c.signalMargin
}
