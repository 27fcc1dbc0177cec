package state

import (
	"image"
	"image/color"
	"testing"

	"fitcats-env/internal/vision"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var background = gocv.NewScalar(30, 30, 30, 0)

func blank(w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(background, h, w, gocv.MatTypeCV8UC3)
}

// Each role gets a structurally distinct 60x40 patch so that no template
// correlates with another role's patch.
var painters = map[vision.Role]func(img *gocv.Mat, x, y int){
	vision.RoleOverlayPlay: func(img *gocv.Mat, x, y int) {
		gocv.Circle(img, image.Pt(x+30, y+20), 18, color.RGBA{G: 220, B: 60}, -1)
	},
	vision.RoleRestart: func(img *gocv.Mat, x, y int) {
		for _, top := range []int{4, 16, 28} {
			gocv.Rectangle(img, image.Rect(x+4, y+top, x+56, y+top+6), color.RGBA{R: 220, G: 40, B: 40}, -1)
		}
	},
	vision.RolePlay: func(img *gocv.Mat, x, y int) {
		for _, left := range []int{4, 20, 36, 52} {
			gocv.Rectangle(img, image.Rect(x+left, y+4, x+left+6, y+36), color.RGBA{R: 40, G: 200, B: 40}, -1)
		}
	},
	vision.RoleMusicMute: func(img *gocv.Mat, x, y int) {
		for row := 0; row < 4; row++ {
			for col := 0; col < 6; col++ {
				if (row+col)%2 == 0 {
					gocv.Rectangle(img, image.Rect(x+col*10, y+row*10, x+col*10+10, y+row*10+10), color.RGBA{R: 240, G: 200}, -1)
				}
			}
		}
	},
	vision.RoleEmptyBoard: func(img *gocv.Mat, x, y int) {
		gocv.Rectangle(img, image.Rect(x+2, y+30, x+58, y+38), color.RGBA{R: 150, G: 100, B: 50}, -1)
		gocv.Rectangle(img, image.Rect(x+2, y+2, x+8, y+30), color.RGBA{R: 150, G: 100, B: 50}, -1)
	},
}

func templateSet(roles ...vision.Role) *vision.TemplateSet {
	var ts []*vision.Template
	for _, r := range roles {
		m := blank(60, 40)
		painters[r](&m, 0, 0)
		ts = append(ts, vision.NewTemplate(r, m, vision.DefaultThreshold))
	}
	return vision.NewTemplateSet(ts...)
}

func allRoles() []vision.Role {
	return []vision.Role{vision.RoleOverlayPlay, vision.RoleRestart, vision.RolePlay, vision.RoleMusicMute, vision.RoleEmptyBoard}
}

type placed struct {
	role vision.Role
	x, y int
}

func scene(items ...placed) gocv.Mat {
	s := blank(400, 300)
	for _, it := range items {
		painters[it.role](&s, it.x, it.y)
	}
	return s
}

func TestClassifyPriority(t *testing.T) {
	set := templateSet(allRoles()...)
	defer set.Close()
	c := NewClassifier(set, 0)

	tests := []struct {
		name  string
		items []placed
		want  GameState
		at    image.Point
	}{
		{"overlay beats play", []placed{{vision.RoleOverlayPlay, 20, 20}, {vision.RolePlay, 200, 150}}, Overlay, image.Pt(20, 20)},
		{"restart beats play", []placed{{vision.RoleRestart, 50, 60}, {vision.RolePlay, 200, 150}}, GameOver, image.Pt(50, 60)},
		{"play alone is menu", []placed{{vision.RolePlay, 200, 150}}, Menu, image.Pt(200, 150)},
		{"empty board is active", []placed{{vision.RoleEmptyBoard, 100, 200}}, Active, image.Pt(100, 200)},
		{"nothing is active", nil, Active, image.Point{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := scene(tt.items...)
			defer frame.Close()

			cl := c.Classify(frame, false)
			assert.Equal(t, tt.want, cl.State, cl.State.String())
			assert.Equal(t, tt.at, cl.Match.Loc)
		})
	}
}

func TestClassifyStopsAtFirstMatch(t *testing.T) {
	set := templateSet(allRoles()...)
	defer set.Close()
	c := NewClassifier(set, 0)

	frame := scene(placed{vision.RoleOverlayPlay, 20, 20}, placed{vision.RolePlay, 200, 150})
	defer frame.Close()

	cl := c.Classify(frame, false)
	require.Equal(t, Overlay, cl.State)
	assert.Contains(t, cl.Scores, vision.RoleOverlayPlay)
	assert.NotContains(t, cl.Scores, vision.RoleRestart)
	assert.NotContains(t, cl.Scores, vision.RolePlay)
}

func TestClassifyMute(t *testing.T) {
	set := templateSet(allRoles()...)
	defer set.Close()
	c := NewClassifier(set, 0)

	frame := scene(placed{vision.RolePlay, 200, 150}, placed{vision.RoleMusicMute, 330, 10})
	defer frame.Close()

	cl := c.Classify(frame, false)
	require.Equal(t, Menu, cl.State)
	require.NotNil(t, cl.Mute)
	assert.Equal(t, image.Pt(330, 10), cl.Mute.Loc)

	// Once muted the toggle is ignored.
	cl = c.Classify(frame, true)
	assert.Equal(t, Menu, cl.State)
	assert.Nil(t, cl.Mute)
}

func TestClassifyWithoutOptionalTemplates(t *testing.T) {
	set := templateSet(vision.RoleRestart, vision.RolePlay, vision.RoleEmptyBoard)
	defer set.Close()
	c := NewClassifier(set, 0)

	frame := scene(placed{vision.RolePlay, 10, 10})
	defer frame.Close()

	cl := c.Classify(frame, false)
	assert.Equal(t, Menu, cl.State)
	assert.Nil(t, cl.Mute)
}

func TestClassifySignalMarginYieldsUnknown(t *testing.T) {
	set := templateSet(allRoles()...)
	defer set.Close()

	frame := scene(placed{vision.RolePlay, 200, 150})
	defer frame.Close()

	// Raise the play threshold above a perfect match so it is rejected but
	// remains within the signal band.
	set.Get(vision.RolePlay).Threshold = 1.01

	assert.Equal(t, Active, NewClassifier(set, 0).Classify(frame, false).State)
	assert.Equal(t, Unknown, NewClassifier(set, 0.05).Classify(frame, false).State)
}

func TestGameOverProbe(t *testing.T) {
	set := templateSet(allRoles()...)
	defer set.Close()
	c := NewClassifier(set, 0)

	over := scene(placed{vision.RoleRestart, 120, 40})
	defer over.Close()
	m, ok := c.GameOver(over)
	assert.True(t, ok)
	assert.Equal(t, image.Pt(120, 40), m.Loc)

	playing := scene(placed{vision.RoleEmptyBoard, 120, 40})
	defer playing.Close()
	_, ok = c.GameOver(playing)
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "GAME_OVER", GameOver.String())
	assert.Equal(t, "UNKNOWN", Unknown.String())
	assert.Equal(t, "INVALID", GameState(42).String())
}
