// Package vision holds the UI template assets and the normalized
// cross-correlation matcher shared by window location, state classification
// and digit recognition.
package vision

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gocv.io/x/gocv"
)

// DefaultThreshold is the acceptance threshold for structural UI templates.
const DefaultThreshold = 0.8

// Role identifies what a template detects.
type Role string

const (
	RoleTitle       Role = "title"
	RolePlay        Role = "play"
	RoleRestart     Role = "restart"
	RoleEmptyBoard  Role = "empty_board"
	RoleMusicMute   Role = "music_mute"
	RoleOverlayPlay Role = "overlay_play"
)

// ErrMissingTemplate is returned when a required template file is absent.
var ErrMissingTemplate = errors.New("missing required template")

// assetFiles maps each role to its file name in the templates directory.
var assetFiles = map[Role]string{
	RoleTitle:       "game_title.png",
	RolePlay:        "template_play.png",
	RoleRestart:     "template_restart.png",
	RoleEmptyBoard:  "template_empty_board.png",
	RoleMusicMute:   "template_music.png",
	RoleOverlayPlay: "template_newgrounds_play.png",
}

var requiredRoles = []Role{RoleTitle, RolePlay, RoleRestart, RoleEmptyBoard}

// FileName returns the asset file name for a role.
func FileName(r Role) string { return assetFiles[r] }

// Required reports whether a role must be present for the environment to run.
func Required(r Role) bool {
	for _, req := range requiredRoles {
		if req == r {
			return true
		}
	}
	return false
}

// Template is a small reference image with its acceptance threshold.
type Template struct {
	Role      Role
	Mat       gocv.Mat
	Threshold float64
	Path      string
}

// Size returns the template dimensions.
func (t *Template) Size() (width, height int) {
	return t.Mat.Cols(), t.Mat.Rows()
}

// Close releases the template image.
func (t *Template) Close() {
	t.Mat.Close()
}

// NewTemplate wraps an already decoded image. The template takes ownership of mat.
func NewTemplate(role Role, mat gocv.Mat, threshold float64) *Template {
	return &Template{Role: role, Mat: mat, Threshold: threshold}
}

// LoadTemplate reads a color template image from disk.
func LoadTemplate(role Role, path string, threshold float64) (*Template, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("failed to read template %s", path)
	}
	return &Template{Role: role, Mat: mat, Threshold: threshold, Path: path}, nil
}

// TemplateSet is the loaded collection of UI templates. Optional roles may be
// absent; Get returns nil for them.
type TemplateSet struct {
	templates map[Role]*Template
}

// NewTemplateSet builds a set from already loaded templates.
func NewTemplateSet(templates ...*Template) *TemplateSet {
	s := &TemplateSet{templates: make(map[Role]*Template)}
	for _, t := range templates {
		s.templates[t.Role] = t
	}
	return s
}

// LoadTemplateSet loads every known template from dir. A missing required
// template is fatal; missing optional ones are skipped.
func LoadTemplateSet(dir string, threshold float64) (*TemplateSet, error) {
	s := &TemplateSet{templates: make(map[Role]*Template)}

	for _, role := range Roles() {
		path := filepath.Join(dir, assetFiles[role])
		if _, err := os.Stat(path); err != nil {
			if Required(role) {
				s.Close()
				return nil, fmt.Errorf("%w: %s (%s)", ErrMissingTemplate, role, path)
			}
			continue
		}

		t, err := LoadTemplate(role, path, threshold)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.templates[role] = t
	}
	return s, nil
}

// Roles returns every known role in a stable order.
func Roles() []Role {
	roles := make([]Role, 0, len(assetFiles))
	for r := range assetFiles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Get returns the template for a role, or nil if it was not loaded.
func (s *TemplateSet) Get(r Role) *Template {
	return s.templates[r]
}

// Has reports whether a role was loaded.
func (s *TemplateSet) Has(r Role) bool {
	_, ok := s.templates[r]
	return ok
}

// Close releases every template.
func (s *TemplateSet) Close() {
	for _, t := range s.templates {
		t.Close()
	}
	s.templates = map[Role]*Template{}
}
