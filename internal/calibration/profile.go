// Package calibration loads and validates the calibration profile produced by
// the external setup tool.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"fitcats-env/pkg/geometry"
)

// DefaultFile is the file name written by the setup tool.
const DefaultFile = "calibration_data.json"

// ErrInvalidProfile is returned when a profile violates its invariants.
var ErrInvalidProfile = errors.New("invalid calibration profile")

// Profile describes the game window and the regions of interest inside it.
// All ROIs are relative to the located window's top-left corner.
type Profile struct {
	GameWidth    int `json:"game_width"`
	GameHeight   int `json:"game_height"`
	ClickXMinRel int `json:"click_x_min_rel"`
	ClickXMaxRel int `json:"click_x_max_rel"`

	ScoreROI     *geometry.RectInt `json:"score_roi"`
	AgentViewROI *geometry.RectInt `json:"agent_view_roi"`
	NextCatROI   *geometry.RectInt `json:"next_cat_roi"`
}

// Load reads and validates a profile. A missing or malformed file is an error
// the caller is expected to treat as fatal.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration %s: %w", path, err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse calibration %s: %w", path, err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("calibration %s: %w", path, err)
	}
	return &p, nil
}

// Save writes the profile as indented JSON.
func (p *Profile) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks that the window has positive size, the click span is
// ordered and inside the window, and every ROI lies within the window.
func (p *Profile) Validate() error {
	if p.GameWidth <= 0 || p.GameHeight <= 0 {
		return fmt.Errorf("%w: window size %dx%d", ErrInvalidProfile, p.GameWidth, p.GameHeight)
	}
	if p.ClickXMinRel < 0 || p.ClickXMaxRel > p.GameWidth || p.ClickXMinRel >= p.ClickXMaxRel {
		return fmt.Errorf("%w: click span [%d, %d] outside window width %d",
			ErrInvalidProfile, p.ClickXMinRel, p.ClickXMaxRel, p.GameWidth)
	}

	for _, roi := range p.namedROIs() {
		if roi.rect == nil {
			return fmt.Errorf("%w: %s missing", ErrInvalidProfile, roi.name)
		}
		if !roi.rect.Within(p.GameWidth, p.GameHeight) {
			return fmt.Errorf("%w: %s %s outside window %dx%d",
				ErrInvalidProfile, roi.name, roi.rect, p.GameWidth, p.GameHeight)
		}
	}
	return nil
}

// Score returns the score ROI.
func (p *Profile) Score() geometry.RectInt { return *p.ScoreROI }

// AgentView returns the board ROI shown to the agent.
func (p *Profile) AgentView() geometry.RectInt { return *p.AgentViewROI }

// NextPiece returns the ROI of the next-piece preview box.
func (p *Profile) NextPiece() geometry.RectInt { return *p.NextCatROI }

// WindowAt returns the absolute window region given the located top-left corner.
func (p *Profile) WindowAt(left, top int) geometry.RectInt {
	return geometry.RectInt{X: left, Y: top, Width: p.GameWidth, Height: p.GameHeight}
}

type namedROI struct {
	name string
	rect *geometry.RectInt
}

func (p *Profile) namedROIs() []namedROI {
	return []namedROI{
		{"score_roi", p.ScoreROI},
		{"agent_view_roi", p.AgentViewROI},
		{"next_cat_roi", p.NextCatROI},
	}
}
