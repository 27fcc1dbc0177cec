package env

import "math"

// Box describes a bounded tensor space.
type Box struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Shape []int   `json:"shape"`
	DType string  `json:"dtype"`
}

// Spaces describes the action and observation spaces.
type Spaces struct {
	Action      Box            `json:"action"`
	Observation map[string]Box `json:"observation"`
}

// Spaces returns the space descriptors for the configured board size.
func (e *Env) Spaces() Spaces {
	opts := e.deps.Builder.Options()
	return Spaces{
		Action: Box{Low: -1, High: 1, Shape: []int{2}, DType: "float32"},
		Observation: map[string]Box{
			"board":             {Low: 0, High: 255, Shape: []int{opts.Height, opts.Width, 3}, DType: "uint8"},
			"next_piece_size":   {Low: 0, High: 1, Shape: []int{1}, DType: "float32"},
			"time_since_action": {Low: 0, High: math.MaxFloat32, Shape: []int{1}, DType: "float32"},
		},
	}
}
