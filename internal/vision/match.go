package vision

import (
	"image"
	"math"

	"fitcats-env/pkg/geometry"

	"gocv.io/x/gocv"
)

// Match is the best location of a template inside an image.
type Match struct {
	Score float64
	Loc   image.Point
	Size  image.Point
}

// Rect returns the matched region in image coordinates.
func (m Match) Rect() geometry.RectInt {
	return geometry.RectInt{X: m.Loc.X, Y: m.Loc.Y, Width: m.Size.X, Height: m.Size.Y}
}

// Center returns the center of the matched region in image coordinates.
func (m Match) Center() geometry.PointInt {
	return m.Rect().Center()
}

// Accepted reports whether the score strictly exceeds threshold.
func (m Match) Accepted(threshold float64) bool {
	return m.Score > threshold
}

// Correlate returns the best TM_CCOEFF_NORMED score of tmpl within img. A
// template larger than the image, or an undefined correlation on a flat
// patch, scores zero.
func Correlate(img, tmpl gocv.Mat) Match {
	m := Match{Size: image.Pt(tmpl.Cols(), tmpl.Rows())}
	if img.Empty() || tmpl.Empty() || tmpl.Cols() > img.Cols() || tmpl.Rows() > img.Rows() {
		return m
	}

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	gocv.MatchTemplate(img, tmpl, &result, gocv.TmCcoeffNormed, mask)
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)

	score := float64(maxVal)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		score = 0
	}
	m.Score = score
	m.Loc = maxLoc
	return m
}

// Find matches a template and reports whether it was accepted.
func Find(img gocv.Mat, t *Template) (Match, bool) {
	if t == nil {
		return Match{}, false
	}
	m := Correlate(img, t.Mat)
	return m, m.Accepted(t.Threshold)
}
