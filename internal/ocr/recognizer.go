package ocr

import (
	"image"
	"sort"
	"strconv"
	"strings"

	"fitcats-env/internal/config"
	"fitcats-env/internal/vision"
	"fitcats-env/pkg/geometry"

	"gocv.io/x/gocv"
)

// Params holds the segmentation and acceptance constants.
type Params struct {
	MinWidth   int
	MinHeight  int
	Padding    int
	KernelSize int
	// MinScore is the correlation a glyph's best label must exceed.
	MinScore float64
}

// DefaultParams returns the constants the score font was tuned with.
func DefaultParams() Params {
	return Params{
		MinWidth:   5,
		MinHeight:  10,
		Padding:    5,
		KernelSize: 2,
		MinScore:   0.5,
	}
}

// ParamsFromConfig takes the glyph constants from the run configuration.
func ParamsFromConfig(t config.Thresholds) Params {
	return Params{
		MinWidth:   t.GlyphMinWidth,
		MinHeight:  t.GlyphMinHeight,
		Padding:    t.GlyphPadding,
		KernelSize: t.ErodeKernel,
		MinScore:   t.Digit,
	}
}

// Glyph is one segmented character and its best label.
type Glyph struct {
	Box      geometry.RectInt
	Label    int
	Score    float64
	Resolved bool
}

// Reading is the result of one recognition cycle.
type Reading struct {
	Digits string
	Glyphs []Glyph
	Valid  bool
}

// Value returns the numeric score, or false if the reading is invalid.
func (r Reading) Value() (int, bool) {
	if !r.Valid {
		return -1, false
	}
	v, err := strconv.Atoi(r.Digits)
	if err != nil {
		return -1, false
	}
	return v, true
}

// Recognizer segments a score crop into glyphs and labels each one.
type Recognizer struct {
	params Params
}

// NewRecognizer creates a recognizer.
func NewRecognizer(p Params) *Recognizer {
	return &Recognizer{params: p}
}

// Params returns the recognizer's constants.
func (r *Recognizer) Params() Params { return r.params }

// Segment binarizes roi and returns glyph boxes sorted left to right along
// with the un-eroded threshold image. The caller owns the returned Mat.
func (r *Recognizer) Segment(roi gocv.Mat) ([]geometry.RectInt, gocv.Mat) {
	gray := gocv.NewMat()
	defer gray.Close()
	if roi.Channels() == 1 {
		roi.CopyTo(&gray)
	} else {
		gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)
	}

	thresh := gocv.NewMat()
	gocv.Threshold(gray, &thresh, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(r.params.KernelSize, r.params.KernelSize))
	defer kernel.Close()
	eroded := gocv.NewMat()
	defer eroded.Close()
	gocv.Erode(thresh, &eroded, kernel)

	contours := gocv.FindContours(eroded, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var boxes []geometry.RectInt
	for i := 0; i < contours.Size(); i++ {
		box := geometry.FromImageRect(gocv.BoundingRect(contours.At(i)))
		if box.Width < r.params.MinWidth || box.Height < r.params.MinHeight {
			continue
		}
		boxes = append(boxes, box)
	}
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].X < boxes[j].X })

	return boxes, thresh
}

// CropGlyph cuts a box out of the threshold image with padding, clamped to
// the image. The caller owns the returned Mat.
func (r *Recognizer) CropGlyph(thresh gocv.Mat, box geometry.RectInt) gocv.Mat {
	p := r.params.Padding
	padded := geometry.RectInt{
		X:      box.X - p,
		Y:      box.Y - p,
		Width:  box.Width + 2*p,
		Height: box.Height + 2*p,
	}.Clamp(thresh.Cols(), thresh.Rows())

	region := thresh.Region(padded.Rect())
	defer region.Close()
	return region.Clone()
}

// Recognize reads the digits in roi. A glyph whose best label does not exceed
// MinScore is unresolved and makes the whole reading invalid.
func (r *Recognizer) Recognize(roi gocv.Mat, set *ExemplarSet) Reading {
	boxes, thresh := r.Segment(roi)
	defer thresh.Close()

	reading := Reading{Valid: len(boxes) > 0}
	var digits strings.Builder

	for _, box := range boxes {
		crop := r.CropGlyph(thresh, box)
		g := r.classify(crop, set)
		crop.Close()

		g.Box = box
		reading.Glyphs = append(reading.Glyphs, g)
		if !g.Resolved {
			reading.Valid = false
			continue
		}
		digits.WriteString(strconv.Itoa(g.Label))
	}

	if reading.Valid {
		reading.Digits = digits.String()
	}
	return reading
}

// classify picks the label whose best exemplar correlates highest with crop.
// Labels are visited in ascending order, so ties go to the lower digit.
func (r *Recognizer) classify(crop gocv.Mat, set *ExemplarSet) Glyph {
	g := Glyph{Label: -1}
	if set == nil {
		return g
	}

	best := r.params.MinScore
	for _, label := range set.Labels() {
		score := 0.0
		for _, ex := range set.Exemplars(label) {
			if ex.Rows() > crop.Rows() || ex.Cols() > crop.Cols() {
				continue
			}
			if m := vision.Correlate(crop, ex); m.Score > score {
				score = m.Score
			}
		}

		if score > g.Score {
			g.Score = score
		}
		if score > best {
			best = score
			g.Label = label
			g.Resolved = true
		}
	}
	return g
}
