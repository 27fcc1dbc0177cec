package ocr

import (
	"fmt"

	"fitcats-env/pkg/geometry"

	"gocv.io/x/gocv"
)

// Reader reads the score counter from window frames using the current
// exemplar set.
type Reader struct {
	store      *ExemplarStore
	recognizer *Recognizer
	roi        geometry.RectInt
}

// NewReader binds a recognizer to the score region of the window.
func NewReader(store *ExemplarStore, r *Recognizer, roi geometry.RectInt) *Reader {
	return &Reader{store: store, recognizer: r, roi: roi}
}

// ReadScore crops the score region out of a window frame and recognizes it.
// Exemplar changes on disk are picked up before reading.
func (r *Reader) ReadScore(window gocv.Mat) (Reading, error) {
	set, err := r.store.Current()
	if err != nil {
		return Reading{}, fmt.Errorf("failed to load exemplars: %w", err)
	}

	if !r.roi.Within(window.Cols(), window.Rows()) {
		return Reading{}, fmt.Errorf("score region %s outside %dx%d frame", r.roi, window.Cols(), window.Rows())
	}
	crop := window.Region(r.roi.Rect())
	defer crop.Close()

	return r.recognizer.Recognize(crop, set), nil
}

// Crop returns a copy of the score region. The caller owns the returned Mat.
func (r *Reader) Crop(window gocv.Mat) (gocv.Mat, error) {
	if !r.roi.Within(window.Cols(), window.Rows()) {
		return gocv.NewMat(), fmt.Errorf("score region %s outside %dx%d frame", r.roi, window.Cols(), window.Rows())
	}
	region := window.Region(r.roi.Rect())
	defer region.Close()
	return region.Clone(), nil
}
