package ocr

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

var (
	// ErrDigitCountMismatch is returned when the confirmed digits do not line
	// up one-to-one with the segmented glyphs.
	ErrDigitCountMismatch = errors.New("digit count does not match segmented glyphs")
	// ErrInvalidDigits is returned for an empty or non-numeric correction.
	ErrInvalidDigits = errors.New("correction must be a non-empty string of digits")
)

// Correct stores each segmented glyph of roi as a new exemplar under the
// matching character of truth. Nothing is written if the counts differ.
func (r *Recognizer) Correct(roi gocv.Mat, truth string, store *ExemplarStore) ([]string, error) {
	if truth == "" {
		return nil, ErrInvalidDigits
	}
	for _, ch := range truth {
		if ch < '0' || ch > '9' {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDigits, truth)
		}
	}

	boxes, thresh := r.Segment(roi)
	defer thresh.Close()

	if len(boxes) != len(truth) {
		return nil, fmt.Errorf("%w: found %d glyphs, got %d digits", ErrDigitCountMismatch, len(boxes), len(truth))
	}

	paths := make([]string, 0, len(boxes))
	for i, box := range boxes {
		crop := r.CropGlyph(thresh, box)
		path, err := store.Append(int(truth[i]-'0'), crop)
		crop.Close()
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
