// Package ocr reads the score counter by matching segmented glyphs against a
// growing set of human-confirmed digit exemplars.
package ocr

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gocv.io/x/gocv"
)

// ExemplarSet maps each digit label to its binarized glyph images.
type ExemplarSet struct {
	glyphs map[int][]gocv.Mat
}

// NewExemplarSet returns an empty set.
func NewExemplarSet() *ExemplarSet {
	return &ExemplarSet{glyphs: make(map[int][]gocv.Mat)}
}

// Add appends a glyph under digit. The set takes ownership of glyph.
func (s *ExemplarSet) Add(digit int, glyph gocv.Mat) error {
	if digit < 0 || digit > 9 {
		glyph.Close()
		return fmt.Errorf("invalid digit label %d", digit)
	}
	s.glyphs[digit] = append(s.glyphs[digit], glyph)
	return nil
}

// Labels returns the digits that have at least one exemplar, ascending.
func (s *ExemplarSet) Labels() []int {
	labels := make([]int, 0, len(s.glyphs))
	for d, g := range s.glyphs {
		if len(g) > 0 {
			labels = append(labels, d)
		}
	}
	sort.Ints(labels)
	return labels
}

// Exemplars returns the glyphs stored for digit.
func (s *ExemplarSet) Exemplars(digit int) []gocv.Mat {
	return s.glyphs[digit]
}

// Count returns how many exemplars digit has.
func (s *ExemplarSet) Count(digit int) int {
	return len(s.glyphs[digit])
}

// Total returns the number of exemplars across all digits.
func (s *ExemplarSet) Total() int {
	n := 0
	for _, g := range s.glyphs {
		n += len(g)
	}
	return n
}

// Close releases every glyph.
func (s *ExemplarSet) Close() {
	for d, glyphs := range s.glyphs {
		for _, g := range glyphs {
			g.Close()
		}
		delete(s.glyphs, d)
	}
}

// LoadExemplarDir reads <dir>/<digit>/*.png as grayscale glyphs. A missing
// directory yields an empty set; unreadable files are skipped.
func LoadExemplarDir(dir string) (*ExemplarSet, error) {
	set := NewExemplarSet()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, fmt.Errorf("failed to read exemplar dir: %w", err)
	}

	for _, e := range entries {
		digit, ok := digitDir(e)
		if !ok {
			continue
		}

		digitPath := filepath.Join(dir, e.Name())
		files, err := os.ReadDir(digitPath)
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("failed to read %s: %w", digitPath, err)
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			glyph := gocv.IMRead(filepath.Join(digitPath, f.Name()), gocv.IMReadGrayScale)
			if glyph.Empty() {
				glyph.Close()
				continue
			}
			set.glyphs[digit] = append(set.glyphs[digit], glyph)
		}
	}
	return set, nil
}

// digitDir reports whether e is a single-digit label directory.
func digitDir(e os.DirEntry) (int, bool) {
	if !e.IsDir() || len(e.Name()) != 1 {
		return 0, false
	}
	d, err := strconv.Atoi(e.Name())
	if err != nil {
		return 0, false
	}
	return d, true
}
