package ocr

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// ExemplarStore owns the on-disk exemplar directory and the set loaded from
// it. The set is reloaded whenever a digit directory changes.
type ExemplarStore struct {
	dir    string
	logger *slog.Logger

	mu          sync.Mutex
	set         *ExemplarSet
	fingerprint string
}

// NewExemplarStore creates a store rooted at dir. Nothing is read until
// Current is called.
func NewExemplarStore(dir string, logger *slog.Logger) *ExemplarStore {
	return &ExemplarStore{dir: dir, logger: logger}
}

// Dir returns the root directory.
func (s *ExemplarStore) Dir() string { return s.dir }

// Current returns the exemplar set, reloading it first if the directory
// changed since the last call. The returned set stays valid until the next
// call to Current or Close.
func (s *ExemplarStore) Current() (*ExemplarSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp, err := s.scan()
	if err != nil {
		return nil, err
	}
	if s.set != nil && fp == s.fingerprint {
		return s.set, nil
	}

	set, err := LoadExemplarDir(s.dir)
	if err != nil {
		return nil, err
	}
	if s.set != nil {
		s.set.Close()
		s.logger.Info("Reloaded digit exemplars", slog.Int("total", set.Total()))
	}
	s.set = set
	s.fingerprint = fp
	return set, nil
}

// Append writes glyph as the next numbered exemplar for digit and returns its
// path. The glyph is not retained.
func (s *ExemplarStore) Append(digit int, glyph gocv.Mat) (string, error) {
	if digit < 0 || digit > 9 {
		return "", fmt.Errorf("invalid digit label %d", digit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	digitPath := filepath.Join(s.dir, strconv.Itoa(digit))
	if err := os.MkdirAll(digitPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", digitPath, err)
	}

	entries, err := os.ReadDir(digitPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", digitPath, err)
	}

	n := len(entries)
	path := filepath.Join(digitPath, fmt.Sprintf("%d.png", n))
	for fileExists(path) {
		n++
		path = filepath.Join(digitPath, fmt.Sprintf("%d.png", n))
	}

	if !gocv.IMWrite(path, glyph) {
		return "", fmt.Errorf("failed to write exemplar %s", path)
	}
	return path, nil
}

// Tally returns the exemplar count per digit directory on disk.
func (s *ExemplarStore) Tally() (map[int]int, error) {
	counts := make(map[int]int)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return counts, nil
		}
		return nil, fmt.Errorf("failed to read exemplar dir: %w", err)
	}

	for _, e := range entries {
		digit, ok := digitDir(e)
		if !ok {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if !f.IsDir() {
				counts[digit]++
			}
		}
	}
	return counts, nil
}

// Close releases the loaded set.
func (s *ExemplarStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set != nil {
		s.set.Close()
		s.set = nil
	}
	s.fingerprint = ""
}

// scan builds a fingerprint from each digit directory's modification time
// and entry count.
func (s *ExemplarStore) scan() (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "missing", nil
		}
		return "", fmt.Errorf("failed to scan exemplar dir: %w", err)
	}

	var b strings.Builder
	for _, e := range entries {
		if _, ok := digitDir(e); !ok {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		files, err := os.ReadDir(path)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%s:%d:%d;", e.Name(), info.ModTime().UnixNano(), len(files))
	}
	return b.String(), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
