package capture

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

var replayExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// DirGrabber replays recorded screenshots from a directory in file-name order.
// Every Grab serves the next recording; after the last one the final
// recording is held.
type DirGrabber struct {
	mu     sync.Mutex
	paths  []string
	next   int
	loaded int
	screen gocv.Mat
	grabs  int
}

// NewDirGrabber lists the image files in dir.
func NewDirGrabber(dir string) (*DirGrabber, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !replayExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images in replay dir %s", dir)
	}
	sort.Strings(paths)

	return &DirGrabber{paths: paths, loaded: -1, screen: gocv.NewMat()}, nil
}

// Len returns the number of recordings.
func (g *DirGrabber) Len() int { return len(g.paths) }

// Paths returns the recordings in replay order.
func (g *DirGrabber) Paths() []string {
	return append([]string(nil), g.paths...)
}

// Screen returns the bounds of the recording the next Grab will serve.
func (g *DirGrabber) Screen() (image.Rectangle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.load(min(g.next, len(g.paths)-1)); err != nil {
		return image.Rectangle{}, err
	}
	return image.Rect(0, 0, g.screen.Cols(), g.screen.Rows()), nil
}

// Grab crops rect out of the next recording.
func (g *DirGrabber) Grab(rect image.Rectangle) (*Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.load(min(g.next, len(g.paths)-1)); err != nil {
		return nil, err
	}
	f, err := cropScreen(g.screen, rect, &g.grabs)
	if err != nil {
		return nil, err
	}
	g.next++
	return f, nil
}

// Close releases the current recording.
func (g *DirGrabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.screen.Close()
	return nil
}

func (g *DirGrabber) load(idx int) error {
	if idx == g.loaded {
		return nil
	}
	mat, err := decodeBGR(g.paths[idx])
	if err != nil {
		return err
	}
	g.screen.Close()
	g.screen = mat
	g.loaded = idx
	return nil
}

// decodeBGR reads any registered image format into a BGR Mat.
func decodeBGR(path string) (gocv.Mat, error) {
	f, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to decode %s: %w", path, err)
	}

	b := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)

	mat, err := gocv.ImageToMatRGB(rgba)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to convert %s: %w", path, err)
	}
	return mat, nil
}
