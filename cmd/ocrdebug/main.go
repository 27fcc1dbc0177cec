// Command ocrdebug compares the exemplar score reader against Tesseract on
// recorded window images.
//
// Usage: ocrdebug <window.png | recordings-dir> [options]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fitcats-env/internal/calibration"
	"fitcats-env/internal/capture"
	"fitcats-env/internal/config"
	"fitcats-env/internal/ocr"

	"gocv.io/x/gocv"
)

// Result holds both readings of one recording.
type Result struct {
	Path          string        `json:"path"`
	Exemplar      string        `json:"exemplar"`
	ExemplarValid bool          `json:"exemplar_valid"`
	Glyphs        int           `json:"glyphs"`
	MinScore      float64       `json:"min_glyph_score"`
	Tesseract     string        `json:"tesseract"`
	Truth         string        `json:"truth,omitempty"`
	ExemplarTime  time.Duration `json:"exemplar_ns"`
	TesseractTime time.Duration `json:"tesseract_ns"`
}

var (
	flagConfig     = flag.String("config", config.DefaultFile, "Run configuration file")
	flagTruth      = flag.String("truth", "", "Expected digits for every recording")
	flagNoTess     = flag.Bool("no-tesseract", false, "Skip the Tesseract comparison")
	flagOutputJSON = flag.String("json", "", "Output results to JSON file")
	flagDebugDir   = flag.String("debug-dir", "", "Save annotated score crops to this directory")
	flagVerbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s <window.png | recordings-dir> [options]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	profile, err := calibration.Load(cfg.CalibrationPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading calibration: %v\n", err)
		os.Exit(1)
	}

	frames, closeFrames, err := openRecordings(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening recordings: %v\n", err)
		os.Exit(1)
	}
	defer closeFrames()

	st := ocr.NewExemplarStore(cfg.ExemplarsDir, slog.Default())
	defer st.Close()
	set, err := st.Current()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading exemplars: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d exemplars for digits %v from %s\n", set.Total(), set.Labels(), st.Dir())

	recognizer := ocr.NewRecognizer(ocr.ParamsFromConfig(cfg.Thresholds))
	reader := ocr.NewReader(st, recognizer, profile.Score())

	var engine *ocr.Engine
	if !*flagNoTess {
		engine, err = ocr.NewEngine()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Tesseract unavailable: %v\n", err)
		} else {
			defer engine.Close()
		}
	}

	if *flagDebugDir != "" {
		if err := os.MkdirAll(*flagDebugDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating debug dir: %v\n", err)
			os.Exit(1)
		}
	}

	var results []Result
	for _, rf := range frames {
		window, err := rf.load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", rf.path, err)
			continue
		}
		res, err := examine(rf.path, window, reader, recognizer, engine)
		window.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", rf.path, err)
			continue
		}
		results = append(results, res)

		fmt.Printf("%-40s exemplar=%-8s tesseract=%-8s", filepath.Base(res.Path), display(res.Exemplar, res.ExemplarValid), res.Tesseract)
		if *flagVerbose {
			fmt.Printf(" glyphs=%d min=%.3f (%s / %s)", res.Glyphs, res.MinScore, res.ExemplarTime, res.TesseractTime)
		}
		fmt.Println()
	}

	printSummary(results)

	if *flagOutputJSON != "" {
		if err := outputJSON(results, *flagOutputJSON); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing JSON: %v\n", err)
		} else {
			fmt.Printf("\nResults written to: %s\n", *flagOutputJSON)
		}
	}
}

type recording struct {
	path string
	load func() (gocv.Mat, error)
}

// openRecordings expands the argument into one or more window images.
func openRecordings(path string) ([]recording, func(), error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}

	if !info.IsDir() {
		load := func() (gocv.Mat, error) {
			m := gocv.IMRead(path, gocv.IMReadColor)
			if m.Empty() {
				return m, fmt.Errorf("failed to read image")
			}
			return m, nil
		}
		return []recording{{path: path, load: load}}, func() {}, nil
	}

	g, err := capture.NewDirGrabber(path)
	if err != nil {
		return nil, nil, err
	}
	// Each Grab advances the replay, so loads must run in order.
	var recs []recording
	for _, p := range g.Paths() {
		recs = append(recs, recording{path: p, load: func() (gocv.Mat, error) {
			frame, err := capture.GrabScreen(g)
			if err != nil {
				return gocv.NewMat(), err
			}
			return frame.Mat, nil
		}})
	}
	return recs, func() { _ = g.Close() }, nil
}

func examine(path string, window gocv.Mat, reader *ocr.Reader, recognizer *ocr.Recognizer, engine *ocr.Engine) (Result, error) {
	res := Result{Path: path, Truth: *flagTruth, MinScore: 1}

	start := time.Now()
	reading, err := reader.ReadScore(window)
	if err != nil {
		return res, err
	}
	res.ExemplarTime = time.Since(start)
	res.Exemplar = reading.Digits
	res.ExemplarValid = reading.Valid
	res.Glyphs = len(reading.Glyphs)
	for _, g := range reading.Glyphs {
		if g.Score < res.MinScore {
			res.MinScore = g.Score
		}
	}
	if len(reading.Glyphs) == 0 {
		res.MinScore = 0
	}

	roi, err := reader.Crop(window)
	if err != nil {
		return res, err
	}
	defer roi.Close()

	if engine != nil {
		start = time.Now()
		text, err := engine.RecognizeDigits(roi)
		res.TesseractTime = time.Since(start)
		if err != nil {
			res.Tesseract = "error"
		} else {
			res.Tesseract = text
		}
	}

	if *flagDebugDir != "" {
		saveDebugCrop(path, roi, reading, recognizer)
	}
	return res, nil
}

// saveDebugCrop writes the score crop with each glyph box and its label.
func saveDebugCrop(path string, roi gocv.Mat, reading ocr.Reading, recognizer *ocr.Recognizer) {
	boxes, thresh := recognizer.Segment(roi)
	thresh.Close()

	out := roi.Clone()
	defer out.Close()
	for i, b := range boxes {
		c := color.RGBA{G: 255, A: 255}
		label := "?"
		if i < len(reading.Glyphs) && reading.Glyphs[i].Resolved {
			label = fmt.Sprint(reading.Glyphs[i].Label)
		} else {
			c = color.RGBA{R: 255, A: 255}
		}
		gocv.Rectangle(&out, b.Rect(), c, 1)
		gocv.PutText(&out, label, image.Pt(b.X, b.Y+b.Height+12), gocv.FontHersheyPlain, 1, c, 1)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + "_score.png"
	if err := capture.SaveFrame(filepath.Join(*flagDebugDir, name), out); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func display(digits string, valid bool) string {
	if !valid {
		return "(" + digits + ")"
	}
	return digits
}

func printSummary(results []Result) {
	if len(results) == 0 {
		fmt.Println("\nNo recordings read.")
		return
	}

	var valid, agree, exemplarOK, tessOK int
	var exemplarTime, tessTime time.Duration
	for _, r := range results {
		if r.ExemplarValid {
			valid++
		}
		if r.ExemplarValid && r.Exemplar == r.Tesseract {
			agree++
		}
		if r.Truth != "" {
			if r.ExemplarValid && r.Exemplar == r.Truth {
				exemplarOK++
			}
			if r.Tesseract == r.Truth {
				tessOK++
			}
		}
		exemplarTime += r.ExemplarTime
		tessTime += r.TesseractTime
	}

	n := len(results)
	fmt.Printf("\n=== Summary (%d recordings) ===\n", n)
	fmt.Printf("Exemplar readable:   %d (%.0f%%)\n", valid, 100*float64(valid)/float64(n))
	fmt.Printf("Agree with Tesseract: %d (%.0f%%)\n", agree, 100*float64(agree)/float64(n))
	if *flagTruth != "" {
		fmt.Printf("Exemplar correct:    %d\n", exemplarOK)
		fmt.Printf("Tesseract correct:   %d\n", tessOK)
	}
	fmt.Printf("Mean time: exemplar %s, tesseract %s\n", exemplarTime/time.Duration(n), tessTime/time.Duration(n))
}

func outputJSON(results []Result, path string) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
