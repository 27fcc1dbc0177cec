package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"fitcats-env/internal/calibration"
	"fitcats-env/internal/capture"
	"fitcats-env/internal/input"
	"fitcats-env/internal/locate"
	"fitcats-env/internal/ocr"
	"fitcats-env/internal/vision"

	"github.com/gosuri/uilive"
	"github.com/spf13/cobra"
	"gocv.io/x/gocv"
)

func exemplarsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exemplars",
		Short: "Inspect and extend the digit exemplar library",
	}
	cmd.AddCommand(
		exemplarsTallyCommand(),
		exemplarsCorrectCommand(),
	)
	return cmd
}

func exemplarsTallyCommand() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tally",
		Short: "Show how many exemplars each digit has",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st := ocr.NewExemplarStore(cfg.ExemplarsDir, newLogger())

			if !watch {
				counts, err := st.Tally()
				if err != nil {
					return err
				}
				writeTally(cmd.OutOrStdout(), st.Dir(), counts)
				return nil
			}

			// Redraw in place while other instances append corrections.
			w := uilive.New()
			w.Out = cmd.OutOrStdout()
			w.Start()
			defer w.Stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				counts, err := st.Tally()
				if err != nil {
					return err
				}
				writeTally(w, st.Dir(), counts)
				_ = w.Flush()

				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep refreshing the tally")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "refresh interval with --watch")
	return cmd
}

func writeTally(w io.Writer, dir string, counts map[int]int) {
	total := 0
	fmt.Fprintf(w, "Exemplars in %s\n", dir)
	for d := 0; d <= 9; d++ {
		n := counts[d]
		total += n
		fmt.Fprintf(w, "  %d: %4d %s\n", d, n, strings.Repeat("#", min(n, 40)))
	}
	fmt.Fprintf(w, "  total: %d\n", total)
}

func exemplarsCorrectCommand() *cobra.Command {
	var imagePath string
	cmd := &cobra.Command{
		Use:   "correct <digits>",
		Short: "Store the glyphs of the current score as exemplars for the given digits",
		Long:  "Segments the score region of a window image, or of the live game window, and files each glyph under the matching digit.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			out := cmd.OutOrStdout()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			profile, err := calibration.Load(cfg.CalibrationPath)
			if err != nil {
				return err
			}

			var window gocv.Mat
			if imagePath != "" {
				window = gocv.IMRead(imagePath, gocv.IMReadColor)
				if window.Empty() {
					return fmt.Errorf("failed to read %s", imagePath)
				}
			} else {
				templates, err := vision.LoadTemplateSet(cfg.TemplatesDir, cfg.Thresholds.Structural)
				if err != nil {
					return err
				}
				defer templates.Close()

				g := capture.NewScreenGrabber()
				rect, err := locate.New(g, templates, input.RobotPointer{}, profile,
					locate.OptionsFromConfig(cfg.Timing), logger).Locate(cmd.Context())
				if err != nil {
					return err
				}
				frame, err := g.Grab(rect.Rect())
				if err != nil {
					return err
				}
				window = frame.Mat
			}
			defer window.Close()

			st := ocr.NewExemplarStore(cfg.ExemplarsDir, logger)
			defer st.Close()
			rec := ocr.NewRecognizer(ocr.ParamsFromConfig(cfg.Thresholds))
			reader := ocr.NewReader(st, rec, profile.Score())

			before, err := reader.ReadScore(window)
			if err != nil {
				return err
			}
			if v, ok := before.Value(); ok {
				fmt.Fprintf(out, "Current reading: %d\n", v)
			} else {
				fmt.Fprintf(out, "Current reading: unreadable (%s)\n", before.Digits)
			}

			roi, err := reader.Crop(window)
			if err != nil {
				return err
			}
			defer roi.Close()

			paths, err := rec.Correct(roi, args[0], st)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintf(out, "  wrote %s\n", p)
			}
			fmt.Fprintf(out, "Stored %d exemplars\n", len(paths))
			return nil
		},
	}
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "window image to read instead of the screen")
	return cmd
}
