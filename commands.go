package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"fitcats-env/internal/calibration"
	"fitcats-env/internal/capture"
	"fitcats-env/internal/config"
	"fitcats-env/internal/env"
	"fitcats-env/internal/input"
	"fitcats-env/internal/locate"
	"fitcats-env/internal/ocr"
	"fitcats-env/internal/server"
	"fitcats-env/internal/store"
	"fitcats-env/internal/vision"

	"github.com/spf13/cobra"
)

func serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Locate the game and serve the environment over a websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rec, closeRec, err := openEpisodeLog(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeRec()

			e, err := openEnv(ctx, cfg, rec, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			return server.New(e, logger).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8765", "listen address")
	return cmd
}

func playCommand() *cobra.Command {
	var (
		episodes int
		seed     uint64
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play episodes with a uniformly random agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger()
			out := cmd.OutOrStdout()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rec, closeRec, err := openEpisodeLog(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeRec()

			e, err := openEnv(ctx, cfg, rec, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
			for ep := 0; ep < episodes; ep++ {
				_, info, err := e.Reset(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Episode %d (%s) started at score %d\n", ep+1, info.EpisodeID, info.Score)

				for {
					action := input.Command{XNorm: r.Float64()*2 - 1, Trigger: r.Float64()*2 - 1}
					res, err := e.Step(ctx, action)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "  step %4d  x=%+.2f click=%-5v reward=%+9.3f score=%d\n",
						res.Info.Step, action.XNorm, res.Info.DidClick, res.Reward, res.Info.Score)
					if res.Terminated || res.Truncated {
						ec := e.Context()
						fmt.Fprintf(out, "Episode %d done: return %.3f, session high %d\n", ep+1, ec.Return, ec.SessionHighScore)
						break
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&episodes, "episodes", "n", 1, "number of episodes")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	return cmd
}

func locateCommand() *cobra.Command {
	var savePath string
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Find the game window and print its bounds",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			profile, err := calibration.Load(cfg.CalibrationPath)
			if err != nil {
				return err
			}
			templates, err := vision.LoadTemplateSet(cfg.TemplatesDir, cfg.Thresholds.Structural)
			if err != nil {
				return err
			}
			defer templates.Close()

			g := capture.NewScreenGrabber()
			defer g.Close()
			window, err := locate.New(g, templates, input.RobotPointer{}, profile,
				locate.OptionsFromConfig(cfg.Timing), logger).Locate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Window: %s\n", window)

			if savePath != "" {
				frame, err := g.Grab(window.Rect())
				if err != nil {
					return err
				}
				defer frame.Close()
				if err := capture.SaveFrame(savePath, frame.Mat); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved window to %s\n", savePath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&savePath, "save", "", "write the located window to this image file")
	return cmd
}

func validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the calibration, templates and exemplars without touching the screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			profile, err := calibration.Load(cfg.CalibrationPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Calibration: window %dx%d, clicks x in [%d, %d]\n",
				profile.GameWidth, profile.GameHeight, profile.ClickXMinRel, profile.ClickXMaxRel)
			fmt.Fprintf(out, "  score %s  board %s  next %s\n", profile.Score(), profile.AgentView(), profile.NextPiece())

			templates, err := vision.LoadTemplateSet(cfg.TemplatesDir, cfg.Thresholds.Structural)
			if err != nil {
				return err
			}
			defer templates.Close()
			for _, role := range vision.Roles() {
				status := "missing"
				if t := templates.Get(role); t != nil {
					w, h := t.Size()
					status = fmt.Sprintf("%dx%d", w, h)
				}
				fmt.Fprintf(out, "Template %-12s %s\n", role, status)
			}

			counts, err := ocr.NewExemplarStore(cfg.ExemplarsDir, newLogger()).Tally()
			if err != nil {
				return err
			}
			for d := 0; d <= 9; d++ {
				fmt.Fprintf(out, "Exemplars %d: %d\n", d, counts[d])
			}
			return nil
		},
	}
}

func statsCommand() *cobra.Command {
	var (
		limit int
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize recorded episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.EpisodesDB == "" {
				return fmt.Errorf("episodes_db is not set in %s", flags.configPath)
			}

			log := store.NewEpisodeLog(cfg.EpisodesDB)
			if err := log.Init(ctx); err != nil {
				return err
			}
			defer log.Close()

			d := display()
			if all {
				d = ""
			}
			st, err := log.Summarize(ctx, d, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Episodes:     %d\n", st.Episodes)
			fmt.Fprintf(out, "Return:       %.3f ± %.3f\n", st.MeanReturn, st.StdDevReturn)
			fmt.Fprintf(out, "Mean score:   %.1f\n", st.MeanScore)
			fmt.Fprintf(out, "Median steps: %.0f\n", st.MedianSteps)
			fmt.Fprintf(out, "Best score:   %d\n", st.BestScore)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "number of recent episodes")
	cmd.Flags().BoolVar(&all, "all", false, "include every display")
	return cmd
}

// openEpisodeLog opens the episode database if one is configured. The
// returned recorder is nil otherwise.
func openEpisodeLog(ctx context.Context, cfg *config.Config) (env.Recorder, func(), error) {
	if cfg.EpisodesDB == "" {
		return nil, func() {}, nil
	}
	log := store.NewEpisodeLog(cfg.EpisodesDB)
	if err := log.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to open episode log: %w", err)
	}
	return log, func() { _ = log.Close() }, nil
}

func openEnv(ctx context.Context, cfg *config.Config, rec env.Recorder, logger *slog.Logger) (*env.Env, error) {
	hw := env.Hardware{
		Grabber: capture.NewScreenGrabber(),
		Pointer: input.RobotPointer{},
	}
	return env.Open(ctx, cfg, hw, rec, display(), logger)
}
