// Command fleet runs several game instances side by side, each on its own
// nested X display with a browser and an environment server.
//
// Usage: fleet [options]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	flagInstances     = flag.Int("n", 2, "Number of instances")
	flagDisplayBase   = flag.Int("display-base", 90, "Instance i uses display :<base+i>")
	flagScreen        = flag.String("screen", "1355x1200", "Xephyr screen size")
	flagAssets        = flag.String("assets", ".", "Directory with calibration, templates, exemplars and config")
	flagWorkDir       = flag.String("workdir", "fleet-runs", "Directory for per-instance working copies")
	flagBrowser       = flag.String("browser", "", "Browser binary (default: search the system)")
	flagFitcats       = flag.String("fitcats", "fitcats", "fitcats binary started in each instance")
	flagURL           = flag.String("url", GameURL, "Game page")
	flagHost          = flag.String("host", "127.0.0.1", "Listen host for environment servers")
	flagBasePort      = flag.Int("port", 8765, "Port of the first environment server")
	flagBrowserSettle = flag.Duration("browser-settle", 10*time.Second, "Wait after opening the game page")
	flagDebug         = flag.Bool("debug", false, "Debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *flagDebug {
		level = slog.LevelDebug
	}
	runID := uuid.NewString()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With(slog.String("run", runID))

	opts := Options{
		Instances:     *flagInstances,
		DisplayBase:   *flagDisplayBase,
		Screen:        *flagScreen,
		AssetsDir:     *flagAssets,
		WorkDir:       *flagWorkDir,
		Browser:       *flagBrowser,
		Fitcats:       *flagFitcats,
		URL:           *flagURL,
		BasePort:      *flagBasePort,
		Host:          *flagHost,
		XSettle:       2 * time.Second,
		BrowserSettle: *flagBrowserSettle,
	}
	if err := validate(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, runID, opts, logger); err != nil {
		logger.Error("Fleet stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Fleet stopped")
}

func validate(opts Options) error {
	if opts.Instances < 1 {
		return fmt.Errorf("need at least one instance, got %d", opts.Instances)
	}
	if opts.DisplayBase < 1 {
		return fmt.Errorf("display base must be positive, got %d", opts.DisplayBase)
	}
	if opts.BasePort < 1 || opts.BasePort+opts.Instances-1 > 65535 {
		return fmt.Errorf("ports %d..%d out of range", opts.BasePort, opts.BasePort+opts.Instances-1)
	}
	if _, err := os.Stat(opts.AssetsDir); err != nil {
		return fmt.Errorf("assets: %w", err)
	}
	return nil
}

// run supervises every instance; the first failure stops the rest.
func run(ctx context.Context, runID string, opts Options, logger *slog.Logger) error {
	runDir := filepath.Join(opts.WorkDir, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return err
	}
	logger.Info("Launching instances", slog.Int("count", opts.Instances), slog.String("dir", runDir))

	g, ctx := errgroup.WithContext(ctx)
	for i := 1; i <= opts.Instances; i++ {
		in := newInstance(i, runDir, opts, logger)
		g.Go(func() error {
			return in.Run(ctx)
		})
	}
	return g.Wait()
}
