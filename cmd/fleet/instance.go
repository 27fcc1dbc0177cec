package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"fitcats-env/internal/wait"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	cp "github.com/otiai10/copy"
)

// GameURL is the page the browser opens on every display.
const GameURL = "https://www.newgrounds.com/portal/view/913713"

// sharedDirs are linked into every workdir instead of copied, so corrections
// made by one instance are seen by all of them.
var sharedDirs = []string{"digit_templates"}

// Options configures the fleet.
type Options struct {
	Instances   int
	DisplayBase int
	Screen      string
	AssetsDir   string
	WorkDir     string
	Browser     string
	Fitcats     string
	URL         string
	BasePort    int
	Host        string

	XSettle       time.Duration
	BrowserSettle time.Duration
}

// Instance is one nested X display running a browser and an environment
// server.
type Instance struct {
	ID      int
	Display string
	Addr    string
	Dir     string

	opts   Options
	logger *slog.Logger
}

func newInstance(id int, runDir string, opts Options, logger *slog.Logger) *Instance {
	display := fmt.Sprintf(":%d", opts.DisplayBase+id)
	return &Instance{
		ID:      id,
		Display: display,
		Addr:    fmt.Sprintf("%s:%d", opts.Host, opts.BasePort+id-1),
		Dir:     filepath.Join(runDir, fmt.Sprintf("instance-%d", id)),
		opts:    opts,
		logger:  logger.With(slog.Int("instance", id), slog.String("display", display)),
	}
}

// Run starts the display, window manager, browser and server, and blocks
// until the server exits or ctx is cancelled.
func (in *Instance) Run(ctx context.Context) error {
	if err := prepareWorkdir(in.opts.AssetsDir, in.Dir, in.opts.WorkDir); err != nil {
		return fmt.Errorf("instance %d: %w", in.ID, err)
	}

	in.logger.Info("Starting Xephyr", slog.String("screen", in.opts.Screen))
	xephyr := exec.CommandContext(ctx, "Xephyr", in.Display, "-ac", "-screen", in.opts.Screen,
		"-title", fmt.Sprintf("FitCats Agent %d", in.ID))
	if err := xephyr.Start(); err != nil {
		return fmt.Errorf("instance %d: failed to start Xephyr: %w", in.ID, err)
	}
	defer stopProcess(xephyr)
	if err := wait.Sleep(ctx, in.opts.XSettle); err != nil {
		return err
	}

	in.logger.Info("Starting fluxbox")
	wm := exec.CommandContext(ctx, "fluxbox")
	wm.Env = in.env()
	if err := wm.Start(); err != nil {
		return fmt.Errorf("instance %d: failed to start fluxbox: %w", in.ID, err)
	}
	defer stopProcess(wm)
	if err := wait.Sleep(ctx, time.Second); err != nil {
		return err
	}

	cleanup, err := in.openBrowser(ctx)
	if err != nil {
		return fmt.Errorf("instance %d: %w", in.ID, err)
	}
	defer cleanup()

	in.logger.Info("Waiting for the game to load", slog.Duration("settle", in.opts.BrowserSettle))
	if err := wait.Sleep(ctx, in.opts.BrowserSettle); err != nil {
		return err
	}

	in.logger.Info("Starting environment server", slog.String("addr", in.Addr))
	serve := exec.CommandContext(ctx, in.opts.Fitcats, serveArgs(in.Addr)...)
	serve.Dir = in.Dir
	serve.Env = in.env()
	serve.Stdout = os.Stdout
	serve.Stderr = os.Stderr
	serve.Cancel = func() error { return serve.Process.Signal(os.Interrupt) }
	serve.WaitDelay = 10 * time.Second
	if err := serve.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("instance %d: server exited: %w", in.ID, err)
	}
	return nil
}

// openBrowser launches a headful browser on the instance display with its
// own profile and opens the game page.
func (in *Instance) openBrowser(ctx context.Context) (func(), error) {
	profile := filepath.Join(in.Dir, "browser-profile")
	if err := os.MkdirAll(profile, 0755); err != nil {
		return nil, err
	}

	l := launcher.New().
		Context(ctx).
		Headless(false).
		UserDataDir(profile).
		NoSandbox(true).
		Set("no-first-run").
		Set("start-maximized").
		Env(in.env()...)
	if in.opts.Browser != "" {
		l = l.Bin(in.opts.Browser)
	}

	in.logger.Info("Launching browser", slog.String("url", in.opts.URL))
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	cleanup := func() {
		_ = browser.Close()
		l.Cleanup()
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: in.opts.URL})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to open game page: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		in.logger.Warn("Game page did not finish loading", slog.Any("error", err))
	}
	return cleanup, nil
}

func (in *Instance) env() []string {
	env := make([]string, 0, len(os.Environ())+1)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "DISPLAY=") {
			env = append(env, kv)
		}
	}
	return append(env, "DISPLAY="+in.Display)
}

func serveArgs(addr string) []string {
	return []string{"serve", "--addr", addr}
}

// prepareWorkdir copies the asset directory into dir and links the shared
// directories back to the originals. Paths under exclude are not copied.
func prepareWorkdir(assets, dir string, exclude ...string) error {
	src, err := filepath.Abs(assets)
	if err != nil {
		return err
	}
	excluded := make(map[string]bool)
	for _, e := range append(exclude, dir) {
		if abs, err := filepath.Abs(e); err == nil {
			excluded[abs] = true
		}
	}

	err = cp.Copy(src, dir, cp.Options{
		Skip: func(info os.FileInfo, path, _ string) (bool, error) {
			if excluded[path] {
				return true, nil
			}
			return skipAsset(src, path, info), nil
		},
	})
	if err != nil {
		return fmt.Errorf("error copying assets: %w", err)
	}

	for _, name := range sharedDirs {
		shared := filepath.Join(src, name)
		if _, err := os.Stat(shared); err != nil {
			continue
		}
		link := filepath.Join(dir, name)
		if _, err := os.Lstat(link); err == nil {
			continue
		}
		if err := os.Symlink(shared, link); err != nil {
			return fmt.Errorf("error linking %s: %w", name, err)
		}
	}
	return nil
}

// skipAsset leaves out shared directories, per-run artifacts and anything a
// previous run wrote.
func skipAsset(root, path string, info os.FileInfo) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	first := strings.Split(rel, string(filepath.Separator))[0]
	for _, name := range sharedDirs {
		if first == name {
			return true
		}
	}
	if info.IsDir() {
		return first == "browser-profile"
	}
	name := info.Name()
	return strings.HasPrefix(name, "highscore_") || filepath.Ext(name) == ".db"
}

func stopProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
	}
}
