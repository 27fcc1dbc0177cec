package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fitcats-env/internal/config"
	"fitcats-env/internal/version"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	debug      bool
}

var flags rootFlags

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "fitcats",
		Short:        "Screen-driven reinforcement learning environment for Fit Cats",
		SilenceUsage: true,
		Version:      version.String(),
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultFile, "run configuration file")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		serveCommand(),
		playCommand(),
		locateCommand(),
		validateCommand(),
		statsCommand(),
		exemplarsCommand(),
		versionCommand(),
	)
	return cmd
}

// display returns the X display this instance drives.
func display() string {
	if d := os.Getenv("DISPLAY"); d != "" {
		return d
	}
	return ":0"
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flags.debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h).With(slog.String("display", display()))
}

func loadConfig() (*config.Config, error) {
	return config.Load(flags.configPath)
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
