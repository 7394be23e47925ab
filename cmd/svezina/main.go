package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/erazemk/svezina/internal/config"
)

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// setupLogger configures structured logging. INFO/WARN go to stdout, ERROR goes
// to stderr. If logPath is non-empty, all levels are also written to that file.
// Returns a cleanup function that closes the log file (if opened).
func setupLogger(stdout, stderr io.Writer, logPath string) (func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	cleanup := func() {}

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdout = io.MultiWriter(stdout, f)
		stderr = io.MultiWriter(stderr, f)
	}

	handler := &levelRouter{
		stdout: slog.NewTextHandler(stdout, opts),
		stderr: slog.NewTextHandler(stderr, opts),
	}
	slog.SetDefault(slog.New(handler))
	return cleanup, nil
}

// newRootCmd builds the command tree. Flags override values loaded from the
// environment.
func newRootCmd() *cobra.Command {
	var (
		cfg      *config.Config
		closeLog func()
		dbPath   string
		addr     string
		logPath  string
	)

	root := &cobra.Command{
		Use:   "svezina",
		Short: "Track perishable items and get told before they expire.",
		Long: `svezina keeps an inventory of perishable items and schedules a reminder
the day before each item expires and an alert when it has expired.

Settings are read from SVEZINA_* environment variables; flags override them.`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			flags := cmd.Flags()
			if flags.Changed("db") {
				loaded.DBPath = dbPath
			}
			if flags.Changed("addr") {
				loaded.Addr = addr
			}
			if flags.Changed("log") {
				loaded.LogPath = logPath
			}

			closeLog, err = setupLogger(cmd.OutOrStdout(), cmd.ErrOrStderr(), loaded.LogPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if closeLog != nil {
				closeLog()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&dbPath, "db", "d", "svezina.sqlite3", "SQLite database path")
	pf.StringVarP(&addr, "addr", "a", ":8080", "listen address")
	pf.StringVarP(&logPath, "log", "l", "", "log file path (default: stdout/stderr only)")

	getCfg := func() *config.Config { return cfg }
	root.AddCommand(
		newServeCmd(getCfg),
		newUserCmd(getCfg),
		newRescheduleCmd(getCfg),
		newClearCmd(getCfg),
	)
	root.SetHelpTemplate(root.HelpTemplate() + "\nEnvironment:\n" + config.Usage() + "\n")
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
