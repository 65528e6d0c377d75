package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/psurma/claudit/internal/app"
	"github.com/psurma/claudit/internal/config"
	"github.com/psurma/claudit/internal/update"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags config.Flags

	root := &cobra.Command{
		Use:          "claudit",
		Short:        "Claude usage and cost tracker for the menu bar",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	root.PersistentFlags().IntVar(&flags.Port, "port", 0, "HTTP API port (default 9312)")
	root.PersistentFlags().StringVar(&flags.Host, "host", "", "HTTP API bind address (default 127.0.0.1)")
	root.PersistentFlags().StringVar(&flags.DataDir, "data-dir", "", "Directory for the database, history and logs")
	root.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "Run in foreground and log to stdout")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the background service (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	usage := &cobra.Command{
		Use:   "usage",
		Short: "Fetch usage and costs once and print them as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app.App) error {
				return printJSON(cmd.OutOrStdout(), a.Data(cmd.Context()))
			})
		},
	}

	costs := &cobra.Command{
		Use:   "costs",
		Short: "Print today/week/month spend as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app.App) error {
				return printJSON(cmd.OutOrStdout(), a.CostsOnly(cmd.Context()))
			})
		},
	}

	history := &cobra.Command{
		Use:   "history",
		Short: "Print stored usage snapshots as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(a *app.App) error {
				return printJSON(cmd.OutOrStdout(), a.History.Load())
			})
		},
	}

	var apply bool
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Check for a newer release",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd.Context(), cmd.OutOrStdout(), apply)
		},
	}
	updateCmd.Flags().BoolVar(&apply, "apply", false, "Download and install the latest release")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags)
			if err != nil {
				return err
			}
			return runStop(cfg.Port)
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether an instance is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags)
			if err != nil {
				return err
			}
			return runStatus(cfg)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "claudit v%s\n", version)
		},
	}

	root.AddCommand(serve, usage, costs, history, updateCmd, stop, status, versionCmd)
	return root
}

func runServe(ctx context.Context, flags config.Flags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	isDaemonChild := os.Getenv(daemonEnv) == "1"

	// the daemon child was started by a parent that already did this
	if !isDaemonChild {
		stopPreviousInstance(cfg.Port)
	}

	if !cfg.DebugMode && !isDaemonChild {
		printBanner(os.Stdout, cfg)
		return daemonize(cfg)
	}

	if cfg.DebugMode {
		if err := writePIDFile(os.Getpid(), cfg.Port); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not write PID file: %v\n", err)
		}
	}
	defer removePIDFile()

	logWriter, err := cfg.LogWriter()
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer func() {
		if closer, ok := logWriter.(io.Closer); ok && !cfg.DebugMode {
			closer.Close()
		}
	}()

	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if cfg.DebugMode {
		printBanner(os.Stdout, cfg)
	}

	// GOMEMLIMIT makes the runtime return freed pages so RSS stays small for a
	// process that is idle most of the time.
	debug.SetMemoryLimit(40 * 1024 * 1024)
	debug.SetGCPercent(50)

	a, err := app.New(cfg, version, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting claudit", "version", version, "addr", ln.Addr().String(), "data_dir", cfg.DataDir)
	if err := a.Serve(ctx, ln); err != nil {
		logger.Error("Service stopped with error", "error", err)
		return err
	}
	logger.Info("claudit stopped")
	return nil
}

// withApp builds an App for a one-shot command. Logs go to the data dir
// unless --debug is set.
func withApp(flags config.Flags, fn func(*app.App) error) error {
	cfg, err := config.Load(flags)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.DebugMode {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		}))
	}

	a, err := app.New(cfg, version, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func runUpdate(ctx context.Context, out io.Writer, apply bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	u := update.NewUpdater(version, slog.New(slog.NewTextHandler(os.Stderr, nil)))

	info, err := u.Check(ctx)
	if err != nil {
		return fmt.Errorf("update check failed: %w", err)
	}
	if !info.UpdateAvailable {
		fmt.Fprintf(out, "claudit v%s is up to date (latest: %s)\n", info.CurrentVersion, info.LatestVersion)
		return nil
	}

	fmt.Fprintf(out, "Update available: v%s -> %s\n", info.CurrentVersion, info.LatestVersion)
	fmt.Fprintf(out, "Release: %s\n", info.ReleaseURL)
	if !apply {
		fmt.Fprintln(out, "Run 'claudit update --apply' to install it.")
		return nil
	}

	if err := u.Apply(ctx); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	fmt.Fprintf(out, "Updated to %s. Restart claudit to use the new version.\n", info.LatestVersion)
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════╗")
	fmt.Fprintf(w, "║  claudit v%-26s ║\n", version)
	fmt.Fprintln(w, "╠══════════════════════════════════════╣")
	fmt.Fprintf(w, "║  API:       %-24s ║\n", "http://"+cfg.Addr())
	fmt.Fprintf(w, "║  Reminder:  %-24s ║\n", cfg.NotifySchedule)
	fmt.Fprintf(w, "║  Data:      %-24s ║\n", cfg.DataDir)
	fmt.Fprintln(w, "╚══════════════════════════════════════╝")
	fmt.Fprintln(w)
}
