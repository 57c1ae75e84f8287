package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ihavespoons/codewatch/internal/config"
	"github.com/ihavespoons/codewatch/internal/digest"
	"github.com/ihavespoons/codewatch/internal/hub"
	"github.com/ihavespoons/codewatch/internal/llm"
	"github.com/ihavespoons/codewatch/internal/logger"
	"github.com/ihavespoons/codewatch/internal/match"
	"github.com/ihavespoons/codewatch/internal/server"
	"github.com/ihavespoons/codewatch/internal/store"
	"github.com/ihavespoons/codewatch/internal/watch"
)

var (
	backgroundFlag      bool
	backgroundChildFlag bool
	watchRootFlag       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recorder daemon",
	Long: `Starts the codewatch daemon: watches the working directory for file
changes, records them in the event log, serves the HTTP API, and streams
new events to live subscribers.

By default, runs in the foreground. Use --background to run detached.

Examples:
  codewatch serve                  # Watch the current directory
  codewatch serve --root ~/src/app # Watch a specific directory
  codewatch serve --background     # Run detached`,
	RunE: runServe,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runStatus,
}

func init() {
	serveCmd.Flags().BoolVarP(&backgroundFlag, "background", "b", false, "Run daemon in background")
	serveCmd.Flags().BoolVar(&backgroundChildFlag, "background-child", false, "Internal flag for background process")
	_ = serveCmd.Flags().MarkHidden("background-child")
	serveCmd.Flags().StringVar(&watchRootFlag, "root", "", "Directory to watch (default: current directory)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	initLogging(cfg)

	lifecycle := server.NewLifecycle(cfg.Server.Port)

	if backgroundFlag && !backgroundChildFlag {
		if lifecycle.IsRunning() {
			fmt.Println("Daemon is already running")
			return nil
		}
		if err := lifecycle.StartInBackground(); err != nil {
			return fmt.Errorf("failed to start daemon in background: %w", err)
		}
		fmt.Printf("Daemon started on http://127.0.0.1:%d\n", cfg.Server.Port)
		return nil
	}

	if !backgroundChildFlag && lifecycle.IsRunning() {
		return fmt.Errorf("daemon is already running (PID file: %s)", lifecycle.PIDFile())
	}

	root, err := resolveRoot(cfg)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer func() { _ = st.Close() }()

	broadcast := hub.New(
		time.Duration(cfg.Server.PublishTimeoutMS)*time.Millisecond,
		cfg.Server.SubscriberBuffer,
	)
	st.OnAppend(broadcast.Publish)

	ignore := cfg.Watch.IgnoreParts
	if len(ignore) == 0 {
		ignore = config.DefaultIgnoreParts
	}
	tracker := watch.NewTracker(root, ignore, cfg.Watch.MaxFileBytes, watch.NewGitBaseline(root), st)

	var provider llm.Provider
	if p, err := llm.New(cfg.LLM); err != nil {
		if errors.Is(err, llm.ErrNotConfigured) {
			logger.Warn().Msg("No LLM credential configured, summaries and matching disabled")
		} else {
			logger.Warn().Err(err).Msg("LLM provider unavailable")
		}
	} else {
		provider = p
		logger.Info().Str("provider", provider.Name()).Msg("LLM provider ready")
	}

	var matcher *match.Matcher
	if provider != nil {
		matcher = match.New(st, provider, cfg.Match)
	}

	srv := server.New(cfg, st, broadcast, digest.NewBuilder(st, root), matcher, provider, Version)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !backgroundChildFlag {
		fmt.Printf("Recording %s\n", root)
		fmt.Printf("API running at http://127.0.0.1:%d\n", srv.Port())
		fmt.Println("Press Ctrl+C to stop")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return broadcast.Run(ctx) })
	g.Go(func() error { return tracker.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	if err := g.Wait(); err != nil {
		return fmt.Errorf("daemon exited: %w", err)
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	lifecycle := server.NewLifecycle(cfg.Server.Port)

	if !lifecycle.IsRunning() {
		fmt.Println("Daemon is not running")
		return nil
	}

	pid, _ := lifecycle.GetPID()
	if err := lifecycle.Stop(); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Printf("Daemon stopped (was PID %d)\n", pid)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	lifecycle := server.NewLifecycle(cfg.Server.Port)

	if !lifecycle.IsRunning() {
		fmt.Println("Daemon is not running")
		return nil
	}

	pid, _ := lifecycle.GetPID()
	fmt.Printf("Daemon is running (PID %d)\n", pid)
	fmt.Printf("API: http://127.0.0.1:%d\n", cfg.Server.Port)
	return nil
}

func initLogging(cfg *config.Config) {
	level := cfg.Settings.LogLevel
	if verbose {
		level = "debug"
	}
	if level == "" {
		level = "info"
	}
	_ = logger.Init(level, cfg.Settings.LogFile)
}

func resolveRoot(cfg *config.Config) (string, error) {
	root := watchRootFlag
	if root == "" {
		root = cfg.Watch.Root
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve watch root: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return "", fmt.Errorf("watch root is not a directory: %s", abs)
	}
	return abs, nil
}
