package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ihavespoons/codewatch/internal/taillog"
)

var (
	tailProvider string
	tailLogFile  string
	tailLogDir   string
	tailAPIURL   string
	tailOnce     bool
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow an AI assistant log and record conversations",
	Long: `Follows an AI assistant's log file and sends each completed
user/assistant exchange to the running codewatch daemon, where it can be
matched against subsequent code changes.

Examples:
  codewatch tail --provider claude --log-dir ~/Library/Logs/Claude
  codewatch tail --provider cursor --log-file ~/cursor.log`,
	RunE: runTail,
}

func init() {
	tailCmd.Flags().StringVar(&tailProvider, "provider", "", "AI provider name (claude, cursor, aider, ...)")
	tailCmd.Flags().StringVar(&tailLogFile, "log-file", "", "Specific log file to follow")
	tailCmd.Flags().StringVar(&tailLogDir, "log-dir", "", "Directory of log files (follows the newest)")
	tailCmd.Flags().StringVar(&tailAPIURL, "api-url", "", "Codewatch API base URL (default http://localhost:4381)")
	tailCmd.Flags().BoolVar(&tailOnce, "once", false, "Read the existing log content and exit")
	_ = tailCmd.MarkFlagRequired("provider")

	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	initLogging(cfg)

	if tailLogFile == "" && tailLogDir == "" {
		return fmt.Errorf("either --log-file or --log-dir is required")
	}

	apiURL := tailAPIURL
	if apiURL == "" && cfg.Server.Port != 0 {
		apiURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tailer := taillog.New(tailProvider, apiURL)
	if tailLogFile != "" {
		return tailer.FollowFile(ctx, tailLogFile, !tailOnce)
	}
	return tailer.FollowDir(ctx, tailLogDir, !tailOnce)
}
