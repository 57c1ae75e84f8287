// Package cli implements the codewatch command line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ihavespoons/codewatch/internal/config"
)

// Version information set via ldflags
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	verbose    bool
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "codewatch",
	Short: "Local development activity recorder",
	Long: `Codewatch records your development activity: it watches a working
directory for file changes, computes diffs, keeps a queryable event log,
streams new events to live subscribers, and correlates AI assistant
conversations with the code changes they likely produced.

Configure in ~/.codewatch/config.yaml.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("codewatch %s\n", Version)
		fmt.Printf("  commit: %s\n", Commit)
		fmt.Printf("  built:  %s\n", Date)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Override config file path")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves the effective configuration, falling back to
// defaults when no config file is present.
func loadConfig() *config.Config {
	loader, err := config.NewLoader()
	if err != nil {
		return config.DefaultConfig()
	}

	var cfg *config.Config
	if configFile != "" {
		cfg, err = loader.LoadFromFile(configFile)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}
