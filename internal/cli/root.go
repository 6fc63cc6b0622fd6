// Package cli implements the maestro command tree.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"maestro/internal/config"
	"maestro/internal/logging"
)

type globalFlags struct {
	configPath string
	verbose    bool
	quiet      bool
}

var flags globalFlags

// NewRootCmd builds the maestro command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "maestro",
		Short: "Maestro - LLM agent execution engine",
		Long: `Maestro plans, executes and accounts for multi-phase LLM agent turns:
strategic decomposition, tactical tool selection with bounded
self-correction, nested delegation to child sessions, and an exact
cumulative cost ledger per session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file path (default ~/.maestro/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "errors only")

	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSessionCmd())
	rootCmd.AddCommand(newUsageCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// loadConfig resolves the config path and loads the configuration.
func loadConfig() (*config.Config, error) {
	path := flags.configPath
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	return config.Load(path)
}

// newLogger builds the root logger, honoring the verbosity flags.
func newLogger(cfg *config.Config) zerolog.Logger {
	level := cfg.Log.Level
	if flags.verbose {
		level = "debug"
	}
	if flags.quiet {
		level = "error"
	}
	return logging.New(logging.Config{Level: level, Format: cfg.Log.Format}, os.Stderr)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
