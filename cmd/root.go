package cmd

import (
	"fmt"

	"github.com/aibox/toolperm/internal/config"
	"github.com/aibox/toolperm/internal/logging"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Global flag values.
var (
	cfgFile     string
	verbose     bool
	logFormat   string
	projectFlag string
)

// Cfg holds the loaded configuration, available to all subcommands.
var Cfg *config.Config

// SetVersionInfo is called from main to inject build-time version info.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	buildDate = d
}

var rootCmd = &cobra.Command{
	Use:   "toolperm",
	Short: "toolperm: allow, deny or ask for AI agent tool invocations",
	Long: `toolperm decides whether an AI coding agent may run a tool invocation
(shell command, file edit, web fetch, MCP tool). It evaluates the invocation
against allow and deny rules merged from the managed policy and the user,
project and local settings files, and answers allow, deny or ask.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load configuration.
		var err error
		Cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// Flags win over the config file.
		format := Cfg.Logging.Format
		if cmd.Flags().Changed("log-format") {
			format = logFormat
		}
		level := Cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logging.Setup(format, level)

		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/toolperm/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format (text or json)")
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "C", "", "project root (default: project_root from config, else the working directory)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("toolperm version {{.Version}} (commit: %s, built: %s)\n", commit, buildDate))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
