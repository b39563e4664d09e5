package cmd

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/aibox/toolperm/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and modify toolperm configuration",
	Long: `Config provides subcommands for viewing and modifying the toolperm
configuration file at ~/.config/toolperm/config.yaml.

Examples:
  toolperm config init
  toolperm config show
  toolperm config set match_mode prefix
  toolperm config set decision_log.sample_allow 10
  toolperm config get managed_policy
  toolperm config validate`,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set updates a configuration key in the config file. The resulting
configuration is validated before it is written.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get an effective configuration value",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a commented default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

// Flags for config subcommands.
var initForce bool

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing config file")

	rootCmd.AddCommand(configCmd)
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	path, err := config.DefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("determining config path: %w", err)
	}
	return path, nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	cfgPath, err := configPath()
	if err != nil {
		return err
	}
	if err := config.Set(cfgPath, key, value); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if !slices.Contains(config.Keys(), key) {
		return fmt.Errorf("unknown config key %q. Valid keys: %s", key, strings.Join(config.Keys(), ", "))
	}

	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	values := map[string]any{
		"project_root":                cfg.ProjectRoot,
		"user_dir":                    cfg.UserDir,
		"managed_policy":              cfg.ManagedPolicy,
		"rego_dir":                    cfg.RegoDir,
		"mode":                        cfg.Mode,
		"match_mode":                  cfg.MatchMode,
		"decision_log.enabled":        cfg.DecisionLog.Enabled,
		"decision_log.path":           cfg.DecisionLog.Path,
		"decision_log.max_size_mb":    cfg.DecisionLog.MaxSizeMB,
		"decision_log.flush_interval": cfg.DecisionLog.FlushInterval,
		"decision_log.sample_allow":   cfg.DecisionLog.SampleAllow,
		"logging.format":              cfg.Logging.Format,
		"logging.level":               cfg.Logging.Level,
	}
	fmt.Fprintln(cmd.OutOrStdout(), values[key])
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfgPath, err := configPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if !initForce {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", cfgPath)
		}
		if err := os.Remove(cfgPath); err != nil {
			return fmt.Errorf("removing existing config: %w", err)
		}
	}

	if _, err := config.WriteDefault(cfgPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created config at %s\n", cfgPath)
	return nil
}
