package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

// Config is the top-level configuration for toolperm.
type Config struct {
	ProjectRoot   string            `yaml:"project_root" mapstructure:"project_root"`     // default: working directory
	UserDir       string            `yaml:"user_dir" mapstructure:"user_dir"`             // default: ~/.claude
	ManagedPolicy string            `yaml:"managed_policy" mapstructure:"managed_policy"` // YAML or TOML
	RegoDir       string            `yaml:"rego_dir" mapstructure:"rego_dir"`             // empty disables the Rego hook
	Mode          string            `yaml:"mode" mapstructure:"mode"`                     // overrides defaultMode from settings
	MatchMode     string            `yaml:"match_mode" mapstructure:"match_mode"`         // exact, prefix or glob
	DecisionLog   DecisionLogConfig `yaml:"decision_log" mapstructure:"decision_log"`
	Logging       LoggingConfig     `yaml:"logging" mapstructure:"logging"`
}

// DecisionLogConfig controls the audit log of permission decisions.
type DecisionLogConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Path          string        `yaml:"path" mapstructure:"path"`
	MaxSizeMB     int           `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	FlushInterval time.Duration `yaml:"flush_interval" mapstructure:"flush_interval"`
	SampleAllow   int           `yaml:"sample_allow" mapstructure:"sample_allow"` // log 1-in-N allow decisions
}

// LoggingConfig holds logging preferences.
type LoggingConfig struct {
	Format string `yaml:"format" mapstructure:"format"` // text or json
	Level  string `yaml:"level" mapstructure:"level"`
}

// DefaultManagedPolicyPath is where administrators install the managed policy.
const DefaultManagedPolicyPath = "/etc/toolperm/managed-policy.yaml"

func setDefaults(v *viper.Viper) {
	v.SetDefault("project_root", "")
	v.SetDefault("user_dir", "")
	v.SetDefault("managed_policy", DefaultManagedPolicyPath)
	v.SetDefault("rego_dir", "")
	v.SetDefault("mode", "")
	v.SetDefault("match_mode", "glob")
	v.SetDefault("decision_log.enabled", true)
	v.SetDefault("decision_log.path", "")
	v.SetDefault("decision_log.max_size_mb", 50)
	v.SetDefault("decision_log.flush_interval", "2s")
	v.SetDefault("decision_log.sample_allow", 1)
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.level", "info")
}

// bindEnvVars binds nested keys to their TOOLPERM_ variables; AutomaticEnv
// alone only covers keys viper already knows about at lookup time.
func bindEnvVars(v *viper.Viper) {
	bindings := map[string]string{
		"project_root":                "TOOLPERM_PROJECT_ROOT",
		"user_dir":                    "TOOLPERM_USER_DIR",
		"managed_policy":              "TOOLPERM_MANAGED_POLICY",
		"rego_dir":                    "TOOLPERM_REGO_DIR",
		"mode":                        "TOOLPERM_MODE",
		"match_mode":                  "TOOLPERM_MATCH_MODE",
		"decision_log.enabled":        "TOOLPERM_DECISION_LOG_ENABLED",
		"decision_log.path":           "TOOLPERM_DECISION_LOG_PATH",
		"decision_log.max_size_mb":    "TOOLPERM_DECISION_LOG_MAX_SIZE_MB",
		"decision_log.flush_interval": "TOOLPERM_DECISION_LOG_FLUSH_INTERVAL",
		"decision_log.sample_allow":   "TOOLPERM_DECISION_LOG_SAMPLE_ALLOW",
		"logging.format":              "TOOLPERM_LOGGING_FORMAT",
		"logging.level":               "TOOLPERM_LOGGING_LEVEL",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}

// DefaultConfigDir returns ~/.config/toolperm.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "toolperm"), nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the configuration from disk, env vars, and defaults.
// If configPath is empty, it looks in ~/.config/toolperm/config.yaml.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)

	v.SetEnvPrefix("TOOLPERM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		dir, err := DefaultConfigDir()
		if err != nil {
			slog.Warn("could not determine home directory", "error", err)
		} else {
			v.AddConfigPath(dir)
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if configPath != "" {
				return nil, fmt.Errorf("reading config %s: %w", configPath, err)
			}
			slog.Debug("no config file found, using defaults", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

const defaultConfig = `# toolperm configuration
# See: toolperm --help

# project_root: .               # defaults to the working directory
# user_dir: ~/.claude           # holds the user-scope settings.json
managed_policy: /etc/toolperm/managed-policy.yaml
# rego_dir: /etc/toolperm/rego  # Rego files defining data.toolperm.deny

# mode: acceptEdits             # default, acceptEdits, bypassPermissions or plan
match_mode: glob                # exact, prefix or glob

decision_log:
  enabled: true
  # path: ~/.claude/toolperm/decisions.jsonl
  max_size_mb: 50
  flush_interval: 2s
  sample_allow: 1               # log 1-in-N allow decisions

logging:
  format: text                  # text or json
  level: info
`

// WriteDefault creates a default config file at the given path (or the
// default location if path is empty). It does not overwrite an existing file.
func WriteDefault(path string) (string, error) {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return "", err
		}
	}

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return "", fmt.Errorf("writing config: %w", err)
	}
	return path, nil
}

// Keys lists every configuration key, sorted.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// Set updates one key in the config file at path, creating the file from
// the default template first if needed. The file is only written when the
// resulting configuration validates.
func Set(path, key, value string) error {
	if !slices.Contains(Keys(), key) {
		return fmt.Errorf("unknown config key %q. Valid keys: %s", key, strings.Join(Keys(), ", "))
	}
	if _, err := WriteDefault(path); err != nil {
		return err
	}

	file := viper.New()
	file.SetConfigFile(path)
	if err := file.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	file.Set(key, value)

	merged := viper.New()
	setDefaults(merged)
	if err := merged.MergeConfigMap(file.AllSettings()); err != nil {
		return fmt.Errorf("merging config: %w", err)
	}
	var cfg Config
	if err := merged.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := file.WriteConfig(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
