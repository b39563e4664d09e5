package config

import (
	"fmt"
	"strings"

	"github.com/aibox/toolperm/internal/permission"
)

// Validate checks the configuration for invalid values and returns a
// descriptive error if any field is incorrect.
func (c *Config) Validate() error {
	var errs []string

	if c.Mode != "" {
		if _, err := permission.ParseMode(c.Mode); err != nil {
			errs = append(errs, fmt.Sprintf("invalid mode %q: must be default, acceptEdits, bypassPermissions, or plan", c.Mode))
		}
	}

	if _, err := permission.ParseMatchMode(c.MatchMode); err != nil {
		errs = append(errs, fmt.Sprintf("invalid match_mode %q: must be exact, prefix, or glob", c.MatchMode))
	}

	if c.DecisionLog.Enabled {
		if c.DecisionLog.MaxSizeMB < 1 {
			errs = append(errs, fmt.Sprintf("decision_log.max_size_mb must be >= 1, got %d", c.DecisionLog.MaxSizeMB))
		}
		if c.DecisionLog.SampleAllow < 0 {
			errs = append(errs, fmt.Sprintf("decision_log.sample_allow must be >= 0, got %d", c.DecisionLog.SampleAllow))
		}
		if c.DecisionLog.FlushInterval < 0 {
			errs = append(errs, fmt.Sprintf("decision_log.flush_interval must not be negative, got %s", c.DecisionLog.FlushInterval))
		}
	}

	// Logging format.
	switch c.Logging.Format {
	case "text", "json":
		// ok
	default:
		errs = append(errs, fmt.Sprintf("invalid logging.format %q: must be \"text\" or \"json\"", c.Logging.Format))
	}

	// Logging level.
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
		// ok
	default:
		errs = append(errs, fmt.Sprintf("invalid logging.level %q: must be debug, info, warn, or error", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return nil
}
