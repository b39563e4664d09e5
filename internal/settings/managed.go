package settings

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.yaml.in/yaml/v3"

	"github.com/aibox/toolperm/internal/permission"
)

// ManagedPolicy is the administrator-controlled rule file. Its rules override
// every settings scope and lower scopes may only tighten it.
type ManagedPolicy struct {
	Version           int                `yaml:"version" toml:"version"`
	Permissions       ManagedPermissions `yaml:"permissions" toml:"permissions"`
	DisableBypassMode bool               `yaml:"disable_bypass_mode" toml:"disable_bypass_mode"`

	path string
}

// ManagedPermissions lists the managed allow and deny rules.
type ManagedPermissions struct {
	Allow []string `yaml:"allow" toml:"allow"`
	Deny  []string `yaml:"deny" toml:"deny"`
}

// Path returns the file the policy was loaded from.
func (p *ManagedPolicy) Path() string {
	if p == nil {
		return ""
	}
	return p.path
}

// RuleSet parses the managed rules with the policy source, skipping
// malformed entries.
func (p *ManagedPolicy) RuleSet() RuleSet {
	if p == nil {
		return RuleSet{}
	}
	return RuleSet{
		Allow: parseLogged(p.Permissions.Allow, permission.SourcePolicy, "allow"),
		Deny:  parseLogged(p.Permissions.Deny, permission.SourcePolicy, "deny"),
	}
}

// LoadManagedPolicy reads a managed policy file. Files ending in .toml are
// decoded as TOML, everything else as YAML. An empty path or a missing file
// returns a nil policy and no error.
func LoadManagedPolicy(path string) (*ManagedPolicy, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("no managed policy", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("reading managed policy %s: %w", path, err)
	}

	var p ManagedPolicy
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &p)
	default:
		err = yaml.Unmarshal(data, &p)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing managed policy %s: %w", path, err)
	}
	p.path = path

	slog.Debug("loaded managed policy", "path", path, "version", p.Version,
		"allow", len(p.Permissions.Allow), "deny", len(p.Permissions.Deny))
	return &p, nil
}
