package settings

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aibox/toolperm/internal/permission"
)

const (
	settingsDir       = ".claude"
	settingsFile      = "settings.json"
	localSettingsFile = "settings.local.json"
)

// RuleSet is the allow and deny rules of one scope.
type RuleSet struct {
	Allow []permission.Rule
	Deny  []permission.Rule
}

// Len returns the total number of rules.
func (rs RuleSet) Len() int { return len(rs.Allow) + len(rs.Deny) }

// Store reads and writes the settings files of one project and user.
type Store struct {
	projectRoot string
	userDir     string
}

// DefaultUserDir returns ~/.claude, or an empty string if the home directory
// cannot be determined.
func DefaultUserDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, settingsDir)
}

// NewStore creates a Store. An empty userDir falls back to DefaultUserDir.
func NewStore(projectRoot, userDir string) *Store {
	if userDir == "" {
		userDir = DefaultUserDir()
	}
	return &Store{projectRoot: projectRoot, userDir: userDir}
}

// ProjectRoot returns the project directory the store was created for.
func (s *Store) ProjectRoot() string { return s.projectRoot }

// Path returns the settings file backing a scope.
func (s *Store) Path(scope Scope) (string, error) {
	switch scope {
	case ScopeLocal:
		return filepath.Join(s.projectRoot, settingsDir, localSettingsFile), nil
	case ScopeProject:
		return filepath.Join(s.projectRoot, settingsDir, settingsFile), nil
	case ScopeUser:
		if s.userDir == "" {
			return "", fmt.Errorf("user settings directory is unknown")
		}
		return filepath.Join(s.userDir, settingsFile), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}
}

// Load reads the whole settings document of a scope.
func (s *Store) Load(scope Scope) (*File, error) {
	path, err := s.Path(scope)
	if err != nil {
		return nil, err
	}
	return readFile(path)
}

// Save writes the whole settings document of a scope.
func (s *Store) Save(scope Scope, f *File) error {
	path, err := s.Path(scope)
	if err != nil {
		return err
	}
	if err := writeFile(path, f); err != nil {
		return err
	}
	slog.Debug("settings saved", "scope", scope, "path", path)
	return nil
}

// LoadRules parses the rules of a scope. Malformed rule strings are logged
// and skipped.
func (s *Store) LoadRules(scope Scope) (RuleSet, error) {
	f, err := s.Load(scope)
	if err != nil {
		return RuleSet{}, err
	}
	return f.RuleSet(scope.Source()), nil
}

// SaveRules replaces the rules of a scope, keeping every other setting.
func (s *Store) SaveRules(scope Scope, rs RuleSet) error {
	f, err := s.Load(scope)
	if err != nil {
		return err
	}
	f.Permissions.Allow = ruleStrings(rs.Allow)
	f.Permissions.Deny = ruleStrings(rs.Deny)
	return s.Save(scope, f)
}

// AddRules appends rules to a scope's allow or deny list. Rules already
// present are not duplicated and malformed entries already in the file are
// left untouched. It returns the number of rules added.
func (s *Store) AddRules(scope Scope, b permission.Behavior, rules ...permission.Rule) (int, error) {
	f, err := s.Load(scope)
	if err != nil {
		return 0, err
	}
	list := f.Permissions.list(b)
	if list == nil {
		return 0, fmt.Errorf("cannot persist %q rules", b)
	}

	added := 0
	for _, r := range rules {
		if indexRule(*list, r) >= 0 {
			continue
		}
		*list = append(*list, r.String())
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, s.Save(scope, f)
}

// RemoveRules deletes rules from a scope's allow or deny list and returns the
// number removed.
func (s *Store) RemoveRules(scope Scope, b permission.Behavior, rules ...permission.Rule) (int, error) {
	f, err := s.Load(scope)
	if err != nil {
		return 0, err
	}
	list := f.Permissions.list(b)
	if list == nil {
		return 0, fmt.Errorf("cannot persist %q rules", b)
	}

	removed := 0
	for _, r := range rules {
		for {
			i := indexRule(*list, r)
			if i < 0 {
				break
			}
			*list = append((*list)[:i], (*list)[i+1:]...)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.Save(scope, f)
}

func (p *Permissions) list(b permission.Behavior) *[]string {
	switch b {
	case permission.BehaviorAllow:
		return &p.Allow
	case permission.BehaviorDeny:
		return &p.Deny
	default:
		return nil
	}
}

// indexRule finds the first entry that parses to a rule equivalent to r.
func indexRule(specs []string, r permission.Rule) int {
	for i, spec := range specs {
		x, err := permission.ParseRule(spec, "")
		if err == nil && x.Equivalent(r) {
			return i
		}
	}
	return -1
}

// RuleSet parses the permissions section, skipping malformed entries.
func (f *File) RuleSet(src permission.Source) RuleSet {
	return RuleSet{
		Allow: parseLogged(f.Permissions.Allow, src, "allow"),
		Deny:  parseLogged(f.Permissions.Deny, src, "deny"),
	}
}

func parseLogged(specs []string, src permission.Source, list string) []permission.Rule {
	rules, errs := permission.ParseRules(specs, src)
	for _, err := range errs {
		slog.Warn("skipping malformed permission rule", "source", src, "list", list, "error", err)
	}
	return rules
}

func ruleStrings(rules []permission.Rule) []string {
	if len(rules) == 0 {
		return nil
	}
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.String()
	}
	return out
}
