package settings

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/aibox/toolperm/internal/permission"
)

// MergeError reports one or more tighten-only violations between the managed
// policy and the settings scopes.
type MergeError struct {
	Violations []string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("settings merge violations:\n  - %s", strings.Join(e.Violations, "\n  - "))
}

// Snapshot holds every rule source as read from disk at one point in time.
type Snapshot struct {
	Managed *ManagedPolicy
	Files   map[Scope]*File

	projectRoot string
}

// Snapshot reads the managed policy and the three settings scopes.
func (s *Store) Snapshot(managedPath string) (*Snapshot, error) {
	managed, err := LoadManagedPolicy(managedPath)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Managed:     managed,
		Files:       make(map[Scope]*File, 3),
		projectRoot: s.projectRoot,
	}
	for _, scope := range Scopes() {
		f, err := s.Load(scope)
		if err != nil {
			return nil, fmt.Errorf("loading %s settings: %w", scope, err)
		}
		snap.Files[scope] = f
	}
	return snap, nil
}

// ContextOptions adjusts how a snapshot becomes a permission.Context.
type ContextOptions struct {
	// Mode overrides the defaultMode found in settings when non-empty.
	Mode permission.Mode
	// WorkDir is the primary working directory. Defaults to the project root.
	WorkDir string
	// Extra rules, typically from command-line flags.
	Extra RuleSet
}

// Context merges the snapshot: managed rules first, then user, project and
// local, then Extra. Every rule is kept; deny rules win at resolution time.
func (snap *Snapshot) Context(opts ContextOptions) *permission.Context {
	var allow, deny []permission.Rule

	managed := snap.Managed.RuleSet()
	allow = append(allow, managed.Allow...)
	deny = append(deny, managed.Deny...)

	for _, scope := range Scopes() {
		f := snap.Files[scope]
		if f == nil {
			continue
		}
		rs := f.RuleSet(scope.Source())
		allow = append(allow, rs.Allow...)
		deny = append(deny, rs.Deny...)
	}

	allow = append(allow, opts.Extra.Allow...)
	deny = append(deny, opts.Extra.Deny...)

	for _, v := range snap.violations() {
		slog.Warn("managed policy violation", "violation", v)
	}

	mode := snap.mode(opts.Mode)
	workDirs := snap.workDirs(opts.WorkDir)

	slog.Debug("permission context assembled",
		"allow", len(allow), "deny", len(deny), "mode", mode, "work_dirs", len(workDirs))
	return permission.NewContext(allow, deny, mode, workDirs...)
}

// CheckTightenOnly returns a *MergeError when a settings scope allows a rule
// that the managed policy denies.
func (snap *Snapshot) CheckTightenOnly() error {
	if v := snap.violations(); len(v) > 0 {
		return &MergeError{Violations: v}
	}
	return nil
}

func (snap *Snapshot) violations() []string {
	if snap.Managed == nil {
		return nil
	}
	denied := snap.Managed.RuleSet().Deny
	if len(denied) == 0 {
		return nil
	}

	var violations []string
	for _, scope := range Scopes() {
		f := snap.Files[scope]
		if f == nil {
			continue
		}
		for _, r := range f.RuleSet(scope.Source()).Allow {
			for _, d := range denied {
				if r.Equivalent(d) {
					violations = append(violations, fmt.Sprintf(
						"%s: allow rule %q loosens managed deny rule", scope, r.String()))
					break
				}
			}
		}
	}
	return violations
}

// mode picks the effective mode: the override, else the highest-precedence
// defaultMode. Bypass is downgraded when the managed policy disables it.
func (snap *Snapshot) mode(override permission.Mode) permission.Mode {
	mode := override
	if mode == "" {
		mode = permission.ModeDefault
		scopes := Scopes()
		for i := len(scopes) - 1; i >= 0; i-- {
			f := snap.Files[scopes[i]]
			if f == nil || f.Permissions.DefaultMode == "" {
				continue
			}
			m, err := permission.ParseMode(f.Permissions.DefaultMode)
			if err != nil {
				slog.Warn("ignoring invalid defaultMode", "scope", scopes[i], "error", err)
				continue
			}
			mode = m
			break
		}
	}

	if mode == permission.ModeBypass && snap.Managed != nil && snap.Managed.DisableBypassMode {
		slog.Warn("bypassPermissions disabled by managed policy", "path", snap.Managed.Path())
		mode = permission.ModeDefault
	}
	return mode
}

func (snap *Snapshot) workDirs(primary string) []string {
	if primary == "" {
		primary = snap.projectRoot
	}
	var dirs []string
	if primary != "" {
		dirs = append(dirs, primary)
	}
	for _, scope := range Scopes() {
		f := snap.Files[scope]
		if f == nil {
			continue
		}
		for _, d := range f.Permissions.AdditionalDirectories {
			if d == "" {
				continue
			}
			if !filepath.IsAbs(d) && snap.projectRoot != "" {
				d = filepath.Join(snap.projectRoot, d)
			}
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// LoadContext reads every rule source and merges it into a context.
func LoadContext(s *Store, managedPath string, opts ContextOptions) (*permission.Context, error) {
	snap, err := s.Snapshot(managedPath)
	if err != nil {
		return nil, err
	}
	return snap.Context(opts), nil
}
