// Package settings persists permission rules in the per-scope settings.json
// files and assembles them, together with the managed policy, into a
// permission.Context.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aibox/toolperm/internal/permission"
)

// Scope is the configuration tier a rule set is persisted under.
type Scope string

const (
	ScopeLocal   Scope = "local"
	ScopeProject Scope = "project"
	ScopeUser    Scope = "user"
)

// ErrUnknownScope is returned for scope names other than local, project and user.
var ErrUnknownScope = errors.New("settings: unknown scope")

// Scopes returns every scope in increasing precedence order.
func Scopes() []Scope {
	return []Scope{ScopeUser, ScopeProject, ScopeLocal}
}

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(s); sc {
	case ScopeLocal, ScopeProject, ScopeUser:
		return sc, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScope, s)
	}
}

// Source returns the rule source recorded for rules loaded from this scope.
func (s Scope) Source() permission.Source {
	switch s {
	case ScopeLocal:
		return permission.SourceLocal
	case ScopeProject:
		return permission.SourceProject
	default:
		return permission.SourceUser
	}
}

// ScopeForSource maps a rule source back to the scope it is saved under.
// Sources without a settings file (policy, CLI, session) report false.
func ScopeForSource(src permission.Source) (Scope, bool) {
	switch src {
	case permission.SourceLocal:
		return ScopeLocal, true
	case permission.SourceProject:
		return ScopeProject, true
	case permission.SourceUser:
		return ScopeUser, true
	default:
		return "", false
	}
}

// Permissions is the "permissions" section of a settings file.
type Permissions struct {
	Allow                 []string `json:"allow,omitempty" jsonschema:"description=Rules that pre-authorize tool invocations"`
	Deny                  []string `json:"deny,omitempty" jsonschema:"description=Rules that always reject tool invocations"`
	DefaultMode           string   `json:"defaultMode,omitempty" jsonschema:"enum=default,enum=acceptEdits,enum=bypassPermissions,enum=plan"`
	AdditionalDirectories []string `json:"additionalDirectories,omitempty" jsonschema:"description=Extra directories edits may be auto-accepted in"`

	extra map[string]json.RawMessage
}

// File is a settings.json document. Keys other than "permissions" are kept
// verbatim so saving never drops unrelated configuration.
type File struct {
	Permissions Permissions `json:"permissions"`

	extra map[string]json.RawMessage
}

var permissionsKeys = []string{"allow", "deny", "defaultMode", "additionalDirectories"}

// UnmarshalJSON decodes the permissions section and keeps every other key.
func (f *File) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}

	raw, ok := top["permissions"]
	delete(top, "permissions")
	f.extra = top

	f.Permissions = Permissions{}
	if !ok || string(raw) == "null" {
		return nil
	}

	var perm map[string]json.RawMessage
	if err := json.Unmarshal(raw, &perm); err != nil {
		return fmt.Errorf("permissions: %w", err)
	}

	type plain Permissions
	var p plain
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("permissions: %w", err)
	}
	f.Permissions = Permissions(p)

	for _, k := range permissionsKeys {
		delete(perm, k)
	}
	if len(perm) > 0 {
		f.Permissions.extra = perm
	}
	return nil
}

// MarshalJSON re-assembles the document with the preserved keys.
func (f File) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.extra)+1)
	for k, v := range f.extra {
		out[k] = v
	}

	perm := make(map[string]any, len(f.Permissions.extra)+len(permissionsKeys))
	for k, v := range f.Permissions.extra {
		perm[k] = v
	}
	p := f.Permissions
	if len(p.Allow) > 0 {
		perm["allow"] = p.Allow
	}
	if len(p.Deny) > 0 {
		perm["deny"] = p.Deny
	}
	if p.DefaultMode != "" {
		perm["defaultMode"] = p.DefaultMode
	}
	if len(p.AdditionalDirectories) > 0 {
		perm["additionalDirectories"] = p.AdditionalDirectories
	}
	out["permissions"] = perm

	return json.Marshal(out)
}

// Extra returns the raw value of a top-level key other than "permissions".
func (f *File) Extra(key string) (json.RawMessage, bool) {
	v, ok := f.extra[key]
	return v, ok
}

// readFile loads a settings file. A missing file yields an empty document.
func readFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("reading settings file %s: %w", path, err)
	}

	var f File
	if len(data) == 0 {
		return &f, nil
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	return &f, nil
}

// writeFile saves a settings file, creating its directory if needed.
func writeFile(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings file %s: %w", path, err)
	}
	return nil
}
