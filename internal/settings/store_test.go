package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aibox/toolperm/internal/permission"
)

func newTestStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	project := t.TempDir()
	user := t.TempDir()
	return NewStore(project, user), project, user
}

func writeJSON(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("invalid JSON in %s: %v", path, err)
	}
	return m
}

func ruleStringsOf(rs []permission.Rule) []string {
	if len(rs) == 0 {
		return nil
	}
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.String()
	}
	return out
}

func TestStore_Path(t *testing.T) {
	s := NewStore("/proj", "/home/u/.claude")

	tests := []struct {
		scope Scope
		want  string
	}{
		{ScopeLocal, "/proj/.claude/settings.local.json"},
		{ScopeProject, "/proj/.claude/settings.json"},
		{ScopeUser, "/home/u/.claude/settings.json"},
	}
	for _, tt := range tests {
		got, err := s.Path(tt.scope)
		if err != nil {
			t.Fatalf("Path(%s): %v", tt.scope, err)
		}
		if got != tt.want {
			t.Errorf("Path(%s) = %q, want %q", tt.scope, got, tt.want)
		}
	}

	if _, err := s.Path("global"); !errors.Is(err, ErrUnknownScope) {
		t.Errorf("unknown scope error = %v, want ErrUnknownScope", err)
	}
}

func TestParseScope(t *testing.T) {
	if s, err := ParseScope("project"); err != nil || s != ScopeProject {
		t.Errorf("ParseScope(project) = %q, %v", s, err)
	}
	if _, err := ParseScope("team"); !errors.Is(err, ErrUnknownScope) {
		t.Errorf("ParseScope(team) error = %v", err)
	}
}

func TestStore_LoadRules_MissingFile(t *testing.T) {
	s, _, _ := newTestStore(t)

	rs, err := s.LoadRules(ScopeLocal)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if rs.Len() != 0 {
		t.Errorf("missing file should load empty, got %+v", rs)
	}
}

func TestStore_LoadRules_SkipsMalformed(t *testing.T) {
	s, project, _ := newTestStore(t)
	writeJSON(t, filepath.Join(project, ".claude", "settings.json"), `{
  "permissions": {
    "allow": ["Bash(npm run:*)", "Bash(oops", "Read"],
    "deny": ["", "WebFetch(domain:evil.example)"]
  }
}`)

	rs, err := s.LoadRules(ScopeProject)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if diff := cmp.Diff([]string{"Bash(npm run:*)", "Read"}, ruleStringsOf(rs.Allow)); diff != "" {
		t.Errorf("allow mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"WebFetch(domain:evil.example)"}, ruleStringsOf(rs.Deny)); diff != "" {
		t.Errorf("deny mismatch (-want +got):\n%s", diff)
	}
	for _, r := range rs.Allow {
		if r.Source != permission.SourceProject {
			t.Errorf("rule %v has source %q", r, r.Source)
		}
	}
}

func TestStore_LoadRules_InvalidJSON(t *testing.T) {
	s, project, _ := newTestStore(t)
	writeJSON(t, filepath.Join(project, ".claude", "settings.local.json"), `{"permissions": [`)

	if _, err := s.LoadRules(ScopeLocal); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestStore_SaveRules_PreservesOtherKeys(t *testing.T) {
	s, _, user := newTestStore(t)
	path := filepath.Join(user, "settings.json")
	writeJSON(t, path, `{
  "model": "opus",
  "env": {"FOO": "bar"},
  "permissions": {"allow": ["Bash(ls)"], "ask": ["Bash(git push:*)"], "defaultMode": "plan"}
}`)

	rs := RuleSet{
		Allow: []permission.Rule{permission.MustParseRule("Bash(go test:*)", permission.SourceUser)},
		Deny:  []permission.Rule{permission.MustParseRule("Read(/etc/**)", permission.SourceUser)},
	}
	if err := s.SaveRules(ScopeUser, rs); err != nil {
		t.Fatalf("SaveRules: %v", err)
	}

	got := readJSON(t, path)
	want := map[string]any{
		"model": "opus",
		"env":   map[string]any{"FOO": "bar"},
		"permissions": map[string]any{
			"allow":       []any{"Bash(go test:*)"},
			"deny":        []any{"Read(/etc/**)"},
			"ask":         []any{"Bash(git push:*)"},
			"defaultMode": "plan",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("saved file mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_SaveRules_CreatesDirectory(t *testing.T) {
	s, project, _ := newTestStore(t)

	rs := RuleSet{Allow: []permission.Rule{permission.MustParseRule("Edit(/src/**)", permission.SourceLocal)}}
	if err := s.SaveRules(ScopeLocal, rs); err != nil {
		t.Fatalf("SaveRules: %v", err)
	}
	if _, err := os.Stat(filepath.Join(project, ".claude", "settings.local.json")); err != nil {
		t.Fatalf("settings file not created: %v", err)
	}

	again, err := s.LoadRules(ScopeLocal)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if diff := cmp.Diff([]string{"Edit(/src/**)"}, ruleStringsOf(again.Allow)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_AddRules(t *testing.T) {
	s, project, _ := newTestStore(t)
	path := filepath.Join(project, ".claude", "settings.local.json")
	writeJSON(t, path, `{"permissions": {"allow": ["Bash(npm ci)", "Bash(broken"]}}`)

	added, err := s.AddRules(ScopeLocal, permission.BehaviorAllow,
		permission.MustParseRule("Bash(npm ci)", permission.SourceSession),
		permission.MustParseRule("Bash(npm run:*)", permission.SourceSession),
	)
	if err != nil {
		t.Fatalf("AddRules: %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}

	perm := readJSON(t, path)["permissions"].(map[string]any)
	want := []any{"Bash(npm ci)", "Bash(broken", "Bash(npm run:*)"}
	if diff := cmp.Diff(want, perm["allow"]); diff != "" {
		t.Errorf("allow list mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_AddRules_AskRejected(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.AddRules(ScopeLocal, permission.BehaviorAsk, permission.MustParseRule("Bash", ""))
	if err == nil {
		t.Fatal("ask rules cannot be persisted")
	}
}

func TestStore_RemoveRules(t *testing.T) {
	s, project, _ := newTestStore(t)
	path := filepath.Join(project, ".claude", "settings.json")
	writeJSON(t, path, `{"permissions": {"deny": ["Bash(rm:*)", "Read(.env)", "Bash(rm :*)"]}}`)

	removed, err := s.RemoveRules(ScopeProject, permission.BehaviorDeny,
		permission.MustParseRule("Bash(rm:*)", ""))
	if err != nil {
		t.Fatalf("RemoveRules: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	rs, err := s.LoadRules(ScopeProject)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Read(.env)"}, ruleStringsOf(rs.Deny)); diff != "" {
		t.Errorf("deny mismatch (-want +got):\n%s", diff)
	}

	removed, err = s.RemoveRules(ScopeProject, permission.BehaviorDeny,
		permission.MustParseRule("Bash(curl:*)", ""))
	if err != nil || removed != 0 {
		t.Errorf("removing absent rule = %d, %v", removed, err)
	}
}

func TestScopeForSource(t *testing.T) {
	for _, scope := range Scopes() {
		got, ok := ScopeForSource(scope.Source())
		if !ok || got != scope {
			t.Errorf("ScopeForSource(%s.Source()) = %q, %v", scope, got, ok)
		}
	}
	if _, ok := ScopeForSource(permission.SourcePolicy); ok {
		t.Error("policy source has no settings scope")
	}
}
