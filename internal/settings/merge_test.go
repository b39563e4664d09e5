package settings

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aibox/toolperm/internal/permission"
)

func writeManaged(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadManagedPolicy_YAML(t *testing.T) {
	path := writeManaged(t, "managed.yaml", `version: 1
disable_bypass_mode: true
permissions:
  allow:
    - Bash(git status)
  deny:
    - Bash(curl:*)
    - WebFetch
`)

	p, err := LoadManagedPolicy(path)
	if err != nil {
		t.Fatalf("LoadManagedPolicy: %v", err)
	}
	if p.Version != 1 || !p.DisableBypassMode {
		t.Errorf("got version %d, disable_bypass_mode %v", p.Version, p.DisableBypassMode)
	}
	if p.Path() != path {
		t.Errorf("Path() = %q", p.Path())
	}

	rs := p.RuleSet()
	if diff := cmp.Diff([]string{"Bash(curl:*)", "WebFetch"}, ruleStringsOf(rs.Deny)); diff != "" {
		t.Errorf("deny mismatch (-want +got):\n%s", diff)
	}
	for _, r := range append(rs.Allow, rs.Deny...) {
		if r.Source != permission.SourcePolicy {
			t.Errorf("rule %v has source %q, want policy", r, r.Source)
		}
	}
}

func TestLoadManagedPolicy_TOML(t *testing.T) {
	path := writeManaged(t, "managed.toml", `version = 2
disable_bypass_mode = false

[permissions]
allow = ["Read"]
deny = ["Edit(/etc/**)"]
`)

	p, err := LoadManagedPolicy(path)
	if err != nil {
		t.Fatalf("LoadManagedPolicy: %v", err)
	}
	if p.Version != 2 {
		t.Errorf("version = %d, want 2", p.Version)
	}
	if diff := cmp.Diff([]string{"Read"}, p.Permissions.Allow); diff != "" {
		t.Errorf("allow mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Edit(/etc/**)"}, p.Permissions.Deny); diff != "" {
		t.Errorf("deny mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadManagedPolicy_Missing(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "absent.yaml")} {
		p, err := LoadManagedPolicy(path)
		if err != nil || p != nil {
			t.Errorf("LoadManagedPolicy(%q) = %v, %v; want nil, nil", path, p, err)
		}
	}
}

func TestLoadManagedPolicy_Invalid(t *testing.T) {
	path := writeManaged(t, "managed.yaml", "permissions: [unclosed\n")
	if _, err := LoadManagedPolicy(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadContext_MergeOrder(t *testing.T) {
	s, project, user := newTestStore(t)
	managed := writeManaged(t, "managed.yaml", "version: 1\npermissions:\n  deny: [\"Bash(sudo:*)\"]\n  allow: [\"Read\"]\n")
	writeJSON(t, filepath.Join(user, "settings.json"), `{"permissions": {"allow": ["Bash(ls:*)"]}}`)
	writeJSON(t, filepath.Join(project, ".claude", "settings.json"), `{"permissions": {"allow": ["Bash(npm test)"], "deny": ["Read(.env)"]}}`)
	writeJSON(t, filepath.Join(project, ".claude", "settings.local.json"), `{"permissions": {"allow": ["Bash(make:*)"]}}`)

	ctx, err := LoadContext(s, managed, ContextOptions{
		Extra: RuleSet{Allow: []permission.Rule{permission.MustParseRule("WebSearch", permission.SourceCLI)}},
	})
	if err != nil {
		t.Fatalf("LoadContext: %v", err)
	}

	wantAllow := []string{"Read", "Bash(ls:*)", "Bash(npm test)", "Bash(make:*)", "WebSearch"}
	if diff := cmp.Diff(wantAllow, ruleStringsOf(ctx.AllowRules())); diff != "" {
		t.Errorf("allow order mismatch (-want +got):\n%s", diff)
	}
	wantDeny := []string{"Bash(sudo:*)", "Read(.env)"}
	if diff := cmp.Diff(wantDeny, ruleStringsOf(ctx.DenyRules())); diff != "" {
		t.Errorf("deny order mismatch (-want +got):\n%s", diff)
	}

	wantSources := []permission.Source{
		permission.SourcePolicy, permission.SourceUser, permission.SourceProject,
		permission.SourceLocal, permission.SourceCLI,
	}
	for i, r := range ctx.AllowRules() {
		if r.Source != wantSources[i] {
			t.Errorf("allow[%d] source = %q, want %q", i, r.Source, wantSources[i])
		}
	}
	if ctx.Mode() != permission.ModeDefault {
		t.Errorf("mode = %q, want default", ctx.Mode())
	}
}

func TestLoadContext_ManagedDenyBeatsLocalAllow(t *testing.T) {
	s, project, _ := newTestStore(t)
	managed := writeManaged(t, "managed.yaml", "version: 1\npermissions:\n  deny: [\"Bash(curl:*)\"]\n")
	writeJSON(t, filepath.Join(project, ".claude", "settings.local.json"), `{"permissions": {"allow": ["Bash(curl:*)"]}}`)

	ctx, err := LoadContext(s, managed, ContextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	got := permission.NewResolver().DecideByName(permission.ToolBash, permission.Input{"command": "curl x"}, ctx)
	r, ok := permission.ReasonRule(got)
	if got.Behavior() != permission.BehaviorDeny || !ok || r.Source != permission.SourcePolicy {
		t.Errorf("got %s by %v, want deny by managed rule", got.Behavior(), r)
	}
}

func TestSnapshot_CheckTightenOnly(t *testing.T) {
	s, project, user := newTestStore(t)
	managed := writeManaged(t, "managed.yaml", "version: 1\npermissions:\n  deny: [\"Bash(curl:*)\", \"WebFetch\"]\n")
	writeJSON(t, filepath.Join(user, "settings.json"), `{"permissions": {"allow": ["WebFetch()"]}}`)
	writeJSON(t, filepath.Join(project, ".claude", "settings.local.json"), `{"permissions": {"allow": ["Bash(curl:*)", "Bash(curl -s x)"]}}`)

	snap, err := s.Snapshot(managed)
	if err != nil {
		t.Fatal(err)
	}

	err = snap.CheckTightenOnly()
	var me *MergeError
	if !errors.As(err, &me) {
		t.Fatalf("expected *MergeError, got %v", err)
	}
	if len(me.Violations) != 2 {
		t.Fatalf("violations = %v, want 2", me.Violations)
	}
	if !strings.HasPrefix(me.Violations[0], "user:") || !strings.HasPrefix(me.Violations[1], "local:") {
		t.Errorf("violations = %v", me.Violations)
	}
	if !strings.Contains(err.Error(), "settings merge violations") {
		t.Errorf("error text = %q", err.Error())
	}
}

func TestSnapshot_Mode(t *testing.T) {
	tests := []struct {
		name     string
		managed  string
		user     string
		local    string
		override permission.Mode
		want     permission.Mode
	}{
		{
			name: "default when unset",
			want: permission.ModeDefault,
		},
		{
			name:  "local beats user",
			user:  `{"permissions": {"defaultMode": "plan"}}`,
			local: `{"permissions": {"defaultMode": "acceptEdits"}}`,
			want:  permission.ModeAcceptEdits,
		},
		{
			name:  "invalid local falls through",
			user:  `{"permissions": {"defaultMode": "plan"}}`,
			local: `{"permissions": {"defaultMode": "yolo"}}`,
			want:  permission.ModePlan,
		},
		{
			name:     "override wins",
			local:    `{"permissions": {"defaultMode": "plan"}}`,
			override: permission.ModeAcceptEdits,
			want:     permission.ModeAcceptEdits,
		},
		{
			name:    "bypass disabled by managed policy",
			managed: "version: 1\ndisable_bypass_mode: true\n",
			local:   `{"permissions": {"defaultMode": "bypassPermissions"}}`,
			want:    permission.ModeDefault,
		},
		{
			name:     "bypass override disabled too",
			managed:  "version: 1\ndisable_bypass_mode: true\n",
			override: permission.ModeBypass,
			want:     permission.ModeDefault,
		},
		{
			name:     "bypass allowed without managed policy",
			override: permission.ModeBypass,
			want:     permission.ModeBypass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, project, user := newTestStore(t)
			var managed string
			if tt.managed != "" {
				managed = writeManaged(t, "managed.yaml", tt.managed)
			}
			if tt.user != "" {
				writeJSON(t, filepath.Join(user, "settings.json"), tt.user)
			}
			if tt.local != "" {
				writeJSON(t, filepath.Join(project, ".claude", "settings.local.json"), tt.local)
			}

			ctx, err := LoadContext(s, managed, ContextOptions{Mode: tt.override})
			if err != nil {
				t.Fatal(err)
			}
			if ctx.Mode() != tt.want {
				t.Errorf("mode = %q, want %q", ctx.Mode(), tt.want)
			}
		})
	}
}

func TestLoadContext_WorkDirs(t *testing.T) {
	s, project, _ := newTestStore(t)
	writeJSON(t, filepath.Join(project, ".claude", "settings.json"),
		`{"permissions": {"additionalDirectories": ["../docs", "/opt/shared"]}}`)

	ctx, err := LoadContext(s, "", ContextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{project, filepath.Join(filepath.Dir(project), "docs"), "/opt/shared"}
	if diff := cmp.Diff(want, ctx.WorkDirs()); diff != "" {
		t.Errorf("work dirs mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	s, project, user := newTestStore(t)
	managed := writeManaged(t, "managed.yaml", "permissions:\n  deny: [\"Bash(curl:*)\", \"bad tool!\"]\n")
	writeJSON(t, filepath.Join(user, "settings.json"), `{"permissions": {"defaultMode": "yolo"}}`)
	writeJSON(t, filepath.Join(project, ".claude", "settings.json"),
		`{"permissions": {"allow": ["Bash(curl:*)"], "deny": ["Read", "Edit(", "Bash([)"]}}`)

	snap, err := s.Snapshot(managed)
	if err != nil {
		t.Fatal(err)
	}
	errs := Validate(snap)

	var fields []string
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	want := []string{
		"managed.version",
		"managed.permissions.deny[1]",
		"user.permissions.defaultMode",
		"project.permissions.deny[1]",
		"project.permissions.deny[2]",
		"merge",
	}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("validation fields mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_Clean(t *testing.T) {
	s, project, _ := newTestStore(t)
	writeJSON(t, filepath.Join(project, ".claude", "settings.json"),
		`{"permissions": {"allow": ["Bash(npm run:*)", "Edit(/src/**)"], "defaultMode": "acceptEdits"}}`)

	snap, err := s.Snapshot("")
	if err != nil {
		t.Fatal(err)
	}
	if errs := Validate(snap); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}
