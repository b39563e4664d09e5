package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aibox/toolperm/internal/permission"
	"github.com/aibox/toolperm/internal/settings"
)

// testEnv writes a config file pointing every path into temp directories and
// returns the project root.
func testEnv(t *testing.T) (project string) {
	t.Helper()
	home := t.TempDir()
	project = t.TempDir()
	t.Setenv("HOME", home)

	cfg := "project_root: " + project + "\n" +
		"user_dir: " + filepath.Join(home, ".claude") + "\n" +
		"managed_policy: " + filepath.Join(home, "managed.yaml") + "\n" +
		"decision_log:\n  path: " + filepath.Join(home, "decisions.jsonl") + "\n  flush_interval: 10ms\n"
	path := filepath.Join(home, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(resetFlags)
	resetFlags()
	cfgFile = path
	return project
}

func resetFlags() {
	Cfg = nil
	cfgFile, projectFlag = "", ""
	checkInput, checkMode, checkScope = "", "", string(settings.ScopeLocal)
	checkAllow, checkDeny, checkInteractive = nil, nil, false
	rulesListScope, rulesScope, rulesDeny = "", string(settings.ScopeLocal), false
	logFile, logEntryID, logEntryLine = "", "", -1
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--config", cfgFile))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBuildInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
		raw  string
		want permission.Input
	}{
		{"bash", []string{"Bash", "ls -la"}, "", permission.Input{"command": "ls -la"}},
		{"read", []string{"Read", "main.go"}, "", permission.Input{"file_path": "main.go"}},
		{"fetch", []string{"WebFetch", "https://go.dev"}, "", permission.Input{"url": "https://go.dev"}},
		{"json", []string{"Edit"}, `{"file_path":"a.go","old_string":"x"}`, permission.Input{"file_path": "a.go", "old_string": "x"}},
		{"arg wins", []string{"Bash", "make"}, `{"command":"rm -rf /"}`, permission.Input{"command": "make"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildInput(tt.args[0], tt.args, tt.raw)
			if err != nil {
				t.Fatalf("buildInput: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("input mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := buildInput("mcp__db__query", []string{"mcp__db__query", "select 1"}, ""); err == nil {
		t.Error("content for a generic tool should be rejected")
	}
	if _, err := buildInput("Bash", []string{"Bash"}, "[1,2]"); err == nil {
		t.Error("non-object --input should be rejected")
	}
	for _, raw := range []string{"null", " null "} {
		if _, err := buildInput("Bash", []string{"Bash", "ls"}, raw); err == nil {
			t.Errorf("--input %q should be rejected", raw)
		}
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/dev")
	tests := map[string]string{
		"~":          "/home/dev",
		"~/.claude":  "/home/dev/.claude",
		"/etc/x":     "/etc/x",
		"rel/~/path": "rel/~/path",
	}
	for in, want := range tests {
		if got := expandHome(in); got != want {
			t.Errorf("expandHome(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRulesAndCheck(t *testing.T) {
	project := testEnv(t)

	out, err := execute(t, "rules", "add", "--scope", "project", "Bash(npm run:*)")
	if err != nil {
		t.Fatalf("rules add: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Added 1 allow rule(s)") {
		t.Errorf("rules add output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(project, ".claude", "settings.json")); err != nil {
		t.Errorf("project settings not written: %v", err)
	}

	resetFlagsKeepConfig(t)
	out, err = execute(t, "check", "Bash", "npm run build")
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	var got struct {
		Tool     string `json:"tool"`
		Decision struct {
			Behavior string `json:"behavior"`
		} `json:"decision"`
		LogID string `json:"log_id"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("check output is not JSON: %v\n%s", err, out)
	}
	if got.Decision.Behavior != "allow" || got.LogID == "" {
		t.Errorf("check = %+v", got)
	}

	resetFlagsKeepConfig(t)
	out, err = execute(t, "check", "Bash", "npm run build", "--deny", "Bash(npm:*)")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"behavior": "deny"`) {
		t.Errorf("cli deny rule should win: %s", out)
	}

	resetFlagsKeepConfig(t)
	out, err = execute(t, "log", "explain", "--id", got.LogID)
	if err != nil {
		t.Fatalf("log explain: %v\n%s", err, out)
	}
	if !strings.Contains(out, "matched rule Bash(npm run:*)") || !strings.Contains(out, "projectSettings") {
		t.Errorf("explain output = %s", out)
	}

	resetFlagsKeepConfig(t)
	out, err = execute(t, "log", "verify")
	if err != nil {
		t.Fatalf("log verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 entries verified") {
		t.Errorf("verify output = %s", out)
	}
}

func resetFlagsKeepConfig(t *testing.T) {
	t.Helper()
	path := cfgFile
	resetFlags()
	cfgFile = path
}

func TestValidateCommand(t *testing.T) {
	project := testEnv(t)
	writeSettings(t, filepath.Join(project, ".claude", "settings.json"), `{"permissions":{"allow":["Bash(npm:*)","Bash(oops"]}}`)

	out, err := execute(t, "validate")
	if err == nil {
		t.Fatalf("validate should fail on a malformed rule:\n%s", out)
	}
	if !strings.Contains(out, "project.permissions.allow[1]") {
		t.Errorf("validate output = %s", out)
	}
}

func TestRulesSuggest(t *testing.T) {
	testEnv(t)
	out, err := execute(t, "rules", "suggest", "Bash", "git push origin main")
	if err != nil {
		t.Fatal(err)
	}
	want := "Bash(git push origin main)\nBash(git push:*)\n"
	if out != want {
		t.Errorf("suggest output = %q, want %q", out, want)
	}
}

func writeSettings(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
