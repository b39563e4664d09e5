package permission

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func rules(t *testing.T, src Source, specs ...string) []Rule {
	t.Helper()
	out := make([]Rule, 0, len(specs))
	for _, s := range specs {
		r, err := ParseRule(s, src)
		if err != nil {
			t.Fatalf("ParseRule(%q): %v", s, err)
		}
		out = append(out, r)
	}
	return out
}

func testMatchContext(t *testing.T) *Context {
	allow := rules(t, SourceProject,
		"Bash(git status:*)",
		"Bash(npm test)",
		"Bash(go * ./...)",
		"Edit(/src/**)",
		"WebFetch(domain:*.example.com)",
	)
	deny := rules(t, SourceUser,
		"Bash(rm:*)",
		"Edit(/src/secrets.env)",
	)
	return NewContext(allow, deny, ModeDefault)
}

func bash(cmd string) Input { return Input{"command": cmd} }

func TestMatchingRules(t *testing.T) {
	ctx := testMatchContext(t)
	reg := DefaultRegistry()

	tests := []struct {
		name      string
		tool      string
		input     Input
		mode      MatchMode
		wantAllow []string
		wantDeny  []string
	}{
		{
			name:      "exact rule in exact mode",
			tool:      ToolBash,
			input:     bash("  npm test  "),
			mode:      MatchExact,
			wantAllow: []string{"Bash(npm test)"},
		},
		{
			name:  "prefix rule ignored in exact mode",
			tool:  ToolBash,
			input: bash("git status -s"),
			mode:  MatchExact,
		},
		{
			name:      "prefix rule in prefix mode",
			tool:      ToolBash,
			input:     bash("git status -s"),
			mode:      MatchPrefix,
			wantAllow: []string{"Bash(git status:*)"},
		},
		{
			name:      "prefix rule matches bare prefix",
			tool:      ToolBash,
			input:     bash("git status"),
			mode:      MatchGlob,
			wantAllow: []string{"Bash(git status:*)"},
		},
		{
			name:  "prefix rule needs word boundary",
			tool:  ToolBash,
			input: bash("git statusx"),
			mode:  MatchGlob,
		},
		{
			name:      "command glob spans spaces",
			tool:      ToolBash,
			input:     bash("go test -race ./..."),
			mode:      MatchGlob,
			wantAllow: []string{"Bash(go * ./...)"},
		},
		{
			name:  "glob rule ignored in prefix mode",
			tool:  ToolBash,
			input: bash("go test -race ./..."),
			mode:  MatchPrefix,
		},
		{
			name:     "compound command never matched by broad allow rule",
			tool:     ToolBash,
			input:    bash("git status && rm -rf /"),
			mode:     MatchGlob,
			wantDeny: []string{"Bash(rm:*)"},
		},
		{
			name:     "deny prefix across a tab",
			tool:     ToolBash,
			input:    bash("rm\t-rf /tmp/x"),
			mode:     MatchPrefix,
			wantDeny: []string{"Bash(rm:*)"},
		},
		{
			name:     "deny prefix across doubled spaces in a segment",
			tool:     ToolBash,
			input:    bash("ls && rm   -rf /tmp/x"),
			mode:     MatchGlob,
			wantDeny: []string{"Bash(rm:*)"},
		},
		{
			name:      "allow prefix across mixed blanks",
			tool:      ToolBash,
			input:     bash("git \t status  --short"),
			mode:      MatchPrefix,
			wantAllow: []string{"Bash(git status:*)"},
		},
		{
			name:      "exact rule across a tab",
			tool:      ToolBash,
			input:     bash("npm\ttest"),
			mode:      MatchExact,
			wantAllow: []string{"Bash(npm test)"},
		},
		{
			name:  "quoted blanks are not collapsed",
			tool:  ToolBash,
			input: bash(`npm "test  "`),
			mode:  MatchExact,
		},
		{
			name:      "path glob",
			tool:      ToolEdit,
			input:     Input{"file_path": "/src/pkg/a.go"},
			mode:      MatchGlob,
			wantAllow: []string{"Edit(/src/**)"},
		},
		{
			name:      "path deny and allow both reported",
			tool:      ToolEdit,
			input:     Input{"file_path": "/src/secrets.env"},
			mode:      MatchGlob,
			wantAllow: []string{"Edit(/src/**)"},
			wantDeny:  []string{"Edit(/src/secrets.env)"},
		},
		{
			name:      "domain glob",
			tool:      ToolWebFetch,
			input:     Input{"url": "https://API.example.com/v1"},
			mode:      MatchGlob,
			wantAllow: []string{"WebFetch(domain:*.example.com)"},
		},
		{
			name:  "other tool not matched",
			tool:  ToolWrite,
			input: Input{"file_path": "/src/pkg/a.go"},
			mode:  MatchGlob,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := MatchingRules(reg.Lookup(tt.tool), tt.input, ctx, tt.mode)
			if diff := cmp.Diff(tt.wantAllow, ruleStrings(res.Allow)); diff != "" {
				t.Errorf("allow mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantDeny, ruleStrings(res.Deny)); diff != "" {
				t.Errorf("deny mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMatchingRules_Wildcard(t *testing.T) {
	ctx := NewContext(nil, rules(t, SourcePolicy, "WebFetch"), ModeDefault)
	tool := DefaultRegistry().Lookup(ToolWebFetch)

	for _, mode := range []MatchMode{MatchExact, MatchPrefix, MatchGlob} {
		res := MatchingRules(tool, Input{"url": "https://anything.test"}, ctx, mode)
		if len(res.Deny) != 1 {
			t.Errorf("mode %s: wildcard deny should match, got %v", mode, res.Deny)
		}
	}
}

func TestMatchingRules_NilContext(t *testing.T) {
	res := MatchingRules(DefaultRegistry().Lookup(ToolBash), bash("ls"), nil, MatchGlob)
	if len(res.Allow) != 0 || len(res.Deny) != 0 {
		t.Errorf("nil context should match nothing, got %+v", res)
	}
}

func TestParseMatchMode(t *testing.T) {
	if m, err := ParseMatchMode(""); err != nil || m != MatchGlob {
		t.Errorf("ParseMatchMode(\"\") = %q, %v", m, err)
	}
	if _, err := ParseMatchMode("fuzzy"); err == nil {
		t.Error("unknown match mode should fail")
	}
}

func ruleStrings(rs []Rule) []string {
	if len(rs) == 0 {
		return nil
	}
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.String()
	}
	return out
}
