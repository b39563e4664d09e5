package permission

import (
	"path/filepath"
	"strings"
)

// subcommandCLIs are programs whose first argument selects the operation, so
// a useful prefix rule spans two tokens ("git commit", "npm run").
var subcommandCLIs = map[string]bool{
	"cargo":   true,
	"docker":  true,
	"gh":      true,
	"git":     true,
	"go":      true,
	"helm":    true,
	"kubectl": true,
	"make":    true,
	"npm":     true,
	"pip":     true,
	"pnpm":    true,
	"poetry":  true,
	"uv":      true,
	"yarn":    true,
}

// SuggestionSource is where suggested rules are saved by default.
const SuggestionSource = SourceLocal

// Suggest proposes rules that would pre-authorize invocations similar to the
// one with the given content. The result is never empty: without usable
// content it suggests a wildcard rule for the tool.
func Suggest(tool Tool, content string) []Rule {
	content = strings.TrimSpace(content)
	name := tool.Name()
	if content == "" {
		return []Rule{{Tool: name, Kind: KindWildcard, Source: SuggestionSource}}
	}

	switch tool.ContentKind() {
	case ContentCommand:
		return suggestCommand(name, content)
	case ContentPath:
		return suggestPath(name, content)
	case ContentDomain:
		return []Rule{{Tool: name, Kind: KindExact, Content: content, Source: SuggestionSource}}
	default:
		return []Rule{{Tool: name, Kind: KindWildcard, Source: SuggestionSource}}
	}
}

func suggestCommand(tool, command string) []Rule {
	var rules []Rule
	if literal(command) {
		rules = append(rules, Rule{Tool: tool, Kind: KindExact, Content: command, Source: SuggestionSource})
	}
	seen := map[string]bool{}

	for _, seg := range splitCommand(command) {
		prefix := commandPrefix(commandFields(seg))
		if prefix == "" || prefix == command || seen[prefix] {
			continue
		}
		seen[prefix] = true
		rules = append(rules, Rule{Tool: tool, Kind: KindPrefix, Content: prefix, Source: SuggestionSource})
	}
	if len(rules) == 0 {
		return []Rule{{Tool: tool, Kind: KindWildcard, Source: SuggestionSource}}
	}
	return rules
}

// literal reports whether content would parse back as an exact rule. Content
// with glob metacharacters would be reloaded as a much broader glob rule.
func literal(content string) bool {
	return !strings.ContainsAny(content, "*?[") && !strings.HasSuffix(content, prefixSuffix)
}

// commandPrefix returns the program name, extended by the subcommand for CLIs
// such as git and npm. Leading environment assignments are skipped.
func commandPrefix(fields []string) string {
	for len(fields) > 0 && isAssignment(fields[0]) {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return ""
	}
	prog := fields[0]
	if subcommandCLIs[prog] && len(fields) > 1 && !strings.HasPrefix(fields[1], "-") {
		return prog + " " + fields[1]
	}
	return prog
}

func isAssignment(field string) bool {
	eq := strings.IndexByte(field, '=')
	return eq > 0 && validToolName(field[:eq])
}

func suggestPath(tool, path string) []Rule {
	var rules []Rule
	if literal(path) {
		rules = append(rules, Rule{Tool: tool, Kind: KindExact, Content: path, Source: SuggestionSource})
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != path {
		pattern := strings.TrimSuffix(dir, "/") + "/**"
		rules = append(rules, Rule{Tool: tool, Kind: KindGlob, Content: pattern, Source: SuggestionSource})
	}
	if len(rules) == 0 {
		return []Rule{{Tool: tool, Kind: KindWildcard, Source: SuggestionSource}}
	}
	return rules
}
