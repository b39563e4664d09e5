package permission

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchMode bounds which rule kinds take part in matching.
type MatchMode string

const (
	// MatchExact compares wildcard and exact rules only.
	MatchExact MatchMode = "exact"
	// MatchPrefix adds prefix rules.
	MatchPrefix MatchMode = "prefix"
	// MatchGlob adds glob rules. This is the broadest mode.
	MatchGlob MatchMode = "glob"
)

// ParseMatchMode validates a match mode string. The empty string maps to
// MatchGlob.
func ParseMatchMode(s string) (MatchMode, error) {
	switch m := MatchMode(s); m {
	case "":
		return MatchGlob, nil
	case MatchExact, MatchPrefix, MatchGlob:
		return m, nil
	default:
		return "", fmt.Errorf("unknown match mode %q", s)
	}
}

func (m MatchMode) enables(k RuleKind) bool {
	switch k {
	case KindWildcard, KindExact:
		return true
	case KindPrefix:
		return m == MatchPrefix || m == MatchGlob
	case KindGlob:
		return m == MatchGlob
	default:
		return false
	}
}

// MatchResult holds the rules that matched an invocation, in configuration
// order.
type MatchResult struct {
	Allow []Rule
	Deny  []Rule
}

// MatchingRules returns the allow and deny rules of ctx that match the
// invocation of tool with input.
//
// For shell commands made of several simple commands, prefix and glob allow
// rules only match when they match every segment, so "git status:*" never
// authorizes "git status && rm -rf ~". Deny rules match when they match the
// whole command or any segment.
func MatchingRules(tool Tool, input Input, ctx *Context, mode MatchMode) MatchResult {
	if ctx == nil {
		return MatchResult{}
	}
	kind := tool.ContentKind()
	content := strings.TrimSpace(tool.Content(input))

	var segments []string
	if kind == ContentCommand {
		segments = splitCommand(content)
		for i, seg := range segments {
			segments[i] = normalizeCommand(seg)
		}
		content = normalizeCommand(content)
	}

	var res MatchResult
	for _, r := range ctx.deny {
		if r.Tool != tool.Name() || !mode.enables(r.Kind) {
			continue
		}
		if ctx.matchDeny(r, kind, content, segments) {
			res.Deny = append(res.Deny, r)
		}
	}
	for _, r := range ctx.allow {
		if r.Tool != tool.Name() || !mode.enables(r.Kind) {
			continue
		}
		if ctx.matchAllow(r, kind, content, segments) {
			res.Allow = append(res.Allow, r)
		}
	}
	return res
}

func (c *Context) matchDeny(r Rule, kind ContentKind, content string, segments []string) bool {
	if c.matchContent(r, kind, content) {
		return true
	}
	if len(segments) < 2 {
		return false
	}
	for _, seg := range segments {
		if c.matchContent(r, kind, seg) {
			return true
		}
	}
	return false
}

func (c *Context) matchAllow(r Rule, kind ContentKind, content string, segments []string) bool {
	if r.Kind == KindWildcard || r.Kind == KindExact || len(segments) < 2 {
		return c.matchContent(r, kind, content)
	}
	for _, seg := range segments {
		if !c.matchContent(r, kind, seg) {
			return false
		}
	}
	return true
}

// matchContent compares a single rule against trimmed content. Command content
// arrives with its blanks already collapsed by normalizeCommand.
func (c *Context) matchContent(r Rule, kind ContentKind, content string) bool {
	want := r.Content
	if kind == ContentCommand && (r.Kind == KindExact || r.Kind == KindPrefix) {
		want = normalizeCommand(want)
	}
	switch r.Kind {
	case KindWildcard:
		return true
	case KindExact:
		return content == want
	case KindPrefix:
		return content == want || strings.HasPrefix(content, want+" ")
	case KindGlob:
		if content == "" {
			return false
		}
		if kind == ContentPath {
			ok, err := doublestar.Match(r.Content, content)
			return err == nil && ok
		}
		g := c.globs[r.Content]
		return g != nil && g.Match(content)
	default:
		return false
	}
}
