// Package permission decides whether a tool invocation requested by the agent
// is allowed, denied, or needs the user's confirmation.
package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Behavior is the verdict carried by a rule list or a decision.
type Behavior string

const (
	BehaviorAllow Behavior = "allow"
	BehaviorDeny  Behavior = "deny"
	BehaviorAsk   Behavior = "ask"
)

// Source identifies the configuration tier a rule was loaded from.
type Source string

const (
	SourcePolicy  Source = "policySettings"
	SourceUser    Source = "userSettings"
	SourceProject Source = "projectSettings"
	SourceLocal   Source = "localSettings"
	SourceCLI     Source = "cliArg"
	SourceSession Source = "session"
)

// RuleKind classifies how a rule's content is compared against an invocation.
type RuleKind int

const (
	KindWildcard RuleKind = iota // no content; matches every invocation of the tool
	KindExact                    // content must equal the invocation content
	KindPrefix                   // written Tool(prefix:*)
	KindGlob                     // content contains glob metacharacters
)

func (k RuleKind) String() string {
	switch k {
	case KindWildcard:
		return "wildcard"
	case KindExact:
		return "exact"
	case KindPrefix:
		return "prefix"
	case KindGlob:
		return "glob"
	default:
		return fmt.Sprintf("RuleKind(%d)", int(k))
	}
}

// prefixSuffix marks a prefix rule, e.g. Bash(npm run:*).
const prefixSuffix = ":*"

// Rule is a single allow or deny directive scoped to a tool.
type Rule struct {
	Tool    string
	Kind    RuleKind
	Content string // for KindPrefix, the prefix without the trailing ":*"
	Source  Source
}

// Parse errors.
var (
	ErrEmptyRule   = errors.New("permission: empty rule")
	ErrInvalidTool = errors.New("permission: invalid tool name")
)

// ParseError reports a rule string that could not be parsed.
type ParseError struct {
	Rule string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing rule %q: %v", e.Rule, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseRule parses the textual form of a rule: "Tool", "Tool(content)" or
// "Tool(prefix:*)". An empty content, "()" or "(*)", yields a wildcard rule.
func ParseRule(s string, source Source) (Rule, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return Rule{}, &ParseError{Rule: raw, Err: ErrEmptyRule}
	}

	open := strings.IndexByte(s, '(')
	if open < 0 {
		if !validToolName(s) {
			return Rule{}, &ParseError{Rule: raw, Err: ErrInvalidTool}
		}
		return Rule{Tool: s, Kind: KindWildcard, Source: source}, nil
	}

	if !strings.HasSuffix(s, ")") {
		return Rule{}, &ParseError{Rule: raw, Err: errors.New("missing closing parenthesis")}
	}

	tool := strings.TrimSpace(s[:open])
	if !validToolName(tool) {
		return Rule{}, &ParseError{Rule: raw, Err: ErrInvalidTool}
	}

	content := strings.TrimSpace(s[open+1 : len(s)-1])
	r := Rule{Tool: tool, Source: source}

	switch {
	case content == "" || content == "*":
		r.Kind = KindWildcard
	case strings.HasSuffix(content, prefixSuffix):
		r.Content = strings.TrimSpace(strings.TrimSuffix(content, prefixSuffix))
		r.Kind = KindPrefix
		if r.Content == "" {
			r.Kind = KindWildcard
		}
	case strings.ContainsAny(content, "*?["):
		if _, err := glob.Compile(content); err != nil {
			return Rule{}, &ParseError{Rule: raw, Err: fmt.Errorf("invalid pattern: %w", err)}
		}
		r.Kind = KindGlob
		r.Content = content
	default:
		r.Kind = KindExact
		r.Content = content
	}

	return r, nil
}

// MustParseRule is like ParseRule but panics on error. Intended for tests and
// static defaults.
func MustParseRule(s string, source Source) Rule {
	r, err := ParseRule(s, source)
	if err != nil {
		panic(err)
	}
	return r
}

// ParseRules parses a list of rule strings, returning the rules that parsed and
// the errors for those that did not.
func ParseRules(specs []string, source Source) ([]Rule, []error) {
	rules := make([]Rule, 0, len(specs))
	var errs []error
	for _, s := range specs {
		r, err := ParseRule(s, source)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, r)
	}
	return rules, errs
}

// String returns the textual form accepted by ParseRule.
func (r Rule) String() string {
	switch r.Kind {
	case KindWildcard:
		return r.Tool
	case KindPrefix:
		return r.Tool + "(" + r.Content + prefixSuffix + ")"
	default:
		return r.Tool + "(" + r.Content + ")"
	}
}

// Equivalent reports whether two rules have the same tool, kind and content,
// ignoring where they were loaded from.
func (r Rule) Equivalent(other Rule) bool {
	return r.Tool == other.Tool && r.Kind == other.Kind && r.Content == other.Content
}

// MarshalJSON encodes the rule in the {toolName, ruleContent} shape used by
// settings files, plus its kind and source.
func (r Rule) MarshalJSON() ([]byte, error) {
	out := struct {
		ToolName    string `json:"toolName"`
		RuleContent string `json:"ruleContent,omitempty"`
		Kind        string `json:"kind"`
		Source      Source `json:"source,omitempty"`
	}{
		ToolName: r.Tool,
		Kind:     r.Kind.String(),
		Source:   r.Source,
	}
	switch r.Kind {
	case KindPrefix:
		out.RuleContent = r.Content + prefixSuffix
	case KindExact, KindGlob:
		out.RuleContent = r.Content
	}
	return json.Marshal(out)
}

func validToolName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.':
		default:
			return false
		}
	}
	return true
}
