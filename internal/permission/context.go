package permission

import (
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// Mode is the session-wide permission mode. It only changes what happens when
// no rule matches and the tool is not read-only.
type Mode string

const (
	ModeDefault     Mode = "default"
	ModeAcceptEdits Mode = "acceptEdits"
	ModeBypass      Mode = "bypassPermissions"
	ModePlan        Mode = "plan"
)

// ParseMode validates a mode string. The empty string maps to ModeDefault.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeDefault, nil
	case ModeDefault, ModeAcceptEdits, ModeBypass, ModePlan:
		return m, nil
	default:
		return "", fmt.Errorf("unknown permission mode %q", s)
	}
}

// Context is the merged rule set a decision is evaluated against. It is
// immutable once built; the With* methods return modified copies.
type Context struct {
	allow    []Rule
	deny     []Rule
	mode     Mode
	workDirs []string

	// globs holds compiled command/domain patterns keyed by rule content.
	globs map[string]glob.Glob
}

// NewContext builds a context from allow and deny rules. Glob patterns are
// compiled once here; a pattern that fails to compile never matches.
func NewContext(allow, deny []Rule, mode Mode, workDirs ...string) *Context {
	if mode == "" {
		mode = ModeDefault
	}
	c := &Context{
		allow:    slices.Clone(allow),
		deny:     slices.Clone(deny),
		mode:     mode,
		workDirs: cleanDirs(workDirs),
		globs:    make(map[string]glob.Glob),
	}
	c.compile(c.allow)
	c.compile(c.deny)
	return c
}

// EmptyContext returns a context with no rules in default mode.
func EmptyContext() *Context {
	return NewContext(nil, nil, ModeDefault)
}

func (c *Context) compile(rules []Rule) {
	for _, r := range rules {
		if r.Kind != KindGlob {
			continue
		}
		if _, ok := c.globs[r.Content]; ok {
			continue
		}
		g, err := glob.Compile(r.Content)
		if err != nil {
			slog.Warn("ignoring invalid rule pattern", "rule", r.String(), "error", err)
			c.globs[r.Content] = nil
			continue
		}
		c.globs[r.Content] = g
	}
}

// AllowRules returns a copy of the allow rules in evaluation order.
func (c *Context) AllowRules() []Rule { return slices.Clone(c.allow) }

// DenyRules returns a copy of the deny rules in evaluation order.
func (c *Context) DenyRules() []Rule { return slices.Clone(c.deny) }

// Mode returns the permission mode.
func (c *Context) Mode() Mode { return c.mode }

// WorkDirs returns the directories edits are auto-accepted in under
// ModeAcceptEdits.
func (c *Context) WorkDirs() []string { return slices.Clone(c.workDirs) }

// WithRules returns a copy of the context with rules appended to the list for
// the given behavior. BehaviorAsk is not a rule list and returns c unchanged.
func (c *Context) WithRules(b Behavior, rules ...Rule) *Context {
	cp := c.clone()
	switch b {
	case BehaviorAllow:
		cp.allow = append(cp.allow, rules...)
	case BehaviorDeny:
		cp.deny = append(cp.deny, rules...)
	default:
		return c
	}
	cp.compile(rules)
	return cp
}

// WithMode returns a copy of the context using mode m.
func (c *Context) WithMode(m Mode) *Context {
	cp := c.clone()
	cp.mode = m
	return cp
}

func (c *Context) clone() *Context {
	return &Context{
		allow:    slices.Clone(c.allow),
		deny:     slices.Clone(c.deny),
		mode:     c.mode,
		workDirs: slices.Clone(c.workDirs),
		globs:    maps.Clone(c.globs),
	}
}

// inWorkDir reports whether path lies inside one of the working directories.
func (c *Context) inWorkDir(path string) bool {
	if path == "" || !filepath.IsAbs(path) {
		return false
	}
	for _, d := range c.workDirs {
		if path == d || strings.HasPrefix(path, strings.TrimSuffix(d, string(filepath.Separator))+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func cleanDirs(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, filepath.Clean(d))
		}
	}
	return out
}
