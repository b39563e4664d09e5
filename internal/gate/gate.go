// Package gate enforces permission decisions for tool invocations: it runs
// the policy hook and the resolver, logs the outcome, and asks the user when
// a decision requires it.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aibox/toolperm/internal/decisionlog"
	"github.com/aibox/toolperm/internal/permission"
	"github.com/aibox/toolperm/internal/policy"
	"github.com/aibox/toolperm/internal/settings"
)

// Reasons recorded when the user answers a prompt.
const (
	ReasonUserApproved = "Approved by user"
	ReasonUserRejected = "Rejected by user"
	ReasonNoPrompter   = "Permission required but no prompt is available"
)

// ErrNotPersisted marks an Approve error where the rule was applied to the
// live context but could not be saved to its settings scope.
var ErrNotPersisted = errors.New("approved rule not persisted")

// DeniedError is returned by Enforce when a tool invocation may not run.
type DeniedError struct {
	Tool    string
	Content string
	Message string
	Reason  permission.Reason
}

func (e *DeniedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("use of %s denied", e.Tool)
}

// Result is the outcome of Evaluate.
type Result struct {
	Decision permission.Decision
	LogID    string // decision log entry, empty when not logged
}

// Gate evaluates tool invocations against a live permission context.
type Gate struct {
	mu       sync.RWMutex
	resolver *permission.Resolver
	pctx     *permission.Context
	engine   *policy.Engine
	logger   *decisionlog.Logger
	store    *settings.Store
}

// Option configures a Gate.
type Option func(*Gate)

// WithPolicy runs the Rego hook before rule resolution.
func WithPolicy(e *policy.Engine) Option {
	return func(g *Gate) { g.engine = e }
}

// WithLogger records every decision.
func WithLogger(l *decisionlog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithStore persists rules approved with a scope.
func WithStore(s *settings.Store) Option {
	return func(g *Gate) { g.store = s }
}

// New creates a Gate. A nil resolver uses permission.NewResolver defaults and
// a nil context starts empty.
func New(resolver *permission.Resolver, pctx *permission.Context, opts ...Option) *Gate {
	if resolver == nil {
		resolver = permission.NewResolver()
	}
	if pctx == nil {
		pctx = permission.EmptyContext()
	}
	g := &Gate{resolver: resolver, pctx: pctx}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Context returns the current permission context.
func (g *Gate) Context() *permission.Context {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pctx
}

// UpdateContext hot-swaps the permission context, for example after the
// settings watcher reloads. Session approvals not persisted to a scope are
// dropped.
func (g *Gate) UpdateContext(pctx *permission.Context) {
	if pctx == nil {
		pctx = permission.EmptyContext()
	}
	g.mu.Lock()
	g.pctx = pctx
	g.mu.Unlock()
	slog.Debug("gate context updated", "allow", len(pctx.AllowRules()), "deny", len(pctx.DenyRules()), "mode", pctx.Mode())
}

// Resolver returns the resolver the gate decides with.
func (g *Gate) Resolver() *permission.Resolver { return g.resolver }

// Evaluate decides a tool invocation and logs the decision.
func (g *Gate) Evaluate(ctx context.Context, toolName string, input permission.Input) (Result, error) {
	start := time.Now()
	tool := g.resolver.Tool(toolName)
	pctx := g.Context()

	d, err := g.engine.Check(ctx, tool, input, pctx)
	if err != nil {
		return Result{}, fmt.Errorf("policy check for %s: %w", toolName, err)
	}
	if d == nil {
		d = g.resolver.Decide(tool, input, pctx)
	}

	res := Result{Decision: d}
	res.LogID = g.log(tool, input, d, pctx.Mode(), time.Since(start))

	slog.Debug("tool decision", "tool", toolName, "behavior", d.Behavior(), "log_id", res.LogID)
	return res, nil
}

// Enforce evaluates an invocation and returns the input to run it with, or a
// *DeniedError. Ask decisions go through the prompter; a nil prompter
// denies them. An "allow always" answer whose rule cannot be saved still
// allows the invocation; the failure is logged as a warning.
func (g *Gate) Enforce(ctx context.Context, toolName string, input permission.Input, p Prompter) (permission.Input, error) {
	res, err := g.Evaluate(ctx, toolName, input)
	if err != nil {
		return nil, err
	}
	tool := g.resolver.Tool(toolName)

	switch d := res.Decision.(type) {
	case permission.Allow:
		if d.UpdatedInput != nil {
			return d.UpdatedInput, nil
		}
		return input, nil

	case permission.Deny:
		return nil, &DeniedError{Tool: toolName, Content: tool.Content(input), Message: d.Message, Reason: d.Reason}

	case permission.Ask:
		if p == nil {
			return nil, &DeniedError{
				Tool:    toolName,
				Content: tool.Content(input),
				Message: d.Message,
				Reason:  permission.OtherReason{Reason: ReasonNoPrompter},
			}
		}
		return g.prompt(ctx, tool, input, d, p)

	default:
		return nil, fmt.Errorf("unexpected decision %T", d)
	}
}

func (g *Gate) prompt(ctx context.Context, tool permission.Tool, input permission.Input, ask permission.Ask, p Prompter) (permission.Input, error) {
	start := time.Now()
	resp, err := p.Prompt(ctx, tool, input, ask)
	if err != nil {
		return nil, fmt.Errorf("prompting for %s: %w", tool.Name(), err)
	}

	mode := g.Context().Mode()
	switch resp.Answer {
	case AnswerAllowAlways:
		if err := g.Approve(ctx, resp.Rule, resp.Scope); err != nil {
			if !errors.Is(err, ErrNotPersisted) {
				return nil, err
			}
			slog.Warn("approved rule applies to this session only", "rule", resp.Rule.String(), "error", err)
		}
		fallthrough

	case AnswerAllowOnce:
		d := permission.Allow{UpdatedInput: input, Reason: permission.OtherReason{Reason: ReasonUserApproved}}
		g.log(tool, input, d, mode, time.Since(start))
		return input, nil

	default:
		reason := permission.OtherReason{Reason: ReasonUserRejected}
		d := permission.Deny{Message: ask.Message, Reason: reason}
		g.log(tool, input, d, mode, time.Since(start))
		return nil, &DeniedError{Tool: tool.Name(), Content: tool.Content(input), Message: ReasonUserRejected, Reason: reason}
	}
}

// Approve adds an allow rule to the live context and, when scope is set,
// persists it. A rule without a tool name is rejected. The rule stays active
// for the session even if persisting fails; that error wraps ErrNotPersisted.
func (g *Gate) Approve(ctx context.Context, rule permission.Rule, scope settings.Scope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rule.Tool == "" {
		return fmt.Errorf("cannot approve %q: rule has no tool name", rule.String())
	}

	rule.Source = permission.SourceSession
	if scope != "" {
		rule.Source = scope.Source()
	}

	g.mu.Lock()
	g.pctx = g.pctx.WithRules(permission.BehaviorAllow, rule)
	g.mu.Unlock()
	slog.Info("rule approved", "rule", rule.String(), "scope", scope)

	if scope == "" {
		return nil
	}
	if g.store == nil {
		return fmt.Errorf("%w: cannot save %s to %s settings without a settings store", ErrNotPersisted, rule, scope)
	}
	if _, err := g.store.AddRules(scope, permission.BehaviorAllow, rule); err != nil {
		return fmt.Errorf("%w: saving %s to %s settings: %w", ErrNotPersisted, rule, scope, err)
	}
	return nil
}

func (g *Gate) log(tool permission.Tool, input permission.Input, d permission.Decision, mode permission.Mode, took time.Duration) string {
	if g.logger == nil {
		return ""
	}
	e := decisionlog.NewEntry(tool, input, d, mode, took)
	e.PolicyVersion = g.engine.Version()
	id, err := g.logger.Log(e)
	if err != nil {
		slog.Error("logging decision", "tool", tool.Name(), "error", err)
		return ""
	}
	return id
}
