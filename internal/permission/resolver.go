package permission

import "fmt"

// ReadOnlyReason is the reason attached to decisions allowed because the tool
// classified the invocation as read-only.
const ReadOnlyReason = "Sandboxed command is allowed"

// Resolver turns rule matches, the tool's read-only classification and the
// permission mode into a Decision. It holds no per-call state; Decide is a
// pure function of its arguments.
type Resolver struct {
	registry  *Registry
	matchMode MatchMode
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithRegistry sets the tool registry used by DecideByName.
func WithRegistry(r *Registry) ResolverOption {
	return func(res *Resolver) { res.registry = r }
}

// WithMatchMode sets the rule granularity. The default is MatchGlob.
func WithMatchMode(m MatchMode) ResolverOption {
	return func(res *Resolver) { res.matchMode = m }
}

// NewResolver creates a resolver with the built-in tool registry.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		registry:  DefaultRegistry(),
		matchMode: MatchGlob,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Tool looks a tool up by name; unknown names resolve to a generic tool.
func (r *Resolver) Tool(name string) Tool {
	return r.registry.Lookup(name)
}

// MatchMode returns the configured match mode.
func (r *Resolver) MatchMode() MatchMode {
	return r.matchMode
}

// DecideByName is Decide for a tool looked up in the registry.
func (r *Resolver) DecideByName(name string, input Input, ctx *Context) Decision {
	return r.Decide(r.Tool(name), input, ctx)
}

// Decide evaluates one invocation. The first applicable step wins:
//  1. a matching deny rule denies,
//  2. a matching allow rule allows,
//  3. a read-only invocation is allowed,
//  4. the permission mode may allow or deny,
//  5. otherwise the user is asked, with rule suggestions.
func (r *Resolver) Decide(tool Tool, input Input, ctx *Context) Decision {
	if ctx == nil {
		ctx = EmptyContext()
	}
	content := tool.Content(input)
	matches := MatchingRules(tool, input, ctx, r.matchMode)

	if len(matches.Deny) > 0 {
		return Deny{
			Message: deniedMessage(tool, content),
			Reason:  RuleReason{Rule: matches.Deny[0]},
		}
	}

	if len(matches.Allow) > 0 {
		return Allow{
			UpdatedInput: input,
			Reason:       RuleReason{Rule: matches.Allow[0]},
		}
	}

	if tool.IsReadOnly(input) {
		return Allow{
			UpdatedInput: input,
			Reason:       OtherReason{Reason: ReadOnlyReason},
		}
	}

	if d := decideByMode(tool, input, content, ctx); d != nil {
		return d
	}

	return Ask{
		Message:     askMessage(tool, content),
		Suggestions: Suggest(tool, content),
	}
}

func decideByMode(tool Tool, input Input, content string, ctx *Context) Decision {
	switch ctx.Mode() {
	case ModeBypass:
		return Allow{UpdatedInput: input, Reason: ModeReason{Mode: ModeBypass}}
	case ModePlan:
		return Deny{
			Message: fmt.Sprintf("%s is not available in plan mode.", tool.Name()),
			Reason:  ModeReason{Mode: ModePlan},
		}
	case ModeAcceptEdits:
		if tool.ContentKind() == ContentPath && ctx.inWorkDir(content) {
			return Allow{UpdatedInput: input, Reason: ModeReason{Mode: ModeAcceptEdits}}
		}
	}
	return nil
}

func deniedMessage(tool Tool, content string) string {
	if content == "" {
		return fmt.Sprintf("Permission to use %s has been denied.", tool.Name())
	}
	return fmt.Sprintf("Permission to use %s with %s has been denied.",
		tool.Name(), describeContent(tool.ContentKind(), content))
}

func askMessage(tool Tool, content string) string {
	if content == "" {
		return fmt.Sprintf("The agent requested permission to use %s, but you haven't granted it yet.", tool.Name())
	}
	return fmt.Sprintf("The agent requested permission to use %s with %s, but you haven't granted it yet.",
		tool.Name(), describeContent(tool.ContentKind(), content))
}
