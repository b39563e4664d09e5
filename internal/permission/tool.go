package permission

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ContentKind describes what a tool's match content represents.
type ContentKind int

const (
	ContentNone    ContentKind = iota // tool has no matchable content
	ContentCommand                    // shell command line
	ContentPath                       // filesystem path
	ContentDomain                     // "domain:<host>"
	ContentQuery                      // free-form query text
)

// Input is the per-tool invocation payload as sent by the agent.
type Input map[string]any

// String returns the string value stored under key, or "" if the key is
// missing or not a string.
func (in Input) String(key string) string {
	if in == nil {
		return ""
	}
	s, _ := in[key].(string)
	return s
}

// Tool is a capability the agent can invoke.
type Tool interface {
	Name() string
	ContentKind() ContentKind
	// Content extracts the command, path or domain compared against rules.
	Content(input Input) string
	IsReadOnly(input Input) bool
}

// Built-in tool names.
const (
	ToolBash         = "Bash"
	ToolRead         = "Read"
	ToolGlob         = "Glob"
	ToolGrep         = "Grep"
	ToolLS           = "LS"
	ToolEdit         = "Edit"
	ToolMultiEdit    = "MultiEdit"
	ToolWrite        = "Write"
	ToolNotebookEdit = "NotebookEdit"
	ToolWebFetch     = "WebFetch"
	ToolWebSearch    = "WebSearch"
)

type bashTool struct{}

func (bashTool) Name() string             { return ToolBash }
func (bashTool) ContentKind() ContentKind { return ContentCommand }

func (bashTool) Content(input Input) string {
	return strings.TrimSpace(input.String("command"))
}

func (t bashTool) IsReadOnly(input Input) bool {
	return isReadOnlyCommand(t.Content(input))
}

// pathTool reads or writes a single filesystem location.
type pathTool struct {
	name     string
	fields   []string // input keys tried in order
	readOnly bool
}

func (t pathTool) Name() string             { return t.name }
func (t pathTool) ContentKind() ContentKind { return ContentPath }
func (t pathTool) IsReadOnly(Input) bool    { return t.readOnly }

func (t pathTool) Content(input Input) string {
	for _, f := range t.fields {
		if p := strings.TrimSpace(input.String(f)); p != "" {
			return filepath.Clean(p)
		}
	}
	return ""
}

type webFetchTool struct{}

func (webFetchTool) Name() string             { return ToolWebFetch }
func (webFetchTool) ContentKind() ContentKind { return ContentDomain }
func (webFetchTool) IsReadOnly(Input) bool    { return false }

func (webFetchTool) Content(input Input) string {
	raw := strings.TrimSpace(input.String("url"))
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return "domain:" + strings.ToLower(u.Hostname())
}

type webSearchTool struct{}

func (webSearchTool) Name() string             { return ToolWebSearch }
func (webSearchTool) ContentKind() ContentKind { return ContentQuery }
func (webSearchTool) IsReadOnly(Input) bool    { return true }

func (webSearchTool) Content(input Input) string {
	return strings.TrimSpace(input.String("query"))
}

// genericTool stands in for tools the registry does not know, such as MCP
// server tools. It only matches wildcard rules and is never read-only.
type genericTool struct {
	name string
}

func (t genericTool) Name() string             { return t.name }
func (t genericTool) ContentKind() ContentKind { return ContentNone }
func (t genericTool) Content(Input) string     { return "" }
func (t genericTool) IsReadOnly(Input) bool    { return false }

// GenericTool returns a content-less, never read-only tool with the given name.
func GenericTool(name string) Tool {
	return genericTool{name: name}
}

// Registry maps tool names to their implementations.
// Register is not safe for concurrent use with Lookup.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// DefaultRegistry returns a registry of the built-in tools.
func DefaultRegistry() *Registry {
	return NewRegistry(
		bashTool{},
		pathTool{name: ToolRead, fields: []string{"file_path"}, readOnly: true},
		pathTool{name: ToolGlob, fields: []string{"path"}, readOnly: true},
		pathTool{name: ToolGrep, fields: []string{"path"}, readOnly: true},
		pathTool{name: ToolLS, fields: []string{"path"}, readOnly: true},
		pathTool{name: ToolEdit, fields: []string{"file_path"}},
		pathTool{name: ToolMultiEdit, fields: []string{"file_path"}},
		pathTool{name: ToolWrite, fields: []string{"file_path"}},
		pathTool{name: ToolNotebookEdit, fields: []string{"notebook_path"}},
		webFetchTool{},
		webSearchTool{},
	)
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Lookup returns the tool with the given name, or a generic tool if the name
// is unknown. It never returns nil.
func (r *Registry) Lookup(name string) Tool {
	if r != nil {
		if t, ok := r.tools[name]; ok {
			return t
		}
	}
	return genericTool{name: name}
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}

// describeContent renders the invocation content for user-facing messages.
func describeContent(kind ContentKind, content string) string {
	switch kind {
	case ContentCommand:
		return fmt.Sprintf("command %q", content)
	case ContentPath:
		return fmt.Sprintf("path %q", content)
	case ContentDomain:
		return strings.TrimPrefix(content, "domain:")
	default:
		return fmt.Sprintf("%q", content)
	}
}
