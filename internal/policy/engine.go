// Package policy evaluates organisation-supplied Rego rules against tool
// invocations before the permission rules are consulted.
package policy

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/aibox/toolperm/internal/permission"
)

// Query is the Rego rule the engine evaluates. It must be a set (or array)
// of denial messages.
const Query = "data.toolperm.deny"

// Input is the document exposed to Rego as `input`.
type Input struct {
	Tool     string           `json:"tool"`
	Content  string           `json:"content"`
	ReadOnly bool             `json:"read_only"`
	Mode     permission.Mode  `json:"mode"`
	Params   permission.Input `json:"params,omitempty"`
}

// Engine evaluates the deny query compiled from a directory of .rego files.
// An engine without Rego files is disabled and never denies.
type Engine struct {
	mu      sync.RWMutex
	query   *rego.PreparedEvalQuery
	version string
	files   int
}

// NewEngine loads every .rego file under dir. An empty dir or a directory
// with no Rego files yields a disabled engine.
func NewEngine(dir string) (*Engine, error) {
	e := &Engine{}
	if err := e.load(dir); err != nil {
		return nil, fmt.Errorf("initializing policy engine: %w", err)
	}
	if e.Enabled() {
		slog.Info("policy engine initialized", "rego_dir", dir, "files", e.files, "version", e.version)
	}
	return e, nil
}

// Reload recompiles the Rego files from dir. On failure the previous query
// stays in effect.
func (e *Engine) Reload(dir string) error {
	if err := e.load(dir); err != nil {
		return fmt.Errorf("reloading policy engine: %w", err)
	}
	slog.Info("policy engine reloaded", "rego_dir", dir, "version", e.Version())
	return nil
}

// Enabled reports whether any Rego policy is loaded.
func (e *Engine) Enabled() bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.query != nil
}

// Version is a short digest of the loaded Rego sources.
func (e *Engine) Version() string {
	if e == nil {
		return ""
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// Evaluate returns the denial messages produced for input, sorted. A
// disabled engine returns nil.
func (e *Engine) Evaluate(ctx context.Context, input Input) ([]string, error) {
	if e == nil {
		return nil, nil
	}
	e.mu.RLock()
	q := e.query
	e.mu.RUnlock()
	if q == nil {
		return nil, nil
	}

	rs, err := q.Eval(ctx, rego.EvalInput(toMap(input)))
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", Query, err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	var msgs []string
	switch v := rs[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, m := range v {
			msgs = append(msgs, fmt.Sprint(m))
		}
	case map[string]interface{}:
		for k := range v {
			msgs = append(msgs, k)
		}
	case string:
		if v != "" {
			msgs = append(msgs, v)
		}
	case bool:
		if v {
			msgs = append(msgs, "denied by policy")
		}
	}
	sort.Strings(msgs)
	return msgs, nil
}

// Check evaluates the policy for a tool invocation and returns a Deny
// decision when any message is produced, or nil otherwise.
func (e *Engine) Check(ctx context.Context, tool permission.Tool, in permission.Input, pctx *permission.Context) (permission.Decision, error) {
	if !e.Enabled() {
		return nil, nil
	}

	mode := permission.ModeDefault
	if pctx != nil {
		mode = pctx.Mode()
	}
	msgs, err := e.Evaluate(ctx, Input{
		Tool:     tool.Name(),
		Content:  tool.Content(in),
		ReadOnly: tool.IsReadOnly(in),
		Mode:     mode,
		Params:   in,
	})
	if err != nil || len(msgs) == 0 {
		return nil, err
	}

	slog.Debug("policy denied tool use", "tool", tool.Name(), "messages", msgs)
	return permission.Deny{
		Message: strings.Join(msgs, "; "),
		Reason:  permission.PolicyReason{Messages: msgs},
	}, nil
}

func (e *Engine) load(dir string) error {
	files, err := findRegoFiles(dir)
	if err != nil {
		return err
	}

	var (
		q   *rego.PreparedEvalQuery
		ver string
	)
	if len(files) > 0 {
		opts := []func(*rego.Rego){rego.Query(Query)}
		for name, src := range files {
			opts = append(opts, rego.Module(name, src))
		}
		pq, err := rego.New(opts...).PrepareForEval(context.Background())
		if err != nil {
			return fmt.Errorf("preparing OPA query: %w", err)
		}
		q = &pq
		ver = hashSources(files)
	}

	e.mu.Lock()
	e.query = q
	e.version = ver
	e.files = len(files)
	e.mu.Unlock()
	return nil
}

// findRegoFiles reads all .rego files under dir, keyed by relative path. A
// missing directory yields no files.
func findRegoFiles(dir string) (map[string]string, error) {
	files := make(map[string]string)
	if dir == "" {
		return files, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		slog.Debug("rego directory does not exist", "dir", dir)
		return files, nil
	}

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".rego") {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return fmt.Errorf("reading %s: %w", path, readErr)
		}
		rel, _ := filepath.Rel(dir, path)
		files[rel] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finding rego files in %s: %w", dir, err)
	}
	return files, nil
}

func toMap(in Input) map[string]interface{} {
	m := map[string]interface{}{
		"tool":      in.Tool,
		"content":   in.Content,
		"read_only": in.ReadOnly,
		"mode":      string(in.Mode),
	}
	if len(in.Params) > 0 {
		m["params"] = map[string]interface{}(in.Params)
	}
	return m
}

// hashSources digests the Rego sources in name order.
func hashSources(files map[string]string) string {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte{0})
		h.Write([]byte(files[n]))
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:8])
}
