package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/aibox/toolperm/internal/gate"
	"github.com/aibox/toolperm/internal/permission"
	"github.com/aibox/toolperm/internal/settings"
	"github.com/spf13/cobra"
)

// Flag variables for check.
var (
	checkInput       string
	checkMode        string
	checkAllow       []string
	checkDeny        []string
	checkInteractive bool
	checkScope       string
)

var checkCmd = &cobra.Command{
	Use:   "check <tool> [content]",
	Short: "Decide whether a tool invocation is allowed",
	Long: `Check evaluates one tool invocation against the merged rules and prints
the decision as JSON.

The content argument fills the field the tool inspects (command for Bash,
file_path for Read/Edit/Write, url for WebFetch, ...). Use --input to pass
the full tool input as a JSON object instead.

With --interactive, an ask decision prompts on the terminal and approved
rules are saved to --scope.

Examples:
  toolperm check Bash "npm run test"
  toolperm check Read src/main.go
  toolperm check WebFetch --input '{"url":"https://go.dev/doc"}'
  toolperm check Bash "make build" --interactive --scope project`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkInput, "input", "", "tool input as a JSON object")
	checkCmd.Flags().StringVar(&checkMode, "mode", "", "permission mode: default, acceptEdits, bypassPermissions, or plan")
	checkCmd.Flags().StringArrayVar(&checkAllow, "allow", nil, "extra allow rule for this invocation (repeatable)")
	checkCmd.Flags().StringArrayVar(&checkDeny, "deny", nil, "extra deny rule for this invocation (repeatable)")
	checkCmd.Flags().BoolVarP(&checkInteractive, "interactive", "i", false, "prompt when the decision is ask")
	checkCmd.Flags().StringVar(&checkScope, "scope", string(settings.ScopeLocal), "settings scope for rules approved at the prompt (local, project, user, or session)")

	rootCmd.AddCommand(checkCmd)
}

// contentFields names the input key each built-in tool reads.
var contentFields = map[string]string{
	permission.ToolBash:         "command",
	permission.ToolRead:         "file_path",
	permission.ToolEdit:         "file_path",
	permission.ToolMultiEdit:    "file_path",
	permission.ToolWrite:        "file_path",
	permission.ToolNotebookEdit: "notebook_path",
	permission.ToolGlob:         "path",
	permission.ToolGrep:         "path",
	permission.ToolLS:           "path",
	permission.ToolWebFetch:     "url",
	permission.ToolWebSearch:    "query",
}

// buildInput assembles the tool input from --input and the content argument.
// The argument wins over the same key in --input.
func buildInput(tool string, args []string, raw string) (permission.Input, error) {
	in := permission.Input{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &in); err != nil {
			return nil, fmt.Errorf("--input must be a JSON object: %w", err)
		}
		if in == nil {
			return nil, fmt.Errorf("--input must be a JSON object, got %s", raw)
		}
	}
	if len(args) > 1 {
		field, ok := contentFields[tool]
		if !ok {
			return nil, fmt.Errorf("tool %s takes no content argument; use --input", tool)
		}
		in[field] = args[1]
	}
	return in, nil
}

type checkOutput struct {
	Tool     string              `json:"tool"`
	Content  string              `json:"content,omitempty"`
	Decision permission.Decision `json:"decision"`
	LogID    string              `json:"log_id,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	toolName := args[0]
	in, err := buildInput(toolName, args, checkInput)
	if err != nil {
		return err
	}

	opts, err := contextOptions(cfg, checkMode, checkAllow, checkDeny)
	if err != nil {
		return err
	}
	s, err := openSession(cfg, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if checkInteractive {
		return enforceInteractive(cmd, s, toolName, in)
	}

	res, err := s.gate.Evaluate(cmd.Context(), toolName, in)
	if err != nil {
		return err
	}
	out := checkOutput{
		Tool:     toolName,
		Content:  s.gate.Resolver().Tool(toolName).Content(in),
		Decision: res.Decision,
		LogID:    res.LogID,
	}
	return printJSON(cmd, out)
}

func enforceInteractive(cmd *cobra.Command, s *session, toolName string, in permission.Input) error {
	var scope settings.Scope
	if checkScope != "session" {
		var err error
		if scope, err = settings.ParseScope(checkScope); err != nil {
			return err
		}
	}

	p := &gate.TerminalPrompter{In: os.Stdin, Out: cmd.ErrOrStderr(), Scope: scope}
	updated, err := s.gate.Enforce(cmd.Context(), toolName, in, p)
	var denied *gate.DeniedError
	if errors.As(err, &denied) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Denied: %s\n", denied.Message)
		return fmt.Errorf("%s denied", toolName)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Allowed.")
	return printJSON(cmd, updated)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
