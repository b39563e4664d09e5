package cmd

import (
	"fmt"

	"github.com/aibox/toolperm/internal/permission"
	"github.com/aibox/toolperm/internal/settings"
	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List and edit permission rules",
	Long: `Rules lists the effective allow and deny rules and edits the rules
stored in one settings scope:

  local    <project>/.claude/settings.local.json
  project  <project>/.claude/settings.json
  user     ~/.claude/settings.json

Examples:
  toolperm rules list
  toolperm rules list --scope project
  toolperm rules add "Bash(npm run:*)" "Read(src/**)"
  toolperm rules add --deny --scope project "Bash(rm:*)"
  toolperm rules remove "Bash(npm run:*)"
  toolperm rules suggest Bash "git push origin main"`,
}

// Flag variables for rules subcommands.
var (
	rulesListScope string
	rulesScope     string
	rulesDeny      bool
)

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List effective rules, or the rules of one scope",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <rule>...",
	Short: "Add rules to a settings scope",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRulesAdd,
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <rule>...",
	Short: "Remove rules from a settings scope",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRulesRemove,
}

var rulesSuggestCmd = &cobra.Command{
	Use:   "suggest <tool> [content]",
	Short: "Show the rules offered when a tool invocation asks for permission",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRulesSuggest,
}

func init() {
	rulesListCmd.Flags().StringVar(&rulesListScope, "scope", "", "only list this scope (local, project, or user)")
	for _, c := range []*cobra.Command{rulesAddCmd, rulesRemoveCmd} {
		c.Flags().StringVar(&rulesScope, "scope", string(settings.ScopeLocal), "settings scope: local, project, or user")
		c.Flags().BoolVar(&rulesDeny, "deny", false, "edit deny rules instead of allow rules")
	}

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesRemoveCmd)
	rulesCmd.AddCommand(rulesSuggestCmd)
	rootCmd.AddCommand(rulesCmd)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if rulesListScope != "" {
		scope, err := settings.ParseScope(rulesListScope)
		if err != nil {
			return err
		}
		rs, err := store.LoadRules(scope)
		if err != nil {
			return err
		}
		path, _ := store.Path(scope)
		fmt.Fprintf(out, "%s settings (%s)\n", scope, path)
		printRules(cmd, "allow", rs.Allow)
		printRules(cmd, "deny", rs.Deny)
		return nil
	}

	opts, err := contextOptions(cfg, "", nil, nil)
	if err != nil {
		return err
	}
	pctx, err := settings.LoadContext(store, managedPath(cfg), opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Effective rules for %s (mode: %s)\n", store.ProjectRoot(), pctx.Mode())
	printRules(cmd, "deny", pctx.DenyRules())
	printRules(cmd, "allow", pctx.AllowRules())
	return nil
}

func printRules(cmd *cobra.Command, label string, rules []permission.Rule) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n  %s:\n", label)
	if len(rules) == 0 {
		fmt.Fprintln(out, "    (none)")
		return
	}
	for _, r := range rules {
		fmt.Fprintf(out, "    %-40s %s\n", r.String(), r.Source)
	}
}

// editArgs parses the scope flag and the rule arguments of add/remove.
func editArgs(args []string) (*settings.Store, settings.Scope, permission.Behavior, []permission.Rule, error) {
	cfg, err := currentConfig()
	if err != nil {
		return nil, "", "", nil, err
	}
	scope, err := settings.ParseScope(rulesScope)
	if err != nil {
		return nil, "", "", nil, err
	}
	store, err := newStore(cfg)
	if err != nil {
		return nil, "", "", nil, err
	}

	rules := make([]permission.Rule, 0, len(args))
	for _, spec := range args {
		r, err := permission.ParseRule(spec, scope.Source())
		if err != nil {
			return nil, "", "", nil, err
		}
		rules = append(rules, r)
	}

	behavior := permission.BehaviorAllow
	if rulesDeny {
		behavior = permission.BehaviorDeny
	}
	return store, scope, behavior, rules, nil
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	store, scope, behavior, rules, err := editArgs(args)
	if err != nil {
		return err
	}
	n, err := store.AddRules(scope, behavior, rules...)
	if err != nil {
		return err
	}
	path, _ := store.Path(scope)
	fmt.Fprintf(cmd.OutOrStdout(), "Added %d %s rule(s) to %s\n", n, behavior, path)
	if skipped := len(rules) - n; skipped > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%d rule(s) already present\n", skipped)
	}
	return nil
}

func runRulesRemove(cmd *cobra.Command, args []string) error {
	store, scope, behavior, rules, err := editArgs(args)
	if err != nil {
		return err
	}
	n, err := store.RemoveRules(scope, behavior, rules...)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no matching %s rules in %s settings", behavior, scope)
	}
	path, _ := store.Path(scope)
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s rule(s) from %s\n", n, behavior, path)
	return nil
}

func runRulesSuggest(cmd *cobra.Command, args []string) error {
	in, err := buildInput(args[0], args, "")
	if err != nil {
		return err
	}
	tool := permission.DefaultRegistry().Lookup(args[0])
	for _, r := range permission.Suggest(tool, tool.Content(in)) {
		fmt.Fprintln(cmd.OutOrStdout(), r.String())
	}
	return nil
}
