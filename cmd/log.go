package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/aibox/toolperm/internal/decisionlog"
	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Inspect the decision log",
	Long: `Log provides subcommands for explaining, searching and verifying the
decision log (JSON Lines, one entry per decision, hash chained).`,
}

// Flag variables for log subcommands.
var (
	logFile       string
	logEntryID    string
	logEntryLine  int
	logSince      time.Duration
	logTool       string
	logDecision   string
	logReasonType string
	logContains   string
	logLimit      int
	logJSON       bool
)

var logExplainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain a logged permission decision",
	Long: `Explain reads a decision log entry by ID or line number and displays a
human-readable explanation: the tool and content, the decision, the matched
rule and its source, and any rule suggestions offered.`,
	Args: cobra.NoArgs,
	RunE: runLogExplain,
}

var logSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search logged decisions",
	Args:  cobra.NoArgs,
	RunE:  runLogSearch,
}

var logVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash chain of the decision log",
	Args:  cobra.NoArgs,
	RunE:  runLogVerify,
}

func init() {
	logCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "path to decision log file (default: decision_log.path from config)")

	logExplainCmd.Flags().StringVar(&logEntryID, "id", "", "entry ID")
	logExplainCmd.Flags().IntVar(&logEntryLine, "line", -1, "0-based line number in the live log file")
	logExplainCmd.MarkFlagsOneRequired("id", "line")
	logExplainCmd.MarkFlagsMutuallyExclusive("id", "line")

	logSearchCmd.Flags().DurationVar(&logSince, "since", 0, "only entries newer than this (e.g. 1h)")
	logSearchCmd.Flags().StringVar(&logTool, "tool", "", "tool name")
	logSearchCmd.Flags().StringVar(&logDecision, "decision", "", "allow, deny, or ask")
	logSearchCmd.Flags().StringVar(&logReasonType, "reason", "", "reason type: rule, mode, other, or policy")
	logSearchCmd.Flags().StringVar(&logContains, "contains", "", "substring of the invocation content")
	logSearchCmd.Flags().IntVar(&logLimit, "limit", 50, "maximum number of entries (0 for all)")
	logSearchCmd.Flags().BoolVar(&logJSON, "json", false, "print entries as JSON")

	logCmd.AddCommand(logExplainCmd)
	logCmd.AddCommand(logSearchCmd)
	logCmd.AddCommand(logVerifyCmd)
	rootCmd.AddCommand(logCmd)
}

func resolveLogFile() (string, error) {
	if logFile != "" {
		return expandHome(logFile), nil
	}
	cfg, err := currentConfig()
	if err != nil {
		return "", err
	}
	return logPath(cfg), nil
}

func runLogExplain(cmd *cobra.Command, args []string) error {
	path, err := resolveLogFile()
	if err != nil {
		return err
	}

	var entry *decisionlog.Entry
	if logEntryID != "" {
		entry, err = decisionlog.FindEntry(path, logEntryID)
	} else {
		entry, err = decisionlog.ReadEntry(path, logEntryLine)
	}
	if err != nil {
		return err
	}

	explainEntry(cmd, entry)
	return nil
}

func explainEntry(cmd *cobra.Command, e *decisionlog.Entry) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Decision %s at %s\n\n", e.ID, e.Timestamp.Format(time.RFC3339))

	fmt.Fprintf(out, "Tool:      %s\n", e.Tool)
	if e.Content != "" {
		fmt.Fprintf(out, "Content:   %s\n", e.Content)
	}
	fmt.Fprintf(out, "Read-only: %t\n", e.ReadOnly)
	fmt.Fprintf(out, "Mode:      %s\n", e.Mode)

	decision := strings.ToUpper(e.Decision)
	fmt.Fprintf(out, "Decision:  %s\n", decision)

	fmt.Fprintln(out)
	switch e.ReasonType {
	case "rule":
		fmt.Fprintf(out, "Reason:    matched rule %s\n", e.Rule)
		fmt.Fprintf(out, "           from %s\n", e.RuleSource)
	case "mode":
		fmt.Fprintf(out, "Reason:    permission mode %s\n", e.Mode)
	case "policy":
		fmt.Fprintf(out, "Reason:    Rego policy: %s\n", e.Message)
	case "other":
		fmt.Fprintf(out, "Reason:    %s\n", e.Message)
	default:
		if e.Message != "" {
			fmt.Fprintf(out, "Message:   %s\n", e.Message)
		}
	}
	if e.PolicyVersion != "" {
		fmt.Fprintf(out, "           Policy version: %s\n", e.PolicyVersion)
	}

	if len(e.Suggestions) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Suggested rules:")
		for _, s := range e.Suggestions {
			fmt.Fprintf(out, "  %s\n", s)
		}
	}

	switch decision {
	case "DENY":
		if e.ReasonType == "rule" {
			fmt.Fprintln(out)
			fmt.Fprintln(out, "To allow this invocation, remove the deny rule from its settings file")
			fmt.Fprintf(out, "  (toolperm rules remove --deny %q) or ask an administrator if it is managed.\n", e.Rule)
		}
	case "ASK":
		if len(e.Suggestions) > 0 {
			fmt.Fprintln(out)
			fmt.Fprintf(out, "To stop being asked: toolperm rules add %q\n", e.Suggestions[len(e.Suggestions)-1])
		}
	}
}

func runLogSearch(cmd *cobra.Command, args []string) error {
	path, err := resolveLogFile()
	if err != nil {
		return err
	}

	f := decisionlog.Filter{
		Tool:       logTool,
		Decision:   logDecision,
		ReasonType: logReasonType,
		Contains:   logContains,
		Limit:      logLimit,
	}
	if logSince > 0 {
		f.Since = time.Now().Add(-logSince)
	}

	entries, err := decisionlog.Search(path, f)
	if err != nil {
		return err
	}
	if logJSON {
		return printJSON(cmd, entries)
	}

	out := cmd.OutOrStdout()
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %-5s  %-10s %-40s %s\n",
			e.Timestamp.Format(time.RFC3339), e.Decision, e.Tool, truncate(e.Content, 40), e.ID)
	}
	fmt.Fprintf(out, "%d entries\n", len(entries))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func runLogVerify(cmd *cobra.Command, args []string) error {
	path, err := resolveLogFile()
	if err != nil {
		return err
	}

	v, err := decisionlog.Verify(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if v.IsIntact {
		fmt.Fprintf(out, "Hash chain intact: %d entries verified (%s)\n", v.Verified, path)
		return nil
	}

	fmt.Fprintf(out, "Hash chain BROKEN at entry %d in %s\n", v.BrokenAt, v.File)
	if v.ExpectedHash != "" {
		fmt.Fprintf(out, "  expected hash_prev: %s\n", v.ExpectedHash)
		fmt.Fprintf(out, "  actual hash_prev:   %s\n", v.ActualHash)
	}
	fmt.Fprintf(out, "%d entries verified before the break.\n", v.Verified)
	return fmt.Errorf("decision log %s has been tampered with or is corrupt", path)
}
