package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aibox/toolperm/internal/permission"
	"github.com/aibox/toolperm/internal/settings"
	"github.com/spf13/cobra"
)

// Flag variables for watch.
var (
	watchDebounce time.Duration
	watchProbe    []string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the effective rules whenever settings change",
	Long: `Watch follows the settings files and the managed policy and prints the
effective rule set each time they change. With --probe, the given invocation
is decided again after every change.

Examples:
  toolperm watch
  toolperm watch --probe Bash --probe "npm publish"`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", settings.DefaultDebounce, "quiet period before reloading")
	watchCmd.Flags().StringArrayVar(&watchProbe, "probe", nil, "tool name and optional content to decide after each change")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	if len(watchProbe) > 2 {
		return fmt.Errorf("--probe takes a tool name and at most one content value")
	}

	opts, err := contextOptions(cfg, "", nil, nil)
	if err != nil {
		return err
	}
	s, err := openSession(cfg, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := func(pctx *permission.Context) {
		s.gate.UpdateContext(pctx)
		fmt.Fprintf(cmd.OutOrStdout(), "\n[%s] mode: %s\n", time.Now().Format(time.TimeOnly), pctx.Mode())
		printRules(cmd, "deny", pctx.DenyRules())
		printRules(cmd, "allow", pctx.AllowRules())
		if len(watchProbe) > 0 {
			probe(ctx, cmd, s)
		}
	}
	report(s.gate.Context())

	w, err := settings.NewWatcher(s.store, managedPath(cfg), opts, report)
	if err != nil {
		return err
	}
	defer w.Close()
	w.SetDebounce(watchDebounce)

	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func probe(ctx context.Context, cmd *cobra.Command, s *session) {
	in, err := buildInput(watchProbe[0], watchProbe, "")
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "probe: %v\n", err)
		return
	}
	res, err := s.gate.Evaluate(ctx, watchProbe[0], in)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "probe: %v\n", err)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n  probe %v: %s\n", watchProbe, res.Decision.Behavior())
}
