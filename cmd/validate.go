package cmd

import (
	"fmt"
	"os"

	"github.com/aibox/toolperm/internal/policy"
	"github.com/aibox/toolperm/internal/settings"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate settings files, the managed policy and Rego policies",
	Long: `Validate checks the managed policy and the user, project and local
settings files for malformed rules and invalid values, then checks that no
settings scope loosens a managed deny rule. Rego policies in rego_dir are
compiled as well.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Validating permission settings...")

	snap, err := store.Snapshot(managedPath(cfg))
	if err != nil {
		fmt.Fprintf(out, "  ✗ %v\n", err)
		return fmt.Errorf("reading settings: %w", err)
	}

	if snap.Managed != nil {
		fmt.Fprintf(out, "  %-10s %s\n", "managed:", snap.Managed.Path())
	} else {
		fmt.Fprintf(out, "  %-10s (none)\n", "managed:")
	}
	for _, scope := range settings.Scopes() {
		path, _ := store.Path(scope)
		status := "(missing)"
		if _, err := os.Stat(path); err == nil {
			status = ""
		}
		fmt.Fprintf(out, "  %-10s %s %s\n", string(scope)+":", path, status)
	}

	problems := settings.Validate(snap)

	if cfg.RegoDir != "" {
		engine, err := policy.NewEngine(expandHome(cfg.RegoDir))
		if err != nil {
			problems = append(problems, settings.ValidationError{Field: "rego", Message: err.Error()})
		} else {
			fmt.Fprintf(out, "  %-10s %s (enabled: %t)\n", "rego:", cfg.RegoDir, engine.Enabled())
		}
	}

	if len(problems) > 0 {
		fmt.Fprintln(out)
		for _, p := range problems {
			fmt.Fprintf(out, "  ✗ %s: %s\n", p.Field, p.Message)
		}
		fmt.Fprintf(out, "\n%d problem(s) found. Validation failed.\n", len(problems))
		return fmt.Errorf("validation failed with %d problem(s)", len(problems))
	}

	fmt.Fprintln(out, "\nAll settings valid.")
	return nil
}
