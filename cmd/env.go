package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aibox/toolperm/internal/config"
	"github.com/aibox/toolperm/internal/decisionlog"
	"github.com/aibox/toolperm/internal/gate"
	"github.com/aibox/toolperm/internal/permission"
	"github.com/aibox/toolperm/internal/policy"
	"github.com/aibox/toolperm/internal/settings"
)

// currentConfig returns Cfg, loading it if a subcommand runs without the
// root pre-run hook.
func currentConfig() (*config.Config, error) {
	if Cfg != nil {
		return Cfg, nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	Cfg = cfg
	return cfg, nil
}

// expandHome replaces a leading ~ with the home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func projectRoot(cfg *config.Config) (string, error) {
	root := projectFlag
	if root == "" {
		root = cfg.ProjectRoot
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determining working directory: %w", err)
		}
		return wd, nil
	}
	abs, err := filepath.Abs(expandHome(root))
	if err != nil {
		return "", fmt.Errorf("resolving project root %s: %w", root, err)
	}
	return abs, nil
}

func newStore(cfg *config.Config) (*settings.Store, error) {
	root, err := projectRoot(cfg)
	if err != nil {
		return nil, err
	}
	return settings.NewStore(root, expandHome(cfg.UserDir)), nil
}

func managedPath(cfg *config.Config) string {
	return expandHome(cfg.ManagedPolicy)
}

func newResolver(cfg *config.Config) (*permission.Resolver, error) {
	mm, err := permission.ParseMatchMode(cfg.MatchMode)
	if err != nil {
		return nil, err
	}
	return permission.NewResolver(permission.WithMatchMode(mm)), nil
}

// contextOptions builds merge options from a mode override (flag, then
// config) and rules given on the command line.
func contextOptions(cfg *config.Config, mode string, allow, deny []string) (settings.ContextOptions, error) {
	if mode == "" {
		mode = cfg.Mode
	}
	m := permission.Mode("")
	if mode != "" {
		var err error
		if m, err = permission.ParseMode(mode); err != nil {
			return settings.ContextOptions{}, err
		}
	}

	var extra settings.RuleSet
	for _, spec := range allow {
		r, err := permission.ParseRule(spec, permission.SourceCLI)
		if err != nil {
			return settings.ContextOptions{}, err
		}
		extra.Allow = append(extra.Allow, r)
	}
	for _, spec := range deny {
		r, err := permission.ParseRule(spec, permission.SourceCLI)
		if err != nil {
			return settings.ContextOptions{}, err
		}
		extra.Deny = append(extra.Deny, r)
	}
	return settings.ContextOptions{Mode: m, Extra: extra}, nil
}

func logPath(cfg *config.Config) string {
	if cfg.DecisionLog.Path != "" {
		return expandHome(cfg.DecisionLog.Path)
	}
	return decisionlog.DefaultPath()
}

// openLogger returns nil when the decision log is disabled.
func openLogger(cfg *config.Config) (*decisionlog.Logger, error) {
	if !cfg.DecisionLog.Enabled {
		return nil, nil
	}
	return decisionlog.NewLogger(decisionlog.Config{
		Path:          logPath(cfg),
		MaxSizeMB:     cfg.DecisionLog.MaxSizeMB,
		FlushInterval: cfg.DecisionLog.FlushInterval,
		SampleAllow:   cfg.DecisionLog.SampleAllow,
	})
}

// session bundles everything a decision needs. Close flushes the log.
type session struct {
	gate   *gate.Gate
	store  *settings.Store
	logger *decisionlog.Logger
}

func (s *session) Close() error {
	if s.logger == nil {
		return nil
	}
	return s.logger.Close()
}

func openSession(cfg *config.Config, opts settings.ContextOptions) (*session, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	pctx, err := settings.LoadContext(store, managedPath(cfg), opts)
	if err != nil {
		return nil, err
	}
	resolver, err := newResolver(cfg)
	if err != nil {
		return nil, err
	}
	engine, err := policy.NewEngine(expandHome(cfg.RegoDir))
	if err != nil {
		return nil, err
	}
	logger, err := openLogger(cfg)
	if err != nil {
		return nil, err
	}

	g := gate.New(resolver, pctx, gate.WithPolicy(engine), gate.WithLogger(logger), gate.WithStore(store))
	return &session{gate: g, store: store, logger: logger}, nil
}
