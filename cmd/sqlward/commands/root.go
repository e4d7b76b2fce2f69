package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sqlward/sqlward/pkg/config"
	"github.com/sqlward/sqlward/pkg/deploy"
	"github.com/sqlward/sqlward/pkg/engine"
	"github.com/sqlward/sqlward/pkg/plan"
	"github.com/sqlward/sqlward/pkg/registry"
	"github.com/sqlward/sqlward/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version string) error {
	rootCmd := newRootCommand(version)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error onto the stable exit contract: 1 for
// plan, configuration, dependency and integrity problems caught before
// touching the database; 2 for deploy, revert, connection and lock
// failures; 3 for verification failures.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case deploy.IsVerification(err):
		return 3
	case deploy.IsFailedAtChange(err),
		engine.IsLockHeld(err),
		engine.IsConnection(err),
		engine.IsUnsupportedVersion(err),
		engine.IsScript(err),
		errors.Is(err, context.Canceled):
		return 2
	default:
		return 1
	}
}

func newRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sqlward",
		Short: "sqlward - dependency-aware database change deployment",
		Long: `sqlward deploys, reverts and verifies database schema changes from a
plan file, recording every action in a registry inside the target
database. Changes carry chained content identities, so tampering with
released history is detected before anything runs.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default sqlward.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newRevertCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newLogCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newTagCommand())

	return rootCmd
}

// session is the plumbing every command shares: configuration, the
// resolved plan and a configured logger.
type session struct {
	cfg     *config.Config
	plan    *plan.Plan
	logger  *telemetry.Logger
	scripts config.ScriptResolver
}

func newSession() (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Logging
	if verbose {
		logCfg.Level = "debug"
	}
	logger, err := telemetry.NewLogger(logCfg)
	if err != nil {
		return nil, err
	}

	p, err := plan.Load(cfg.Project.PlanFile)
	if err != nil {
		return nil, err
	}
	if p.Project != cfg.Project.Name {
		return nil, fmt.Errorf("plan is for project %q, configuration says %q", p.Project, cfg.Project.Name)
	}
	if err := plan.Resolve(p); err != nil {
		return nil, err
	}

	return &session{
		cfg:     cfg,
		plan:    p,
		logger:  logger,
		scripts: config.NewScriptResolver(filepath.Dir(cfg.Project.PlanFile), cfg.Scripts),
	}, nil
}

// open connects an adapter for the named target and builds the store
// and orchestrator on top of it. The caller closes the adapter.
func (s *session) open(ctx context.Context, targetName string) (*deploy.Orchestrator, registry.Store, engine.Adapter, error) {
	target, err := s.cfg.Target(targetName)
	if err != nil {
		return nil, nil, nil, err
	}

	adapter, err := engine.Open(target)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := adapter.Connect(ctx); err != nil {
		return nil, nil, nil, err
	}

	store := registry.NewStore(adapter, s.cfg.Project.Name, s.cfg.Project.URI, registry.Actor{
		Name:  s.cfg.User.Name,
		Email: s.cfg.User.Email,
	})
	return deploy.New(adapter, store, s.plan, s.scripts), store, adapter, nil
}

// printEvents renders per-change outcomes the way every run command
// reports them.
func printEvents(events []deploy.ChangeEvent) {
	for _, ev := range events {
		if ev.Err != nil {
			fmt.Printf("  ! %s .. %s: %v\n", ev.Change, ev.Action, ev.Err)
			continue
		}
		fmt.Printf("  + %s .. ok\n", ev.Change)
	}
}
