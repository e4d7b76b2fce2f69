package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sqlward/sqlward/pkg/registry"
)

func newStatusCommand() *cobra.Command {
	var (
		targetName string
		showHash   bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Compare a target's deployed state with the plan",
		Long: `Report the most recently deployed change, the plan changes still
pending, and any deployed changes the plan no longer knows. With
--check-scripts, deployed script hashes are compared against the
working tree to spot edits made after deployment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			ctx := s.logger.WithContext(cmd.Context())

			orch, _, adapter, err := s.open(ctx, targetName)
			if err != nil {
				return err
			}
			defer func() { _ = adapter.Close() }()

			report, err := orch.Status(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("# project %s, target %s\n", report.Project, adapter.Target().Name)
			if report.State == nil {
				fmt.Println("nothing deployed")
			} else {
				line := fmt.Sprintf("deployed at %s: %s", report.State.CommittedAt.Format("2006-01-02 15:04:05"), report.State.Change)
				if len(report.State.Tags) > 0 {
					line += " (@" + strings.Join(report.State.Tags, ", @") + ")"
				}
				fmt.Println(line)
			}

			for _, c := range report.Divergence.Pending {
				fmt.Printf("  pending: %s\n", c.Name)
			}
			for _, d := range report.Divergence.Orphans {
				fmt.Printf("  not in plan: %s (%s)\n", d.Name, shortID(d.ID))
			}
			if report.Divergence.InSync() {
				fmt.Println("target is up to date")
			}

			if showHash {
				if err := s.reportScriptDrift(report.Deployed); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetName, "target", "t", "", "deployment target (default from config)")
	cmd.Flags().BoolVar(&showHash, "check-scripts", false, "compare deployed script hashes with the working tree")

	return cmd
}

// reportScriptDrift flags deployed changes whose scripts have been
// edited since deployment.
func (s *session) reportScriptDrift(deployed []registry.DeployedChange) error {
	for _, d := range deployed {
		if d.ScriptHash == "" {
			continue
		}
		current, err := registry.ScriptHash(
			s.scripts.DeployScript(d.Name),
			s.scripts.RevertScript(d.Name),
			s.scripts.VerifyScript(d.Name))
		if err != nil {
			return err
		}
		if current != d.ScriptHash {
			fmt.Printf("  scripts changed since deploy: %s\n", d.Name)
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
