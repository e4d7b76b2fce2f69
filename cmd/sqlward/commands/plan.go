package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sqlward/sqlward/pkg/plan"
)

func newPlanCommand() *cobra.Command {
	var targetName string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Parse, resolve and print the plan",
		Long: `Parse the plan file, resolve the dependency chain and print every
entry with its content identity. This is the validation front door: a
malformed plan, an unknown dependency or a forward reference fails
here without touching any database. With --target, recorded identities
are checked too, so edits to released history surface before a deploy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}

			fmt.Printf("# project %s, syntax %s\n", s.plan.Project, s.plan.SyntaxVersion)
			for _, e := range s.plan.Entries() {
				marker := " "
				if c, ok := e.(*plan.Change); ok && s.plan.Tagged(c) {
					marker = "*" // released; immutable history
				}
				fmt.Printf("%s %s  %s\n", marker, shortID(e.EntryID()), e.EntryName())
			}

			if targetName == "" {
				return nil
			}

			ctx := s.logger.WithContext(cmd.Context())
			_, store, adapter, err := s.open(ctx, targetName)
			if err != nil {
				return err
			}
			defer func() { _ = adapter.Close() }()

			deployed, err := store.DeployedChanges(ctx)
			if err != nil {
				return err
			}
			recorded := make(map[string]string, len(deployed))
			for _, d := range deployed {
				recorded[d.Name] = d.ID
			}
			if err := plan.VerifyChain(s.plan, recorded); err != nil {
				return err
			}
			fmt.Printf("plan matches the registry on %s\n", adapter.Target().Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetName, "target", "t", "", "also check recorded identities on this target")

	return cmd
}
