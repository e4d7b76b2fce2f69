package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sqlward/sqlward/pkg/deploy"
)

func newDeployCommand() *cobra.Command {
	var (
		targetName string
		to         string
		noVerify   bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy pending changes to a target",
		Long: `Deploy every pending change, in plan order, each in its own
transaction. A change's verify script runs inside the same transaction
unless --no-verify is given; a change that cannot be verified is not
deployed. The first failure stops the run and leaves earlier changes
deployed.`,
		Example: `  # Deploy everything pending to the default target
  sqlward deploy

  # Deploy up to and including a tag
  sqlward deploy --to @v1.0.0 --target prod`,
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

			res, err := orch.Deploy(ctx, to, deploy.DeployOptions{NoVerify: noVerify})
			if res != nil {
				printEvents(res.Events)
			}
			if err != nil {
				return err
			}
			if res != nil && len(res.Events) == 0 {
				fmt.Printf("nothing to deploy to %s\n", adapter.Target().Name)
				return nil
			}
			fmt.Printf("deployed %d change(s) to %s\n", len(res.Events), adapter.Target().Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetName, "target", "t", "", "deployment target (default from config)")
	cmd.Flags().StringVar(&to, "to", "", "deploy up to this change or @tag")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip per-change verification")

	return cmd
}
