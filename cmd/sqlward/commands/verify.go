package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sqlward/sqlward/pkg/deploy"
)

func newVerifyCommand() *cobra.Command {
	var (
		targetName string
		from       string
		to         string
		parallel   int
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify deployed changes against their verify scripts",
		Long: `Run the verify script of every deployed change in the given range.
Read only: nothing is locked and nothing is written to the registry.
All failures are collected and reported together rather than stopping
at the first.`,
		Example: `  # Verify the whole target
  sqlward verify --target prod

  # Verify a range, four scripts at a time
  sqlward verify --from @v1.0.0 --to @v1.1.0 --parallel 4`,
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

			res, err := orch.Verify(ctx, from, to, deploy.VerifyOptions{Parallel: parallel})
			if res != nil {
				printEvents(res.Events)
			}
			if err != nil {
				return err
			}
			fmt.Printf("verified %d change(s) on %s\n", len(res.Events), adapter.Target().Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetName, "target", "t", "", "deployment target (default from config)")
	cmd.Flags().StringVar(&from, "from", "", "first change or @tag of the range")
	cmd.Flags().StringVar(&to, "to", "", "last change or @tag of the range")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "max concurrent verifications")

	return cmd
}
