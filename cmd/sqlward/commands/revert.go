package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sqlward/sqlward/pkg/deploy"
)

func newRevertCommand() *cobra.Command {
	var (
		targetName string
		to         string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "revert",
		Short: "Revert deployed changes from a target",
		Long: `Revert deployed changes newest first, each in its own transaction,
down to but not including the change or tag named by --to. Without
--to, everything comes off. A failure stops the run without redoing
the changes already reverted.`,
		Example: `  # Revert everything after the v1.0.0 tag
  sqlward revert --to @v1.0.0

  # Revert the whole target without prompting
  sqlward revert --target dev --yes`,
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

			if !yes && !confirmRevert(adapter.Target().Name, to) {
				fmt.Println("revert aborted")
				return nil
			}

			res, err := orch.Revert(ctx, to, deploy.RevertOptions{})
			if res != nil {
				printEvents(res.Events)
			}
			if err != nil {
				return err
			}
			if res != nil && len(res.Events) == 0 {
				fmt.Printf("nothing to revert on %s\n", adapter.Target().Name)
				return nil
			}
			fmt.Printf("reverted %d change(s) on %s\n", len(res.Events), adapter.Target().Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetName, "target", "t", "", "deployment target (default from config)")
	cmd.Flags().StringVar(&to, "to", "", "revert down to this change or @tag, which stays deployed")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func confirmRevert(target, to string) bool {
	if to == "" {
		fmt.Printf("Revert ALL changes on %s? [y/N] ", target)
	} else {
		fmt.Printf("Revert changes on %s down to %s? [y/N] ", target, to)
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
