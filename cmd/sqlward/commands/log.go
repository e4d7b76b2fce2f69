package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sqlward/sqlward/pkg/registry"
)

func newLogCommand() *cobra.Command {
	var (
		targetName string
		eventType  string
		change     string
		limit      int
		reverse    bool
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the event history of a target",
		Long: `Print the registry's append-only history: every deploy, revert and
failure, newest first. The history survives reverts, so it shows what
happened to a target even after the changes themselves are gone.`,
		Example: `  # The last ten events
  sqlward log --limit 10

  # Every failure of one change
  sqlward log --event fail --change users`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if eventType != "" {
				switch registry.EventType(eventType) {
				case registry.EventDeploy, registry.EventRevert, registry.EventFail:
				default:
					return fmt.Errorf("unknown event type %q (deploy, revert or fail)", eventType)
				}
			}

			s, err := newSession()
			if err != nil {
				return err
			}
			ctx := s.logger.WithContext(cmd.Context())

			_, store, adapter, err := s.open(ctx, targetName)
			if err != nil {
				return err
			}
			defer func() { _ = adapter.Close() }()

			events, err := store.Events(ctx, registry.EventFilter{
				Type:      registry.EventType(eventType),
				Change:    change,
				Limit:     limit,
				Ascending: reverse,
			})
			if err != nil {
				return err
			}

			if len(events) == 0 {
				fmt.Println("no events recorded")
				return nil
			}
			for _, e := range events {
				line := fmt.Sprintf("%s  %-6s  %s  %s <%s>",
					e.CommittedAt.Format("2006-01-02 15:04:05"),
					e.Type, e.Change, e.CommitterName, e.CommitterEmail)
				if len(e.Tags) > 0 {
					line += "  @" + strings.Join(e.Tags, " @")
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetName, "target", "t", "", "deployment target (default from config)")
	cmd.Flags().StringVar(&eventType, "event", "", "only deploy, revert or fail events")
	cmd.Flags().StringVar(&change, "change", "", "only events for this change")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after this many events")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "oldest first")

	return cmd
}
