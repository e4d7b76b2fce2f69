package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newTagCommand() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "tag <name>",
		Short: "Tag the latest change as a release point",
		Long: `Append a tag to the plan, marking the latest change and everything
before it as released history. Released entries are immutable: editing
them shifts their identities and every deploy against a registry that
recorded them will refuse to run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}

			tag, err := s.plan.AddTag(args[0], note, s.cfg.User.Name, s.cfg.User.Email, time.Now())
			if err != nil {
				return err
			}
			if err := s.plan.Save(); err != nil {
				return err
			}

			fmt.Printf("tagged %s with @%s (%s)\n", tag.Change.Name, tag.Name, shortID(tag.ID()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&note, "note", "n", "", "note recorded with the tag")

	return cmd
}
