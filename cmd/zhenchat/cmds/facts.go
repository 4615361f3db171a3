package cmds

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewFactsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Inspect what the backend remembered in a conversation",
	}

	list := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List the facts of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			facts, err := a.directory.Facts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printStructured(cmd, cmd.OutOrStdout(), facts)
		},
	}
	addOutputFlag(list)

	del := &cobra.Command{
		Use:   "delete <fact-id>...",
		Short: "Delete facts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := a.directory.DeleteFact(cmd.Context(), id); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted fact %s\n", id)
			}
			return nil
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}
