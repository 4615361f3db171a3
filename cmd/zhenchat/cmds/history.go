package cmds

import (
	"github.com/spf13/cobra"
)

func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			store := a.newStore()
			if err := store.LoadHistory(cmd.Context(), args[0]); err != nil {
				return err
			}
			snap, _ := store.Snapshot(args[0])
			return printStructured(cmd, cmd.OutOrStdout(), snap.Messages)
		},
	}
	addOutputFlag(cmd)
	return cmd
}
