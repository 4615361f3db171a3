package cmds

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, create and delete conversations",
	}

	cmd.AddCommand(newListSessionsCommand())
	cmd.AddCommand(newCreateSessionCommand())
	cmd.AddCommand(newDeleteSessionCommand())

	return cmd
}

func newListSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the conversations of the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			sessions, err := a.directory.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			return printStructured(cmd, cmd.OutOrStdout(), sessions)
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func newCreateSessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <archive-id>",
		Short: "Start a conversation about an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			s, err := a.directory.CreateSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printStructured(cmd, cmd.OutOrStdout(), s)
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func newDeleteSessionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>...",
		Short: "Delete conversations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := a.directory.DeleteSession(cmd.Context(), id); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	}
}
