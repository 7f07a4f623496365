package commands

import (
	"github.com/spf13/cobra"

	"github.com/labpool/rsvp/cmd/rsvp/handlers"
)

// Host returns the host administration command group.
func Host() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Administer pool hosts",
	}
	cmd.AddCommand(hostAdd())
	cmd.AddCommand(hostDel())
	return cmd
}

func hostAdd() *cobra.Command {
	var classes []string

	cmd := &cobra.Command{
		Use:   "add <host>...",
		Short: "Register hosts with the leasing authority",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.AddHost(cmd.Context(), global, args, classes)
		},
	}
	cmd.Flags().StringSliceVar(&classes, "class", nil, "Class to place the host in (repeatable)")
	return cmd
}

func hostDel() *cobra.Command {
	return &cobra.Command{
		Use:   "del <host>...",
		Short: "Remove hosts from the leasing authority",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.DelHost(cmd.Context(), global, args)
		},
	}
}

// NextUser returns the next-user assignment command.
func NextUser() *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "next-user <host> [user]",
		Short: "Queue a user to receive a host on its next release",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clear {
				return handlers.ClearNextUser(cmd.Context(), global, args[0])
			}
			if len(args) != 2 {
				return cmd.Usage()
			}
			return handlers.SetNextUser(cmd.Context(), global, args[0], args[1])
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Clear the queued next user instead")
	return cmd
}
