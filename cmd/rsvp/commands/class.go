package commands

import (
	"github.com/spf13/cobra"

	"github.com/labpool/rsvp/cmd/rsvp/handlers"
)

// Class returns the host class administration command group.
func Class() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "class",
		Short: "Administer host classes",
	}
	cmd.AddCommand(classAdd())
	cmd.AddCommand(classDel())
	return cmd
}

func classAdd() *cobra.Command {
	var description string
	var members []string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a host class",
		Long: `Create a host class.

A class without members is a leaf: hosts are placed in it directly. A class
with members is a composite made up of other classes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.AddClass(cmd.Context(), global, args[0], description, members)
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Human-readable class description")
	cmd.Flags().StringSliceVar(&members, "member", nil, "Member class of a composite (repeatable)")
	return cmd
}

func classDel() *cobra.Command {
	return &cobra.Command{
		Use:   "del <name>",
		Short: "Remove a host class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.DelClass(cmd.Context(), global, args[0])
		},
	}
}
