package commands

import (
	"github.com/spf13/cobra"

	"github.com/labpool/rsvp/cmd/rsvp/handlers"
)

// Resource returns the resource administration command group.
func Resource() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "Administer leasable resources",
	}
	cmd.AddCommand(resourceAdd())
	cmd.AddCommand(resourceDel())
	cmd.AddCommand(resourceClass())
	return cmd
}

func resourceAdd() *cobra.Command {
	var class string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a resource under a resource class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.AddResource(cmd.Context(), global, args[0], class)
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "Resource class the resource belongs to")
	_ = cmd.MarkFlagRequired("class")
	return cmd
}

func resourceDel() *cobra.Command {
	return &cobra.Command{
		Use:   "del <name>",
		Short: "Remove a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.DelResource(cmd.Context(), global, args[0])
		},
	}
}

func resourceClass() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "class",
		Short: "Administer resource classes",
	}

	var description string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a resource class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.AddResourceClass(cmd.Context(), global, args[0], description)
		},
	}
	add.Flags().StringVar(&description, "description", "", "Human-readable class description")

	del := &cobra.Command{
		Use:   "del <name>",
		Short: "Remove a resource class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.DelResourceClass(cmd.Context(), global, args[0])
		},
	}

	cmd.AddCommand(add)
	cmd.AddCommand(del)
	return cmd
}
