package commands

import (
	"github.com/spf13/cobra"

	"github.com/labpool/rsvp/cmd/rsvp/handlers"
)

// List returns the host listing command.
func List() *cobra.Command {
	var args handlers.ListArgs

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pool hosts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.ListHosts(cmd.Context(), global, args)
		},
	}

	cmd.Flags().StringVar(&args.User, "owner", "", "Only hosts leased by this user")
	cmd.Flags().StringVar(&args.Class, "class", "", "Only hosts in this class")
	cmd.Flags().StringVar(&args.Pattern, "match", "", "Only hosts whose name matches this regular expression")
	return cmd
}

// Classes returns the class listing command.
func Classes() *cobra.Command {
	return &cobra.Command{
		Use:   "classes [class]",
		Short: "List classes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			class := ""
			if len(args) == 1 {
				class = args[0]
			}
			return handlers.ListClasses(cmd.Context(), global, class)
		},
	}
}

// Modify returns the host class membership command.
func Modify() *cobra.Command {
	var add, del []string

	cmd := &cobra.Command{
		Use:   "modify <host>...",
		Short: "Adjust class membership of hosts",
		Example: `  # Return a repaired host to service
  rsvp modify --add PHYSICAL,CENTOS --del MAINTENANCE lab-009`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Modify(cmd.Context(), global, args, add, del)
		},
	}

	cmd.Flags().StringSliceVar(&add, "add", nil, "Classes to add")
	cmd.Flags().StringSliceVar(&del, "del", nil, "Classes to remove")
	return cmd
}
