package commands

import (
	"github.com/spf13/cobra"

	"github.com/labpool/rsvp/cmd/rsvp/handlers"
)

// Maintenance returns the maintenance transition command.
func Maintenance() *cobra.Command {
	var (
		reason       string
		nextUser     string
		forceRelease bool
		quiet        bool
	)

	cmd := &cobra.Command{
		Use:   "maintenance <host>...",
		Short: "Park hosts in the maintenance class",
		Long: `Park hosts in the maintenance class.

The host's current classes are replaced with MAINTENANCE and remembered in
the notification sent to the owner, which includes the exact command to
restore them. The maintenance account is queued as the next user unless
--next-user overrides it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Maintenance(cmd.Context(), global, args, reason, nextUser, forceRelease, quiet)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the host is going out of service")
	cmd.Flags().StringVar(&nextUser, "next-user", "", "Who receives the host on its next release")
	cmd.Flags().BoolVar(&forceRelease, "force-release", false, "Drop an existing lease without the readiness gate")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Skip owner notifications")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
