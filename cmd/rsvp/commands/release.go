package commands

import (
	"github.com/spf13/cobra"

	"github.com/labpool/rsvp/cmd/rsvp/handlers"
)

// Release returns the release command.
func Release() *cobra.Command {
	var (
		all      bool
		force    bool
		key      string
		resource string
	)

	cmd := &cobra.Command{
		Use:   "release [host]",
		Short: "Give hosts or resources back to the pool",
		Long: `Give hosts or resources back to the pool.

Each host must pass a readiness check before its release is issued: the
host reports healthy and no leftover workload processes are running.
Unready hosts are retried with growing pauses in between.

Examples:
  # Release one host
  rsvp release lab-042

  # Release everything you hold
  rsvp release --all

  # Administrative release without the readiness gate
  rsvp release lab-042 --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := ""
			if len(args) == 1 {
				host = args[0]
			}
			return handlers.Release(cmd.Context(), global, host, all, force, key, resource)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Release every host you hold")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the readiness gate (administrative)")
	cmd.Flags().StringVar(&key, "key", "", "Reservation key, when the lease was taken with one")
	cmd.Flags().StringVar(&resource, "resource", "", "Release this resource instead of a host")
	return cmd
}

// Renew returns the lease renewal command.
func Renew() *cobra.Command {
	return &cobra.Command{
		Use:   "renew [host]...",
		Short: "Extend leases (all of yours when no host is named)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Renew(cmd.Context(), global, args)
		},
	}
}

// Verify returns the ownership verification command.
func Verify() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <host>...",
		Short: "Confirm you own the given hosts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Verify(cmd.Context(), global, args)
		},
	}
}
