package commands

import (
	"github.com/spf13/cobra"

	"github.com/labpool/rsvp/cmd/rsvp/handlers"
)

// Reserve returns the reservation command.
//
// Optional flags:
//
//	--host: lease one specific machine instead of drawing from classes
//	--num, -n: number of hosts or resources to lease
//	--resource: lease resources from a single class instead of hosts
//	--message, -m: note attached to the lease for other users to see
//	--wait, -w: keep retrying while the pool is temporarily exhausted
func Reserve() *cobra.Command {
	var args handlers.ReserveArgs

	cmd := &cobra.Command{
		Use:   "reserve [class]...",
		Short: "Lease hosts or resources from the pool",
		Long: `Lease hosts or resources from the pool.

Class arguments narrow which machines qualify. A hardware class and an OS
class are appended automatically when the request names none.

Examples:
  # One virtual machine running the default OS
  rsvp reserve

  # Three physical CentOS machines, waiting out a temporary shortage
  rsvp reserve PHYSICAL CENTOS -n 3 --wait

  # A specific machine
  rsvp reserve --host lab-042`,
		RunE: func(cmd *cobra.Command, classes []string) error {
			args.Classes = classes
			return handlers.Reserve(cmd.Context(), global, args)
		},
	}

	cmd.Flags().StringVar(&args.Host, "host", "", "Lease this specific host")
	cmd.Flags().IntVarP(&args.Count, "num", "n", 1, "Number of hosts or resources to lease")
	cmd.Flags().BoolVar(&args.Resource, "resource", false, "Lease resources instead of hosts")
	cmd.Flags().StringVarP(&args.Message, "message", "m", "", "Note attached to the lease")
	cmd.Flags().BoolVarP(&args.Wait, "wait", "w", false, "Retry while the pool is temporarily exhausted")
	return cmd
}
