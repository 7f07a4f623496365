package commands

import (
	"github.com/spf13/cobra"

	"github.com/labpool/rsvp/cmd/rsvp/handlers"
)

// CheckHosts returns the concurrent pool health checker command.
func CheckHosts() *cobra.Command {
	var args handlers.CheckArgs

	cmd := &cobra.Command{
		Use:   "checkhosts",
		Short: "Probe pool hosts concurrently, optionally fixing unhealthy ones",
		Long: `Probe pool hosts concurrently.

Unowned hosts matching the filters are health-checked under a concurrency
cap. With --fix, an unhealthy host is reserved, restarted through its
machine family and released again; three failed fix cycles abort the run.
Outcomes are persisted as a run report when a report database is
configured.

Examples:
  # Check every free CentOS host
  rsvp checkhosts --class CENTOS

  # Fix what can be fixed, eight at a time
  rsvp checkhosts --fix --concurrency 8`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.CheckHosts(cmd.Context(), global, args)
		},
	}

	cmd.Flags().BoolVar(&args.Fix, "fix", false, "Reserve, restart and release unhealthy hosts")
	cmd.Flags().BoolVar(&args.IncludeOwned, "include-owned", false, "Also check hosts that carry a lease")
	cmd.Flags().IntVar(&args.Concurrency, "concurrency", 0, "Simultaneous checks (0 = default)")
	cmd.Flags().IntVar(&args.FailThreshold, "fail-threshold", 0, "Failures tolerated before the run is reported as failed")
	cmd.Flags().StringVar(&args.Class, "class", "", "Only hosts in this class")
	cmd.Flags().StringVar(&args.Pattern, "match", "", "Only hosts whose name matches this regular expression")
	cmd.Flags().StringVar(&args.MetricsListen, "metrics-listen", "", "Serve prometheus metrics on this address during the run")
	cmd.Flags().StringVar(&args.ReportPath, "report-path", "", "Report database location (overrides config)")

	cmd.AddCommand(checkHostsReport())
	return cmd
}

func checkHostsReport() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Show stored run reports",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return handlers.Report(cmd.Context(), global, path, id)
		},
	}
	cmd.Flags().StringVar(&path, "report-path", "", "Report database location (overrides config)")
	return cmd
}
