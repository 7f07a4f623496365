// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument
// parsing, flag binding, and validation. Command execution is delegated to
// handler functions in the handlers package.
package commands

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/labpool/rsvp/cmd/rsvp/handlers"
)

var global handlers.Options

// Root returns the root command for the rsvp CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rsvp",
		Short: "Reserve, release and check lab machines",
		Long: `rsvp talks to the lab's leasing authority: it reserves and releases
machines and resources, renews leases, manages classes, and runs the
concurrent pool health checker.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if global.Verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&global.ConfigPath, "config", "c", "", "Path to configuration file")
	pf.StringVarP(&global.Server, "server", "s", "", "Leasing authority host (overrides config and RSVP_SERVER)")
	pf.StringVarP(&global.User, "user", "u", "", "Requesting user (defaults to the current OS user)")
	pf.BoolVarP(&global.Verbose, "verbose", "v", false, "Verbose output and debug logging")

	cmd.AddCommand(Reserve())
	cmd.AddCommand(Release())
	cmd.AddCommand(Renew())
	cmd.AddCommand(List())
	cmd.AddCommand(Classes())
	cmd.AddCommand(Modify())
	cmd.AddCommand(Verify())
	cmd.AddCommand(Maintenance())
	cmd.AddCommand(CheckHosts())

	cmd.AddCommand(Host())
	cmd.AddCommand(Resource())
	cmd.AddCommand(Class())
	cmd.AddCommand(NextUser())
	cmd.AddCommand(Version())

	return cmd
}
