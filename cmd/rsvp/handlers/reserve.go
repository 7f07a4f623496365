package handlers

import (
	"context"
	"fmt"

	"github.com/labpool/rsvp/internal/rsvp"
)

// ReserveArgs shapes a reservation request from the command line.
type ReserveArgs struct {
	// Host names one specific machine; mutually exclusive with Classes.
	Host string

	// Classes are the requested class tokens; hardware and OS defaults
	// are appended by the client.
	Classes []string

	// Count is the number of hosts or resources to lease.
	Count int

	// Resource reserves resources from a single class instead of hosts.
	Resource bool

	Message string
	Wait    bool
}

// Reserve leases hosts or resources and prints what was obtained.
func Reserve(ctx context.Context, opts Options, args ReserveArgs) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	rOpts := rsvp.ReserveOptions{Message: args.Message, Wait: args.Wait}

	switch {
	case args.Host != "":
		host, err := client.ReserveHostByName(ctx, args.Host, rOpts)
		if err != nil {
			return err
		}
		printHosts([]rsvp.Host{*host}, opts.Verbose)

	case args.Resource:
		if len(args.Classes) != 1 {
			return fmt.Errorf("resource reservations need exactly one class")
		}
		resources, err := client.ReserveResources(ctx, args.Count, args.Classes[0], rOpts)
		if err != nil {
			return err
		}
		for _, r := range resources {
			fmt.Fprintf(output, "reserved resource %s (class %s)\n", r.Name, r.Class)
		}

	default:
		hosts, err := client.ReserveHosts(ctx, args.Count, args.Classes, rOpts)
		if err != nil {
			return err
		}
		printHosts(hosts, opts.Verbose)
	}

	if slept := client.SleptRanges(); len(slept) > 0 && opts.Verbose {
		for _, r := range slept {
			fmt.Fprintf(output, "waited %s starting %s\n", r.Duration, r.Start.Format("15:04:05"))
		}
	}
	return nil
}
