package handlers

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/labpool/rsvp/internal/rsvp"
)

// ListArgs filters a host listing.
type ListArgs struct {
	User    string
	Class   string
	Pattern string
}

// ListHosts prints hosts known to the leasing authority.
func ListHosts(ctx context.Context, opts Options, args ListArgs) error {
	pattern, err := compilePattern(args.Pattern)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	hosts, err := client.ListHosts(ctx, rsvp.ListHostsOptions{
		User:       args.User,
		Class:      args.Class,
		HostRegexp: pattern,
		Verbose:    opts.Verbose,
	})
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		fmt.Fprintln(output, "no hosts")
		return nil
	}
	printHosts(hosts, opts.Verbose)
	return nil
}

// ListClasses prints classes, optionally narrowed to one.
func ListClasses(ctx context.Context, opts Options, class string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	classes, err := client.ListClasses(ctx, class)
	if err != nil {
		return err
	}
	if len(classes) == 0 {
		fmt.Fprintln(output, "no classes")
		return nil
	}

	w := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLASS\tDESCRIPTION\tMEMBERS")
	for _, c := range classes {
		members := c.Hosts
		if len(c.Members) > 0 {
			members = c.Members
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, orDash(c.Description), strings.Join(members, ","))
	}
	return w.Flush()
}
