package handlers

import (
	"context"
	"fmt"

	"github.com/labpool/rsvp/internal/rsvp"
)

// Release gives a host, every owned host, or a resource back to the pool.
func Release(ctx context.Context, opts Options, host string, all, force bool, key, resource string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	if resource != "" {
		if err := client.ReleaseResource(ctx, resource, key); err != nil {
			return err
		}
		fmt.Fprintf(output, "released resource %s\n", resource)
		return nil
	}

	if host == "" && !all {
		return fmt.Errorf("name a host or pass --all")
	}
	if err := client.ReleaseHost(ctx, host, rsvp.ReleaseOptions{All: all, Force: force, Key: key}); err != nil {
		return err
	}
	if all {
		fmt.Fprintln(output, "released all reserved hosts")
	} else {
		fmt.Fprintf(output, "released %s\n", host)
	}
	return nil
}

// Renew extends leases and prints the refreshed expiry times. An empty host
// list renews everything the caller holds.
func Renew(ctx context.Context, opts Options, hosts []string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	if len(hosts) == 0 {
		hosts = []string{""}
	}
	for _, host := range hosts {
		renewed, err := client.RenewReservation(ctx, host)
		if err != nil {
			return err
		}
		printHosts(renewed, opts.Verbose)
	}
	return nil
}

// Verify confirms the caller owns each host.
func Verify(ctx context.Context, opts Options, hosts []string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	for _, host := range hosts {
		if err := client.Verify(ctx, host); err != nil {
			return err
		}
		fmt.Fprintf(output, "%s is reserved by %s\n", host, client.User())
	}
	return nil
}
