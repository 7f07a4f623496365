package handlers

import (
	"context"
	"fmt"

	"github.com/labpool/rsvp/internal/rsvp"
)

// Maintenance parks hosts in the maintenance class and notifies their
// owners.
func Maintenance(ctx context.Context, opts Options, hosts []string, reason, nextUser string, forceRelease, quiet bool) error {
	if reason == "" {
		return fmt.Errorf("a maintenance reason is required")
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	err = client.MoveToMaintenance(ctx, hosts, rsvp.MaintenanceOptions{
		Reason:       reason,
		NextUser:     nextUser,
		ForceRelease: forceRelease,
		Quiet:        quiet,
	})
	if err != nil {
		return err
	}
	for _, host := range hosts {
		fmt.Fprintf(output, "%s moved to maintenance\n", host)
	}
	return nil
}
