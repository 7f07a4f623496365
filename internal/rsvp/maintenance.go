package rsvp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaintenanceClass is the class hosts are parked in while out of service.
const MaintenanceClass = "MAINTENANCE"

// MaintenanceOptions shapes a maintenance transition.
type MaintenanceOptions struct {
	// Reason is recorded in notifications to the previous owner.
	Reason string

	// NextUser receives the host when it is eventually released; empty
	// falls back to the configured maintenance user.
	NextUser string

	// ForceRelease drops any existing lease, bypassing readiness checks.
	ForceRelease bool

	// Quiet suppresses owner notifications.
	Quiet bool
}

// MoveToMaintenance parks hosts in the MAINTENANCE class. For each host not
// already there: its current class membership is captured and replaced with
// MAINTENANCE, the next user is assigned (clearing a stale assignment and
// retrying once if needed), the existing lease is optionally force-released,
// and the previous owner is told how to restore the host's prior classes.
// This is a forced administrative transition; the readiness gate does not
// apply.
func (c *Client) MoveToMaintenance(ctx context.Context, hosts []string, opts MaintenanceOptions) error {
	for _, host := range hosts {
		if err := c.moveOne(ctx, host, opts); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) moveOne(ctx context.Context, host string, opts MaintenanceOptions) error {
	infos, err := c.ListHosts(ctx, ListHostsOptions{
		HostRegexp: "^" + regexp.QuoteMeta(host) + "$",
		Verbose:    true,
	})
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return fmt.Errorf("move to maintenance: unknown host %s", host)
	}
	info := infos[0]

	if containsToken(info.Classes, MaintenanceClass) {
		c.log.WithField("host", host).Info("already in maintenance")
		return nil
	}

	prior := info.Classes
	if err := c.ModifyHost(ctx, host, []string{MaintenanceClass}, prior); err != nil {
		return err
	}

	nextUser := opts.NextUser
	if nextUser == "" {
		nextUser = c.cfg.MaintenanceUser
	}
	if err := c.assignNextUser(ctx, host, nextUser); err != nil {
		return err
	}

	if opts.ForceRelease && info.Leased() {
		if err := c.releaseOne(ctx, host, "", true); err != nil {
			return err
		}
	}

	if !opts.Quiet && info.Leased() {
		c.notifyOwner(ctx, host, &info, prior, opts.Reason)
	}
	return nil
}

// assignNextUser sets the host's next user. A failed assignment usually
// means a stale next user is already queued; it is cleared and the
// assignment retried once.
func (c *Client) assignNextUser(ctx context.Context, host, user string) error {
	err := c.AddNextUser(ctx, host, user)
	if err == nil {
		return nil
	}
	var le *LeaseError
	if !errors.As(err, &le) {
		return err
	}
	c.log.WithField("host", host).WithError(err).Info("clearing stale next user")
	if err := c.DelNextUser(ctx, host); err != nil {
		return err
	}
	return c.AddNextUser(ctx, host, user)
}

func (c *Client) notifyOwner(ctx context.Context, host string, info *Host, prior []string, reason string) {
	restore := fmt.Sprintf("rsvp modify --add %s --del %s %s",
		strings.Join(prior, ","), MaintenanceClass, host)
	body := fmt.Sprintf(
		"%s has been moved to maintenance.\nReason: %s\nYour reservation message was: %q\nTo restore its previous classes run:\n  %s\n",
		host, reason, info.Message, restore)

	if err := c.mail.Send(ctx, info.Owner, fmt.Sprintf("%s moved to maintenance", host), body); err != nil {
		c.log.WithError(err).Warn("could not mail previous owner")
	}
	if !c.chatSuppressed(info.Owner) {
		if err := c.chat.Post(ctx, info.Owner, fmt.Sprintf("%s moved to maintenance: %s", host, reason)); err != nil {
			c.log.WithError(err).Warn("could not chat previous owner")
		}
	}
}
