package rsvp

import (
	"context"
	"fmt"
	"strings"
)

// ReleaseOptions shapes a release request.
type ReleaseOptions struct {
	// All releases every host the caller currently owns instead of a
	// single named one.
	All bool

	// Force skips the readiness gate. Administrative use only.
	Force bool

	// Key is the reservation key, when the lease was taken with one.
	Key string
}

// ReleaseHost gives hosts back to the pool. Each host must pass ownership
// verification (fatal when the caller is not the owner) and a readiness
// check before its release is issued. Hosts that stay unready are retried
// up to the configured retry count with growing sleeps in between; if any
// are still stuck afterwards the owner is pinged on chat (unless the owner
// is one of the automation accounts) and a ReleaseStuckError names them.
func (c *Client) ReleaseHost(ctx context.Context, host string, opts ReleaseOptions) error {
	pending, err := c.releaseTargets(ctx, host, opts.All)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		c.log.Info("no reserved hosts to release")
		return nil
	}

	interval := min(c.cfg.Release.RetryTimeout, maxRetrySleep)
	var lastCheck error
	for attempt := 1; attempt <= c.cfg.Release.RetryCount; attempt++ {
		var still []string
		for _, h := range pending {
			if err := c.Verify(ctx, h); err != nil {
				return fmt.Errorf("cannot release %s: %w", h, err)
			}
			if !opts.Force && c.ready != nil {
				if err := c.ready(ctx, h); err != nil {
					lastCheck = err
					still = append(still, h)
					c.log.WithField("host", h).WithError(err).Info("host not ready for release")
					continue
				}
			}
			if err := c.releaseOne(ctx, h, opts.Key, opts.Force); err != nil {
				return err
			}
			c.log.WithField("host", h).Info("released")
		}
		pending = still
		if len(pending) == 0 {
			c.countRelease("success")
			return nil
		}
		if attempt < c.cfg.Release.RetryCount {
			if err := c.sleepFor(ctx, interval); err != nil {
				return err
			}
			interval = nextInterval(interval, c.cfg.Release.Multiplier)
		}
	}

	c.countRelease("stuck")
	stuck := &ReleaseStuckError{Hosts: pending, LastCheck: lastCheck}
	c.log.WithField("hosts", strings.Join(pending, ",")).Error(stuck.Error())
	if !c.chatSuppressed(c.cfg.User) {
		if err := c.chat.Post(ctx, c.cfg.User, stuck.Error()); err != nil {
			c.log.WithError(err).Warn("could not send chat notification")
		}
	}
	return stuck
}

// releaseTargets resolves which hosts a release applies to: the single
// named host, or every host the caller owns.
func (c *Client) releaseTargets(ctx context.Context, host string, all bool) ([]string, error) {
	if !all {
		if host == "" {
			return nil, fmt.Errorf("release_rsvp: no host named and --all not set")
		}
		return []string{host}, nil
	}
	owned, err := c.ListHosts(ctx, ListHostsOptions{User: c.cfg.User})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(owned))
	for _, h := range owned {
		names = append(names, h.Name)
	}
	return names, nil
}

func (c *Client) releaseOne(ctx context.Context, host, key string, force bool) error {
	_, err := c.exchange(ctx, "release_rsvp", map[string]any{
		"host":  host,
		"user":  c.cfg.User,
		"key":   key,
		"force": force,
	})
	return err
}

// ReleaseResource gives a resource back to its class. Resources are never
// health-checked, so no readiness gate applies.
func (c *Client) ReleaseResource(ctx context.Context, name, key string) error {
	_, err := c.exchange(ctx, "release_resource", map[string]any{
		"resource": name,
		"user":     c.cfg.User,
		"key":      key,
	})
	return err
}

func (c *Client) chatSuppressed(user string) bool {
	for _, s := range c.cfg.Notify.ChatSuppress {
		if s == user {
			return true
		}
	}
	return false
}

func (c *Client) countRelease(result string) {
	if c.metrics != nil {
		c.metrics.ReleaseTotal.WithLabelValues(result).Inc()
	}
}
