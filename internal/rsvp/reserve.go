package rsvp

import (
	"context"
	"fmt"
	"time"

	"github.com/labpool/rsvp/internal/wire"
)

// maxRetrySleep caps the interval between reservation retries.
const maxRetrySleep = 3 * time.Minute

// ReserveOptions shapes a reservation request.
type ReserveOptions struct {
	// Message is attached to the lease for other users to see.
	Message string

	// Wait keeps retrying while the authority reports a temporary
	// shortage. Without it the request is issued exactly once.
	Wait bool
}

// ReserveHostByName leases one specific host.
func (c *Client) ReserveHostByName(ctx context.Context, host string, opts ReserveOptions) (*Host, error) {
	res, err := c.reserveWithRetries(ctx, "rsvp_host", map[string]any{
		"host":    host,
		"user":    c.cfg.User,
		"message": opts.Message,
	}, opts.Wait)
	if err != nil {
		return nil, err
	}
	var leased Host
	if err := wire.DecodeRows(res.Data, &leased); err != nil {
		return nil, fmt.Errorf("rsvp_host: %w", err)
	}
	return &leased, nil
}

// ReserveHosts leases numHosts machines drawn from the given classes. The
// class list is completed via AppendClasses before the request goes out.
func (c *Client) ReserveHosts(ctx context.Context, numHosts int, classes []string, opts ReserveOptions) ([]Host, error) {
	if numHosts < 1 {
		return nil, fmt.Errorf("rsvp_class: need at least one host, got %d", numHosts)
	}
	res, err := c.reserveWithRetries(ctx, "rsvp_class", map[string]any{
		"numhosts": numHosts,
		"classes":  c.AppendClasses(classes),
		"user":     c.cfg.User,
		"message":  opts.Message,
	}, opts.Wait)
	if err != nil {
		return nil, err
	}
	var leased []Host
	if err := wire.DecodeRows(res.Data, &leased); err != nil {
		return nil, fmt.Errorf("rsvp_class: %w", err)
	}
	return leased, nil
}

// ReserveResources leases numResources resources from a class. Resources
// always belong to exactly one class, so no class composition applies.
func (c *Client) ReserveResources(ctx context.Context, numResources int, class string, opts ReserveOptions) ([]Resource, error) {
	if class == "" {
		return nil, fmt.Errorf("rsvp_class: resource reservations need a class")
	}
	if numResources < 1 {
		return nil, fmt.Errorf("rsvp_class: need at least one resource, got %d", numResources)
	}
	res, err := c.reserveWithRetries(ctx, "rsvp_class", map[string]any{
		"numresources": numResources,
		"class":        class,
		"resource":     true,
		"user":         c.cfg.User,
		"message":      opts.Message,
	}, opts.Wait)
	if err != nil {
		return nil, err
	}
	var leased []Resource
	if err := wire.DecodeRows(res.Data, &leased); err != nil {
		return nil, fmt.Errorf("rsvp_class: %w", err)
	}
	return leased, nil
}

// reserveWithRetries issues a reservation request. With wait set, temporary
// errors are retried after a sleep that starts at the configured retry
// timeout and grows by the retry multiplier after every failed attempt,
// capped at maxRetrySleep. Every other outcome ends the loop; the final
// result still goes through the usual error check.
func (c *Client) reserveWithRetries(ctx context.Context, command string, params map[string]any, wait bool) (*wire.Result, error) {
	interval := min(c.cfg.Reserve.RetryTimeout, maxRetrySleep)
	for {
		res, err := c.codec.Exchange(ctx, command, params)
		if err != nil {
			c.countReserve("protocol")
			return nil, err
		}
		if res.OK() {
			c.countReserve("success")
			return res, nil
		}
		if !wait || !res.Temporary {
			if res.Temporary {
				c.countReserve("temporary")
			} else {
				c.countReserve("permanent")
			}
			return c.checkResult(command, res)
		}

		c.countReserve("temporary")
		c.log.WithFields(map[string]any{
			"command": command,
			"sleep":   interval,
		}).Infof("reservation unavailable (%s), retrying", res.Message)
		if err := c.sleepFor(ctx, interval); err != nil {
			return nil, err
		}
		interval = nextInterval(interval, c.cfg.Reserve.Multiplier)
	}
}

// sleepFor blocks for d, records it as a SleptRange, and bails out early if
// the context dies.
func (c *Client) sleepFor(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := c.now()
	c.sleep(d)
	c.recordSleep(start, d)
	if c.metrics != nil {
		c.metrics.RetrySleepSeconds.Observe(d.Seconds())
	}
	return ctx.Err()
}

// recordSleep appends a slept range, coalescing consecutive ranges that
// start at the same instant.
func (c *Client) recordSleep(start time.Time, d time.Duration) {
	if n := len(c.slept); n > 0 && c.slept[n-1].Start.Equal(start) {
		c.slept[n-1].Duration += d
		return
	}
	c.slept = append(c.slept, SleptRange{Start: start, Duration: d})
}

// SleptRanges returns the intervals the client has spent blocked between
// retries, for diagnostics.
func (c *Client) SleptRanges() []SleptRange {
	return append([]SleptRange(nil), c.slept...)
}

func (c *Client) countReserve(result string) {
	if c.metrics != nil {
		c.metrics.ReserveTotal.WithLabelValues(result).Inc()
	}
}

func nextInterval(d time.Duration, multiplier float64) time.Duration {
	next := time.Duration(float64(d) * multiplier)
	if next > maxRetrySleep {
		next = maxRetrySleep
	}
	return next
}
