package rsvp

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/labpool/rsvp/internal/config"
	"github.com/labpool/rsvp/internal/distro"
	"github.com/labpool/rsvp/internal/notify"
	"github.com/labpool/rsvp/internal/obs"
	"github.com/labpool/rsvp/internal/wire"
)

// ReadinessFunc decides whether a host may be released back to the pool; a
// nil error means it may.
type ReadinessFunc func(ctx context.Context, host string) error

// Client talks to the leasing authority. One instance is meant for a single
// thread of control; the slept-range diagnostics and retry knobs are not
// guarded by locks.
type Client struct {
	cfg     *config.Config
	codec   *wire.Codec
	ready   ReadinessFunc
	chat    notify.Chat
	mail    notify.Mail
	metrics *obs.Metrics

	detect func() (string, error)
	sleep  func(time.Duration)
	now    func() time.Time

	slept []SleptRange
	log   *log.Entry
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	server  string
	ready   ReadinessFunc
	chat    notify.Chat
	mail    notify.Mail
	metrics *obs.Metrics
	detect  func() (string, error)
	sleep   func(time.Duration)
	now     func() time.Time
}

// WithServer overrides the leasing authority host, winning over the
// configuration file, the environment, and the compiled default.
func WithServer(server string) Option {
	return func(o *clientOptions) { o.server = server }
}

// WithReadiness installs the release-readiness check.
func WithReadiness(fn ReadinessFunc) Option {
	return func(o *clientOptions) { o.ready = fn }
}

// WithChat installs the chat notifier used for release escalation and
// maintenance notices.
func WithChat(chat notify.Chat) Option {
	return func(o *clientOptions) { o.chat = chat }
}

// WithMail installs the mail notifier used for maintenance notices.
func WithMail(mail notify.Mail) Option {
	return func(o *clientOptions) { o.mail = mail }
}

// WithMetrics installs prometheus instrumentation.
func WithMetrics(m *obs.Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithDetect overrides OS distribution detection; tests use this.
func WithDetect(fn func() (string, error)) Option {
	return func(o *clientOptions) { o.detect = fn }
}

// WithSleep overrides the retry sleep; tests use this.
func WithSleep(fn func(time.Duration)) Option {
	return func(o *clientOptions) { o.sleep = fn }
}

// WithClock overrides the clock; tests use this.
func WithClock(fn func() time.Time) Option {
	return func(o *clientOptions) { o.now = fn }
}

// New builds a client from the configuration.
func New(cfg *config.Config, opts ...Option) *Client {
	o := clientOptions{
		chat:   notify.Noop{},
		mail:   notify.Noop{},
		detect: distro.Detect,
		sleep:  time.Sleep,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	server := o.server
	if server == "" {
		server = cfg.Server
	}

	return &Client{
		cfg:     cfg,
		codec:   wire.NewCodec(server, cfg.Port),
		ready:   o.ready,
		chat:    o.chat,
		mail:    o.mail,
		metrics: o.metrics,
		detect:  o.detect,
		sleep:   o.sleep,
		now:     o.now,
		log:     log.WithField("user", cfg.User),
	}
}

// User returns the requesting user the client operates as.
func (c *Client) User() string { return c.cfg.User }

// exchange performs one protocol exchange and converts an error result into
// a LeaseError.
func (c *Client) exchange(ctx context.Context, command string, params map[string]any) (*wire.Result, error) {
	res, err := c.codec.Exchange(ctx, command, params)
	if err != nil {
		return nil, err
	}
	return c.checkResult(command, res)
}

// checkResult converts an error result into a LeaseError.
func (c *Client) checkResult(op string, res *wire.Result) (*wire.Result, error) {
	if res.OK() {
		return res, nil
	}
	return nil, &LeaseError{Op: op, Message: res.Message, Temporary: res.Temporary}
}

// AddHost registers a new host with the leasing authority.
func (c *Client) AddHost(ctx context.Context, host string, classes []string) error {
	_, err := c.exchange(ctx, "add_host", map[string]any{
		"host":    host,
		"classes": classes,
	})
	return err
}

// DelHost removes a host.
func (c *Client) DelHost(ctx context.Context, host string) error {
	_, err := c.exchange(ctx, "del_host", map[string]any{"host": host})
	return err
}

// AddResource registers a resource under its owning class.
func (c *Client) AddResource(ctx context.Context, name, class string) error {
	_, err := c.exchange(ctx, "add_resource", map[string]any{
		"resource": name,
		"class":    class,
	})
	return err
}

// DelResource removes a resource.
func (c *Client) DelResource(ctx context.Context, name string) error {
	_, err := c.exchange(ctx, "del_resource", map[string]any{"resource": name})
	return err
}

// AddClass creates a class. A non-empty members list makes it a composite
// whose membership is the union of the named classes.
func (c *Client) AddClass(ctx context.Context, name, description string, members []string) error {
	_, err := c.exchange(ctx, "add_class", map[string]any{
		"class":       name,
		"description": description,
		"members":     members,
	})
	return err
}

// DelClass removes a class.
func (c *Client) DelClass(ctx context.Context, name string) error {
	_, err := c.exchange(ctx, "del_class", map[string]any{"class": name})
	return err
}

// AddResourceClass creates a resource class.
func (c *Client) AddResourceClass(ctx context.Context, name, description string) error {
	_, err := c.exchange(ctx, "add_resource_class", map[string]any{
		"class":       name,
		"description": description,
	})
	return err
}

// DelResourceClass removes a resource class.
func (c *Client) DelResourceClass(ctx context.Context, name string) error {
	_, err := c.exchange(ctx, "del_resource_class", map[string]any{"class": name})
	return err
}

// ListHostsOptions filters a host listing.
type ListHostsOptions struct {
	User       string
	Class      string
	HostRegexp string
	Verbose    bool
}

// ListHosts lists hosts known to the leasing authority.
func (c *Client) ListHosts(ctx context.Context, opts ListHostsOptions) ([]Host, error) {
	res, err := c.exchange(ctx, "list_hosts", map[string]any{
		"user":    opts.User,
		"class":   opts.Class,
		"regexp":  opts.HostRegexp,
		"verbose": opts.Verbose,
	})
	if err != nil {
		return nil, err
	}
	var hosts []Host
	if err := wire.DecodeRows(res.Data, &hosts); err != nil {
		return nil, fmt.Errorf("list_hosts: %w", err)
	}
	return hosts, nil
}

// ListClasses lists classes, optionally narrowed to one.
func (c *Client) ListClasses(ctx context.Context, class string) ([]Class, error) {
	res, err := c.exchange(ctx, "list_classes", map[string]any{"class": class})
	if err != nil {
		return nil, err
	}
	var classes []Class
	if err := wire.DecodeRows(res.Data, &classes); err != nil {
		return nil, fmt.Errorf("list_classes: %w", err)
	}
	return classes, nil
}

// ModifyHost adjusts a host's class membership.
func (c *Client) ModifyHost(ctx context.Context, host string, add, del []string) error {
	_, err := c.exchange(ctx, "modify_host", map[string]any{
		"host":        host,
		"add_classes": add,
		"del_classes": del,
	})
	return err
}

// AddNextUser queues a user to receive the host on its next release.
func (c *Client) AddNextUser(ctx context.Context, host, user string) error {
	_, err := c.exchange(ctx, "add_next_user", map[string]any{
		"host": host,
		"user": user,
	})
	return err
}

// DelNextUser clears a host's queued next user.
func (c *Client) DelNextUser(ctx context.Context, host string) error {
	_, err := c.exchange(ctx, "del_next_user", map[string]any{"host": host})
	return err
}

// RenewReservation extends the caller's lease. An empty host renews every
// lease the caller holds. Returns the renewed hosts.
func (c *Client) RenewReservation(ctx context.Context, host string) ([]Host, error) {
	res, err := c.exchange(ctx, "renew_rsvp", map[string]any{
		"host": host,
		"user": c.cfg.User,
	})
	if err != nil {
		return nil, err
	}
	var hosts []Host
	if err := wire.DecodeRows(res.Data, &hosts); err != nil {
		return nil, fmt.Errorf("renew_rsvp: %w", err)
	}
	return hosts, nil
}

// Verify confirms the caller owns the host; ownership failures come back as
// a LeaseError.
func (c *Client) Verify(ctx context.Context, host string) error {
	_, err := c.exchange(ctx, "verify_rsvp", map[string]any{
		"host": host,
		"user": c.cfg.User,
	})
	return err
}
