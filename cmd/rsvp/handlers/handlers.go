// Package handlers implements the business logic for CLI commands.
//
// Handler functions are called by the command definitions in the commands
// package. They are framework-agnostic and tested independently of the CLI
// wiring.
package handlers

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/labpool/rsvp/internal/config"
	"github.com/labpool/rsvp/internal/notify"
	"github.com/labpool/rsvp/internal/probe"
	"github.com/labpool/rsvp/internal/rsvp"
)

// Options carries the global flags shared by every command.
type Options struct {
	ConfigPath string
	Server     string
	User       string
	Verbose    bool
}

// Factory function variables, replaced in tests for dependency injection.
var (
	loadConfigFile = config.LoadFile

	newStatusSource = func(cfg config.ProbeConfig) (probe.StatusSource, error) {
		return probe.NewSSHSource(cfg)
	}

	output io.Writer = os.Stdout
)

// loadConfig loads the configuration file and applies the global flag
// overrides on top of it.
func loadConfig(opts Options) (*config.Config, error) {
	cfg, err := loadConfigFile(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.Server != "" {
		cfg.Server = opts.Server
	}
	if opts.User != "" {
		cfg.User = opts.User
	}
	return cfg, nil
}

// newClient builds a reservation client with notification and readiness
// wiring derived from the configuration.
func newClient(cfg *config.Config, extra ...rsvp.Option) (*rsvp.Client, error) {
	clientOpts := make([]rsvp.Option, 0, len(extra)+3)

	if cfg.Notify.ChatWebhook != "" {
		clientOpts = append(clientOpts, rsvp.WithChat(notify.NewWebhookChat(cfg.Notify.ChatWebhook)))
	}
	if cfg.Notify.MailRelay != "" {
		clientOpts = append(clientOpts, rsvp.WithMail(&notify.SMTPMail{
			Relay:  cfg.Notify.MailRelay,
			From:   cfg.Notify.MailFrom,
			Domain: cfg.Notify.MailDomain,
		}))
	}

	if cfg.Probe.SSHKeyPath != "" {
		src, err := newStatusSource(cfg.Probe)
		if err != nil {
			return nil, err
		}
		checker := probe.NewChecker(src, cfg.Probe)
		clientOpts = append(clientOpts, rsvp.WithReadiness(checker.Check))
	} else {
		log.Debug("no SSH key configured, release readiness probes disabled")
	}

	clientOpts = append(clientOpts, extra...)
	return rsvp.New(cfg, clientOpts...), nil
}

// printHosts writes a host table.
func printHosts(hosts []rsvp.Host, verbose bool) {
	w := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tOWNER\tEXPIRES\tMESSAGE")
	for _, h := range hosts {
		expires := "-"
		if h.Expiry > 0 {
			expires = time.Unix(h.Expiry, 0).Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.Name, orDash(h.Owner), expires, orDash(h.Message))
		if verbose && len(h.Classes) > 0 {
			fmt.Fprintf(w, "\tclasses:\t%v\t\n", h.Classes)
		}
	}
	_ = w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// compilePattern validates a host regular expression flag.
func compilePattern(pattern string) (string, error) {
	if pattern == "" {
		return "", nil
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return "", fmt.Errorf("invalid host pattern %q: %w", pattern, err)
	}
	return pattern, nil
}
