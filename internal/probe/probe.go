// Package probe implements the release-readiness checks: a health query
// against the host's status daemon and a process-hygiene scan of its
// process listing. A host may only be released back to the pool when both
// come back clean.
package probe

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/labpool/rsvp/internal/config"
)

// CleanToken is the bill-of-health answer from a host's checkServer query.
const CleanToken = "OK"

// maxListedUserLen is how many characters of a username survive in the
// remote process listing. The remote ps truncates the user column, so
// candidate names are compared on at most this prefix. This is a
// compatibility shim for that formatting quirk, not a general pattern.
const maxListedUserLen = 7

// Process is one line of a host's process listing.
type Process struct {
	User    string
	PID     string
	Command string
}

// StatusSource answers the two diagnostic queries about a host.
type StatusSource interface {
	// CheckServer returns CleanToken or free-form warning text.
	CheckServer(ctx context.Context, host string) (string, error)

	// Processes returns the host's current process listing.
	Processes(ctx context.Context, host string) ([]Process, error)
}

// ParseProcesses parses raw process-listing output: a header line followed
// by one line per process with user, pid and command columns (command last).
func ParseProcesses(output string) ([]Process, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("empty process listing")
	}

	var procs []Process
	for _, line := range lines[1:] { // skip header
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		procs = append(procs, Process{
			User:    fields[0],
			PID:     fields[1],
			Command: fields[len(fields)-1],
		})
	}
	return procs, nil
}

// NotReadyError reports why a host failed its readiness check.
type NotReadyError struct {
	Host    string
	Reasons []string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s is not ready for release: %s", e.Host, strings.Join(e.Reasons, "; "))
}

// Checker combines the two probes into a single readiness verdict.
type Checker struct {
	src StatusSource
	cfg config.ProbeConfig
}

// NewChecker builds a readiness checker over a status source.
func NewChecker(src StatusSource, cfg config.ProbeConfig) *Checker {
	return &Checker{src: src, cfg: cfg}
}

// Check returns nil when the host is clean, a NotReadyError when either
// probe objects, or a plain error when a probe could not be run at all.
func (c *Checker) Check(ctx context.Context, host string) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	health, err := c.src.CheckServer(ctx, host)
	if err != nil {
		return fmt.Errorf("checkServer query on %s: %w", host, err)
	}

	var reasons []string
	if h := strings.TrimSpace(health); h != CleanToken {
		reasons = append(reasons, fmt.Sprintf("checkServer reports: %s", h))
	}

	procs, err := c.src.Processes(ctx, host)
	if err != nil {
		return fmt.Errorf("process listing on %s: %w", host, err)
	}
	for _, p := range procs {
		if c.taboo(p.Command) {
			reasons = append(reasons, fmt.Sprintf("taboo process %s (pid %s, user %s)", p.Command, p.PID, p.User))
			continue
		}
		if p.User != "root" && !c.allowedUser(p.User) {
			reasons = append(reasons, fmt.Sprintf("unexpected process %s owned by %s (pid %s)", p.Command, p.User, p.PID))
		}
	}

	if len(reasons) > 0 {
		log.WithFields(log.Fields{"host": host, "reasons": len(reasons)}).Debug("host failed readiness check")
		return &NotReadyError{Host: host, Reasons: reasons}
	}
	return nil
}

func (c *Checker) taboo(command string) bool {
	for _, exempt := range c.cfg.TabooExempt {
		if command == exempt {
			return false
		}
	}
	for _, t := range c.cfg.TabooProcesses {
		if command == t {
			return true
		}
	}
	return false
}

func (c *Checker) allowedUser(listed string) bool {
	for _, candidate := range c.cfg.AllowedUsers {
		if UserMatches(candidate, listed) {
			return true
		}
	}
	return false
}

// UserMatches reports whether a listed process owner is the candidate user,
// honoring the listing's username truncation.
func UserMatches(candidate, listed string) bool {
	if candidate == listed {
		return true
	}
	if len(candidate) > maxListedUserLen {
		return listed == candidate[:maxListedUserLen]
	}
	return false
}
