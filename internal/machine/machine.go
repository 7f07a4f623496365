// Package machine maps hosts to their hardware family and knows how to
// restart each kind. Families are looked up through a registry of hostname
// patterns, so a new lab rack means a new registry rule rather than another
// branch in the fixing code.
package machine

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"

	log "github.com/sirupsen/logrus"
)

// Runner executes a command on a remote host.
type Runner interface {
	Run(ctx context.Context, host, command string) (string, error)
}

// Family restarts machines of one hardware kind.
type Family interface {
	Name() string

	// Reboot asks the operating system to restart.
	Reboot(ctx context.Context, host string) error

	// PowerCycle cuts and restores power out of band, for hosts the
	// operating system can no longer be reached on.
	PowerCycle(ctx context.Context, host string) error
}

type entry struct {
	pattern *regexp.Regexp
	family  Family
}

// Registry resolves a host to its family by hostname pattern. Rules are
// tried in registration order; hosts matching none get the fallback.
type Registry struct {
	entries  []entry
	fallback Family
}

// NewRegistry builds a registry with the given fallback family.
func NewRegistry(fallback Family) *Registry {
	return &Registry{fallback: fallback}
}

// Register adds a hostname rule. Patterns are ordinary regular expressions
// matched against the full hostname.
func (r *Registry) Register(pattern string, f Family) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid family pattern %q: %w", pattern, err)
	}
	r.entries = append(r.entries, entry{pattern: re, family: f})
	return nil
}

// Lookup returns the family for a host.
func (r *Registry) Lookup(host string) Family {
	for _, e := range r.entries {
		if e.pattern.MatchString(host) {
			return e.family
		}
	}
	return r.fallback
}

// SSHFamily restarts hosts over SSH. It has no out-of-band power control.
type SSHFamily struct {
	name   string
	runner Runner
	reboot string
}

// The restart detaches from the session so the SSH command can exit
// cleanly before the host goes down.
const defaultRebootCommand = "(sleep 2; systemctl reboot) >/dev/null 2>&1 &"

// NewSSHFamily builds a family that reboots through the host itself.
func NewSSHFamily(name string, runner Runner) *SSHFamily {
	return &SSHFamily{name: name, runner: runner, reboot: defaultRebootCommand}
}

func (f *SSHFamily) Name() string { return f.name }

func (f *SSHFamily) Reboot(ctx context.Context, host string) error {
	log.WithFields(log.Fields{"host": host, "family": f.name}).Info("rebooting over SSH")
	if _, err := f.runner.Run(ctx, host, f.reboot); err != nil {
		return fmt.Errorf("reboot %s: %w", host, err)
	}
	return nil
}

func (f *SSHFamily) PowerCycle(_ context.Context, host string) error {
	return fmt.Errorf("family %s has no out-of-band power control for %s", f.name, host)
}

// BMCFamily restarts hosts through their baseboard management controller
// with ipmitool.
type BMCFamily struct {
	name string
	user string
	pass string

	// addr derives the controller address from the hostname.
	addr func(host string) string

	execCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewBMCFamily builds a family driven by ipmitool. By default the
// controller answers at "<host>-bmc".
func NewBMCFamily(name, user, pass string) *BMCFamily {
	return &BMCFamily{
		name: name,
		user: user,
		pass: pass,
		addr: func(host string) string { return host + "-bmc" },
		execCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// WithAddress overrides the controller address derivation.
func (f *BMCFamily) WithAddress(fn func(host string) string) *BMCFamily {
	f.addr = fn
	return f
}

func (f *BMCFamily) Name() string { return f.name }

func (f *BMCFamily) Reboot(ctx context.Context, host string) error {
	return f.power(ctx, host, "reset")
}

func (f *BMCFamily) PowerCycle(ctx context.Context, host string) error {
	return f.power(ctx, host, "cycle")
}

func (f *BMCFamily) power(ctx context.Context, host, action string) error {
	bmc := f.addr(host)
	log.WithFields(log.Fields{"host": host, "bmc": bmc, "action": action, "family": f.name}).
		Info("issuing IPMI power command")
	args := []string{"-I", "lanplus", "-H", bmc, "-U", f.user, "-P", f.pass, "power", action}
	out, err := f.execCommand(ctx, "ipmitool", args...)
	if err != nil {
		return fmt.Errorf("ipmitool power %s on %s: %w: %s", action, bmc, err, string(out))
	}
	return nil
}

// NewDefaultRegistry wires the lab's standard families: virtual machines
// reboot over SSH, everything else is physical hardware with a controller.
func NewDefaultRegistry(runner Runner, bmcUser, bmcPass string) (*Registry, error) {
	physical := NewBMCFamily("physical", bmcUser, bmcPass)
	r := NewRegistry(physical)
	if err := r.Register(`^vlab-`, NewSSHFamily("virtual", runner)); err != nil {
		return nil, err
	}
	return r, nil
}
