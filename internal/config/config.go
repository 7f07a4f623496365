// Package config holds the client configuration: leasing authority
// coordinates, retry knobs, class-composition token lists, release-hygiene
// lists, and notification settings.
//
// Configuration is an explicit struct threaded through constructors. A YAML
// file overlays the compiled defaults; the leasing authority host
// additionally honors the RSVP_SERVER environment variable, with an explicit
// command-line override winning over both.
package config

import (
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	// Server is the leasing authority host. Empty means "resolve via the
	// environment, then the compiled default".
	Server string `mapstructure:"server" yaml:"server"`
	Port   int    `mapstructure:"port" yaml:"port"`

	// User is the requesting user for reserve/release operations.
	// Defaults to the current OS user.
	User string `mapstructure:"user" yaml:"user"`

	Reserve ReserveConfig `mapstructure:"reserve" yaml:"reserve"`
	Release ReleaseConfig `mapstructure:"release" yaml:"release"`
	Classes ClassConfig   `mapstructure:"classes" yaml:"classes"`
	Probe   ProbeConfig   `mapstructure:"probe" yaml:"probe"`
	Notify  NotifyConfig  `mapstructure:"notify" yaml:"notify"`

	// ReportPath is the bolt database file used to persist checkhosts run
	// reports.
	ReportPath string `mapstructure:"report_path" yaml:"report_path"`

	// MaintenanceUser is assigned as the next user of hosts moved to
	// maintenance when no explicit next user is given.
	MaintenanceUser string `mapstructure:"maintenance_user" yaml:"maintenance_user"`
}

// ReserveConfig tunes the reserve retry loop.
type ReserveConfig struct {
	// RetryTimeout is the first sleep after a temporary reservation
	// failure; subsequent sleeps grow by Multiplier up to a 3-minute cap.
	RetryTimeout time.Duration `mapstructure:"retry_timeout" yaml:"retry_timeout"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// ReleaseConfig tunes the release readiness loop.
type ReleaseConfig struct {
	RetryTimeout time.Duration `mapstructure:"retry_timeout" yaml:"retry_timeout"`
	RetryCount   int           `mapstructure:"retry_count" yaml:"retry_count"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// ClassConfig drives class composition for reservation requests.
type ClassConfig struct {
	// Hardware lists the recognized hardware class tokens; if a request
	// names none of them, DefaultHardware is appended.
	Hardware        []string `mapstructure:"hardware" yaml:"hardware"`
	DefaultHardware string   `mapstructure:"default_hardware" yaml:"default_hardware"`

	// OS lists the recognized OS class tokens, including the catch-all ALL.
	OS []string `mapstructure:"os" yaml:"os"`

	// OSOverride, when set, is appended verbatim when a request names no
	// OS class; otherwise the detected distribution decides, falling back
	// to DefaultOS.
	OSOverride string `mapstructure:"os_override" yaml:"os_override"`
	DefaultOS  string `mapstructure:"default_os" yaml:"default_os"`
}

// ProbeConfig tunes the release-readiness probes.
type ProbeConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// AllowedUsers are non-root process owners tolerated in a host's
	// process listing (system daemons).
	AllowedUsers []string `mapstructure:"allowed_users" yaml:"allowed_users"`

	// TabooProcesses block release when present in the listing for any
	// owner; TabooExempt carves out exceptions.
	TabooProcesses []string `mapstructure:"taboo_processes" yaml:"taboo_processes"`
	TabooExempt    []string `mapstructure:"taboo_exempt" yaml:"taboo_exempt"`

	// SSHUser and SSHKeyPath configure the SSH status source used to run
	// the remote diagnostic queries.
	SSHUser    string `mapstructure:"ssh_user" yaml:"ssh_user"`
	SSHKeyPath string `mapstructure:"ssh_key_path" yaml:"ssh_key_path"`

	// BMCUser and BMCPassword authenticate IPMI power commands against
	// the management controllers of physical hosts.
	BMCUser     string `mapstructure:"bmc_user" yaml:"bmc_user"`
	BMCPassword string `mapstructure:"bmc_password" yaml:"bmc_password"`
}

// NotifyConfig configures chat and mail escalation.
type NotifyConfig struct {
	ChatWebhook string `mapstructure:"chat_webhook" yaml:"chat_webhook"`

	// ChatSuppress lists owner accounts that never receive chat pings;
	// the automation accounts live here.
	ChatSuppress []string `mapstructure:"chat_suppress" yaml:"chat_suppress"`

	MailRelay string `mapstructure:"mail_relay" yaml:"mail_relay"`
	MailFrom  string `mapstructure:"mail_from" yaml:"mail_from"`

	// MailDomain completes bare usernames into addresses.
	MailDomain string `mapstructure:"mail_domain" yaml:"mail_domain"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	cfg := &Config{
		Reserve: ReserveConfig{
			RetryTimeout: 30 * time.Second,
			Multiplier:   1.5,
		},
		Release: ReleaseConfig{
			RetryTimeout: 15 * time.Second,
			RetryCount:   5,
			Multiplier:   1.5,
		},
		Classes: ClassConfig{
			Hardware:        []string{"PHYSICAL", "VIRTUAL"},
			DefaultHardware: "VIRTUAL",
			OS:              []string{"ALL", "CENTOS", "FEDORA", "RHEL"},
			DefaultOS:       "CENTOS",
		},
		Probe: ProbeConfig{
			Timeout:        30 * time.Second,
			AllowedUsers:   []string{"postfix", "chrony", "dbus", "polkitd", "rpc"},
			TabooProcesses: []string{"fio", "dmsetup", "mkfs"},
			SSHUser:        "root",
			BMCUser:        "admin",
		},
		Notify: NotifyConfig{
			ChatSuppress: []string{"autorsvp", "poolrobot"},
			MailFrom:     "rsvp",
		},
		MaintenanceUser: "poolrobot",
	}
	if u, err := user.Current(); err == nil {
		cfg.User = u.Username
	}
	return cfg
}

// LoadFile overlays a YAML file onto the defaults. An empty path returns
// the defaults untouched.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := dec.Decode(rawConfig); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the retry loops cannot run with.
func (c *Config) Validate() error {
	if c.Reserve.Multiplier < 1 {
		return fmt.Errorf("reserve.multiplier must be >= 1, got %g", c.Reserve.Multiplier)
	}
	if c.Release.Multiplier < 1 {
		return fmt.Errorf("release.multiplier must be >= 1, got %g", c.Release.Multiplier)
	}
	if c.Release.RetryCount < 1 {
		return fmt.Errorf("release.retry_count must be >= 1, got %d", c.Release.RetryCount)
	}
	if c.Classes.DefaultHardware == "" {
		return fmt.Errorf("classes.default_hardware is required")
	}
	if c.Classes.DefaultOS == "" {
		return fmt.Errorf("classes.default_os is required")
	}
	return nil
}
