package handlers

import (
	"context"
	"fmt"
)

// AddHost registers hosts with the leasing authority.
func AddHost(ctx context.Context, opts Options, hosts []string, classes []string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	for _, host := range hosts {
		if err := client.AddHost(ctx, host, classes); err != nil {
			return err
		}
		fmt.Fprintf(output, "added host %s\n", host)
	}
	return nil
}

// DelHost removes hosts from the leasing authority.
func DelHost(ctx context.Context, opts Options, hosts []string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	for _, host := range hosts {
		if err := client.DelHost(ctx, host); err != nil {
			return err
		}
		fmt.Fprintf(output, "deleted host %s\n", host)
	}
	return nil
}

// AddResource registers a resource under a resource class.
func AddResource(ctx context.Context, opts Options, name, class string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	if err := client.AddResource(ctx, name, class); err != nil {
		return err
	}
	fmt.Fprintf(output, "added resource %s to class %s\n", name, class)
	return nil
}

// DelResource removes a resource.
func DelResource(ctx context.Context, opts Options, name string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	if err := client.DelResource(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(output, "deleted resource %s\n", name)
	return nil
}

// AddClass creates a host class.
func AddClass(ctx context.Context, opts Options, name, description string, members []string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	if err := client.AddClass(ctx, name, description, members); err != nil {
		return err
	}
	fmt.Fprintf(output, "added class %s\n", name)
	return nil
}

// DelClass removes a host class.
func DelClass(ctx context.Context, opts Options, name string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	if err := client.DelClass(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(output, "deleted class %s\n", name)
	return nil
}

// AddResourceClass creates a resource class.
func AddResourceClass(ctx context.Context, opts Options, name, description string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	if err := client.AddResourceClass(ctx, name, description); err != nil {
		return err
	}
	fmt.Fprintf(output, "added resource class %s\n", name)
	return nil
}

// DelResourceClass removes a resource class.
func DelResourceClass(ctx context.Context, opts Options, name string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	if err := client.DelResourceClass(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(output, "deleted resource class %s\n", name)
	return nil
}

// Modify adjusts class membership on hosts.
func Modify(ctx context.Context, opts Options, hosts, add, del []string) error {
	if len(add) == 0 && len(del) == 0 {
		return fmt.Errorf("nothing to modify: pass --add or --del")
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	for _, host := range hosts {
		if err := client.ModifyHost(ctx, host, add, del); err != nil {
			return err
		}
		fmt.Fprintf(output, "modified %s\n", host)
	}
	return nil
}

// SetNextUser queues a user to receive a host on its next release.
func SetNextUser(ctx context.Context, opts Options, host, user string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	if err := client.AddNextUser(ctx, host, user); err != nil {
		return err
	}
	fmt.Fprintf(output, "next user of %s is now %s\n", host, user)
	return nil
}

// ClearNextUser removes a host's queued next user.
func ClearNextUser(ctx context.Context, opts Options, host string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	if err := client.DelNextUser(ctx, host); err != nil {
		return err
	}
	fmt.Fprintf(output, "cleared next user of %s\n", host)
	return nil
}
