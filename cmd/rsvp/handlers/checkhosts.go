package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/labpool/rsvp/internal/machine"
	"github.com/labpool/rsvp/internal/obs"
	"github.com/labpool/rsvp/internal/pool"
	"github.com/labpool/rsvp/internal/probe"
	"github.com/labpool/rsvp/internal/report"
	"github.com/labpool/rsvp/internal/rsvp"
)

// CheckArgs tunes a checkhosts run.
type CheckArgs struct {
	// Fix reserves unhealthy hosts, restarts them through their machine
	// family, and releases them again.
	Fix bool

	// IncludeOwned also checks hosts that currently carry a lease.
	IncludeOwned bool

	Concurrency   int
	FailThreshold int

	// Class and Pattern narrow the set of hosts to check.
	Class   string
	Pattern string

	// MetricsListen serves prometheus metrics on this address for the
	// duration of the run.
	MetricsListen string

	// ReportPath overrides the configured report database location.
	ReportPath string
}

const fixLeaseMessage = "automated fix in progress"

// restartSettle is how long a restarted host gets to come back up before
// the post-restart verification probe runs. Shortened in tests.
var restartSettle = 90 * time.Second

// CheckHosts probes every matching pool host concurrently, optionally
// fixing unhealthy ones, and persists the outcomes as a run report.
func CheckHosts(ctx context.Context, opts Options, args CheckArgs) error {
	pattern, err := compilePattern(args.Pattern)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if cfg.Probe.SSHKeyPath == "" {
		return fmt.Errorf("checkhosts needs probe.ssh_key_path in the config")
	}

	// Metrics go to the default registry only when they are actually
	// served; otherwise a throwaway registry keeps repeat runs in one
	// process from colliding.
	var metrics *obs.Metrics
	if args.MetricsListen != "" {
		serveMetrics(args.MetricsListen)
		metrics = obs.NewMetrics(nil)
	} else {
		metrics = obs.NewMetrics(prometheus.NewRegistry())
	}

	client, err := newClient(cfg, rsvp.WithMetrics(metrics))
	if err != nil {
		return err
	}

	src, err := newStatusSource(cfg.Probe)
	if err != nil {
		return err
	}
	checker := probe.NewChecker(src, cfg.Probe)

	var registry *machine.Registry
	if args.Fix {
		runner, ok := src.(machine.Runner)
		if !ok {
			return fmt.Errorf("fix mode needs a status source that can run remote commands")
		}
		registry, err = machine.NewDefaultRegistry(runner, cfg.Probe.BMCUser, cfg.Probe.BMCPassword)
		if err != nil {
			return err
		}
	}

	hosts, err := client.ListHosts(ctx, rsvp.ListHostsOptions{
		Class:      args.Class,
		HostRegexp: pattern,
		Verbose:    true,
	})
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		fmt.Fprintln(output, "no hosts matched")
		return nil
	}

	items := make([]pool.Item, 0, len(hosts))
	for _, h := range hosts {
		items = append(items, pool.Item{Host: h.Name, Owner: h.Owner})
	}

	p := pool.New(pool.Config{
		Concurrency:   args.Concurrency,
		IncludeOwned:  args.IncludeOwned,
		Fix:           args.Fix,
		FailThreshold: args.FailThreshold,
		OwnerLookup:   ownerLookup(client),
	}, pool.WithMetrics(metrics))

	started := time.Now()
	summary, runErr := p.Run(ctx, items, func(ctx context.Context, item pool.Item) (any, error) {
		probeErr := checker.Check(ctx, item.Host)
		if probeErr == nil {
			return nil, nil
		}
		// Only probe verdicts are fixable; a probe that could not run at
		// all (host unreachable, SSH failure) is reported, not restarted.
		var notReady *probe.NotReadyError
		if !args.Fix || !errors.As(probeErr, &notReady) {
			return nil, probeErr
		}
		if err := fixHost(ctx, client, checker, registry, item.Host); err != nil {
			return nil, fmt.Errorf("%w: %v (probe: %v)", pool.ErrFixFailed, err, probeErr)
		}
		log.WithField("host", item.Host).Info("host fixed and released")
		return nil, nil
	})

	printSummary(summary)

	reportPath := args.ReportPath
	if reportPath == "" {
		reportPath = cfg.ReportPath
	}
	if reportPath != "" && summary != nil {
		if id, err := persistRun(reportPath, started, args.Fix, summary); err != nil {
			log.WithError(err).Warn("could not persist run report")
		} else {
			fmt.Fprintf(output, "run report saved as %s\n", id)
		}
	}

	return runErr
}

// fixHost runs the reserve, restart, verify, release cycle on an unhealthy
// host. The host stays reserved when any stage fails, so it cannot be
// handed out while broken.
func fixHost(ctx context.Context, client *rsvp.Client, checker *probe.Checker, registry *machine.Registry, host string) error {
	if _, err := client.ReserveHostByName(ctx, host, rsvp.ReserveOptions{Message: fixLeaseMessage}); err != nil {
		return fmt.Errorf("reserve for fixing: %w", err)
	}

	family := registry.Lookup(host)
	if err := family.Reboot(ctx, host); err != nil {
		log.WithField("host", host).WithError(err).Warn("reboot failed, trying power cycle")
		if err := family.PowerCycle(ctx, host); err != nil {
			return fmt.Errorf("restart: %w", err)
		}
	}

	select {
	case <-time.After(restartSettle):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := checker.Check(ctx, host); err != nil {
		return fmt.Errorf("still unhealthy after restart: %w", err)
	}

	// No force: the release goes through the ordinary readiness gate.
	if err := client.ReleaseHost(ctx, host, rsvp.ReleaseOptions{}); err != nil {
		return fmt.Errorf("release after fixing: %w", err)
	}
	return nil
}

// ownerLookup reconciles pool failures against current ownership.
func ownerLookup(client *rsvp.Client) pool.OwnerFunc {
	return func(ctx context.Context, host string) (string, error) {
		hosts, err := client.ListHosts(ctx, rsvp.ListHostsOptions{HostRegexp: "^" + regexp.QuoteMeta(host) + "$"})
		if err != nil {
			return "", err
		}
		if len(hosts) == 0 {
			return "", fmt.Errorf("host %s not found", host)
		}
		return hosts[0].Owner, nil
	}
}

func printSummary(summary *pool.Summary) {
	if summary == nil {
		return
	}
	w := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tSTATUS\tDETAIL")
	for _, o := range summary.Outcomes {
		detail := "-"
		switch {
		case o.Suppressed:
			detail = "reserved mid-check, ignored"
		case o.Err != nil:
			detail = o.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", o.Host, o.Status, detail)
	}
	_ = w.Flush()
	fmt.Fprintf(output, "checked %d hosts, %d skipped, %d failures\n",
		summary.Processed, summary.Skipped, summary.Failures)
}

func persistRun(path string, started time.Time, fix bool, summary *pool.Summary) (string, error) {
	store, err := report.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = store.Close() }()

	results := make([]report.HostResult, 0, len(summary.Outcomes))
	for _, o := range summary.Outcomes {
		r := report.HostResult{
			Host:       o.Host,
			Status:     o.Status.String(),
			Suppressed: o.Suppressed,
		}
		if o.Err != nil {
			r.Error = o.Err.Error()
		}
		results = append(results, r)
	}
	return store.Save(report.Run{
		Started:  started,
		Fix:      fix,
		Failures: summary.Failures,
		Results:  results,
	})
}

// serveMetrics exposes the default registry for the duration of the run.
func serveMetrics(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Warn("metrics listener stopped")
		}
	}()
}

// Report prints stored run reports: every run when id is empty, otherwise
// the per-host outcomes of one run.
func Report(_ context.Context, opts Options, path, id string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if path == "" {
		path = cfg.ReportPath
	}
	if path == "" {
		return fmt.Errorf("no report database configured: set report_path or pass --report-path")
	}

	store, err := report.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if id == "" {
		runs, err := store.Runs()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTARTED\tFIX\tHOSTS\tFAILURES")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\n",
				run.ID, run.Started.Format(time.RFC3339), run.Fix, len(run.Results), run.Failures)
		}
		return w.Flush()
	}

	run, err := store.Run(id)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tSTATUS\tERROR")
	for _, r := range run.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Host, r.Status, orDash(r.Error))
	}
	return w.Flush()
}
