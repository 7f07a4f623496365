// Package pool drives many per-host checks concurrently as asynchronous
// tasks under a concurrency cap. The pool runs single-threaded and
// cooperative: it launches staggered tasks while capacity remains, polls
// the live ones each loop iteration, and sleeps briefly in between. Work is
// popped from the tail of the list, since the leasing authority hands out
// the most recently freed hosts from that end and checking them first is
// more likely to catch churn.
//
// Two safety valves abort a run early: a leak limit (hosts that a fix-mode
// run failed to fix and release) and a stall timeout (the pending work set
// stopped shrinking).
package pool

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/labpool/rsvp/internal/obs"
	"github.com/labpool/rsvp/internal/task"
)

var (
	// ErrLeakLimit aborts a fix-mode run that leaked too many hosts.
	ErrLeakLimit = errors.New("too many hosts failed to fix and release")

	// ErrStalled aborts a run whose pending work stopped shrinking.
	ErrStalled = errors.New("host checking stalled")

	// ErrFixFailed marks a per-host outcome where the fix/release cycle
	// failed; fix-mode runs count these as leaks.
	ErrFixFailed = errors.New("fix and release failed")
)

// Item is one unit of work: a host, optionally annotated with its known
// current owner.
type Item struct {
	Host  string
	Owner string
}

// RunFunc performs the per-host work inside an asynchronous task.
type RunFunc func(ctx context.Context, item Item) (any, error)

// OwnerFunc reports the current owner of a host, empty when unowned. The
// pool uses it to reconcile failures against ownership changes.
type OwnerFunc func(ctx context.Context, host string) (string, error)

// Config tunes a pool run.
type Config struct {
	// Concurrency caps the number of simultaneously live tasks.
	Concurrency int

	// Stagger spaces out task launches to avoid a connection burst
	// against the leasing authority.
	Stagger time.Duration

	// PollInterval is the sleep between loop iterations; the pool's only
	// suspension point.
	PollInterval time.Duration

	// IncludeOwned also checks hosts that already have an owner.
	IncludeOwned bool

	// Fix enables the administrative reserve/fix/verify/release cycle in
	// the work function and the leak safety valve with it.
	Fix bool

	// LeakLimit aborts a fix-mode run once this many hosts leaked.
	LeakLimit int

	// FailThreshold is the number of failures a run tolerates before the
	// whole run is reported as failed.
	FailThreshold int

	// StallTimeout aborts the run when the pending work set has not
	// shrunk for this long.
	StallTimeout time.Duration

	// OwnerLookup reconciles failures against current ownership; a host
	// that has since been reserved by someone else fails as a race, not
	// as a defect.
	OwnerLookup OwnerFunc
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Stagger <= 0 {
		c.Stagger = 500 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.LeakLimit <= 0 {
		c.LeakLimit = 3
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 10 * time.Minute
	}
	return c
}

// Outcome is the collected result of one host's task.
type Outcome struct {
	Host       string
	Status     task.Status
	Err        error
	Suppressed bool // failure reconciled away as an ownership race
}

// Summary aggregates a run.
type Summary struct {
	Processed int
	Skipped   int
	Failures  int
	Leaks     int
	Outcomes  []Outcome
}

// Pool runs host checks. One Run at a time per Pool.
type Pool struct {
	cfg     Config
	metrics *obs.Metrics
	log     *log.Entry
	now     func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithMetrics installs prometheus instrumentation.
func WithMetrics(m *obs.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// New builds a pool.
func New(cfg Config, opts ...Option) *Pool {
	p := &Pool{
		cfg: cfg.withDefaults(),
		log: log.WithField("component", "pool"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes every item and aggregates the outcomes. It returns an
// error when a safety valve trips, the context dies, or the failure count
// ends up above the configured threshold; the summary is valid either way.
func (p *Pool) Run(ctx context.Context, items []Item, fn RunFunc) (*Summary, error) {
	// Tasks are tracked by hostname, so a duplicate entry would orphan
	// the first task for that host; only the first occurrence is kept.
	queue := make([]Item, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if seen[item.Host] {
			p.log.WithField("host", item.Host).Warn("duplicate work item dropped")
			continue
		}
		seen[item.Host] = true
		queue = append(queue, item)
	}

	live := make(map[string]*task.Task)
	queued := make(map[string]Item)
	summary := &Summary{}

	lastPending := len(queue)
	lastProgress := p.now()

	for len(queue) > 0 || len(live) > 0 {
		if err := ctx.Err(); err != nil {
			p.killAll(live)
			return summary, err
		}

		// Launch while capacity remains, from the tail of the list.
		for len(live) < p.cfg.Concurrency && len(queue) > 0 {
			item := queue[len(queue)-1]
			queue = queue[:len(queue)-1]

			if item.Owner != "" && !p.cfg.IncludeOwned {
				p.log.WithFields(log.Fields{"host": item.Host, "owner": item.Owner}).
					Debug("skipping reserved host")
				summary.Skipped++
				continue
			}

			it := item
			tk := task.New(func(taskCtx context.Context) (any, error) {
				return fn(taskCtx, it)
			}, task.WithExpectedSignals(syscall.SIGTERM))
			if err := tk.Start(ctx); err != nil {
				summary.Failures++
				summary.Outcomes = append(summary.Outcomes, Outcome{
					Host:   item.Host,
					Status: task.StatusFailure,
					Err:    err,
				})
				continue
			}
			live[item.Host] = tk
			queued[item.Host] = item
			time.Sleep(p.cfg.Stagger)
		}

		// Collect completed tasks.
		for host, tk := range live {
			if !tk.IsComplete() {
				continue
			}
			delete(live, host)
			item := queued[host]
			delete(queued, host)

			outcome := p.collect(ctx, host, item, tk)
			summary.Processed++
			summary.Outcomes = append(summary.Outcomes, outcome)
			if outcome.Err != nil && !outcome.Suppressed {
				if p.cfg.Fix && errors.Is(outcome.Err, ErrFixFailed) {
					summary.Leaks++
					if p.metrics != nil {
						p.metrics.LeaksTotal.Inc()
					}
					if summary.Leaks >= p.cfg.LeakLimit {
						p.log.WithField("leaks", summary.Leaks).Error("leak limit reached, aborting")
						p.killAll(live)
						return summary, fmt.Errorf("%w: %d hosts", ErrLeakLimit, summary.Leaks)
					}
				}
				summary.Failures++
			}
		}

		// Stall detection: the pending set must keep shrinking.
		pending := len(queue) + len(live)
		if pending < lastPending {
			lastPending = pending
			lastProgress = p.now()
		} else if pending > 0 && p.now().Sub(lastProgress) >= p.cfg.StallTimeout {
			p.log.WithField("pending", pending).Error("no progress, aborting as stalled")
			p.killAll(live)
			return summary, fmt.Errorf("%w: %d hosts pending", ErrStalled, pending)
		}

		if len(queue) == 0 && len(live) == 0 {
			break
		}
		time.Sleep(p.cfg.PollInterval)
	}

	if summary.Failures > p.cfg.FailThreshold {
		return summary, fmt.Errorf("%d host checks failed (threshold %d)",
			summary.Failures, p.cfg.FailThreshold)
	}
	return summary, nil
}

// collect turns a finished task into an outcome, reconciling failures
// against ownership churn.
func (p *Pool) collect(ctx context.Context, host string, item Item, tk *task.Task) Outcome {
	status := tk.Status()
	if p.metrics != nil {
		p.metrics.TaskTotal.WithLabelValues(status.String()).Inc()
	}

	outcome := Outcome{Host: host, Status: status}
	if status == task.StatusOK {
		return outcome
	}

	outcome.Err = tk.Err(ctx)
	if outcome.Err == nil {
		// Ended by an expected signal; nothing to report.
		return outcome
	}

	if p.cfg.OwnerLookup != nil {
		owner, err := p.cfg.OwnerLookup(ctx, host)
		if err == nil && owner != "" && owner != item.Owner {
			p.log.WithFields(log.Fields{"host": host, "owner": owner}).
				Info("failure suppressed, host was reserved mid-check")
			outcome.Suppressed = true
			return outcome
		}
	}

	p.log.WithField("host", host).WithError(outcome.Err).Warn("host check failed")
	return outcome
}

func (p *Pool) killAll(live map[string]*task.Task) {
	for host, tk := range live {
		if tk.Kill(syscall.SIGTERM) {
			p.log.WithField("host", host).Debug("killed outstanding task")
		}
	}
}
