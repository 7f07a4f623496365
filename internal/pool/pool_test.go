package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labpool/rsvp/internal/task"
)

func fastConfig() Config {
	return Config{
		Concurrency:  4,
		Stagger:      time.Millisecond,
		PollInterval: time.Millisecond,
		StallTimeout: time.Second,
	}
}

func items(n int) []Item {
	out := make([]Item, n)
	for i := range out {
		out[i] = Item{Host: fmt.Sprintf("lab-%03d", i)}
	}
	return out
}

func TestRun_ProcessesEveryHostOnce(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)

	p := New(fastConfig())
	summary, err := p.Run(context.Background(), items(10), func(_ context.Context, it Item) (any, error) {
		mu.Lock()
		seen[it.Host]++
		mu.Unlock()
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 10, summary.Processed)
	assert.Zero(t, summary.Failures)
	require.Len(t, seen, 10)
	for host, count := range seen {
		assert.Equal(t, 1, count, "host %s ran %d times", host, count)
	}
}

func TestRun_DuplicateHostsRunOnce(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)

	p := New(fastConfig())
	summary, err := p.Run(context.Background(), []Item{
		{Host: "lab-000"},
		{Host: "lab-001"},
		{Host: "lab-000"},
	}, func(_ context.Context, it Item) (any, error) {
		mu.Lock()
		seen[it.Host]++
		mu.Unlock()
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, seen["lab-000"])
	assert.Equal(t, 1, seen["lab-001"])
}

func TestRun_ConcurrencyCapHolds(t *testing.T) {
	var liveNow, peak atomic.Int32

	cfg := fastConfig()
	cfg.Concurrency = 3

	p := New(cfg)
	_, err := p.Run(context.Background(), items(12), func(_ context.Context, _ Item) (any, error) {
		n := liveNow.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		liveNow.Add(-1)
		return nil, nil
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestRun_PopsFromTail(t *testing.T) {
	var mu sync.Mutex
	var order []string

	cfg := fastConfig()
	cfg.Concurrency = 1 // serialize to observe ordering

	p := New(cfg)
	_, err := p.Run(context.Background(), []Item{
		{Host: "lab-000"}, {Host: "lab-001"}, {Host: "lab-002"},
	}, func(_ context.Context, it Item) (any, error) {
		mu.Lock()
		order = append(order, it.Host)
		mu.Unlock()
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"lab-002", "lab-001", "lab-000"}, order)
}

func TestRun_SkipsOwnedHosts(t *testing.T) {
	var ran atomic.Int32

	p := New(fastConfig())
	summary, err := p.Run(context.Background(), []Item{
		{Host: "lab-000"},
		{Host: "lab-001", Owner: "bob"},
		{Host: "lab-002"},
	}, func(_ context.Context, _ Item) (any, error) {
		ran.Add(1)
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, int32(2), ran.Load())
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Processed)
}

func TestRun_IncludeOwned(t *testing.T) {
	var ran atomic.Int32

	cfg := fastConfig()
	cfg.IncludeOwned = true

	p := New(cfg)
	summary, err := p.Run(context.Background(), []Item{
		{Host: "lab-000", Owner: "bob"},
	}, func(_ context.Context, _ Item) (any, error) {
		ran.Add(1)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), ran.Load())
	assert.Zero(t, summary.Skipped)
}

func TestRun_FailuresCountedAgainstThreshold(t *testing.T) {
	p := New(fastConfig())
	summary, err := p.Run(context.Background(), items(4), func(_ context.Context, it Item) (any, error) {
		if it.Host == "lab-001" || it.Host == "lab-002" {
			return nil, errors.New("probe failed")
		}
		return nil, nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 host checks failed")
	assert.Equal(t, 2, summary.Failures)
}

func TestRun_FailThreshold(t *testing.T) {
	cfg := fastConfig()
	cfg.FailThreshold = 2

	p := New(cfg)
	_, err := p.Run(context.Background(), items(4), func(_ context.Context, it Item) (any, error) {
		if it.Host == "lab-001" || it.Host == "lab-002" {
			return nil, errors.New("probe failed")
		}
		return nil, nil
	})
	require.NoError(t, err)
}

func TestRun_RaceSuppression(t *testing.T) {
	cfg := fastConfig()
	cfg.OwnerLookup = func(_ context.Context, host string) (string, error) {
		return "alice", nil // everything got reserved mid-check
	}

	p := New(cfg)
	summary, err := p.Run(context.Background(), items(3), func(_ context.Context, _ Item) (any, error) {
		return nil, errors.New("probe failed")
	})
	require.NoError(t, err)

	assert.Zero(t, summary.Failures)
	for _, o := range summary.Outcomes {
		assert.True(t, o.Suppressed)
	}
}

func TestRun_LeakLimitAborts(t *testing.T) {
	cfg := fastConfig()
	cfg.Fix = true
	cfg.Concurrency = 1 // deterministic: leaks accumulate one at a time

	var ran atomic.Int32
	p := New(cfg)
	summary, err := p.Run(context.Background(), items(10), func(_ context.Context, _ Item) (any, error) {
		ran.Add(1)
		return nil, fmt.Errorf("%w: reservation denied", ErrFixFailed)
	})

	require.ErrorIs(t, err, ErrLeakLimit)
	assert.Equal(t, 3, summary.Leaks)
	// The run stopped before processing the remaining hosts.
	assert.Less(t, int(ran.Load()), 10)
}

func TestRun_FixFailuresWithoutFixModeAreOrdinary(t *testing.T) {
	cfg := fastConfig()
	cfg.FailThreshold = 100

	p := New(cfg)
	summary, err := p.Run(context.Background(), items(5), func(_ context.Context, _ Item) (any, error) {
		return nil, fmt.Errorf("%w: reservation denied", ErrFixFailed)
	})
	require.NoError(t, err)
	assert.Zero(t, summary.Leaks)
	assert.Equal(t, 5, summary.Failures)
}

func TestRun_StallAborts(t *testing.T) {
	cfg := fastConfig()
	cfg.StallTimeout = 50 * time.Millisecond
	cfg.Concurrency = 2

	block := make(chan struct{})
	defer close(block)

	p := New(cfg)
	summary, err := p.Run(context.Background(), items(4), func(ctx context.Context, _ Item) (any, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	})

	require.ErrorIs(t, err, ErrStalled)
	assert.Zero(t, summary.Processed)
}

func TestRun_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(fastConfig())
	_, err := p.Run(ctx, items(3), func(_ context.Context, _ Item) (any, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_PanicBecomesErrorOutcome(t *testing.T) {
	p := New(fastConfig())
	summary, err := p.Run(context.Background(), items(1), func(_ context.Context, _ Item) (any, error) {
		panic("bad probe wiring")
	})

	require.Error(t, err)
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, task.StatusError, summary.Outcomes[0].Status)
	assert.Contains(t, summary.Outcomes[0].Err.Error(), "bad probe wiring")
}

func TestRun_Empty(t *testing.T) {
	p := New(fastConfig())
	summary, err := p.Run(context.Background(), nil, func(_ context.Context, _ Item) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
}
