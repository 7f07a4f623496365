package rsvp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labpool/rsvp/internal/config"
	"github.com/labpool/rsvp/internal/rsvp/rsvptest"
	"github.com/labpool/rsvp/internal/wire"
)

// newTestClient wires a client to the fake server with a fake sleep and a
// frozen clock, and returns the recorded sleep durations.
func newTestClient(t *testing.T, srv *rsvptest.Server) (*Client, *[]time.Duration) {
	t.Helper()

	cfg := config.Default()
	cfg.User = "jdoe"
	cfg.Port = srv.Port()
	cfg.Reserve.RetryTimeout = time.Second
	cfg.Reserve.Multiplier = 1.5
	cfg.Release.RetryTimeout = time.Second
	cfg.Release.RetryCount = 3

	sleeps := &[]time.Duration{}
	c := New(cfg,
		WithServer(srv.Host()),
		WithSleep(func(d time.Duration) { *sleeps = append(*sleeps, d) }),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
		WithDetect(func() (string, error) { return "centos", nil }),
	)
	return c, sleeps
}

func hostData(names ...string) []map[string]any {
	var rows []map[string]any
	for _, n := range names {
		rows = append(rows, map[string]any{"name": n, "owner": "jdoe", "expiry": 1700003600})
	}
	return rows
}

func TestReserveHosts_Success(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("rsvp_class", wire.Success("reserved", hostData("lab-041", "lab-042")))

	c, sleeps := newTestClient(t, srv)
	hosts, err := c.ReserveHosts(context.Background(), 2, []string{"FARM"}, ReserveOptions{Message: "perf run"})
	require.NoError(t, err)

	require.Len(t, hosts, 2)
	assert.Equal(t, "lab-041", hosts[0].Name)
	assert.Empty(t, *sleeps)

	// The request carried the composed class list and the caller identity.
	reqs := srv.Requests("rsvp_class")
	require.Len(t, reqs, 1)
	assert.Equal(t, []any{"FARM", "VIRTUAL", "CENTOS"}, reqs[0].Params["classes"])
	assert.Equal(t, "jdoe", reqs[0].Params["user"])
	assert.Equal(t, "perf run", reqs[0].Params["message"])
}

func TestReserveHosts_WaitRetriesTemporaryErrors(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("rsvp_class",
		wire.Error("not enough free hosts", true),
		wire.Error("not enough free hosts", true),
		wire.Success("reserved", hostData("lab-007")),
	)

	c, sleeps := newTestClient(t, srv)
	hosts, err := c.ReserveHosts(context.Background(), 1, nil, ReserveOptions{Wait: true})
	require.NoError(t, err)
	require.Len(t, hosts, 1)

	// Exactly N retries for N temporary errors, with non-decreasing sleeps.
	require.Len(t, srv.Requests("rsvp_class"), 3)
	require.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond}, *sleeps)
}

func TestReserveHosts_WaitStopsOnPermanentError(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("rsvp_class",
		wire.Error("not enough free hosts", true),
		wire.Error("no such class BOGUS", false),
	)

	c, sleeps := newTestClient(t, srv)
	_, err := c.ReserveHosts(context.Background(), 1, nil, ReserveOptions{Wait: true})

	var le *LeaseError
	require.ErrorAs(t, err, &le)
	assert.False(t, le.Temporary)
	assert.Contains(t, le.Message, "BOGUS")

	// No retry after the permanent error.
	assert.Len(t, srv.Requests("rsvp_class"), 2)
	assert.Len(t, *sleeps, 1)
}

func TestReserveHosts_NoWaitIssuesExactlyOnce(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("rsvp_class", wire.Error("not enough free hosts", true))

	c, sleeps := newTestClient(t, srv)
	_, err := c.ReserveHosts(context.Background(), 1, nil, ReserveOptions{})

	var le *LeaseError
	require.ErrorAs(t, err, &le)
	assert.True(t, le.Temporary)
	assert.Len(t, srv.Requests("rsvp_class"), 1)
	assert.Empty(t, *sleeps)
}

func TestReserveHosts_SleepCapped(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("rsvp_class",
		wire.Error("busy", true),
		wire.Error("busy", true),
		wire.Error("busy", true),
		wire.Success("reserved", hostData("lab-001")),
	)

	c, sleeps := newTestClient(t, srv)
	c.cfg.Reserve.RetryTimeout = 2 * time.Minute
	c.cfg.Reserve.Multiplier = 2.0

	_, err := c.ReserveHosts(context.Background(), 1, nil, ReserveOptions{Wait: true})
	require.NoError(t, err)

	require.Equal(t, []time.Duration{2 * time.Minute, 3 * time.Minute, 3 * time.Minute}, *sleeps)
}

func TestReserveHosts_SleptRangesCoalesce(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("rsvp_class",
		wire.Error("busy", true),
		wire.Error("busy", true),
		wire.Success("reserved", hostData("lab-001")),
	)

	c, _ := newTestClient(t, srv)
	_, err := c.ReserveHosts(context.Background(), 1, nil, ReserveOptions{Wait: true})
	require.NoError(t, err)

	// The frozen clock makes consecutive sleeps start at the same instant,
	// so they coalesce into a single range.
	ranges := c.SleptRanges()
	require.Len(t, ranges, 1)
	assert.Equal(t, 2500*time.Millisecond, ranges[0].Duration)
}

func TestReserveHosts_ProtocolErrorNotRetried(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.RawScript("rsvp_class", "del_host 00") // mismatched command

	c, sleeps := newTestClient(t, srv)
	_, err := c.ReserveHosts(context.Background(), 1, nil, ReserveOptions{Wait: true})

	var perr *wire.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Len(t, srv.Requests("rsvp_class"), 1)
	assert.Empty(t, *sleeps)
}

func TestReserveHostByName(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("rsvp_host", wire.Success("reserved", map[string]any{
		"name":   "lab-042",
		"owner":  "jdoe",
		"expiry": 1700003600,
	}))

	c, _ := newTestClient(t, srv)
	host, err := c.ReserveHostByName(context.Background(), "lab-042", ReserveOptions{})
	require.NoError(t, err)

	assert.Equal(t, "lab-042", host.Name)
	assert.True(t, host.Leased())

	reqs := srv.Requests("rsvp_host")
	require.Len(t, reqs, 1)
	assert.Equal(t, "lab-042", reqs[0].Params["host"])
}

func TestReserveResources(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("rsvp_class", wire.Success("reserved", []map[string]any{
		{"name": "lun-3", "class": "LUNS", "owner": "jdoe"},
	}))

	c, _ := newTestClient(t, srv)
	resources, err := c.ReserveResources(context.Background(), 1, "LUNS", ReserveOptions{})
	require.NoError(t, err)

	require.Len(t, resources, 1)
	assert.Equal(t, "lun-3", resources[0].Name)

	reqs := srv.Requests("rsvp_class")
	require.Len(t, reqs, 1)
	assert.Equal(t, true, reqs[0].Params["resource"])
	assert.Equal(t, "LUNS", reqs[0].Params["class"])
}

func TestReserveResources_RequiresClass(t *testing.T) {
	srv := rsvptest.Start(t)
	c, _ := newTestClient(t, srv)

	_, err := c.ReserveResources(context.Background(), 1, "", ReserveOptions{})
	require.Error(t, err)
	assert.False(t, errors.As(err, new(*LeaseError)))
}
