package handlers

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labpool/rsvp/internal/config"
	"github.com/labpool/rsvp/internal/probe"
	"github.com/labpool/rsvp/internal/rsvp/rsvptest"
	"github.com/labpool/rsvp/internal/wire"
)

// saveAndRestoreFactories snapshots the injection points and restores them
// when the test finishes.
func saveAndRestoreFactories(t *testing.T) {
	t.Helper()
	origLoad := loadConfigFile
	origSource := newStatusSource
	origOutput := output
	origSettle := restartSettle
	t.Cleanup(func() {
		loadConfigFile = origLoad
		newStatusSource = origSource
		output = origOutput
		restartSettle = origSettle
	})
}

// testSetup points the handlers at an in-process leasing server and
// captures their output.
func testSetup(t *testing.T, srv *rsvptest.Server) *bytes.Buffer {
	t.Helper()
	saveAndRestoreFactories(t)

	loadConfigFile = func(_ string) (*config.Config, error) {
		cfg := config.Default()
		cfg.Server = srv.Host()
		cfg.Port = srv.Port()
		cfg.User = "tester"
		return cfg, nil
	}

	buf := &bytes.Buffer{}
	output = buf
	return buf
}

func TestAddHost(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("add_host", wire.Success("added", nil))
	buf := testSetup(t, srv)

	err := AddHost(context.Background(), Options{}, []string{"lab-001"}, []string{"PHYSICAL"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "added host lab-001")

	reqs := srv.Requests("add_host")
	require.Len(t, reqs, 1)
	assert.Equal(t, "lab-001", reqs[0].Params["host"])
}

func TestModify_NeedsChanges(t *testing.T) {
	srv := rsvptest.Start(t)
	testSetup(t, srv)

	err := Modify(context.Background(), Options{}, []string{"lab-001"}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to modify")
}

func TestReserve_PrintsHosts(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("rsvp_class", wire.Success("reserved", []map[string]any{
		{"name": "lab-007", "owner": "tester", "expiry": float64(1700003600)},
	}))
	buf := testSetup(t, srv)

	err := Reserve(context.Background(), Options{}, ReserveArgs{Count: 1})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "lab-007")
	assert.Contains(t, buf.String(), "tester")
}

func TestReserve_ResourceNeedsOneClass(t *testing.T) {
	srv := rsvptest.Start(t)
	testSetup(t, srv)

	err := Reserve(context.Background(), Options{}, ReserveArgs{Resource: true, Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one class")
}

func TestRelease_NeedsTarget(t *testing.T) {
	srv := rsvptest.Start(t)
	testSetup(t, srv)

	err := Release(context.Background(), Options{}, "", false, false, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--all")
}

func TestRelease_Force(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("verify_rsvp", wire.Success("ok", nil))
	srv.Script("release_rsvp", wire.Success("released", nil))
	buf := testSetup(t, srv)

	err := Release(context.Background(), Options{}, "lab-001", false, true, "", "")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "released lab-001")
}

func TestListHosts_Empty(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("list_hosts", wire.Success("", nil))
	buf := testSetup(t, srv)

	err := ListHosts(context.Background(), Options{}, ListArgs{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "no hosts")
}

func TestListHosts_BadPattern(t *testing.T) {
	srv := rsvptest.Start(t)
	testSetup(t, srv)

	err := ListHosts(context.Background(), Options{}, ListArgs{Pattern: "lab-["})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid host pattern")
}

func TestListClasses(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("list_classes", wire.Success("", []map[string]any{
		{"name": "FARM", "description": "build farm", "members": []string{"FARM_A", "FARM_B"}},
		{"name": "FARM_A", "hosts": []string{"lab-001", "lab-002"}},
	}))
	buf := testSetup(t, srv)

	err := ListClasses(context.Background(), Options{}, "")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "FARM_A,FARM_B")
	assert.Contains(t, buf.String(), "lab-001,lab-002")
}

func TestMaintenance_NeedsReason(t *testing.T) {
	srv := rsvptest.Start(t)
	testSetup(t, srv)

	err := Maintenance(context.Background(), Options{}, []string{"lab-001"}, "", "", false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reason")
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	saveAndRestoreFactories(t)
	loadConfigFile = func(_ string) (*config.Config, error) {
		cfg := config.Default()
		cfg.Server = "configured.example"
		cfg.User = "configured"
		return cfg, nil
	}

	cfg, err := loadConfig(Options{Server: "flag.example", User: "flaguser"})
	require.NoError(t, err)
	assert.Equal(t, "flag.example", cfg.Server)
	assert.Equal(t, "flaguser", cfg.User)
}

func TestCheckHosts_NeedsSSHKey(t *testing.T) {
	srv := rsvptest.Start(t)
	testSetup(t, srv)

	err := CheckHosts(context.Background(), Options{}, CheckArgs{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ssh_key_path")
}

type healthySource struct{}

func (healthySource) CheckServer(_ context.Context, _ string) (string, error) {
	return probe.CleanToken, nil
}

func (healthySource) Processes(_ context.Context, _ string) ([]probe.Process, error) {
	return []probe.Process{{User: "root", PID: "1", Command: "systemd"}}, nil
}

// fixTestSetup is testSetup plus the probe and timing wiring the fix-cycle
// tests need.
func fixTestSetup(t *testing.T, srv *rsvptest.Server, src probe.StatusSource) *bytes.Buffer {
	t.Helper()
	buf := testSetup(t, srv)

	loadConfigFile = func(_ string) (*config.Config, error) {
		cfg := config.Default()
		cfg.Server = srv.Host()
		cfg.Port = srv.Port()
		cfg.User = "tester"
		cfg.Probe.SSHKeyPath = "/dev/null"
		return cfg, nil
	}
	newStatusSource = func(_ config.ProbeConfig) (probe.StatusSource, error) {
		return src, nil
	}
	restartSettle = 0
	return buf
}

// stickySource reports the same complaint before and after a restart; its
// Run method lets the virtual machine family "reboot" it without effect.
type stickySource struct {
	mu       sync.Mutex
	rebooted []string
}

func (s *stickySource) CheckServer(_ context.Context, _ string) (string, error) {
	return "disk errors on /dev/sdb", nil
}

func (s *stickySource) Processes(_ context.Context, _ string) ([]probe.Process, error) {
	return []probe.Process{{User: "root", PID: "1", Command: "systemd"}}, nil
}

func (s *stickySource) Run(_ context.Context, host, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebooted = append(s.rebooted, host)
	return "", nil
}

// recoveringSource is unhealthy until its Run method restarts it.
type recoveringSource struct {
	mu    sync.Mutex
	fixed bool
}

func (s *recoveringSource) CheckServer(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fixed {
		return probe.CleanToken, nil
	}
	return "stale workload detected", nil
}

func (s *recoveringSource) Processes(_ context.Context, _ string) ([]probe.Process, error) {
	return []probe.Process{{User: "root", PID: "1", Command: "systemd"}}, nil
}

func (s *recoveringSource) Run(_ context.Context, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixed = true
	return "", nil
}

// unreachableSource fails the probe itself rather than the host.
type unreachableSource struct{}

func (unreachableSource) CheckServer(_ context.Context, host string) (string, error) {
	return "", fmt.Errorf("dial %s: connection refused", host)
}

func (unreachableSource) Processes(_ context.Context, _ string) ([]probe.Process, error) {
	return nil, fmt.Errorf("no connection")
}

func (unreachableSource) Run(_ context.Context, host, _ string) (string, error) {
	return "", fmt.Errorf("unexpected restart of %s", host)
}

func TestCheckHosts_FixStillUnhealthyHostStaysReserved(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("list_hosts", wire.Success("", []map[string]any{{"name": "vlab-001"}}))
	srv.Script("rsvp_host", wire.Success("reserved", map[string]any{"name": "vlab-001", "owner": "tester"}))
	srv.Script("list_hosts", wire.Success("", []map[string]any{{"name": "vlab-001"}}))

	src := &stickySource{}
	buf := fixTestSetup(t, srv, src)

	err := CheckHosts(context.Background(), Options{}, CheckArgs{Fix: true})
	require.Error(t, err)

	// The reboot ran but the complaint survived: no release, one failure.
	assert.Equal(t, []string{"vlab-001"}, src.rebooted)
	assert.Len(t, srv.Requests("rsvp_host"), 1)
	assert.Empty(t, srv.Requests("release_rsvp"))
	assert.Contains(t, buf.String(), "1 failures")
	assert.Contains(t, buf.String(), "still unhealthy after restart")
}

func TestCheckHosts_FixCycleVerifiesThenReleasesThroughGate(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("list_hosts", wire.Success("", []map[string]any{{"name": "vlab-001"}}))
	srv.Script("rsvp_host", wire.Success("reserved", map[string]any{"name": "vlab-001", "owner": "tester"}))
	srv.Script("verify_rsvp", wire.Success("ok", nil))
	srv.Script("release_rsvp", wire.Success("released", nil))

	buf := fixTestSetup(t, srv, &recoveringSource{})

	err := CheckHosts(context.Background(), Options{}, CheckArgs{Fix: true})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "0 failures")

	releases := srv.Requests("release_rsvp")
	require.Len(t, releases, 1)
	assert.Equal(t, false, releases[0].Params["force"])
}

func TestCheckHosts_UnreachableHostIsNotFixed(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("list_hosts", wire.Success("", []map[string]any{{"name": "vlab-001"}}))
	srv.Script("list_hosts", wire.Success("", []map[string]any{{"name": "vlab-001"}}))

	buf := fixTestSetup(t, srv, unreachableSource{})

	err := CheckHosts(context.Background(), Options{}, CheckArgs{Fix: true})
	require.Error(t, err)

	// A probe that could not run is a failure, never a restart.
	assert.Empty(t, srv.Requests("rsvp_host"))
	assert.Empty(t, srv.Requests("release_rsvp"))
	assert.Contains(t, buf.String(), "1 failures")
	assert.Contains(t, buf.String(), "connection refused")
}

func TestCheckHosts_AllHealthy(t *testing.T) {
	srv := rsvptest.Start(t)
	srv.Script("list_hosts", wire.Success("", []map[string]any{
		{"name": "lab-001"},
		{"name": "lab-002", "owner": "alice"},
	}))
	buf := testSetup(t, srv)

	loadConfigFile = func(_ string) (*config.Config, error) {
		cfg := config.Default()
		cfg.Server = srv.Host()
		cfg.Port = srv.Port()
		cfg.User = "tester"
		cfg.Probe.SSHKeyPath = "/dev/null"
		return cfg, nil
	}
	newStatusSource = func(_ config.ProbeConfig) (probe.StatusSource, error) {
		return healthySource{}, nil
	}

	err := CheckHosts(context.Background(), Options{}, CheckArgs{Concurrency: 2})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "checked 1 hosts, 1 skipped, 0 failures")
}
