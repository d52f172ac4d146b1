// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apc-dev/apc/internal/config"
	"github.com/apc-dev/apc/internal/discovery"
	"github.com/apc-dev/apc/internal/store"
	"github.com/apc-dev/apc/internal/supervisor"
	"github.com/apc-dev/apc/internal/transport"
	"github.com/apc-dev/apc/internal/transport/transporttest"
	apcerr "github.com/apc-dev/apc/pkg/errors"
	"github.com/apc-dev/apc/pkg/health"
	"github.com/apc-dev/apc/pkg/types"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	sup     *supervisor.Supervisor
	fake    *transporttest.Fake
	ports   *discovery.Store
	journal *store.MemoryJournal
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Workspace = "/home/dev/project"
	cfg.Discovery.Dir = t.TempDir()
	cfg.Readiness.SettleDelay = 20 * time.Millisecond
	cfg.Readiness.PollReady = time.Hour
	cfg.Readiness.PollDegraded = time.Hour
	cfg.Journal.Backend = "memory"
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	fake := transporttest.NewFake()
	fake.Reply(transport.CmdStatus, transport.StatusResult{Ready: true, ChecksComplete: true})
	fake.Reply(transport.CmdDependencyStatus, transport.DependencyStatusResult{})

	journal := store.NewMemoryJournal(0)
	sup, err := supervisor.New(cfg, supervisor.Options{Transport: fake, Journal: journal})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Close() })

	ports, err := discovery.NewStore(cfg.Discovery.Dir, cfg.Workspace)
	require.NoError(t, err)
	return &harness{sup: sup, fake: fake, ports: ports, journal: journal}
}

func TestStartConnectsThroughDiscoveryFile(t *testing.T) {
	h := newHarness(t, testConfig(t))
	require.NoError(t, h.ports.Write(45123))

	require.NoError(t, h.sup.Start(context.Background()))

	assert.True(t, h.sup.IsConnected())
	assert.Equal(t, []string{"ws://127.0.0.1:45123"}, h.fake.Connects()[:1])
	assert.Equal(t, health.StateHealthy, h.sup.ConnectionHealth().State)
	assert.Eventually(t, func() bool { return h.sup.Phase() == types.PhaseReady }, waitFor, tick)
	assert.Equal(t, h.ports.Path(), h.sup.DiscoveryPath())
	assert.Equal(t, h.ports.WorkspaceHash(), h.sup.WorkspaceHash())
}

func TestStartWithoutDaemonEndsInDaemonMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitor.Interval = 10 * time.Millisecond
	cfg.Monitor.PingTimeout = 10 * time.Millisecond
	h := newHarness(t, cfg)

	require.NoError(t, h.sup.Start(context.Background()))

	assert.False(t, h.sup.IsConnected())
	assert.Eventually(t, func() bool {
		return h.sup.ConnectionHealth().State == health.StateUnhealthy
	}, waitFor, tick)
	assert.Eventually(t, func() bool { return h.sup.Phase() == types.PhaseDaemonMissing }, waitFor, tick)
}

func TestManualReconnectReportsMissingDaemon(t *testing.T) {
	h := newHarness(t, testConfig(t))

	res := h.sup.ManualReconnect(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, "Daemon not running. Start it and try again.", res.Error)

	require.NoError(t, h.ports.Write(45124))
	res = h.sup.ManualReconnect(context.Background())
	assert.True(t, res.Success)
	assert.True(t, h.sup.IsConnected())
}

func TestShutdownNoticeIsSticky(t *testing.T) {
	h := newHarness(t, testConfig(t))
	require.NoError(t, h.ports.Write(45125))
	require.NoError(t, h.sup.Start(context.Background()))
	require.Eventually(t, func() bool { return h.sup.Phase() == types.PhaseReady }, waitFor, tick)

	seen := make(chan health.State, 8)
	dispose := h.sup.OnConnectionHealthChanged(func(ch health.ConnectionHealth) { seen <- ch.State })
	defer dispose()

	h.fake.Emit(transport.EventDaemonShutdown, transport.ShutdownNotice{Reason: "user quit"})

	assert.True(t, h.sup.WasDaemonShutdown())
	assert.Equal(t, health.StateDaemonStopped, h.sup.ConnectionHealth().State)
	select {
	case st := <-seen:
		assert.Equal(t, health.StateDaemonStopped, st)
	case <-time.After(waitFor):
		t.Fatal("no health notification for the shutdown notice")
	}
	assert.Eventually(t, func() bool { return h.sup.Phase() == types.PhaseDaemonMissing }, waitFor, tick)

	h.sup.ResetShutdownState()
	assert.False(t, h.sup.WasDaemonShutdown())
	assert.NotEqual(t, health.StateDaemonStopped, h.sup.ConnectionHealth().State)
	assert.Eventually(t, func() bool {
		return h.sup.ConnectionHealth().State == health.StateHealthy
	}, waitFor, tick)
}

func TestHealthCallbackMayResetShutdownState(t *testing.T) {
	h := newHarness(t, testConfig(t))
	require.NoError(t, h.ports.Write(45131))
	require.NoError(t, h.sup.Start(context.Background()))

	dispose := h.sup.OnConnectionHealthChanged(func(ch health.ConnectionHealth) {
		if ch.State == health.StateDaemonStopped {
			h.sup.ResetShutdownState()
		}
	})
	defer dispose()

	h.fake.Emit(transport.EventDaemonShutdown, transport.ShutdownNotice{Reason: "restart"})

	assert.Eventually(t, func() bool { return !h.sup.WasDaemonShutdown() }, waitFor, tick)
	assert.Eventually(t, func() bool {
		return h.sup.ConnectionHealth().State == health.StateHealthy
	}, waitFor, tick)
}

func TestResetShutdownStateResumesReconnects(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitor.Interval = 20 * time.Millisecond
	cfg.Monitor.PingTimeout = 10 * time.Millisecond
	h := newHarness(t, cfg)
	require.NoError(t, h.ports.Write(45132))
	require.NoError(t, h.sup.Start(context.Background()))
	require.Eventually(t, func() bool { return h.sup.Phase() == types.PhaseReady }, waitFor, tick)

	h.fake.Emit(transport.EventDaemonShutdown, transport.ShutdownNotice{Reason: "user quit"})
	h.fake.SetConnected(false)
	dials := len(h.fake.Connects())

	// Reconnects stay suppressed while the shutdown is sticky.
	assert.Never(t, func() bool { return len(h.fake.Connects()) > dials }, 100*time.Millisecond, tick)

	h.sup.ResetShutdownState()
	assert.Eventually(t, func() bool {
		return len(h.fake.Connects()) > dials && h.sup.IsConnected()
	}, waitFor, tick)
	assert.Eventually(t, func() bool { return h.sup.Phase() == types.PhaseReady }, waitFor, tick)
}

func TestStartRunsOneImmediateCheck(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitor.Interval = time.Hour
	h := newHarness(t, cfg)

	require.NoError(t, h.sup.Start(context.Background()))

	assert.Never(t, func() bool {
		return h.sup.ConnectionHealth().State == health.StateUnhealthy
	}, 100*time.Millisecond, tick)
	snap := h.sup.ConnectionHealth()
	assert.Equal(t, health.StateUnknown, snap.State)
	assert.Equal(t, uint(1), snap.ConsecutiveFailures)
	assert.NotEqual(t, types.PhaseDaemonMissing, h.sup.Phase())
}

func TestPhaseChangesAreObservable(t *testing.T) {
	h := newHarness(t, testConfig(t))
	require.NoError(t, h.ports.Write(45126))

	phases := make(chan types.ReadinessPhase, 16)
	dispose := h.sup.OnPhaseChanged(func(p types.ReadinessPhase) { phases <- p })
	defer dispose()

	require.NoError(t, h.sup.Start(context.Background()))

	deadline := time.After(waitFor)
	for {
		select {
		case p := <-phases:
			if p == types.PhaseReady {
				return
			}
		case <-deadline:
			t.Fatalf("phase never reached ready, last %s", h.sup.Phase())
		}
	}
}

func TestStatusMirrorThroughFacade(t *testing.T) {
	h := newHarness(t, testConfig(t))
	h.fake.Emit(transport.EventCoordinatorStatus, transport.CoordinatorStatus{State: "running", ActiveAgents: 1})

	got, ok := h.sup.CoordinatorStatus(context.Background())
	require.True(t, ok)
	assert.Equal(t, "running", got.State)

	_, ok = h.sup.SubsystemStatus(context.Background())
	assert.False(t, ok, "disconnected with nothing cached")
}

func TestTransitionsAreJournaled(t *testing.T) {
	h := newHarness(t, testConfig(t))
	require.NoError(t, h.ports.Write(45127))
	require.NoError(t, h.sup.Start(context.Background()))
	require.Eventually(t, func() bool { return h.sup.Phase() == types.PhaseReady }, waitFor, tick)

	h.fake.Emit(transport.EventDaemonShutdown, transport.ShutdownNotice{Reason: "restart"})
	h.sup.ManualReconnect(context.Background())

	has := func(kind store.Kind, to string) bool {
		entries, err := h.sup.History(context.Background(), store.Filter{Kind: kind})
		if err != nil {
			return false
		}
		for _, e := range entries {
			if e.To == to {
				return true
			}
		}
		return false
	}
	assert.Eventually(t, func() bool { return has(store.KindHealth, "healthy") }, waitFor, tick)
	assert.Eventually(t, func() bool { return has(store.KindPhase, "ready") }, waitFor, tick)
	assert.Eventually(t, func() bool { return has(store.KindShutdown, "daemon_stopped") }, waitFor, tick)
	assert.Eventually(t, func() bool { return has(store.KindReconnect, "success") }, waitFor, tick)

	entries, err := h.sup.History(context.Background(), store.Filter{Kind: store.KindShutdown})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "restart", entries[0].Detail)
	assert.Equal(t, h.sup.WorkspaceHash(), entries[0].WorkspaceHash)
}

func TestMonitorCanBeStoppedAndRestarted(t *testing.T) {
	h := newHarness(t, testConfig(t))
	require.NoError(t, h.ports.Write(45128))
	require.NoError(t, h.sup.Start(context.Background()))

	h.sup.StopConnectionMonitor()
	pings := h.fake.Calls(transport.CmdPing)

	h.sup.StartConnectionMonitor(10 * time.Millisecond)
	assert.Eventually(t, func() bool { return h.fake.Calls(transport.CmdPing) > pings+2 }, waitFor, tick)
	h.sup.StopConnectionMonitor()
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	h := newHarness(t, testConfig(t))
	require.NoError(t, h.sup.Start(context.Background()))
	require.NoError(t, h.sup.Close())
	require.NoError(t, h.sup.Close())

	err := h.sup.Start(context.Background())
	require.Error(t, err)
	assert.True(t, apcerr.HasCode(err, apcerr.CodeSupervisorDisposed))

	res := h.sup.ManualReconnect(context.Background())
	assert.False(t, res.Success)
}

func TestNewFallsBackToMemoryJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Backend = "sqlite"
	// A directory cannot be opened as a database file.
	cfg.Journal.Path = t.TempDir()

	sup, err := supervisor.New(cfg, supervisor.Options{Transport: transporttest.NewFake()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Close() })

	_, err = sup.History(context.Background(), store.Filter{})
	assert.NoError(t, err)
}

func TestNewRejectsBlankWorkspace(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workspace = "   "

	_, err := supervisor.New(cfg, supervisor.Options{Transport: transporttest.NewFake()})
	require.Error(t, err)
	assert.True(t, apcerr.HasCode(err, apcerr.CodeDiscoveryPathInvalid))
}
