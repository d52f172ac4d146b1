// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

// Package supervisor wires discovery, transport, health monitoring, the
// status mirror, and readiness into the single object a presentation layer
// talks to.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/apc-dev/apc/internal/config"
	"github.com/apc-dev/apc/internal/discovery"
	"github.com/apc-dev/apc/internal/mirror"
	"github.com/apc-dev/apc/internal/monitor"
	"github.com/apc-dev/apc/internal/readiness"
	"github.com/apc-dev/apc/internal/store"
	_ "github.com/apc-dev/apc/internal/store/sqlite" // register sqlite backend
	"github.com/apc-dev/apc/internal/transport"
	apcerr "github.com/apc-dev/apc/pkg/errors"
	"github.com/apc-dev/apc/pkg/health"
	"github.com/apc-dev/apc/pkg/types"
)

// Options overrides collaborators built from config. Zero fields select the
// production implementations.
type Options struct {
	Transport transport.Transport
	Journal   store.Journal
}

// Supervisor owns every component for one workspace. All methods are safe
// for concurrent use.
type Supervisor struct {
	cfg       *config.Config
	discovery *discovery.Store
	transport transport.Transport
	monitor   *monitor.Monitor
	mirror    *mirror.Mirror
	readiness *readiness.Synchronizer
	journal   store.Journal
	recorder  *store.Recorder

	mu         sync.Mutex
	started    bool
	closed     bool
	lastHealth health.State
	lastPhase  types.ReadinessPhase
	disposers  []func()
	closeOnce  sync.Once
}

// New creates a supervisor for cfg.Workspace (the working directory when
// empty). Nothing connects until Start.
func New(cfg *config.Config, opts Options) (*Supervisor, error) {
	workspace := cfg.Workspace
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, apcerr.Errorf(apcerr.CodeDiscoveryPathInvalid, "resolving workspace: %w", err)
		}
		workspace = wd
	}

	disc, err := discovery.NewStore(cfg.Discovery.Dir, workspace)
	if err != nil {
		return nil, err
	}

	t := opts.Transport
	if t == nil {
		t = transport.NewWSClient(transport.WSClientConfig{
			DialTimeout:    cfg.Transport.DialTimeout,
			RequestTimeout: cfg.Transport.RequestTimeout,
		})
	}

	j := opts.Journal
	if j == nil {
		j = openJournal(cfg.Journal)
	}

	mon := monitor.New(t, disc, monitor.Config{
		Interval:      cfg.Monitor.Interval,
		PingTimeout:   cfg.Monitor.PingTimeout,
		VerifyTimeout: cfg.Monitor.VerifyTimeout,
		Host:          cfg.Daemon.Host,
	})

	s := &Supervisor{
		cfg:        cfg,
		discovery:  disc,
		transport:  t,
		monitor:    mon,
		mirror:     mirror.New(t, cfg.Readiness.QueryTimeout),
		readiness:  readiness.New(readinessConfig(cfg.Readiness), mon),
		journal:    j,
		recorder:   store.NewRecorder(j, disc.WorkspaceHash(), 0),
		lastHealth: health.StateUnknown,
		lastPhase:  types.PhaseInitializing,
	}

	s.disposers = append(s.disposers,
		mon.OnChange(s.recordHealth),
		s.readiness.OnPhaseChanged(s.recordPhase),
		t.OnEvent(transport.EventDaemonShutdown, s.recordShutdown),
	)
	return s, nil
}

func readinessConfig(rc config.ReadinessConfig) readiness.Config {
	return readiness.Config{
		SettleDelay:  rc.SettleDelay,
		ReadyPoll:    rc.PollReady,
		DegradedPoll: rc.PollDegraded,
		QueryTimeout: rc.QueryTimeout,
	}
}

// openJournal opens the configured journal. Failures fall back to an
// in-memory journal; history is a diagnostic aid, not a dependency.
func openJournal(jc config.JournalConfig) store.Journal {
	sc := &store.StorageConfig{Backend: jc.Backend, Path: jc.Path}
	if sc.Backend == "sqlite" && sc.Path == "" {
		p, err := config.DefaultJournalPath()
		if err != nil {
			slog.Warn("journal path unavailable, using memory journal", "error", err)
			return store.NewMemoryJournal(0)
		}
		sc.Path = p
	}

	j, err := store.NewJournal(sc)
	if err != nil {
		slog.Warn("opening journal failed, using memory journal", "backend", sc.Backend, "error", err)
		return store.NewMemoryJournal(0)
	}
	return j
}

// Start attaches readiness tracking, runs one health check (which connects
// if the daemon has published its port) and starts the periodic monitor.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apcerr.New(apcerr.CodeSupervisorDisposed, "supervisor is closed")
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	slog.Debug("starting supervisor",
		"workspace_hash", s.discovery.WorkspaceHash(),
		"discovery_file", s.discovery.Path(),
	)

	s.readiness.Attach(s.transport)
	// The synchronous check is the loop's immediate one.
	s.monitor.Check(ctx)
	s.monitor.StartDeferred(s.cfg.Monitor.Interval)
	return nil
}

// IsConnected reports whether the transport currently has an open link.
func (s *Supervisor) IsConnected() bool {
	return s.transport.IsConnected()
}

// ConnectionHealth returns a snapshot of the connection health.
func (s *Supervisor) ConnectionHealth() health.ConnectionHealth {
	return s.monitor.Snapshot()
}

// OnConnectionHealthChanged subscribes fn to health state transitions.
func (s *Supervisor) OnConnectionHealthChanged(fn func(health.ConnectionHealth)) (dispose func()) {
	return s.monitor.OnChange(fn)
}

// ManualReconnect clears any shutdown state and tries to reach the daemon
// once. The result is journaled.
func (s *Supervisor) ManualReconnect(ctx context.Context) monitor.Result {
	res := s.monitor.Reconnector().ManualReconnect(ctx)
	to := "success"
	if !res.Success {
		to = "failure"
	}

	if res.Success {
		s.resumeMonitor()
	}
	s.recorder.Record(store.KindReconnect, "", to, res.Error)
	return res
}

// ResetShutdownState clears the sticky daemon_stopped state and resumes
// periodic health checks, so automatic reconnects start again.
func (s *Supervisor) ResetShutdownState() {
	s.monitor.ResetShutdownState()
	s.resumeMonitor()
}

// resumeMonitor restarts the periodic loop a shutdown notice stopped. It does
// nothing before Start, after Close, or while the loop is running.
func (s *Supervisor) resumeMonitor() {
	s.mu.Lock()
	resume := s.started && !s.closed
	s.mu.Unlock()
	if resume && !s.monitor.Running() {
		s.monitor.Start(s.cfg.Monitor.Interval)
	}
}

// WasDaemonShutdown reports whether the daemon announced an intentional
// shutdown that has not been reset.
func (s *Supervisor) WasDaemonShutdown() bool {
	return s.monitor.WasDaemonShutdown()
}

// StartConnectionMonitor (re)starts periodic health checks. A non-positive
// interval selects the configured one. Replacing a running loop only changes
// the cadence; the immediate check runs when no loop was active.
func (s *Supervisor) StartConnectionMonitor(interval time.Duration) {
	if interval <= 0 {
		interval = s.cfg.Monitor.Interval
	}
	if s.monitor.Running() {
		s.monitor.StartDeferred(interval)
		return
	}
	s.monitor.Start(interval)
}

// StopConnectionMonitor stops periodic health checks.
func (s *Supervisor) StopConnectionMonitor() {
	s.monitor.Stop()
}

// Phase returns the current readiness phase.
func (s *Supervisor) Phase() types.ReadinessPhase {
	return s.readiness.Phase()
}

// OnPhaseChanged subscribes fn to readiness phase transitions.
func (s *Supervisor) OnPhaseChanged(fn func(types.ReadinessPhase)) (dispose func()) {
	return s.readiness.OnPhaseChanged(fn)
}

// RefreshPhase re-queries the daemon and returns the resulting phase.
func (s *Supervisor) RefreshPhase(ctx context.Context) types.ReadinessPhase {
	return s.readiness.Refresh(ctx)
}

// CoordinatorStatus returns the last known coordinator status.
func (s *Supervisor) CoordinatorStatus(ctx context.Context) (transport.CoordinatorStatus, bool) {
	return s.mirror.CoordinatorStatus(ctx)
}

// SubsystemStatus returns the last known subsystem status.
func (s *Supervisor) SubsystemStatus(ctx context.Context) (transport.SubsystemStatus, bool) {
	return s.mirror.SubsystemStatus(ctx)
}

// WorkspaceHash identifies the supervised workspace.
func (s *Supervisor) WorkspaceHash() string {
	return s.discovery.WorkspaceHash()
}

// DiscoveryPath is the port file the supervisor reads.
func (s *Supervisor) DiscoveryPath() string {
	return s.discovery.Path()
}

// History returns recent journal entries for this workspace, newest first.
func (s *Supervisor) History(ctx context.Context, filter store.Filter) ([]*store.Entry, error) {
	filter.WorkspaceHash = s.discovery.WorkspaceHash()
	return s.journal.Recent(ctx, filter)
}

// Close stops every component and flushes the journal. Close is idempotent.
func (s *Supervisor) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		disposers := s.disposers
		s.disposers = nil
		s.mu.Unlock()

		s.monitor.Stop()
		s.readiness.Close()
		s.mirror.Close()
		s.monitor.Close()

		var errs []error
		if cerr := s.transport.Close(); cerr != nil {
			errs = append(errs, cerr)
		}
		for _, dispose := range disposers {
			dispose()
		}
		if cerr := s.recorder.Close(); cerr != nil {
			errs = append(errs, cerr)
		}
		err = errors.Join(errs...)
	})
	return err
}

func (s *Supervisor) recordHealth(h health.ConnectionHealth) {
	s.mu.Lock()
	from := s.lastHealth
	s.lastHealth = h.State
	s.mu.Unlock()
	if from == h.State {
		return
	}
	s.recorder.Record(store.KindHealth, string(from), string(h.State), "")
}

func (s *Supervisor) recordPhase(p types.ReadinessPhase) {
	s.mu.Lock()
	from := s.lastPhase
	s.lastPhase = p
	s.mu.Unlock()
	if from == p {
		return
	}
	s.recorder.Record(store.KindPhase, string(from), string(p), "")
}

func (s *Supervisor) recordShutdown(raw json.RawMessage) {
	notice, err := transport.Decode[transport.ShutdownNotice](raw)
	if err != nil {
		return
	}
	s.recorder.Record(store.KindShutdown, "", string(health.StateDaemonStopped), notice.Reason)
}
