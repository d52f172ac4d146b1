// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

// Package readiness reconciles the daemon's asynchronous readiness signals
// into a single phase for presentation.
package readiness

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/apc-dev/apc/internal/event"
	"github.com/apc-dev/apc/internal/transport"
	"github.com/apc-dev/apc/pkg/health"
	"github.com/apc-dev/apc/pkg/types"
)

const (
	DefaultSettleDelay  = 300 * time.Millisecond
	DefaultReadyPoll    = 30 * time.Second
	DefaultDegradedPoll = 1 * time.Second
	DefaultQueryTimeout = 5 * time.Second
)

// Config tunes a Synchronizer. Zero values select defaults.
type Config struct {
	// SettleDelay is how long to wait after a connection opens for the
	// daemon's replayed events before querying readiness directly.
	SettleDelay  time.Duration
	ReadyPoll    time.Duration
	DegradedPoll time.Duration
	QueryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.ReadyPoll <= 0 {
		c.ReadyPoll = DefaultReadyPoll
	}
	if c.DegradedPoll <= 0 {
		c.DegradedPoll = DefaultDegradedPoll
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	return c
}

func (c Config) pollInterval(p types.ReadinessPhase) time.Duration {
	switch p {
	case types.PhaseReady:
		return c.ReadyPoll
	case types.PhaseMissing, types.PhaseDaemonMissing:
		return c.DegradedPoll
	default:
		return 0
	}
}

// HealthSource is the part of the health monitor the synchronizer watches.
type HealthSource interface {
	Snapshot() health.ConnectionHealth
	OnChange(fn func(health.ConnectionHealth)) (dispose func())
}

// Synchronizer owns the ReadinessPhase.
//
// Every connection open, loss, or health-driven outage starts a new cycle.
// Asynchronous results carry the cycle they were started in and are dropped
// if it has moved on, so a late "ready" can never overwrite daemon_missing.
type Synchronizer struct {
	cfg    Config
	health HealthSource

	mu             sync.Mutex
	transport      transport.Transport
	phase          types.ReadinessPhase
	cycle          uint64
	everOpened     bool
	confirmed      bool
	readySeen      bool
	readyDone      bool
	settleInFlight bool
	pollTimer      *time.Timer
	pollGen        uint64
	closed         bool
	disposers      []func()

	pending []types.ReadinessPhase
	wake    chan struct{}
	done    chan struct{}
	changes *event.Bus[types.ReadinessPhase]
}

// New creates a Synchronizer in the initializing phase. hs may be nil.
func New(cfg Config, hs HealthSource) *Synchronizer {
	s := &Synchronizer{
		cfg:     cfg.withDefaults(),
		health:  hs,
		phase:   types.PhaseInitializing,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		changes: event.NewBus[types.ReadinessPhase]("readiness.phase"),
	}
	if hs != nil {
		s.disposers = append(s.disposers, hs.OnChange(s.onHealth))
	}
	go s.run()
	return s
}

// Attach hands the synchronizer its transport. Until then the phase is
// initializing. Attaching a second transport is a no-op.
func (s *Synchronizer) Attach(t transport.Transport) {
	s.mu.Lock()
	if s.transport != nil || s.closed {
		s.mu.Unlock()
		return
	}
	s.transport = t
	s.mu.Unlock()

	disposers := []func(){
		t.OnConnectionChange(s.onConnectionChange),
		t.OnEvent(transport.EventConnected, func(json.RawMessage) { s.onConnectedEvent() }),
		t.OnEvent(transport.EventReady, func(json.RawMessage) { s.onReadyEvent() }),
		t.OnEvent(transport.EventStarting, func(json.RawMessage) { s.onStartingEvent() }),
		t.OnEvent(transport.EventDaemonShutdown, func(json.RawMessage) { s.markDaemonMissing("daemon shutdown") }),
	}

	s.mu.Lock()
	s.disposers = append(s.disposers, disposers...)
	connected := t.IsConnected()
	s.everOpened = connected
	s.setPhaseLocked(types.PhaseConnecting)
	cycle := s.cycle
	s.mu.Unlock()

	if connected {
		s.scheduleSettle(cycle)
	}
}

// Phase returns the current phase.
func (s *Synchronizer) Phase() types.ReadinessPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// PollInterval is the refresh cadence for the current phase; zero means no
// periodic polling.
func (s *Synchronizer) PollInterval() time.Duration {
	return s.cfg.pollInterval(s.Phase())
}

// OnPhaseChanged subscribes fn to phase transitions. Notifications arrive in
// transition order on a dedicated goroutine; fn may call back into the
// synchronizer.
func (s *Synchronizer) OnPhaseChanged(fn func(types.ReadinessPhase)) (dispose func()) {
	return s.changes.Subscribe(fn)
}

// Refresh recomputes the phase from a live status query and returns it.
func (s *Synchronizer) Refresh(ctx context.Context) types.ReadinessPhase {
	s.mu.Lock()
	t := s.transport
	if t == nil || s.closed {
		p := s.phase
		s.mu.Unlock()
		return p
	}
	s.mu.Unlock()

	if !t.IsConnected() {
		s.mu.Lock()
		if s.everOpened {
			s.enterDaemonMissingLocked()
		}
		p := s.phase
		s.mu.Unlock()
		return p
	}

	if s.healthDown() {
		s.markDaemonMissing("connection unhealthy")
		return s.Phase()
	}

	s.mu.Lock()
	if s.phase == types.PhaseDaemonMissing {
		s.beginCycleLocked()
	}
	cycle := s.cycle
	s.mu.Unlock()

	s.evaluate(ctx, cycle, true)
	return s.Phase()
}

// Close stops timers and drops subscriptions.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	s.pollGen++
	disposers := s.disposers
	s.disposers = nil
	s.mu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
	close(s.done)
}

func (s *Synchronizer) onConnectionChange(connected bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !connected {
		s.enterDaemonMissingLocked()
		s.mu.Unlock()
		return
	}
	s.everOpened = true
	s.beginCycleLocked()
	cycle := s.cycle
	s.mu.Unlock()

	s.scheduleSettle(cycle)
}

func (s *Synchronizer) onConnectedEvent() {
	s.mu.Lock()
	cycle := s.cycle
	s.mu.Unlock()
	s.scheduleSettle(cycle)
}

func (s *Synchronizer) onReadyEvent() {
	s.mu.Lock()
	s.readySeen = true
	if s.closed || s.readyDone || s.phase == types.PhaseDaemonMissing {
		s.mu.Unlock()
		return
	}
	s.confirmed = true
	cycle := s.cycle
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.QueryTimeout)
		defer cancel()
		s.evaluate(ctx, cycle, false)
	}()
}

func (s *Synchronizer) onStartingEvent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.transport == nil || !s.transport.IsConnected() || s.phase == types.PhaseDaemonMissing {
		return
	}
	s.confirmed = true
	s.readySeen = false
	s.readyDone = false
	s.setPhaseLocked(types.PhaseChecking)
}

func (s *Synchronizer) onHealth(h health.ConnectionHealth) {
	switch h.State {
	case health.StateUnhealthy, health.StateDaemonStopped:
		s.markDaemonMissing("connection " + string(h.State))
	case health.StateHealthy:
		s.mu.Lock()
		t := s.transport
		recovering := !s.closed && t != nil && s.phase == types.PhaseDaemonMissing
		s.mu.Unlock()
		if !recovering || !t.IsConnected() {
			return
		}

		s.mu.Lock()
		if s.phase != types.PhaseDaemonMissing {
			s.mu.Unlock()
			return
		}
		s.beginCycleLocked()
		cycle := s.cycle
		s.mu.Unlock()
		s.scheduleSettle(cycle)
	}
}

func (s *Synchronizer) markDaemonMissing(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	slog.Debug("readiness: daemon missing", "reason", reason)
	s.enterDaemonMissingLocked()
}

func (s *Synchronizer) healthDown() bool {
	if s.health == nil {
		return false
	}
	switch s.health.Snapshot().State {
	case health.StateUnhealthy, health.StateDaemonStopped:
		return true
	default:
		return false
	}
}

// beginCycleLocked starts a fresh confirmation cycle in the connecting phase.
func (s *Synchronizer) beginCycleLocked() {
	s.cycle++
	s.confirmed = false
	s.readySeen = false
	s.readyDone = false
	s.settleInFlight = false
	s.setPhaseLocked(types.PhaseConnecting)
}

func (s *Synchronizer) enterDaemonMissingLocked() {
	s.cycle++
	s.confirmed = false
	s.readySeen = false
	s.readyDone = false
	s.settleInFlight = false
	s.setPhaseLocked(types.PhaseDaemonMissing)
}

func (s *Synchronizer) scheduleSettle(cycle uint64) {
	time.AfterFunc(s.cfg.SettleDelay, func() { s.settle(cycle) })
}

// settle queries readiness directly unless this cycle already has an answer
// or a ready event arrived during the window. A failed query schedules
// another settle check for the same cycle.
func (s *Synchronizer) settle(cycle uint64) {
	s.mu.Lock()
	if s.closed || cycle != s.cycle || s.confirmed || s.readySeen || s.readyDone || s.settleInFlight {
		s.mu.Unlock()
		return
	}
	s.settleInFlight = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.QueryTimeout)
	answered := s.evaluate(ctx, cycle, true)
	cancel()

	s.mu.Lock()
	current := !s.closed && cycle == s.cycle
	if current {
		s.settleInFlight = false
	}
	retry := current && !answered && !s.confirmed && !s.readySeen
	s.mu.Unlock()

	if retry {
		s.scheduleSettle(cycle)
	}
}

// evaluate computes the phase for cycle. With queryStatus false the daemon is
// already known to be ready and only dependencies are checked. It reports
// false when the daemon gave no answer to the status query.
func (s *Synchronizer) evaluate(ctx context.Context, cycle uint64, queryStatus bool) bool {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return false
	}

	if queryStatus {
		status, err := transport.Call[transport.StatusResult](ctx, t, transport.CmdStatus, nil, s.cfg.QueryTimeout)
		if err != nil {
			slog.Debug("readiness: status query failed", "error", err)
			return false
		}
		if !status.Ready || !status.ChecksComplete {
			s.apply(cycle, types.PhaseChecking, false)
			return true
		}
	}

	phase := types.PhaseReady
	deps, err := transport.Call[transport.DependencyStatusResult](ctx, t, transport.CmdDependencyStatus, nil, s.cfg.QueryTimeout)
	switch {
	case err != nil:
		slog.Warn("readiness: dependency status unavailable", "error", err)
		phase = types.PhaseMissing
	case deps.Missing() > 0:
		phase = types.PhaseMissing
	}
	s.apply(cycle, phase, true)
	return true
}

func (s *Synchronizer) apply(cycle uint64, phase types.ReadinessPhase, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || cycle != s.cycle {
		return
	}
	s.confirmed = true
	s.readyDone = done
	s.setPhaseLocked(phase)
}

func (s *Synchronizer) setPhaseLocked(p types.ReadinessPhase) {
	if s.phase == p {
		return
	}
	slog.Debug("readiness phase changed", "from", s.phase, "to", p)
	s.phase = p
	s.restartPollLocked(p)
	s.pending = append(s.pending, p)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) restartPollLocked(p types.ReadinessPhase) {
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	s.pollGen++
	interval := s.cfg.pollInterval(p)
	if interval == 0 || s.closed {
		return
	}
	gen := s.pollGen
	s.pollTimer = time.AfterFunc(interval, func() { s.poll(gen) })
}

func (s *Synchronizer) poll(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.pollGen {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.QueryTimeout)
	s.Refresh(ctx)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	interval := s.cfg.pollInterval(s.phase)
	if s.closed || gen != s.pollGen || interval == 0 {
		return
	}
	s.pollTimer = time.AfterFunc(interval, func() { s.poll(gen) })
}

func (s *Synchronizer) run() {
	for {
		select {
		case <-s.wake:
			s.mu.Lock()
			batch := s.pending
			s.pending = nil
			s.mu.Unlock()
			for _, p := range batch {
				s.changes.Publish(p)
			}
		case <-s.done:
			return
		}
	}
}
