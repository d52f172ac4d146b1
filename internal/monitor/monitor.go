// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

// Package monitor tracks daemon connection health with a periodic ping loop
// and re-establishes the transport when it drops.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/apc-dev/apc/internal/discovery"
	"github.com/apc-dev/apc/internal/event"
	"github.com/apc-dev/apc/internal/transport"
	"github.com/apc-dev/apc/pkg/health"
)

const (
	DefaultInterval      = 15 * time.Second
	DefaultPingTimeout   = 10 * time.Second
	DefaultVerifyTimeout = 5 * time.Second

	// A closed link is stronger evidence than a failed ping on an open one,
	// so the disconnected path trips sooner.
	disconnectedFailureThreshold = 2
	pingFailureThreshold         = 3
)

// PortSource yields the daemon's discovery record.
type PortSource interface {
	Read() (discovery.Record, error)
}

// Config tunes a Monitor. Zero values select defaults.
type Config struct {
	Interval      time.Duration
	PingTimeout   time.Duration
	VerifyTimeout time.Duration
	Host          string
	Now           func() time.Time
}

type transientHealth struct {
	state    health.State
	failures uint
	lastOK   bool
	lastPing *time.Time
}

// Monitor owns ConnectionHealth. Operator intent (the sticky shutdown flag)
// and transient health are separate slots, composed only in Snapshot.
type Monitor struct {
	transport   transport.Transport
	reconnector *Reconnector
	cfg         Config

	mu        sync.Mutex
	intent    health.OperatorIntent
	transient transientHealth
	cancel    context.CancelFunc

	pending []health.ConnectionHealth
	wake    chan struct{}
	done    chan struct{}
	changes *event.Bus[health.ConnectionHealth]

	disposeShutdown func()
	closeOnce       sync.Once
}

// New creates a Monitor and its Reconnector. The monitor subscribes to the
// daemon's shutdown notice immediately; call Start to begin pinging.
func New(t transport.Transport, ports PortSource, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = DefaultVerifyTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Monitor{
		transport: t,
		cfg:       cfg,
		transient: transientHealth{state: health.StateUnknown},
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		changes:   event.NewBus[health.ConnectionHealth]("monitor.health"),
	}
	m.reconnector = newReconnector(m, t, ports, cfg.Host, cfg.VerifyTimeout)
	m.disposeShutdown = t.OnEvent(transport.EventDaemonShutdown, func(raw json.RawMessage) {
		notice, err := transport.Decode[transport.ShutdownNotice](raw)
		if err != nil {
			slog.Warn("monitor: malformed shutdown notice", "error", err)
		}
		m.HandleShutdown(notice.Reason)
	})
	go m.run()
	return m
}

// Reconnector returns the monitor's reconnector.
func (m *Monitor) Reconnector() *Reconnector {
	return m.reconnector
}

// Start runs one health check immediately, then one every interval. A
// non-positive interval selects the configured default. Calling Start again
// replaces the running loop.
func (m *Monitor) Start(interval time.Duration) {
	m.start(interval, true)
}

// StartDeferred is Start without the immediate check: the first check runs
// one interval from now. Use it when the caller has just run Check itself.
func (m *Monitor) StartDeferred(interval time.Duration) {
	m.start(interval, false)
}

func (m *Monitor) start(interval time.Duration, immediate bool) {
	if interval <= 0 {
		interval = m.cfg.Interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	prev := m.cancel
	m.cancel = cancel
	m.mu.Unlock()
	if prev != nil {
		prev()
	}

	go m.loop(ctx, interval, immediate)
}

// Stop cancels the periodic loop. Requests already dispatched are allowed to
// finish. Stop is idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Running reports whether the periodic loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, immediate bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if immediate {
		m.Check(context.Background())
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			m.Check(context.Background())
		}
	}
}

// Check performs a single health check. It never panics and never returns an
// error; every failure is folded into the failure counter.
func (m *Monitor) Check(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("health check panic recovered", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if m.WasDaemonShutdown() {
		return
	}

	if !m.transport.IsConnected() {
		switch m.reconnector.attempt(ctx).kind {
		case outcomeConnected, outcomeBusy:
			return
		default:
			m.recordFailure(disconnectedFailureThreshold)
			return
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.PingTimeout)
	err := transport.Ping(pingCtx, m.transport, m.cfg.PingTimeout)
	cancel()
	if err != nil {
		slog.Debug("health check ping failed", "error", err)
		m.recordPingFailure()
		return
	}
	m.recordSuccess()
}

// HandleShutdown records an explicit shutdown notice from the daemon: the
// sticky stopped intent is set, the loop is stopped, and observers are
// notified unconditionally.
func (m *Monitor) HandleShutdown(reason string) {
	m.mu.Lock()
	m.intent = health.IntentStopped
	cancel := m.cancel
	m.cancel = nil
	m.notifyLocked(m.snapshotLocked())
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	slog.Info("daemon announced shutdown", "reason", reason)
}

// ResetShutdownState clears the sticky stopped intent and returns transient
// health to unknown.
func (m *Monitor) ResetShutdownState() {
	m.update(func() {
		m.intent = health.IntentNone
		m.transient.state = health.StateUnknown
		m.transient.failures = 0
	})
}

// WasDaemonShutdown reports whether the daemon announced a shutdown that has
// not been reset.
func (m *Monitor) WasDaemonShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intent == health.IntentStopped
}

// Snapshot returns the current health without side effects.
func (m *Monitor) Snapshot() health.ConnectionHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// OnChange subscribes fn to state transitions. Notifications arrive in
// transition order on the monitor's own goroutine, so fn may call back into
// the monitor.
func (m *Monitor) OnChange(fn func(health.ConnectionHealth)) (dispose func()) {
	return m.changes.Subscribe(fn)
}

// Close stops the loop, drops the shutdown subscription, and disposes the
// reconnector so late reconnect results are discarded.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.Stop()
		m.disposeShutdown()
		m.reconnector.close()
		close(m.done)
	})
}

func (m *Monitor) snapshotLocked() health.ConnectionHealth {
	t := m.transient
	return health.Compose(m.intent, t.state, t.failures, t.lastOK, t.lastPing)
}

// update applies fn under the lock and notifies observers when the composed
// state changed.
func (m *Monitor) update(fn func()) {
	m.mu.Lock()
	before := m.snapshotLocked().State
	fn()
	after := m.snapshotLocked()
	if after.State != before {
		m.notifyLocked(after)
	}
	m.mu.Unlock()
}

// notifyLocked queues h for delivery. Queueing under mu keeps notification
// order equal to transition order.
func (m *Monitor) notifyLocked(h health.ConnectionHealth) {
	m.pending = append(m.pending, h)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Monitor) run() {
	for {
		select {
		case <-m.wake:
			m.mu.Lock()
			batch := m.pending
			m.pending = nil
			m.mu.Unlock()
			for _, h := range batch {
				m.changes.Publish(h)
			}
		case <-m.done:
			return
		}
	}
}

// updateTransient is update for transient health only; it is a no-op while
// the stopped intent is set.
func (m *Monitor) updateTransient(fn func(t *transientHealth)) {
	m.update(func() {
		if m.intent == health.IntentStopped {
			return
		}
		fn(&m.transient)
	})
}

func (m *Monitor) recordSuccess() {
	now := m.cfg.Now()
	m.updateTransient(func(t *transientHealth) {
		t.failures = 0
		t.state = health.StateHealthy
		t.lastOK = true
		t.lastPing = &now
	})
}

func (m *Monitor) recordPingFailure() {
	now := m.cfg.Now()
	m.updateTransient(func(t *transientHealth) {
		t.lastOK = false
		t.lastPing = &now
		countFailure(t, pingFailureThreshold)
	})
}

func (m *Monitor) recordFailure(threshold uint) {
	m.updateTransient(func(t *transientHealth) {
		countFailure(t, threshold)
	})
}

func countFailure(t *transientHealth, threshold uint) {
	t.failures++
	if t.failures >= threshold {
		t.state = health.StateUnhealthy
	}
}

// resetHealthy restores the healthy baseline after a successful reconnect.
func (m *Monitor) resetHealthy() {
	m.updateTransient(func(t *transientHealth) {
		t.failures = 0
		t.state = health.StateHealthy
	})
}

// resetOptimistic clears the stopped intent and sets state to unknown, the
// optimistic starting point of a manual reconnect.
func (m *Monitor) resetOptimistic() {
	m.update(func() {
		m.intent = health.IntentNone
		m.transient.state = health.StateUnknown
		m.transient.failures = 0
	})
}
