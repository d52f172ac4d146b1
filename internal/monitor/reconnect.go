// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/apc-dev/apc/internal/transport"
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

const (
	msgNotRunning     = "Daemon not running. Start it and try again."
	msgStartingUp     = "Daemon is still starting up (port %d). Try again in a moment."
	msgNotResponding  = "Daemon not responding to ping"
	msgReconnectBusy  = "Reconnect already in progress"
	msgReconnectClose = "Connection supervisor is closed"
)

// Result is the user-facing outcome of ManualReconnect.
type Result struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Code    apcerr.Code `json:"code,omitempty"`
}

type outcomeKind int

const (
	outcomeConnected outcomeKind = iota
	outcomeNoDaemon
	outcomeDialFailed
	outcomeBusy
	outcomeStopped
	outcomeDisposed
)

type outcome struct {
	kind outcomeKind
	port int
}

// Reconnector re-establishes the transport using the discovery record. At
// most one attempt runs at a time.
type Reconnector struct {
	monitor       *Monitor
	transport     transport.Transport
	ports         PortSource
	host          string
	verifyTimeout time.Duration

	inFlight atomic.Bool
	disposed atomic.Bool
}

func newReconnector(m *Monitor, t transport.Transport, ports PortSource, host string, verify time.Duration) *Reconnector {
	return &Reconnector{
		monitor:       m,
		transport:     t,
		ports:         ports,
		host:          host,
		verifyTimeout: verify,
	}
}

// Attempt tries once to reconnect. It returns false without doing anything
// when the daemon announced a shutdown, another attempt is in flight, or the
// reconnector was closed.
func (r *Reconnector) Attempt(ctx context.Context) bool {
	return r.attempt(ctx).kind == outcomeConnected
}

// InFlight reports whether an attempt is running.
func (r *Reconnector) InFlight() bool {
	return r.inFlight.Load()
}

func (r *Reconnector) attempt(ctx context.Context) outcome {
	if r.disposed.Load() {
		return outcome{kind: outcomeDisposed}
	}
	if !r.inFlight.CompareAndSwap(false, true) {
		return outcome{kind: outcomeBusy}
	}
	defer r.inFlight.Store(false)

	if r.monitor.WasDaemonShutdown() {
		return outcome{kind: outcomeStopped}
	}

	rec, err := r.ports.Read()
	if err != nil {
		slog.Debug("reconnect: no daemon discovered", "error", err)
		return outcome{kind: outcomeNoDaemon}
	}

	addr := transport.Address(r.host, rec.Port)
	if err := r.transport.Connect(ctx, addr); err != nil {
		slog.Debug("reconnect: dial failed", "addr", addr, "error", err)
		return outcome{kind: outcomeDialFailed, port: rec.Port}
	}

	// Closed while dialing: the result belongs to nobody.
	if r.disposed.Load() {
		_ = r.transport.Disconnect()
		return outcome{kind: outcomeDisposed}
	}

	r.monitor.resetHealthy()
	slog.Info("reconnected to daemon", "addr", addr)
	return outcome{kind: outcomeConnected, port: rec.Port}
}

// ManualReconnect is the operator-initiated reconnect. It clears any prior
// shutdown flag first so a daemon restarted by hand can be reached. With an
// open link it only verifies liveness with a ping.
func (r *Reconnector) ManualReconnect(ctx context.Context) Result {
	r.monitor.resetOptimistic()

	if r.transport.IsConnected() {
		pingCtx, cancel := context.WithTimeout(ctx, r.verifyTimeout)
		defer cancel()
		if err := transport.Ping(pingCtx, r.transport, r.verifyTimeout); err != nil {
			slog.Debug("manual reconnect: verify ping failed", "error", err)
			return Result{Error: msgNotResponding, Code: apcerr.CodeOf(err)}
		}
		r.monitor.recordSuccess()
		return Result{Success: true}
	}

	out := r.attempt(ctx)
	switch out.kind {
	case outcomeConnected:
		return Result{Success: true}
	case outcomeNoDaemon:
		return Result{Error: msgNotRunning, Code: apcerr.CodeDiscoveryReadNotFound}
	case outcomeDialFailed:
		return Result{Error: fmt.Sprintf(msgStartingUp, out.port), Code: apcerr.CodeTransportDialFailure}
	case outcomeBusy:
		return Result{Error: msgReconnectBusy, Code: apcerr.CodeSupervisorReconnectBusy}
	case outcomeStopped:
		return Result{Error: msgNotRunning, Code: apcerr.CodeSupervisorDaemonStopped}
	default:
		return Result{Error: msgReconnectClose, Code: apcerr.CodeSupervisorDisposed}
	}
}

func (r *Reconnector) close() {
	r.disposed.Store(true)
}
