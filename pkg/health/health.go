// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package health

import "time"

// State is the coarse connection health reported to the presentation layer.
type State string

const (
	StateUnknown       State = "unknown"
	StateHealthy       State = "healthy"
	StateUnhealthy     State = "unhealthy"
	StateDaemonStopped State = "daemon_stopped"
)

// Valid reports whether s is a known health state.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateHealthy, StateUnhealthy, StateDaemonStopped:
		return true
	default:
		return false
	}
}

// ConnectionHealth is a point-in-time snapshot of the daemon connection. All
// fields are copies, safe to serialize to JSON and to hold across goroutines.
type ConnectionHealth struct {
	State               State      `json:"state"`
	LastPingSuccess     bool       `json:"last_ping_success"`
	LastPingTime        *time.Time `json:"last_ping_time,omitempty"`
	ConsecutiveFailures uint       `json:"consecutive_failures"`
	DaemonStopped       bool       `json:"daemon_stopped"`
}

// OperatorIntent records what the operator (or the daemon on its behalf) has
// declared about the daemon's lifecycle. It is kept apart from transient
// health so resetting one never clears the other.
type OperatorIntent int

const (
	IntentNone OperatorIntent = iota
	IntentStopped
)

func (i OperatorIntent) String() string {
	switch i {
	case IntentNone:
		return "none"
	case IntentStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Compose merges operator intent and transient health into the snapshot
// exposed to callers. A stopped intent always reports daemon_stopped.
func Compose(intent OperatorIntent, state State, failures uint, lastOK bool, lastPing *time.Time) ConnectionHealth {
	h := ConnectionHealth{
		State:               state,
		LastPingSuccess:     lastOK,
		ConsecutiveFailures: failures,
	}
	if lastPing != nil {
		t := *lastPing
		h.LastPingTime = &t
	}
	if intent == IntentStopped {
		h.State = StateDaemonStopped
		h.DaemonStopped = true
	}
	return h
}
