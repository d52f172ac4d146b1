// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package transport

import (
	"encoding/json"
	"time"
)

// Push events emitted by the daemon.
const (
	EventConnected         = "connected"
	EventStarting          = "starting"
	EventReady             = "ready"
	EventDaemonShutdown    = "daemonShutdown"
	EventCoordinatorStatus = "coordinatorStatusChanged"
	EventSubsystemStatus   = "unitySubsystemStatus"
)

// Commands understood by the daemon.
const (
	CmdPing              = "ping"
	CmdStatus            = "status"
	CmdDependencyStatus  = "deps.status"
	CmdCoordinatorStatus = "coordinator.status"
	CmdSubsystemStatus   = "subsystem.status"
)

const envelopeTypeEvent = "event"

// Envelope is the single frame shape on the wire. Requests carry ID and Cmd,
// responses carry ID and Success, push events carry Type "event" and Event.
type Envelope struct {
	Type    string          `json:"type,omitempty"`
	ID      string          `json:"id,omitempty"`
	Cmd     string          `json:"cmd,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Success bool            `json:"success,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

// IsEvent reports whether the envelope is a push event.
func (e Envelope) IsEvent() bool {
	return e.Type == envelopeTypeEvent
}

// NewEventEnvelope builds a push event frame.
func NewEventEnvelope(name string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: envelopeTypeEvent, Event: name, Data: raw}, nil
}

// PingResult is the response to CmdPing.
type PingResult struct {
	Pong bool      `json:"pong"`
	At   time.Time `json:"at"`
}

// StatusResult is the response to CmdStatus.
type StatusResult struct {
	Ready          bool   `json:"ready"`
	ChecksComplete bool   `json:"checksComplete"`
	Version        string `json:"version,omitempty"`
	PID            int    `json:"pid,omitempty"`
}

// Dependency describes one external dependency checked by the daemon.
type Dependency struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	Required  bool   `json:"required"`
	Detail    string `json:"detail,omitempty"`
}

// DependencyStatusResult is the response to CmdDependencyStatus.
type DependencyStatusResult struct {
	Dependencies []Dependency `json:"dependencies"`
	MissingCount int          `json:"missingCount"`
}

// Missing returns the number of required dependencies not installed. It
// trusts MissingCount when the daemon omits the list.
func (r DependencyStatusResult) Missing() int {
	if len(r.Dependencies) == 0 {
		return r.MissingCount
	}
	n := 0
	for _, d := range r.Dependencies {
		if d.Required && !d.Installed {
			n++
		}
	}
	return n
}

// ShutdownNotice is the payload of EventDaemonShutdown.
type ShutdownNotice struct {
	Reason string `json:"reason,omitempty"`
}

// CoordinatorStatus is the payload of EventCoordinatorStatus and the response
// to CmdCoordinatorStatus.
type CoordinatorStatus struct {
	State        string    `json:"state"`
	ActiveAgents int       `json:"activeAgents"`
	QueuedTasks  int       `json:"queuedTasks"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// SubsystemStatus is the payload of EventSubsystemStatus and the response to
// CmdSubsystemStatus.
type SubsystemStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Compiling bool   `json:"compiling"`
	Detail    string `json:"detail,omitempty"`
}
