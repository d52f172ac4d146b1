// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package store

import "time"

// Kind classifies a journal entry.
type Kind string

const (
	KindHealth    Kind = "health"
	KindPhase     Kind = "phase"
	KindReconnect Kind = "reconnect"
	KindShutdown  Kind = "shutdown"
)

// Entry is one recorded transition.
type Entry struct {
	ID            string    `json:"id"`
	At            time.Time `json:"at"`
	WorkspaceHash string    `json:"workspaceHash"`
	Kind          Kind      `json:"kind"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to"`
	Detail        string    `json:"detail,omitempty"`
}

// Filter narrows Recent. Zero fields match everything.
type Filter struct {
	Kind          Kind
	WorkspaceHash string
	Since         time.Time
	Limit         int
}

// DefaultLimit caps Recent when Filter.Limit is not positive.
const DefaultLimit = 100
