// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

// Package store persists the supervisor's transition journal.
package store

import "context"

// Journal records connection-health and readiness transitions so they can be
// inspected after the fact.
type Journal interface {
	Append(ctx context.Context, entry *Entry) error
	// Recent returns matching entries, newest first.
	Recent(ctx context.Context, filter Filter) ([]*Entry, error)
	Close() error
}
