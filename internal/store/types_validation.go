// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package store

import (
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	switch k {
	case KindHealth, KindPhase, KindReconnect, KindShutdown:
		return true
	default:
		return false
	}
}

// Validate checks that the Entry has all required fields set correctly.
func (e Entry) Validate() error {
	if e.ID == "" {
		return apcerr.New(apcerr.CodeStoreInvalidInput, "entry: ID is required")
	}
	if e.At.IsZero() {
		return apcerr.New(apcerr.CodeStoreInvalidInput, "entry: At is required")
	}
	if !e.Kind.Valid() {
		return apcerr.Errorf(apcerr.CodeStoreInvalidInput, "entry: invalid kind %q", e.Kind)
	}
	if e.To == "" {
		return apcerr.New(apcerr.CodeStoreInvalidInput, "entry: To is required")
	}
	return nil
}

// EffectiveLimit returns the limit a backend should apply.
func (f Filter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e *Entry) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.WorkspaceHash != "" && e.WorkspaceHash != f.WorkspaceHash {
		return false
	}
	if !f.Since.IsZero() && e.At.Before(f.Since) {
		return false
	}
	return true
}
