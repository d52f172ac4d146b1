// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package types

import (
	"strings"

	apcerr "github.com/apc-dev/apc/pkg/errors"
)

// ReadinessPhase is the single readiness value consumed by the presentation
// layer.
type ReadinessPhase string

const (
	// PhaseInitializing means no transport exists yet.
	PhaseInitializing ReadinessPhase = "initializing"
	// PhaseConnecting means a transport exists but daemon liveness is unconfirmed.
	PhaseConnecting ReadinessPhase = "connecting"
	// PhaseChecking means the daemon is alive but its readiness checks are running.
	PhaseChecking ReadinessPhase = "checking"
	// PhaseReady means the daemon is fully initialized with all dependencies present.
	PhaseReady ReadinessPhase = "ready"
	// PhaseMissing means the daemon is ready but required dependencies are absent.
	PhaseMissing ReadinessPhase = "missing"
	// PhaseDaemonMissing means the transport was lost or the daemon is known gone.
	PhaseDaemonMissing ReadinessPhase = "daemon_missing"
)

// Valid reports whether p is a known phase.
func (p ReadinessPhase) Valid() bool {
	switch p {
	case PhaseInitializing, PhaseConnecting, PhaseChecking, PhaseReady, PhaseMissing, PhaseDaemonMissing:
		return true
	default:
		return false
	}
}

// Settled reports whether p is a leaf phase, i.e. one in which periodic
// polling runs.
func (p ReadinessPhase) Settled() bool {
	switch p {
	case PhaseReady, PhaseMissing, PhaseDaemonMissing:
		return true
	default:
		return false
	}
}

// Degraded reports whether p is a settled phase other than ready.
func (p ReadinessPhase) Degraded() bool {
	return p == PhaseMissing || p == PhaseDaemonMissing
}

// ParseReadinessPhase parses a case-insensitive phase name.
func ParseReadinessPhase(s string) (ReadinessPhase, error) {
	p := ReadinessPhase(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", apcerr.Errorf(apcerr.CodeConfigValidateInvalidValue,
			"invalid readiness phase: %q", s)
	}
	return p, nil
}
