// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/apc-dev/apc/pkg/health"
	"github.com/apc-dev/apc/pkg/types"
)

// --- lipgloss styles ---

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Width(14)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

func phaseStyle(p types.ReadinessPhase) lipgloss.Style {
	switch p {
	case types.PhaseReady:
		return successStyle
	case types.PhaseMissing:
		return warnStyle
	case types.PhaseDaemonMissing:
		return errorStyle
	default:
		return dimStyle
	}
}

func healthStyle(s health.State) lipgloss.Style {
	switch s {
	case health.StateHealthy:
		return successStyle
	case health.StateUnhealthy, health.StateDaemonStopped:
		return errorStyle
	default:
		return dimStyle
	}
}

func renderPhase(p types.ReadinessPhase) string {
	return phaseStyle(p).Render(string(p))
}

func renderHealth(s health.State) string {
	return healthStyle(s).Render(string(s))
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}
