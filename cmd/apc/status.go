// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/apc-dev/apc/internal/supervisor"
	"github.com/apc-dev/apc/internal/transport"
	"github.com/apc-dev/apc/pkg/health"
	"github.com/apc-dev/apc/pkg/types"
)

// probeInterval is the health check cadence while a one-shot command waits
// for the phase to settle.
const probeInterval = 250 * time.Millisecond

type statusReport struct {
	WorkspaceHash string                       `json:"workspaceHash"`
	DiscoveryFile string                       `json:"discoveryFile"`
	Connected     bool                         `json:"connected"`
	Phase         types.ReadinessPhase         `json:"phase"`
	Health        health.ConnectionHealth      `json:"health"`
	Coordinator   *transport.CoordinatorStatus `json:"coordinator,omitempty"`
	Subsystem     *transport.SubsystemStatus   `json:"subsystem,omitempty"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon readiness",
		Long:  "Connect to the workspace daemon, wait for the readiness phase to settle, and print phase, health and daemon status.",
		RunE:  runStatus,
	}

	cmd.Flags().Bool("json", false, "print machine-readable JSON")
	cmd.Flags().Duration("wait", 3*time.Second, "how long to wait for the phase to settle")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	wait, _ := cmd.Flags().GetDuration("wait")

	sup, _, err := openSupervisor()
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := sup.Start(ctx); err != nil {
		return err
	}
	sup.StartConnectionMonitor(probeInterval)
	waitForSettled(ctx, sup, wait)

	report := collectStatus(ctx, sup)
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printStatus(cmd.OutOrStdout(), report)
}

// waitForSettled blocks until the phase is settled, ctx ends, or timeout.
func waitForSettled(ctx context.Context, sup *supervisor.Supervisor, timeout time.Duration) types.ReadinessPhase {
	changed := make(chan types.ReadinessPhase, 8)
	dispose := sup.OnPhaseChanged(func(p types.ReadinessPhase) {
		select {
		case changed <- p:
		default:
		}
	})
	defer dispose()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if p := sup.Phase(); p.Settled() {
			return p
		}
		select {
		case <-changed:
		case <-timer.C:
			return sup.Phase()
		case <-ctx.Done():
			return sup.Phase()
		}
	}
}

func collectStatus(ctx context.Context, sup *supervisor.Supervisor) statusReport {
	report := statusReport{
		WorkspaceHash: sup.WorkspaceHash(),
		DiscoveryFile: sup.DiscoveryPath(),
		Connected:     sup.IsConnected(),
		Phase:         sup.Phase(),
		Health:        sup.ConnectionHealth(),
	}
	if c, ok := sup.CoordinatorStatus(ctx); ok {
		report.Coordinator = &c
	}
	if s, ok := sup.SubsystemStatus(ctx); ok {
		report.Subsystem = &s
	}
	return report
}

func printStatus(w io.Writer, r statusReport) error {
	lines := []string{
		titleStyle.Render("apc " + r.WorkspaceHash),
		row("Phase", renderPhase(r.Phase)),
		row("Health", renderHealth(r.Health.State)),
		row("Connected", strconv.FormatBool(r.Connected)),
	}
	if r.Health.LastPingTime != nil {
		lines = append(lines, row("Last ping", r.Health.LastPingTime.Format(time.RFC3339)))
	}
	if r.Health.ConsecutiveFailures > 0 {
		lines = append(lines, row("Failures", strconv.FormatUint(uint64(r.Health.ConsecutiveFailures), 10)))
	}
	if r.Coordinator != nil {
		lines = append(lines, row("Coordinator",
			fmt.Sprintf("%s (%d agents, %d queued)", r.Coordinator.State, r.Coordinator.ActiveAgents, r.Coordinator.QueuedTasks)))
	}
	if r.Subsystem != nil {
		state := "disconnected"
		switch {
		case r.Subsystem.Compiling:
			state = "compiling"
		case r.Subsystem.Connected:
			state = "connected"
		}
		lines = append(lines, row("Subsystem", r.Subsystem.Name+" "+state))
	}
	lines = append(lines, dimStyle.Render(r.DiscoveryFile))

	_, err := fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
	return err
}
