// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/apc-dev/apc/pkg/health"
	"github.com/apc-dev/apc/pkg/types"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow readiness and health transitions",
		Long:  "Run the supervisor until interrupted, printing every readiness phase and connection health transition.",
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup, _, err := openSupervisor()
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintf(out, "%s "+format+"\n", append([]any{dimStyle.Render(time.Now().Format("15:04:05.000"))}, args...)...)
	}

	disposePhase := sup.OnPhaseChanged(func(p types.ReadinessPhase) {
		printf("phase  %s", renderPhase(p))
	})
	defer disposePhase()
	disposeHealth := sup.OnConnectionHealthChanged(func(h health.ConnectionHealth) {
		printf("health %s (failures %d)", renderHealth(h.State), h.ConsecutiveFailures)
	})
	defer disposeHealth()

	printf("watching %s", sup.DiscoveryPath())
	if err := sup.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}
