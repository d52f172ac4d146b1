// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/apc-dev/apc/internal/devd"
	"github.com/apc-dev/apc/internal/transport"
)

func newDevdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devd",
		Short: "Run the reference daemon for this workspace",
		Long:  "Serve a minimal daemon that speaks the supervisor protocol and publishes its port in the workspace discovery file.",
		RunE:  runDevd,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	cmd.Flags().Bool("ready", true, "report ready immediately")
	cmd.Flags().StringSlice("missing", nil, "required dependencies to report as not installed")

	return cmd
}

func runDevd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Devd.Listen = listen
	}
	ready, _ := cmd.Flags().GetBool("ready")
	missing, _ := cmd.Flags().GetStringSlice("missing")

	store, err := discoveryStore(cfg)
	if err != nil {
		return err
	}

	d, err := devd.New(devd.Config{
		Listen:      cfg.Devd.Listen,
		ReplayDelay: cfg.Devd.ReplayDelay,
		Version:     version,
		Discovery:   store,
	})
	if err != nil {
		return err
	}

	deps := make([]transport.Dependency, 0, len(missing))
	for _, name := range missing {
		deps = append(deps, transport.Dependency{Name: name, Required: true})
	}
	d.SetDependencies(deps)
	if ready {
		d.MarkReady()
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Announce the shutdown before the listener goes away so clients treat it
	// as intentional rather than a crash.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sigCtx.Done()
		d.Shutdown("devd stopped")
		cancel()
	}()

	go func() {
		select {
		case <-d.Listening():
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "devd listening on %s (workspace %s)\n", d.Addr(), store.WorkspaceHash())
		case <-runCtx.Done():
		}
	}()

	return d.Start(runCtx)
}
