// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/apc-dev/apc/internal/config"
	"github.com/apc-dev/apc/internal/discovery"
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

func newDiscoveryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discovery",
		Short: "Show the workspace discovery record",
		Long:  "Print the workspace hash, the discovery file path, and the port recorded in it.",
		RunE:  runDiscovery,
	}
}

// discoveryStore resolves the discovery store for the configured workspace.
func discoveryStore(cfg *config.Config) (*discovery.Store, error) {
	workspace := cfg.Workspace
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, apcerr.Errorf(apcerr.CodeCLISetupFailure, "resolving workspace: %w", err)
		}
		workspace = wd
	}
	return discovery.NewStore(cfg.Discovery.Dir, workspace)
}

func runDiscovery(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := discoveryStore(cfg)
	if err != nil {
		return err
	}

	port := "none (daemon not running)"
	if rec, err := store.Read(); err == nil {
		port = fmt.Sprintf("%d", rec.Port)
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(w, row("Hash", store.WorkspaceHash()))
	_, _ = fmt.Fprintln(w, row("File", store.Path()))
	_, err = fmt.Fprintln(w, row("Port", port))
	return err
}
