// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/apc-dev/apc/internal/config"
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigInitCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Validate first so show never prints a config apc would reject.
			if _, err := loadConfig(); err != nil {
				return err
			}
			settings := appViper.AllSettings()
			delete(settings, "verbose")
			out, err := yaml.Marshal(settings)
			if err != nil {
				return apcerr.Errorf(apcerr.CodeCLIRequestFailure, "encoding config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("path")
			if path == "" {
				p, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if written := config.BootstrapConfig(path); written != "" {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("wrote"), written)
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s already exists or could not be written\n", path)
			return err
		},
	}
	cmd.Flags().String("path", "", "destination (default ~/.config/apc/apc.yaml)")
	return cmd
}
