// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	apcerr "github.com/apc-dev/apc/pkg/errors"
)

func newReconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconnect",
		Short: "Try to reach the daemon once",
		Long:  "Clear any recorded daemon shutdown and attempt a single connection through the discovery file.",
		RunE:  runReconnect,
	}
}

func runReconnect(cmd *cobra.Command, _ []string) error {
	sup, _, err := openSupervisor()
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	res := sup.ManualReconnect(ctx)
	if !res.Success {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), errorStyle.Render(res.Error))
		return apcerr.New(apcerr.CodeCLIDaemonNotRunning, res.Error, apcerr.Field("reason_code", string(res.Code)))
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Connected to daemon"))
	return err
}
