// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/apc-dev/apc/internal/store"
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent health and readiness transitions",
		Long:  "Print transitions recorded in the journal for this workspace, newest first.",
		RunE:  runHistory,
	}

	cmd.Flags().Int("limit", 20, "maximum number of entries")
	cmd.Flags().String("kind", "", "only show one kind (health, phase, reconnect, shutdown)")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	kind, _ := cmd.Flags().GetString("kind")
	if kind != "" && !store.Kind(kind).Valid() {
		return apcerr.Errorf(apcerr.CodeCLIInputInvalid, "unknown kind %q", kind)
	}

	sup, _, err := openSupervisor()
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	entries, err := sup.History(ctx, store.Filter{Kind: store.Kind(kind), Limit: limit})
	if err != nil {
		return apcerr.Wrap(err, apcerr.CodeCLIRequestFailure, "reading journal")
	}

	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, dimStyle.Render("no transitions recorded"))
		return err
	}
	for _, e := range entries {
		transition := e.To
		if e.From != "" {
			transition = e.From + " -> " + e.To
		}
		line := fmt.Sprintf("%s  %-9s %s", e.At.Local().Format(time.DateTime), e.Kind, transition)
		if e.Detail != "" {
			line += "  " + dimStyle.Render(e.Detail)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
