// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/apc-dev/apc/internal/config"
	"github.com/apc-dev/apc/internal/discovery"
	"github.com/apc-dev/apc/internal/transport"
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

const doctorPingTimeout = 2 * time.Second

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check configuration, the discovery directory, free disk space, the discovery record, and whether the daemon answers.",
		RunE:  runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := discoveryStore(cfg)
	if err != nil {
		return err
	}

	dir := cfg.Discovery.Dir
	if dir == "" {
		dir = os.TempDir()
	}

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", checkConfig},
		{"Workspace", func() string { return store.WorkspaceHash() }},
		{"Discovery Dir", func() string { return checkDiscoveryDir(dir) }},
		{"Disk Space", func() string { return checkDiskSpace(dir) }},
		{"Discovery", func() string { return checkDiscoveryRecord(store) }},
		{"Daemon", func() string { return checkDaemon(cmd.Context(), cfg, store) }},
		{"Daemon HTTP", func() string { return checkDaemonHTTP(cfg, store) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("apc %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig() string {
	if cfgFile := appViper.ConfigFileUsed(); cfgFile != "" {
		return fmt.Sprintf("loaded from %s", cfgFile)
	}
	return "using defaults (no config file found)"
}

func checkDiscoveryDir(dir string) string {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	if !info.IsDir() {
		return fmt.Sprintf("%s is not a directory", dir)
	}
	if err := unix.Access(dir, unix.W_OK); err != nil {
		return fmt.Sprintf("%s is not writable: %s", dir, err)
	}
	if config.WarnInsecureDiscoveryDir(dir) {
		return fmt.Sprintf("%s (warning: shared-writable without sticky bit)", dir)
	}
	return fmt.Sprintf("%s (writable)", dir)
}

func checkDiskSpace(dir string) string {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

func checkDiscoveryRecord(store *discovery.Store) string {
	rec, err := store.Read()
	if err != nil {
		return fmt.Sprintf("no daemon recorded in %s", store.Path())
	}
	return fmt.Sprintf("port %d in %s", rec.Port, store.Path())
}

func checkDaemon(ctx context.Context, cfg *config.Config, store *discovery.Store) string {
	rec, err := store.Read()
	if err != nil {
		return "not running (run 'apc devd' or start the daemon)"
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := transport.NewWSClient(transport.WSClientConfig{DialTimeout: doctorPingTimeout})
	defer func() { _ = client.Close() }()

	addr := transport.Address(cfg.Daemon.Host, rec.Port)
	if err := client.Connect(ctx, addr); err != nil {
		return fmt.Sprintf("not reachable at %s (still starting up?)", addr)
	}
	start := time.Now()
	if err := transport.Ping(ctx, client, doctorPingTimeout); err != nil {
		return fmt.Sprintf("connected but ping failed: %s", err)
	}
	status, err := transport.Call[transport.StatusResult](ctx, client, transport.CmdStatus, nil, doctorPingTimeout)
	if err != nil {
		return fmt.Sprintf("ping ok in %s, status unavailable", time.Since(start).Round(time.Millisecond))
	}
	return fmt.Sprintf("ping ok in %s, ready=%t, version %s",
		time.Since(start).Round(time.Millisecond), status.Ready, status.Version)
}

func checkDaemonHTTP(cfg *config.Config, store *discovery.Store) string {
	rec, err := store.Read()
	if err != nil {
		return "skipped"
	}
	addr := cfg.Daemon.Host + ":" + strconv.Itoa(rec.Port)
	var body struct {
		Status string `json:"status"`
	}
	if err := newDaemonHTTPClient(addr).getJSON("/health", &body); err != nil {
		if apcerr.HasCode(err, apcerr.CodeCLIDaemonNotRunning) {
			return fmt.Sprintf("not running at %s", addr)
		}
		return "not exposed"
	}
	return fmt.Sprintf("%s at %s", body.Status, addr)
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
