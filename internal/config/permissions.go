// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// WarnInsecureDiscoveryDir logs a warning when other users could replace the
// daemon's port file: the directory is group- or world-writable and lacks the
// sticky bit. It reports whether a warning was logged.
func WarnInsecureDiscoveryDir(dir string) bool {
	if dir == "" {
		dir = os.TempDir()
	}

	info, err := os.Stat(dir)
	if err != nil {
		slog.Debug("could not stat discovery directory for permission check", "path", dir, "error", err)
		return false
	}

	mode := info.Mode()
	const groupWrite fs.FileMode = 0o020
	const otherWrite fs.FileMode = 0o002

	if mode.Perm()&(groupWrite|otherWrite) != 0 && mode&fs.ModeSticky == 0 {
		slog.Warn(
			"discovery directory is shared-writable without the sticky bit, port files may be spoofed",
			"path", dir,
			"mode", mode,
			"recommended", "0700 or 1777",
		)
		return true
	}
	return false
}
