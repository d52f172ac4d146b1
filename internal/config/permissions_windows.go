// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

//go:build windows

package config

import "log/slog"

// WarnInsecureDiscoveryDir is a no-op on Windows, where ACLs rather than mode
// bits govern the directory.
func WarnInsecureDiscoveryDir(dir string) bool {
	if dir != "" {
		slog.Debug("discovery directory permission check not implemented on Windows", "path", dir)
	}
	return false
}
