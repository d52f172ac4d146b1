// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	apcerr "github.com/apc-dev/apc/pkg/errors"
)

//go:embed apc.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns ~/.config/apc/apc.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", apcerr.Errorf(apcerr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "apc", "apc.yaml"), nil
}

// DefaultJournalPath returns ~/.local/state/apc/journal.db.
func DefaultJournalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", apcerr.Errorf(apcerr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "apc", "journal.db"), nil
}

// BootstrapConfig writes the default commented config to path if it does not
// already exist. Returns the path written, or empty string if the file already
// existed or an error occurred (non-fatal, logged and skipped).
func BootstrapConfig(cfgPath string) string {
	if cfgPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			slog.Debug("skipping config bootstrap", "error", err)
			return ""
		}
		cfgPath = p
	}

	if _, err := os.Stat(cfgPath); err == nil {
		return ""
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Debug("skipping config bootstrap: cannot create directory", "path", dir, "error", err)
		return ""
	}

	if err := os.WriteFile(cfgPath, DefaultConfigYAML, 0o600); err != nil {
		slog.Debug("skipping config bootstrap: cannot write config", "path", cfgPath, "error", err)
		return ""
	}

	slog.Info("created default config", "path", cfgPath)
	return cfgPath
}
