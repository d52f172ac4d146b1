// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

// Package discovery locates a workspace's daemon through the port file the
// daemon writes on startup.
package discovery

import (
	"crypto/md5" //nolint:gosec // identifier derivation, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apcerr "github.com/apc-dev/apc/pkg/errors"
)

const (
	filePrefix = "apc_daemon_"
	fileSuffix = ".port"
	hashLen    = 8
)

// ErrNoDaemon is returned by Read when no usable port is recorded. Callers
// treat it as "nothing to reconnect to", not as a failure.
var ErrNoDaemon = errors.New("no daemon discovery record")

// Record describes the daemon recorded for a workspace.
type Record struct {
	WorkspaceHash string
	Path          string
	Port          int
}

// HasPort reports whether the record carries a usable port.
func (r Record) HasPort() bool {
	return r.Port > 0
}

// Store reads and writes discovery files for a single workspace.
type Store struct {
	dir  string
	hash string
}

// HashWorkspace derives the stable 8-hex-char identifier for a workspace path.
func HashWorkspace(workspace string) string {
	sum := md5.Sum([]byte(workspace)) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])[:hashLen]
}

// NewStore creates a Store for workspace. An empty dir selects os.TempDir().
func NewStore(dir, workspace string) (*Store, error) {
	if strings.TrimSpace(workspace) == "" {
		return nil, apcerr.New(apcerr.CodeDiscoveryPathInvalid, "workspace path is required")
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &Store{dir: dir, hash: HashWorkspace(workspace)}, nil
}

// WorkspaceHash returns the identifier used in the discovery file name.
func (s *Store) WorkspaceHash() string {
	return s.hash
}

// Path returns the discovery file path for this workspace.
func (s *Store) Path() string {
	return filepath.Join(s.dir, filePrefix+s.hash+fileSuffix)
}

// Read returns the recorded daemon port. A missing, empty or malformed file
// yields ErrNoDaemon wrapped with a discovery code.
func (s *Store) Read() (Record, error) {
	rec := Record{WorkspaceHash: s.hash, Path: s.Path()}

	data, err := os.ReadFile(rec.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rec, apcerr.Wrap(ErrNoDaemon, apcerr.CodeDiscoveryReadNotFound, "port file not found",
				apcerr.FieldWorkspaceHash(s.hash))
		}
		return rec, apcerr.Wrap(fmt.Errorf("%w: %w", ErrNoDaemon, err), apcerr.CodeDiscoveryReadNotFound,
			"reading port file", apcerr.FieldWorkspaceHash(s.hash))
	}

	port, err := parsePort(string(data))
	if err != nil {
		return rec, apcerr.Wrap(fmt.Errorf("%w: %w", ErrNoDaemon, err), apcerr.CodeDiscoveryReadInvalidFormat,
			"parsing port file", apcerr.FieldWorkspaceHash(s.hash))
	}

	rec.Port = port
	return rec, nil
}

// Write records port for this workspace. Only the daemon side calls this.
func (s *Store) Write(port int) error {
	if port < 1 || port > 65535 {
		return apcerr.Errorf(apcerr.CodeDiscoveryWriteFailure, "port out of range: %d", port)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return apcerr.Errorf(apcerr.CodeDiscoveryWriteFailure, "creating discovery dir: %w", err)
	}

	// Write through a temp file so readers never observe a partial port.
	tmp, err := os.CreateTemp(s.dir, filePrefix+s.hash+".*.tmp")
	if err != nil {
		return apcerr.Errorf(apcerr.CodeDiscoveryWriteFailure, "creating temp port file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(strconv.Itoa(port)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return apcerr.Errorf(apcerr.CodeDiscoveryWriteFailure, "writing port file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return apcerr.Errorf(apcerr.CodeDiscoveryWriteFailure, "closing port file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		_ = os.Remove(tmpName)
		return apcerr.Errorf(apcerr.CodeDiscoveryWriteFailure, "installing port file: %w", err)
	}
	return nil
}

// Remove deletes the discovery file. A missing file is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apcerr.Errorf(apcerr.CodeDiscoveryWriteFailure, "removing port file: %w", err)
	}
	return nil
}

func parsePort(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty port file")
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", raw, err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port out of range: %d", port)
	}
	return port, nil
}
