// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package discovery_test

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/apc-dev/apc/internal/discovery"
	apcerr "github.com/apc-dev/apc/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashWorkspaceIsStableEightHex(t *testing.T) {
	t.Parallel()
	a := discovery.HashWorkspace("/home/dev/project")
	b := discovery.HashWorkspace("/home/dev/project")
	c := discovery.HashWorkspace("/home/dev/other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{8}$`), a)
}

func TestStorePathUsesWellKnownName(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := discovery.NewStore(dir, "/ws")
	require.NoError(t, err)

	want := filepath.Join(dir, "apc_daemon_"+discovery.HashWorkspace("/ws")+".port")
	assert.Equal(t, want, s.Path())
}

func TestNewStoreRequiresWorkspace(t *testing.T) {
	t.Parallel()
	_, err := discovery.NewStore(t.TempDir(), "  ")
	require.Error(t, err)
	assert.True(t, apcerr.HasCode(err, apcerr.CodeDiscoveryPathInvalid))
}

func TestReadMissingFileIsNoDaemon(t *testing.T) {
	t.Parallel()
	s, err := discovery.NewStore(t.TempDir(), "/ws")
	require.NoError(t, err)

	rec, err := s.Read()
	require.Error(t, err)
	assert.True(t, errors.Is(err, discovery.ErrNoDaemon))
	assert.True(t, apcerr.IsNotFound(err))
	assert.False(t, rec.HasPort())
}

func TestReadTrimsWhitespace(t *testing.T) {
	t.Parallel()
	s, err := discovery.NewStore(t.TempDir(), "/ws")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), []byte("  41234\n"), 0o600))

	rec, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, 41234, rec.Port)
	assert.Equal(t, s.WorkspaceHash(), rec.WorkspaceHash)
}

func TestReadMalformedIsNoDaemon(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"empty":        "",
		"not a number": "abc",
		"zero":         "0",
		"too large":    "70000",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			s, err := discovery.NewStore(t.TempDir(), "/ws")
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0o600))

			_, err = s.Read()
			require.Error(t, err)
			assert.True(t, errors.Is(err, discovery.ErrNoDaemon))
		})
	}
}

func TestWriteThenReadAndRemove(t *testing.T) {
	t.Parallel()
	s, err := discovery.NewStore(t.TempDir(), "/ws")
	require.NoError(t, err)

	require.NoError(t, s.Write(50123))
	rec, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, 50123, rec.Port)

	require.NoError(t, s.Remove())
	require.NoError(t, s.Remove(), "removing twice is not an error")
	_, err = s.Read()
	assert.True(t, errors.Is(err, discovery.ErrNoDaemon))
}

func TestWriteRejectsInvalidPort(t *testing.T) {
	t.Parallel()
	s, err := discovery.NewStore(t.TempDir(), "/ws")
	require.NoError(t, err)

	err = s.Write(0)
	require.Error(t, err)
	assert.True(t, apcerr.HasCode(err, apcerr.CodeDiscoveryWriteFailure))
}
