// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package sqlite_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apc-dev/apc/internal/store"
	_ "github.com/apc-dev/apc/internal/store/sqlite" // register sqlite backend
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

func TestSQLiteBackendRegistered(t *testing.T) {
	t.Parallel()
	assert.Contains(t, store.Backends(), "sqlite")

	j, err := store.NewJournal(&store.StorageConfig{Backend: "sqlite", Path: testDBPath(t, "factory")})
	require.NoError(t, err)
	require.NoError(t, j.Close())
}

func TestSQLiteBackendRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := store.NewJournal(&store.StorageConfig{Backend: "sqlite"})
	require.Error(t, err)
	assert.True(t, apcerr.IsInvalidInput(err))
}
