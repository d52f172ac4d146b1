// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package main

import (
	"bytes"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apc-dev/apc/internal/devd"
	"github.com/apc-dev/apc/internal/discovery"
)

const testWorkspace = "/home/dev/cli-project"

// isolate points every path apc touches at temp directories and returns the
// discovery store the CLI will read.
func isolate(t *testing.T) *discovery.Store {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Setenv("APC_DISCOVERY_DIR", dir)
	t.Setenv("APC_WORKSPACE", testWorkspace)
	t.Setenv("APC_JOURNAL_BACKEND", "memory")

	store, err := discovery.NewStore(dir, testWorkspace)
	require.NoError(t, err)
	return store
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// serveDevd runs a reference daemon and records its port in store.
func serveDevd(t *testing.T, store *discovery.Store) *devd.Daemon {
	t.Helper()
	d, err := devd.New(devd.Config{Listen: "127.0.0.1:0", ReplayDelay: 10 * time.Millisecond, Version: "test"})
	require.NoError(t, err)
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	require.NoError(t, store.Write(port))
	return d
}
