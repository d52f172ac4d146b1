// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package devd_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apc-dev/apc/internal/devd"
	"github.com/apc-dev/apc/internal/discovery"
	"github.com/apc-dev/apc/internal/transport"
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

func newDaemon(t *testing.T, replay time.Duration) (*devd.Daemon, string) {
	t.Helper()
	d, err := devd.New(devd.Config{Listen: "127.0.0.1:0", ReplayDelay: replay, Version: "test"})
	require.NoError(t, err)
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	return d, srv.URL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) transport.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env transport.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// readEvents collects event names until the read deadline passes.
func readEvents(conn *websocket.Conn, wait time.Duration) []string {
	var names []string
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	for {
		var env transport.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return names
		}
		if env.IsEvent() {
			names = append(names, env.Event)
		}
	}
}

func request(t *testing.T, conn *websocket.Conn, cmd string) transport.Envelope {
	t.Helper()
	require.NoError(t, conn.WriteJSON(transport.Envelope{ID: "req-" + cmd, Cmd: cmd}))
	for {
		env := readEnvelope(t, conn)
		if !env.IsEvent() {
			assert.Equal(t, "req-"+cmd, env.ID)
			return env
		}
	}
}

func TestNewRequiresListen(t *testing.T) {
	_, err := devd.New(devd.Config{})
	require.Error(t, err)
	assert.True(t, apcerr.HasCode(err, apcerr.CodeServerStartFailure))
}

func TestHealthEndpoint(t *testing.T) {
	d, _ := newDaemon(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestStatusEndpoint(t *testing.T) {
	d, _ := newDaemon(t, 0)
	d.SetDependencies([]transport.Dependency{{Name: "git", Required: true}})
	d.MarkReady()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body devd.StatusBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Ready)
	assert.Equal(t, "test", body.Version)
	assert.Equal(t, 1, body.MissingDependencies)
}

func TestOpenAPISpecListsRoutes(t *testing.T) {
	d, _ := newDaemon(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/status")
}

func TestConnectedEventFirst(t *testing.T) {
	_, url := newDaemon(t, time.Hour)
	conn := dial(t, url)

	env := readEnvelope(t, conn)
	assert.True(t, env.IsEvent())
	assert.Equal(t, transport.EventConnected, env.Event)
}

func TestReplayAfterDelay(t *testing.T) {
	d, url := newDaemon(t, 20*time.Millisecond)
	d.PublishCoordinatorStatus(transport.CoordinatorStatus{State: "running"})
	d.PublishSubsystemStatus(transport.SubsystemStatus{Name: "unity", Connected: true})
	d.MarkReady()

	conn := dial(t, url)
	events := readEvents(conn, 300*time.Millisecond)

	assert.Equal(t, []string{
		transport.EventConnected,
		transport.EventCoordinatorStatus,
		transport.EventSubsystemStatus,
		transport.EventReady,
	}, events)
}

func TestNoReadyReplayWhileStarting(t *testing.T) {
	_, url := newDaemon(t, 0)
	conn := dial(t, url)

	events := readEvents(conn, 200*time.Millisecond)
	assert.Equal(t, []string{transport.EventConnected}, events)
}

func TestCommands(t *testing.T) {
	d, url := newDaemon(t, time.Hour)
	conn := dial(t, url)

	ping := request(t, conn, transport.CmdPing)
	require.True(t, ping.Success)
	var pong transport.PingResult
	require.NoError(t, json.Unmarshal(ping.Data, &pong))
	assert.True(t, pong.Pong)

	status := request(t, conn, transport.CmdStatus)
	require.True(t, status.Success)
	var st transport.StatusResult
	require.NoError(t, json.Unmarshal(status.Data, &st))
	assert.False(t, st.Ready)
	assert.Positive(t, st.PID)

	d.SetDependencies([]transport.Dependency{
		{Name: "git", Installed: true, Required: true},
		{Name: "node", Required: true},
		{Name: "docker"},
	})
	deps := request(t, conn, transport.CmdDependencyStatus)
	require.True(t, deps.Success)
	var dr transport.DependencyStatusResult
	require.NoError(t, json.Unmarshal(deps.Data, &dr))
	assert.Equal(t, 1, dr.MissingCount)
	assert.Len(t, dr.Dependencies, 3)

	missing := request(t, conn, transport.CmdCoordinatorStatus)
	assert.False(t, missing.Success)
	assert.Contains(t, missing.Error, "not available")

	unknown := request(t, conn, "bogus")
	assert.False(t, unknown.Success)
	assert.Contains(t, unknown.Error, "unknown command")
}

func TestMarkStartingBroadcasts(t *testing.T) {
	d, url := newDaemon(t, time.Hour)
	conn := dial(t, url)
	readEnvelope(t, conn) // connected
	require.Eventually(t, func() bool { return d.Clients() == 1 }, time.Second, 5*time.Millisecond)

	d.MarkStarting()
	env := readEnvelope(t, conn)
	assert.Equal(t, transport.EventStarting, env.Event)
}

func TestShutdownBroadcastsAndDisconnects(t *testing.T) {
	d, url := newDaemon(t, time.Hour)
	conn := dial(t, url)
	readEnvelope(t, conn) // connected
	require.Eventually(t, func() bool { return d.Clients() == 1 }, time.Second, 5*time.Millisecond)

	d.Shutdown("user quit")

	env := readEnvelope(t, conn)
	require.Equal(t, transport.EventDaemonShutdown, env.Event)
	var notice transport.ShutdownNotice
	require.NoError(t, json.Unmarshal(env.Data, &notice))
	assert.Equal(t, "user quit", notice.Reason)

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, d.Clients())
}

func TestStartWritesAndRemovesDiscoveryFile(t *testing.T) {
	store, err := discovery.NewStore(t.TempDir(), "/home/dev/devd")
	require.NoError(t, err)

	d, err := devd.New(devd.Config{Listen: "127.0.0.1:0", Discovery: store})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	select {
	case <-d.Listening():
	case <-time.After(2 * time.Second):
		t.Fatal("daemon never started listening")
	}

	rec, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, d.Addr().(*net.TCPAddr).Port, rec.Port)

	cancel()
	require.NoError(t, <-errCh)

	_, err = store.Read()
	assert.ErrorIs(t, err, discovery.ErrNoDaemon)
}
