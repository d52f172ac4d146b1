// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apc-dev/apc/internal/transport"
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

// echoDaemon answers ping and status, ignores "hang", and sends a
// "connected" event on every new connection.
type echoDaemon struct {
	mu    sync.Mutex
	conns []*websocket.Conn
}

func (d *echoDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()

	var writeMu sync.Mutex
	write := func(env transport.Envelope) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(env)
	}

	hello, _ := transport.NewEventEnvelope(transport.EventConnected, map[string]string{"hello": "client"})
	write(hello)

	for {
		var req transport.Envelope
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		switch req.Cmd {
		case transport.CmdPing:
			data, _ := json.Marshal(transport.PingResult{Pong: true})
			write(transport.Envelope{ID: req.ID, Success: true, Data: data})
		case transport.CmdStatus:
			data, _ := json.Marshal(transport.StatusResult{Ready: true, ChecksComplete: true})
			write(transport.Envelope{ID: req.ID, Success: true, Data: data})
		case "hang":
		default:
			write(transport.Envelope{ID: req.ID, Success: false, Error: "unknown command"})
		}
	}
}

func (d *echoDaemon) dropAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		_ = c.Close()
	}
	d.conns = nil
}

func startEchoDaemon(t *testing.T) (*echoDaemon, string) {
	t.Helper()
	d := &echoDaemon{}
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)
	return d, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClientRequestResponse(t *testing.T) {
	_, addr := startEchoDaemon(t)
	client := transport.NewWSClient(transport.WSClientConfig{})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Connect(context.Background(), addr))
	assert.True(t, client.IsConnected())

	require.NoError(t, transport.Ping(context.Background(), client, time.Second))

	status, err := transport.Call[transport.StatusResult](context.Background(), client, transport.CmdStatus, nil, time.Second)
	require.NoError(t, err)
	assert.True(t, status.Ready)
}

func TestWSClientDaemonFailure(t *testing.T) {
	_, addr := startEchoDaemon(t)
	client := transport.NewWSClient(transport.WSClientConfig{})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Connect(context.Background(), addr))

	_, err := client.Request(context.Background(), "bogus", nil, time.Second)
	require.Error(t, err)
	assert.True(t, apcerr.HasCode(err, apcerr.CodeTransportDaemonFailure))
	assert.Contains(t, err.Error(), "unknown command")
}

func TestWSClientRequestTimeout(t *testing.T) {
	_, addr := startEchoDaemon(t)
	client := transport.NewWSClient(transport.WSClientConfig{})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Connect(context.Background(), addr))

	_, err := client.Request(context.Background(), "hang", nil, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, apcerr.IsTimeout(err))
}

func TestWSClientRequestWhileDisconnected(t *testing.T) {
	client := transport.NewWSClient(transport.WSClientConfig{})
	t.Cleanup(func() { _ = client.Close() })

	_, err := client.Request(context.Background(), transport.CmdPing, nil, time.Second)
	require.Error(t, err)
	assert.True(t, apcerr.HasCode(err, apcerr.CodeTransportNotConnected))
}

func TestWSClientDialFailure(t *testing.T) {
	client := transport.NewWSClient(transport.WSClientConfig{DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })

	err := client.Connect(context.Background(), "ws://127.0.0.1:1")
	require.Error(t, err)
	assert.True(t, apcerr.HasCode(err, apcerr.CodeTransportDialFailure))
	assert.False(t, client.IsConnected())
}

func TestWSClientDeliversEventsAndConnectionChanges(t *testing.T) {
	d, addr := startEchoDaemon(t)
	client := transport.NewWSClient(transport.WSClientConfig{})
	t.Cleanup(func() { _ = client.Close() })

	events := make(chan json.RawMessage, 4)
	client.OnEvent(transport.EventConnected, func(raw json.RawMessage) { events <- raw })

	changes := make(chan bool, 4)
	client.OnConnectionChange(func(up bool) { changes <- up })

	require.NoError(t, client.Connect(context.Background(), addr))

	select {
	case up := <-changes:
		assert.True(t, up)
	case <-time.After(2 * time.Second):
		t.Fatal("no connection-open notification")
	}

	select {
	case raw := <-events:
		payload, err := transport.Decode[map[string]string](raw)
		require.NoError(t, err)
		assert.Equal(t, "client", payload["hello"])
	case <-time.After(2 * time.Second):
		t.Fatal("no connected event")
	}

	d.dropAll()

	select {
	case up := <-changes:
		assert.False(t, up)
	case <-time.After(2 * time.Second):
		t.Fatal("no connection-closed notification")
	}
	assert.Eventually(t, func() bool { return !client.IsConnected() }, time.Second, 10*time.Millisecond)
}

func TestWSClientLocalDisconnectNotifiesOnce(t *testing.T) {
	_, addr := startEchoDaemon(t)
	client := transport.NewWSClient(transport.WSClientConfig{})
	t.Cleanup(func() { _ = client.Close() })

	var mu sync.Mutex
	var seen []bool
	client.OnConnectionChange(func(up bool) {
		mu.Lock()
		seen = append(seen, up)
		mu.Unlock()
	})

	require.NoError(t, client.Connect(context.Background(), addr))
	require.NoError(t, client.Disconnect())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, seen)
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:4321", transport.Address("", 4321))
	assert.Equal(t, "ws://localhost:80", transport.Address("localhost", 80))
}
