// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package devd

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/apc-dev/apc/internal/transport"
)

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

func (c *client) send(env transport.Envelope) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(env); err != nil {
		slog.Debug("devd: write failed", "error", err)
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

func (d *Daemon) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("devd: upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, done: make(chan struct{})}
	d.mu.Lock()
	d.clients[c] = struct{}{}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.clients, c)
		d.mu.Unlock()
		c.close()
	}()

	hello, _ := transport.NewEventEnvelope(transport.EventConnected, struct{}{})
	c.send(hello)
	go d.replay(c)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req transport.Envelope
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Debug("devd: malformed request", "error", err)
			continue
		}
		c.send(d.handle(req))
	}
}

// replay resends cached state shortly after a connection opens, the way the
// real daemon catches up late subscribers.
func (d *Daemon) replay(c *client) {
	select {
	case <-time.After(d.cfg.ReplayDelay):
	case <-c.done:
		return
	}

	d.mu.Lock()
	coordinator := d.coordinator
	subsystem := d.subsystem
	ready := d.ready
	d.mu.Unlock()

	if coordinator != nil {
		if env, err := transport.NewEventEnvelope(transport.EventCoordinatorStatus, *coordinator); err == nil {
			c.send(env)
		}
	}
	if subsystem != nil {
		if env, err := transport.NewEventEnvelope(transport.EventSubsystemStatus, *subsystem); err == nil {
			c.send(env)
		}
	}
	if ready {
		if env, err := transport.NewEventEnvelope(transport.EventReady, struct{}{}); err == nil {
			c.send(env)
		}
	}
}

func (d *Daemon) handle(req transport.Envelope) transport.Envelope {
	var data any
	switch req.Cmd {
	case transport.CmdPing:
		data = transport.PingResult{Pong: true, At: time.Now()}
	case transport.CmdStatus:
		data = d.status()
	case transport.CmdDependencyStatus:
		data = d.dependencies()
	case transport.CmdCoordinatorStatus:
		d.mu.Lock()
		s := d.coordinator
		d.mu.Unlock()
		if s == nil {
			return failure(req.ID, "coordinator status not available")
		}
		data = *s
	case transport.CmdSubsystemStatus:
		d.mu.Lock()
		s := d.subsystem
		d.mu.Unlock()
		if s == nil {
			return failure(req.ID, "subsystem status not available")
		}
		data = *s
	default:
		return failure(req.ID, "unknown command: "+req.Cmd)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return failure(req.ID, err.Error())
	}
	return transport.Envelope{ID: req.ID, Success: true, Data: raw}
}

func failure(id, msg string) transport.Envelope {
	return transport.Envelope{ID: id, Success: false, Error: msg}
}
