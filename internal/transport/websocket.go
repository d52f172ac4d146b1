// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/apc-dev/apc/internal/event"
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

// Compile-time interface check.
var _ Transport = (*WSClient)(nil)

const (
	defaultDialTimeout    = 5 * time.Second
	defaultRequestTimeout = 5 * time.Second
	dispatchQueueSize     = 256
)

// WSClientConfig tunes a WSClient. Zero values select defaults.
type WSClientConfig struct {
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Dialer         *websocket.Dialer
}

type result struct {
	env Envelope
	err error
}

// WSClient is a Transport over a single WebSocket connection. Push events and
// connection changes are delivered in arrival order on one dispatch
// goroutine, never on the read loop, so handlers may issue requests.
type WSClient struct {
	cfg    WSClientConfig
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	gen     uint64
	pending map[string]chan result
	closed  bool

	writeMu sync.Mutex

	eventsMu sync.Mutex
	events   map[string]*event.Bus[json.RawMessage]
	connBus  *event.Bus[bool]

	queue     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewWSClient creates a disconnected client and starts its dispatcher.
func NewWSClient(cfg WSClientConfig) *WSClient {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	}

	c := &WSClient{
		cfg:     cfg,
		dialer:  dialer,
		pending: make(map[string]chan result),
		events:  make(map[string]*event.Bus[json.RawMessage]),
		connBus: event.NewBus[bool]("transport.connection"),
		queue:   make(chan func(), dispatchQueueSize),
		done:    make(chan struct{}),
	}
	go c.dispatch()
	return c
}

func (c *WSClient) dispatch() {
	for {
		select {
		case fn := <-c.queue:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *WSClient) enqueue(fn func()) {
	select {
	case c.queue <- fn:
	case <-c.done:
	}
}

// Connect dials addr. Any existing connection is closed first.
func (c *WSClient) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return apcerr.New(apcerr.CodeTransportClosed, "transport closed", apcerr.FieldAddr(addr))
	}

	_ = c.Disconnect()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, addr, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return apcerr.Wrap(err, apcerr.CodeTransportDialFailure, "dialing daemon", apcerr.FieldAddr(addr))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return apcerr.New(apcerr.CodeTransportClosed, "transport closed during dial", apcerr.FieldAddr(addr))
	}
	old := c.conn
	c.gen++
	gen := c.gen
	c.conn = conn
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	// Announce the open before any frame from this connection is dispatched.
	c.enqueue(func() { c.connBus.Publish(true) })
	go c.readLoop(conn, gen)

	slog.Debug("transport connected", "addr", addr)
	return nil
}

// Disconnect closes the current connection and fails pending requests.
func (c *WSClient) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	c.gen++
	pending := c.pending
	c.pending = make(map[string]chan result)
	c.mu.Unlock()

	err := conn.Close()
	failPending(pending, apcerr.New(apcerr.CodeTransportClosed, "connection closed"))
	c.enqueue(func() { c.connBus.Publish(false) })
	return err
}

// IsConnected reports whether a connection is currently open.
func (c *WSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Request sends cmd and waits for the matching response. A timeout <= 0
// selects the configured default.
func (c *WSClient) Request(ctx context.Context, cmd string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}

	env := Envelope{ID: uuid.NewString(), Cmd: cmd}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, apcerr.Wrap(err, apcerr.CodeTransportRequestInvalid, "encoding params", apcerr.FieldCommand(cmd))
		}
		env.Params = raw
	}

	ch := make(chan result, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, apcerr.New(apcerr.CodeTransportNotConnected, "not connected", apcerr.FieldCommand(cmd))
	}
	c.pending[env.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	err := conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(env.ID)
		return nil, apcerr.Wrap(err, apcerr.CodeTransportRequestFailure, "writing request", apcerr.FieldCommand(cmd))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if !r.env.Success {
			msg := r.env.Error
			if msg == "" {
				msg = "daemon reported failure"
			}
			return nil, apcerr.New(apcerr.CodeTransportDaemonFailure, msg, apcerr.FieldCommand(cmd))
		}
		return r.env.Data, nil
	case <-timer.C:
		c.forget(env.ID)
		return nil, apcerr.Errorf(apcerr.CodeTransportRequestTimeout, "%s timed out after %s", cmd, timeout)
	case <-ctx.Done():
		c.forget(env.ID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apcerr.Wrap(ctx.Err(), apcerr.CodeTransportRequestTimeout, "request deadline exceeded", apcerr.FieldCommand(cmd))
		}
		return nil, apcerr.Wrap(ctx.Err(), apcerr.CodeTransportRequestFailure, "request cancelled", apcerr.FieldCommand(cmd))
	}
}

// OnEvent subscribes fn to the named push event.
func (c *WSClient) OnEvent(name string, fn func(json.RawMessage)) func() {
	c.eventsMu.Lock()
	bus, ok := c.events[name]
	if !ok {
		bus = event.NewBus[json.RawMessage]("transport.event." + name)
		c.events[name] = bus
	}
	c.eventsMu.Unlock()
	return bus.Subscribe(fn)
}

// OnConnectionChange subscribes fn to connection open/close transitions.
func (c *WSClient) OnConnectionChange(fn func(bool)) func() {
	return c.connBus.Subscribe(fn)
}

// Close disconnects and stops the dispatcher. The client cannot be reused.
func (c *WSClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	err := c.Disconnect()
	c.closeOnce.Do(func() { close(c.done) })
	return err
}

func (c *WSClient) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *WSClient) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(gen, err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("transport: discarding malformed frame", "error", err)
			continue
		}

		if env.IsEvent() {
			c.emit(env.Event, env.Data)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.mu.Unlock()
		if !ok {
			slog.Debug("transport: response for unknown request", "id", env.ID)
			continue
		}
		ch <- result{env: env}
	}
}

func (c *WSClient) emit(name string, data json.RawMessage) {
	c.eventsMu.Lock()
	bus := c.events[name]
	c.eventsMu.Unlock()
	if bus == nil {
		return
	}
	c.enqueue(func() { bus.Publish(data) })
}

// dropped handles a read failure on the connection of generation gen. A
// connection already replaced or closed locally is ignored.
func (c *WSClient) dropped(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	pending := c.pending
	c.pending = make(map[string]chan result)
	c.mu.Unlock()

	_ = conn.Close()
	failPending(pending, apcerr.Wrap(cause, apcerr.CodeTransportClosed, "connection lost"))
	c.enqueue(func() { c.connBus.Publish(false) })

	slog.Debug("transport connection lost", "error", cause)
}

func failPending(pending map[string]chan result, err error) {
	for _, ch := range pending {
		ch <- result{err: err}
	}
}
