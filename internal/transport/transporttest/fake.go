// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/apc-dev/apc/internal/event"
	"github.com/apc-dev/apc/internal/transport"
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

var _ transport.Transport = (*Fake)(nil)

// Handler answers one command. Returning an error simulates a failed or
// timed-out request.
type Handler func(params json.RawMessage) (any, error)

// Fake is a scripted Transport. Events and connection changes are delivered
// synchronously on the caller's goroutine.
type Fake struct {
	mu          sync.Mutex
	connected   bool
	closed      bool
	connectErr  error
	connectHook func(addr string) error
	handlers    map[string]Handler
	calls       map[string]int
	connects    []string

	events  map[string]*event.Bus[json.RawMessage]
	connBus *event.Bus[bool]
}

// NewFake creates a disconnected fake with a ping handler that succeeds.
func NewFake() *Fake {
	f := &Fake{
		handlers: make(map[string]Handler),
		calls:    make(map[string]int),
		events:   make(map[string]*event.Bus[json.RawMessage]),
		connBus:  event.NewBus[bool]("fake.connection"),
	}
	f.handlers[transport.CmdPing] = func(json.RawMessage) (any, error) {
		return transport.PingResult{Pong: true, At: time.Now()}, nil
	}
	return f
}

// Handle installs h for cmd.
func (f *Fake) Handle(cmd string, h Handler) {
	f.mu.Lock()
	f.handlers[cmd] = h
	f.mu.Unlock()
}

// Reply installs a handler that always returns v.
func (f *Fake) Reply(cmd string, v any) {
	f.Handle(cmd, func(json.RawMessage) (any, error) { return v, nil })
}

// Fail installs a handler that always returns a timeout error.
func (f *Fake) Fail(cmd string) {
	f.Handle(cmd, func(json.RawMessage) (any, error) {
		return nil, apcerr.Errorf(apcerr.CodeTransportRequestTimeout, "%s timed out", cmd)
	})
}

// SetConnectError makes subsequent Connect calls fail with err (nil clears).
func (f *Fake) SetConnectError(err error) {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
}

// SetConnectHook runs fn inside Connect before the connection is installed.
// A non-nil return fails the connect.
func (f *Fake) SetConnectHook(fn func(addr string) error) {
	f.mu.Lock()
	f.connectHook = fn
	f.mu.Unlock()
}

// Calls returns how many times cmd was requested.
func (f *Fake) Calls(cmd string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[cmd]
}

// Connects returns the addresses passed to Connect, in order.
func (f *Fake) Connects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connects...)
}

// SetConnected flips connectivity and notifies subscribers on change.
func (f *Fake) SetConnected(connected bool) {
	f.mu.Lock()
	changed := f.connected != connected
	f.connected = connected
	f.mu.Unlock()
	if changed {
		f.connBus.Publish(connected)
	}
}

// Emit delivers a push event.
func (f *Fake) Emit(name string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	bus := f.events[name]
	f.mu.Unlock()
	if bus != nil {
		bus.Publish(raw)
	}
}

func (f *Fake) Connect(_ context.Context, addr string) error {
	f.mu.Lock()
	f.connects = append(f.connects, addr)
	err := f.connectErr
	hook := f.connectHook
	closed := f.closed
	f.mu.Unlock()

	if closed {
		return apcerr.New(apcerr.CodeTransportClosed, "transport closed")
	}
	if hook != nil {
		if hookErr := hook(addr); hookErr != nil {
			return hookErr
		}
	}
	if err != nil {
		return err
	}
	f.SetConnected(true)
	return nil
}

func (f *Fake) Disconnect() error {
	f.SetConnected(false)
	return nil
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Request(ctx context.Context, cmd string, params any, _ time.Duration) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls[cmd]++
	connected := f.connected
	h := f.handlers[cmd]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, apcerr.Wrap(err, apcerr.CodeTransportRequestFailure, "request cancelled")
	}
	if !connected {
		return nil, apcerr.New(apcerr.CodeTransportNotConnected, "not connected", apcerr.FieldCommand(cmd))
	}
	if h == nil {
		return nil, apcerr.New(apcerr.CodeTransportDaemonFailure, "unknown command", apcerr.FieldCommand(cmd))
	}

	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		rawParams = b
	}
	v, err := h(rawParams)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (f *Fake) OnEvent(name string, fn func(json.RawMessage)) func() {
	f.mu.Lock()
	bus, ok := f.events[name]
	if !ok {
		bus = event.NewBus[json.RawMessage]("fake.event." + name)
		f.events[name] = bus
	}
	f.mu.Unlock()
	return bus.Subscribe(fn)
}

func (f *Fake) OnConnectionChange(fn func(bool)) func() {
	return f.connBus.Subscribe(fn)
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.SetConnected(false)
	return nil
}
