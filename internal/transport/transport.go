// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

// Package transport is the duplex link to the daemon: request/response pairs
// with per-call timeouts plus named push events.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	apcerr "github.com/apc-dev/apc/pkg/errors"
)

// Transport is the connection surface the supervisor depends on.
type Transport interface {
	// Connect opens a connection to addr, replacing any existing one.
	Connect(ctx context.Context, addr string) error
	// Disconnect closes the current connection, if any.
	Disconnect() error
	// IsConnected reports current connectivity.
	IsConnected() bool
	// Request sends cmd and waits for its response or the timeout.
	Request(ctx context.Context, cmd string, params any, timeout time.Duration) (json.RawMessage, error)
	// OnEvent subscribes to a named push event.
	OnEvent(name string, fn func(json.RawMessage)) (dispose func())
	// OnConnectionChange subscribes to open/close transitions.
	OnConnectionChange(fn func(connected bool)) (dispose func())
	// Close releases the transport permanently.
	Close() error
}

// Address builds the daemon URL for a loopback host and port.
func Address(host string, port int) string {
	if host == "" {
		host = "127.0.0.1"
	}
	return "ws://" + host + ":" + strconv.Itoa(port)
}

// Call issues cmd on t and decodes the response into T.
func Call[T any](ctx context.Context, t Transport, cmd string, params any, timeout time.Duration) (T, error) {
	var out T
	raw, err := t.Request(ctx, cmd, params, timeout)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return out, apcerr.New(apcerr.CodeTransportResponseInvalid, "empty response",
			apcerr.FieldCommand(cmd))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, apcerr.Wrap(err, apcerr.CodeTransportResponseInvalid,
			fmt.Sprintf("decoding %s response", cmd), apcerr.FieldCommand(cmd))
	}
	return out, nil
}

// Ping performs an echo-style liveness check.
func Ping(ctx context.Context, t Transport, timeout time.Duration) error {
	res, err := Call[PingResult](ctx, t, CmdPing, nil, timeout)
	if err != nil {
		return err
	}
	if !res.Pong {
		return apcerr.New(apcerr.CodeTransportResponseInvalid, "ping response missing pong",
			apcerr.FieldCommand(CmdPing))
	}
	return nil
}

// Decode unmarshals a push event payload.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, apcerr.Wrap(err, apcerr.CodeTransportResponseInvalid, "decoding event payload")
	}
	return out, nil
}
