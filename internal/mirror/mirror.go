// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

// Package mirror caches daemon-pushed status so reads can be answered without
// a round trip.
package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/apc-dev/apc/internal/transport"
)

const DefaultQueryTimeout = 5 * time.Second

// Mirror binds status topics to the daemon's push events. A missing value is
// never an error: "not known yet" is normal during startup.
type Mirror struct {
	transport    transport.Transport
	queryTimeout time.Duration

	coordinator *Topic[transport.CoordinatorStatus]
	subsystem   *Topic[transport.SubsystemStatus]

	disposers []func()
}

// New subscribes to the status events on t. A non-positive queryTimeout
// selects DefaultQueryTimeout.
func New(t transport.Transport, queryTimeout time.Duration) *Mirror {
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	m := &Mirror{
		transport:    t,
		queryTimeout: queryTimeout,
		coordinator:  NewTopic[transport.CoordinatorStatus]("coordinatorStatus"),
		subsystem:    NewTopic[transport.SubsystemStatus]("subsystemStatus"),
	}
	m.disposers = append(m.disposers,
		bind(t, transport.EventCoordinatorStatus, m.coordinator),
		bind(t, transport.EventSubsystemStatus, m.subsystem),
	)
	return m
}

// Coordinator returns the coordinator status topic.
func (m *Mirror) Coordinator() *Topic[transport.CoordinatorStatus] { return m.coordinator }

// Subsystem returns the subsystem status topic.
func (m *Mirror) Subsystem() *Topic[transport.SubsystemStatus] { return m.subsystem }

// CoordinatorStatus returns the cached coordinator status, querying the
// daemon when nothing is cached and the link is up.
func (m *Mirror) CoordinatorStatus(ctx context.Context) (transport.CoordinatorStatus, bool) {
	return lookup(ctx, m, m.coordinator, transport.CmdCoordinatorStatus)
}

// SubsystemStatus returns the cached subsystem status, querying the daemon
// when nothing is cached and the link is up.
func (m *Mirror) SubsystemStatus(ctx context.Context) (transport.SubsystemStatus, bool) {
	return lookup(ctx, m, m.subsystem, transport.CmdSubsystemStatus)
}

// Close drops the event subscriptions. Cached values remain readable.
func (m *Mirror) Close() {
	for _, dispose := range m.disposers {
		dispose()
	}
	m.disposers = nil
}

func bind[T any](t transport.Transport, name string, topic *Topic[T]) func() {
	return t.OnEvent(name, func(raw json.RawMessage) {
		v, err := transport.Decode[T](raw)
		if err != nil {
			slog.Warn("mirror: dropping malformed status event", "event", name, "error", err)
			return
		}
		topic.Set(v)
	})
}

func lookup[T any](ctx context.Context, m *Mirror, topic *Topic[T], cmd string) (T, bool) {
	if v, ok := topic.Get(); ok {
		return v, true
	}

	var zero T
	if !m.transport.IsConnected() {
		return zero, false
	}

	qctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()
	v, err := transport.Call[T](qctx, m.transport, cmd, nil, m.queryTimeout)
	if err != nil {
		slog.Debug("mirror: live status query failed", "cmd", cmd, "error", err)
		return zero, false
	}

	// A push that landed during the query is newer; keep it.
	if cached, ok := topic.Get(); ok {
		return cached, true
	}
	topic.Set(v)
	return v, true
}
