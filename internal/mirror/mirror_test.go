// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package mirror_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apc-dev/apc/internal/mirror"
	"github.com/apc-dev/apc/internal/transport"
	"github.com/apc-dev/apc/internal/transport/transporttest"
)

func newMirror(t *testing.T) (*mirror.Mirror, *transporttest.Fake) {
	t.Helper()
	fake := transporttest.NewFake()
	m := mirror.New(fake, 0)
	t.Cleanup(m.Close)
	return m, fake
}

func TestTopicStartsEmpty(t *testing.T) {
	topic := mirror.NewTopic[int]("n")
	_, ok := topic.Get()
	assert.False(t, ok)
	assert.Equal(t, "n", topic.Name())
}

func TestTopicSetOverwritesAndNotifies(t *testing.T) {
	topic := mirror.NewTopic[string]("s")
	var seen []string
	dispose := topic.Subscribe(func(v string) { seen = append(seen, v) })

	topic.Set("a")
	topic.Set("b")
	dispose()
	topic.Set("c")

	v, ok := topic.Get()
	require.True(t, ok)
	assert.Equal(t, "c", v)
	assert.Equal(t, []string{"a", "b"}, seen)

	cached, ok := topic.Cached()
	require.True(t, ok)
	assert.False(t, cached.ReceivedAt.IsZero())
}

func TestPushEventIsCached(t *testing.T) {
	m, fake := newMirror(t)
	fake.Emit(transport.EventCoordinatorStatus, transport.CoordinatorStatus{State: "running", ActiveAgents: 2})

	got, ok := m.CoordinatorStatus(context.Background())
	require.True(t, ok)
	assert.Equal(t, "running", got.State)
	assert.Equal(t, 2, got.ActiveAgents)
	assert.Zero(t, fake.Calls(transport.CmdCoordinatorStatus))
}

func TestCachedValueSurvivesDisconnect(t *testing.T) {
	m, fake := newMirror(t)
	fake.SetConnected(true)
	fake.Emit(transport.EventSubsystemStatus, transport.SubsystemStatus{Name: "unity", Connected: true})
	fake.SetConnected(false)

	got, ok := m.SubsystemStatus(context.Background())
	require.True(t, ok)
	assert.Equal(t, "unity", got.Name)
	assert.True(t, got.Connected)
}

func TestEventWhileDisconnectedStillOverwrites(t *testing.T) {
	m, fake := newMirror(t)
	fake.Emit(transport.EventSubsystemStatus, transport.SubsystemStatus{Name: "unity", Compiling: true})
	fake.Emit(transport.EventSubsystemStatus, transport.SubsystemStatus{Name: "unity", Compiling: false})

	got, ok := m.SubsystemStatus(context.Background())
	require.True(t, ok)
	assert.False(t, got.Compiling)
}

func TestLiveQueryFallbackIsCached(t *testing.T) {
	m, fake := newMirror(t)
	fake.SetConnected(true)
	fake.Reply(transport.CmdCoordinatorStatus, transport.CoordinatorStatus{State: "idle"})

	got, ok := m.CoordinatorStatus(context.Background())
	require.True(t, ok)
	assert.Equal(t, "idle", got.State)

	_, ok = m.CoordinatorStatus(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, fake.Calls(transport.CmdCoordinatorStatus))
}

func TestAbsentWhenDisconnectedAndEmpty(t *testing.T) {
	m, fake := newMirror(t)

	_, ok := m.CoordinatorStatus(context.Background())
	assert.False(t, ok)
	assert.Zero(t, fake.Calls(transport.CmdCoordinatorStatus))
}

func TestQueryFailureReadsAsAbsent(t *testing.T) {
	m, fake := newMirror(t)
	fake.SetConnected(true)
	fake.Fail(transport.CmdSubsystemStatus)

	_, ok := m.SubsystemStatus(context.Background())
	assert.False(t, ok)
}

func TestMalformedEventIsDropped(t *testing.T) {
	m, fake := newMirror(t)
	fake.Emit(transport.EventCoordinatorStatus, json.RawMessage(`"not an object"`))

	_, ok := m.Coordinator().Get()
	assert.False(t, ok)
}
