// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package mirror

import (
	"sync"
	"time"

	"github.com/apc-dev/apc/internal/event"
)

// Cached is a last-known-good value and when it arrived.
type Cached[T any] struct {
	Value      T         `json:"value"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Topic holds the latest value of one status topic. Writes always win; there
// is no way to clear a topic.
type Topic[T any] struct {
	name string
	now  func() time.Time

	mu    sync.RWMutex
	entry Cached[T]
	set   bool

	bus *event.Bus[T]
}

// NewTopic creates an empty topic.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{
		name: name,
		now:  time.Now,
		bus:  event.NewBus[T]("mirror." + name),
	}
}

func (t *Topic[T]) Name() string { return t.name }

// Get returns the cached value, if any.
func (t *Topic[T]) Get() (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entry.Value, t.set
}

// Cached returns the cached value together with its arrival time.
func (t *Topic[T]) Cached() (Cached[T], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entry, t.set
}

// Set overwrites the cached value and notifies subscribers.
func (t *Topic[T]) Set(v T) {
	t.mu.Lock()
	t.entry = Cached[T]{Value: v, ReceivedAt: t.now()}
	t.set = true
	t.mu.Unlock()

	t.bus.Publish(v)
}

// Subscribe registers fn for every Set.
func (t *Topic[T]) Subscribe(fn func(T)) (dispose func()) {
	return t.bus.Subscribe(fn)
}
