// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

// Package event provides a typed publish/subscribe bus. Each topic gets its
// own Bus so subscribers receive values of a single concrete type.
package event

import (
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
)

// Bus fans a value out to every subscriber. Publish is serialized: handlers
// for one publish all return before the next publish is dispatched, so a
// subscriber never observes two values concurrently.
type Bus[T any] struct {
	name string

	mu     sync.Mutex
	subs   map[uint64]func(T)
	nextID uint64

	dispatch sync.Mutex
}

// NewBus creates a bus. name is only used in logs.
func NewBus[T any](name string) *Bus[T] {
	return &Bus[T]{
		name: name,
		subs: make(map[uint64]func(T)),
	}
}

// Subscribe registers fn and returns a disposer that removes it. The disposer
// is idempotent.
func (b *Bus[T]) Subscribe(fn func(T)) (dispose func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Len returns the number of live subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers v to all current subscribers in subscription order.
// Handlers must not call Publish on the same bus.
func (b *Bus[T]) Publish(v T) {
	b.dispatch.Lock()
	defer b.dispatch.Unlock()

	b.mu.Lock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	handlers := make([]func(T), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		b.deliver(fn, v)
	}
}

func (b *Bus[T]) deliver(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panic recovered",
				"bus", b.name,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn(v)
}
