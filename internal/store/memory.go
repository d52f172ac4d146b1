// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package store

import (
	"context"
	"sync"
)

// memoryCapacity bounds the in-memory journal; older entries are discarded.
const memoryCapacity = 1000

func init() {
	RegisterBackend("memory", func(*StorageConfig) (Journal, error) {
		return NewMemoryJournal(memoryCapacity), nil
	})
}

var _ Journal = (*MemoryJournal)(nil)

// MemoryJournal is a bounded in-process Journal.
type MemoryJournal struct {
	mu       sync.Mutex
	entries  []*Entry
	capacity int
	closed   bool
}

// NewMemoryJournal creates a journal that keeps at most capacity entries.
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = memoryCapacity
	}
	return &MemoryJournal{capacity: capacity}
}

func (m *MemoryJournal) Append(_ context.Context, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	e := *entry
	m.entries = append(m.entries, &e)
	if over := len(m.entries) - m.capacity; over > 0 {
		m.entries = append([]*Entry(nil), m.entries[over:]...)
	}
	return nil
}

func (m *MemoryJournal) Recent(_ context.Context, filter Filter) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	limit := filter.EffectiveLimit()
	var out []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if filter.Matches(m.entries[i]) {
			e := *m.entries[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

func (m *MemoryJournal) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
