// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRecorderQueue = 256
	recorderWriteTimeout = 2 * time.Second
)

// Recorder writes entries to a Journal on a background goroutine so that
// callers on hot notification paths never block on disk I/O. When the queue
// is full new entries are dropped and logged.
type Recorder struct {
	journal       Journal
	workspaceHash string
	now           func() time.Time

	queue     chan Entry
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewRecorder starts a recorder in front of j. size <= 0 selects a default
// queue length.
func NewRecorder(j Journal, workspaceHash string, size int) *Recorder {
	if size <= 0 {
		size = defaultRecorderQueue
	}
	r := &Recorder{
		journal:       j,
		workspaceHash: workspaceHash,
		now:           time.Now,
		queue:         make(chan Entry, size),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues a transition. It never blocks.
func (r *Recorder) Record(kind Kind, from, to, detail string) {
	e := Entry{
		ID:            uuid.NewString(),
		At:            r.now(),
		WorkspaceHash: r.workspaceHash,
		Kind:          kind,
		From:          from,
		To:            to,
		Detail:        detail,
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		slog.Warn("journal queue full, dropping entry", "kind", kind, "to", to)
	}
}

// Close flushes queued entries and closes the journal.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()

		r.wg.Wait()
		err = r.journal.Close()
	})
	return err
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
		if err := r.journal.Append(ctx, &e); err != nil {
			slog.Warn("journal append failed", "kind", e.Kind, "error", err)
		}
		cancel()
	}
}
