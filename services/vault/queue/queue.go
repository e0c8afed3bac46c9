// Copyright (C) 2026 Tidewater HQ (engineering@tidewaterhq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package queue provides the write-serialization primitive used by the
// vault stores.
//
// Every store instance owns one Queue, and every mutating operation
// (snapshot save, blob store, migration) runs as a queued task. The
// queue guarantees:
//
//   - tasks execute one at a time, in submission order (FIFO)
//   - a failed or panicking task reports to its own caller only and
//     never blocks later tasks
//
// The underlying engine is not safe under interleaved writer
// transactions from one process, so this is the core safety property
// of the persistence layer.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrQueueClosed is returned by Do after Close has been called.
var ErrQueueClosed = errors.New("write queue is closed")

// DefaultBuffer is the default task buffer size. Submissions beyond
// this block until the worker catches up.
const DefaultBuffer = 64

type task struct {
	fn   func() error
	done chan error
}

// Queue is a single-worker FIFO task queue.
//
// Thread Safety: Safe for concurrent use.
type Queue struct {
	logger *slog.Logger

	mu     sync.Mutex
	tasks  chan task
	closed bool

	workerDone chan struct{}
}

// New creates a queue and starts its worker goroutine.
//
// Inputs:
//   - logger: Logger for task failures. If nil, slog.Default() is used.
//
// Outputs:
//   - *Queue: Running queue. Call Close() when done.
func New(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		logger:     logger.With(slog.String("component", "write_queue")),
		tasks:      make(chan task, DefaultBuffer),
		workerDone: make(chan struct{}),
	}
	go q.worker()
	return q
}

// Do submits fn and waits for its result.
//
// Description:
//
//	Tasks run strictly in submission order. If ctx is cancelled while
//	waiting, Do returns ctx.Err() but the task still executes in its
//	queue slot; cancellation abandons the wait, not the write. This
//	keeps the total order of persisted states well defined even when
//	callers time out.
//
// Outputs:
//   - error: The task's error, ctx.Err() if the wait was abandoned, or
//     ErrQueueClosed.
func (q *Queue) Do(ctx context.Context, fn func() error) error {
	t := task{fn: fn, done: make(chan error, 1)}

	// The mutex orders concurrent submitters so the channel send below
	// is a strict FIFO handoff even when the buffer is full.
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.tasks <- t
	q.mu.Unlock()

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, waits for queued tasks to drain, and
// stops the worker. Safe to call multiple times.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	<-q.workerDone
}

func (q *Queue) worker() {
	defer close(q.workerDone)
	for t := range q.tasks {
		t.done <- q.run(t.fn)
	}
}

// run executes one task, converting a panic into an error so a broken
// task cannot take the worker down with it.
func (q *Queue) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queued task panicked: %v", r)
			q.logger.Error("queued task panicked", slog.Any("panic", r))
		}
	}()
	return fn()
}
