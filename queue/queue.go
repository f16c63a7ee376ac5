// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue provides the bounded FIFO work queue between the upload path
// and background pipeline workers, plus the worker pool that drains it.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/docindex/core"
)

// DefaultCapacity is the queue bound used by the application config.
const DefaultCapacity = 100

// Queue is a bounded, blocking FIFO of jobs. It is safe for concurrent use
// by any number of producers and consumers.
type Queue struct {
	items chan core.Job
	// closing wakes blocked producers; done is closed once no producer can
	// still be mid-send, so consumers that observe it drain every accepted job.
	closing   chan struct{}
	done      chan struct{}
	sendMu    sync.RWMutex
	closeOnce sync.Once
}

// New creates a queue that holds at most capacity pending jobs.
func New(capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return &Queue{
		items:   make(chan core.Job, capacity),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Enqueue adds job, blocking while the queue is full. It fails with
// core.ErrCancelled if ctx ends first and ErrQueueClosed after Close.
func (q *Queue) Enqueue(ctx context.Context, job core.Job) error {
	if err := ctx.Err(); err != nil {
		return core.Cancelled(err)
	}
	if err := job.Validate(); err != nil {
		return err
	}

	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	if q.isClosed() {
		return ErrQueueClosed
	}

	select {
	case q.items <- job:
		return nil
	case <-ctx.Done():
		return core.Cancelled(ctx.Err())
	case <-q.closing:
		return ErrQueueClosed
	}
}

// TryEnqueue adds job without blocking, failing with ErrQueueFull when no slot is free.
func (q *Queue) TryEnqueue(job core.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	if q.isClosed() {
		return ErrQueueClosed
	}

	select {
	case q.items <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue removes the oldest job, blocking until one is available. It fails
// with core.ErrCancelled if ctx ends first. After Close, remaining jobs are
// still handed out; ErrQueueClosed is returned once the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (core.Job, error) {
	if err := ctx.Err(); err != nil {
		return core.Job{}, core.Cancelled(err)
	}

	select {
	case job := <-q.items:
		return job, nil
	case <-ctx.Done():
		return core.Job{}, core.Cancelled(ctx.Err())
	case <-q.done:
		select {
		case job := <-q.items:
			return job, nil
		default:
			return core.Job{}, ErrQueueClosed
		}
	}
}

// Close stops accepting jobs and wakes blocked producers and idle consumers.
// Once Close returns every Enqueue fails with ErrQueueClosed, and every job
// accepted before that is still handed out by Dequeue. It is safe to call
// more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closing)
		q.sendMu.Lock()
		close(q.done)
		q.sendMu.Unlock()
	})
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue bound.
func (q *Queue) Cap() int {
	return cap(q.items)
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.closing:
		return true
	default:
		return false
	}
}
