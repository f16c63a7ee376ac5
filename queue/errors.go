package queue

import "errors"

var (
	// ErrQueueClosed is returned by Enqueue after Close, and by Dequeue once
	// a closed queue has been drained.
	ErrQueueClosed = errors.New("queue closed")

	// ErrQueueFull is returned by TryEnqueue when no slot is free.
	ErrQueueFull = errors.New("queue full")

	// ErrInvalidCapacity is returned for a non-positive capacity.
	ErrInvalidCapacity = errors.New("queue capacity must be positive")

	// ErrHandlerRequired is returned when a worker pool has no job handler.
	ErrHandlerRequired = errors.New("job handler required")

	// ErrPoolRunning is returned when Run is called on a pool that is already running.
	ErrPoolRunning = errors.New("worker pool already running")
)
