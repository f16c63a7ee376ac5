package core

import (
	"fmt"
	"strings"
)

// DocumentStatus is the processing state of a document.
type DocumentStatus int

const (
	// StatusPending means the document is stored and waiting for a worker.
	StatusPending DocumentStatus = iota + 1
	// StatusProcessing means a pipeline run is in progress.
	StatusProcessing
	// StatusCompleted means chunks for the latest run are persisted.
	StatusCompleted
	// StatusFailed means the latest run stopped with an error.
	StatusFailed
)

var statusNames = map[DocumentStatus]string{
	StatusPending:    "pending",
	StatusProcessing: "processing",
	StatusCompleted:  "completed",
	StatusFailed:     "failed",
}

// String returns the lowercase name of the status.
func (s DocumentStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// IsValid reports whether s is one of the defined statuses.
func (s DocumentStatus) IsValid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsTerminal reports whether a pipeline run has finished for s.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseDocumentStatus converts a status name into a DocumentStatus.
func ParseDocumentStatus(name string) (DocumentStatus, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for status, n := range statusNames {
		if n == name {
			return status, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, name)
}

// transitions lists the allowed forward moves. Terminal states may only go
// back to Pending, which starts a new processing generation.
var transitions = map[DocumentStatus][]DocumentStatus{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusPending},
	StatusFailed:     {StatusPending},
}

// CanTransition reports whether a document may move from one status to another.
func CanTransition(from, to DocumentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the document to the next status, returning
// ErrInvalidTransition if the move is not allowed.
func (d *Document) Transition(to DocumentStatus) error {
	if !CanTransition(d.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, to)
	}
	d.Status = to
	return nil
}
