package core

import (
	"fmt"

	"github.com/google/uuid"
)

// JobKind discriminates the work a queued Job asks for.
type JobKind int

const (
	// JobProcessDocument runs the pipeline for a Pending document.
	JobProcessDocument JobKind = iota + 1
	// JobReprocessDocument clears existing chunks, resets the document to
	// Pending and runs the pipeline again.
	JobReprocessDocument
)

// String returns the job kind name used in logs.
func (k JobKind) String() string {
	switch k {
	case JobProcessDocument:
		return "process"
	case JobReprocessDocument:
		return "reprocess"
	default:
		return fmt.Sprintf("job(%d)", int(k))
	}
}

// Job is a typed unit of background work. It carries no result value.
type Job struct {
	Kind       JobKind
	DocumentID DocumentID
}

// NewProcessJob returns a job that processes the given document.
func NewProcessJob(id DocumentID) Job {
	return Job{Kind: JobProcessDocument, DocumentID: id}
}

// NewReprocessJob returns a job that reprocesses the given document.
func NewReprocessJob(id DocumentID) Job {
	return Job{Kind: JobReprocessDocument, DocumentID: id}
}

// Validate checks that the job names a known kind and a document.
func (j Job) Validate() error {
	if j.Kind != JobProcessDocument && j.Kind != JobReprocessDocument {
		return fmt.Errorf("%w: unknown job kind %d", ErrValidation, int(j.Kind))
	}
	if j.DocumentID == uuid.Nil {
		return fmt.Errorf("%w: job has no document id", ErrValidation)
	}
	return nil
}
