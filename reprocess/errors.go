package reprocess

import "errors"

var (
	// ErrQueueRequired is returned when no queue is provided.
	ErrQueueRequired = errors.New("queue required")

	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")
)
