package intake

import "errors"

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrQueueRequired is returned when no queue is provided.
	ErrQueueRequired = errors.New("queue required")

	// ErrNotRegularFile indicates a submitted path is a directory or special file.
	ErrNotRegularFile = errors.New("not a regular file")

	// ErrUploadDirRequired is returned when no uploads directory is configured.
	ErrUploadDirRequired = errors.New("uploads directory required")

	// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
	ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")
)
