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

package core

import (
	"context"
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Callers classify failures with errors.Is.
var (
	// ErrNotFound indicates the document (or chunk) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmptyContent indicates extraction produced no usable text.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrUnsupportedContentType indicates no extractor handles the declared content type.
	ErrUnsupportedContentType = errors.New("unsupported content type")

	// ErrEmbeddingBackend indicates a failure calling the embedding backend.
	ErrEmbeddingBackend = errors.New("embedding backend error")

	// ErrValidation indicates malformed input such as a vector dimension mismatch.
	ErrValidation = errors.New("validation error")

	// ErrCancelled indicates a queue wait or pipeline run was cancelled.
	ErrCancelled = errors.New("cancelled")
)

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = fmt.Errorf("%w: invalid document", ErrValidation)

	// ErrInvalidChunk indicates a DocumentChunk failed validation.
	ErrInvalidChunk = fmt.Errorf("%w: invalid chunk", ErrValidation)

	// ErrDimensionMismatch indicates an embedding has the wrong length for the store.
	ErrDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", ErrValidation)

	// ErrInvalidStatus indicates an unknown DocumentStatus value.
	ErrInvalidStatus = fmt.Errorf("%w: invalid document status", ErrValidation)

	// ErrInvalidTransition indicates a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEmptyEmbedding indicates a chunk has no embedding vector.
	ErrEmptyEmbedding = errors.New("embedding cannot be empty")

	// ErrInvalidMetadata indicates a metadata entry with an empty key.
	ErrInvalidMetadata = errors.New("metadata keys cannot be empty")
)

// Cancelled wraps a context error in ErrCancelled. Other errors are returned unchanged.
func Cancelled(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCancelled) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return err
}
