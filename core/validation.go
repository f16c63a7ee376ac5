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
	"fmt"

	"github.com/google/uuid"
)

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - ID must be set
//   - FilePath and ContentType must not be empty
//   - Status must be a known status
//   - Size must not be negative
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}
	if doc.ID == uuid.Nil {
		return fmt.Errorf("%w: id is required", ErrInvalidDocument)
	}
	if doc.FilePath == "" {
		return fmt.Errorf("%w: file path is required", ErrInvalidDocument)
	}
	if doc.ContentType == "" {
		return fmt.Errorf("%w: content type is required", ErrInvalidDocument)
	}
	if !doc.Status.IsValid() {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrInvalidStatus)
	}
	if doc.Size < 0 {
		return fmt.Errorf("%w: size cannot be negative", ErrInvalidDocument)
	}
	return nil
}

// ValidateChunk validates a DocumentChunk before it is written.
//
// Validation rules:
//   - DocumentID must be set
//   - Index must not be negative
//   - Content must not be empty
//   - Embedding must not be empty
//   - Metadata keys must not be empty
//
// Dimension consistency across the store is checked by each repository.
func ValidateChunk(chunk *DocumentChunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if chunk.DocumentID == uuid.Nil {
		return fmt.Errorf("%w: document id is required", ErrInvalidChunk)
	}
	if chunk.Index < 0 {
		return fmt.Errorf("%w: index %d is negative", ErrInvalidChunk, chunk.Index)
	}
	if chunk.Content == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}
	if len(chunk.Embedding) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyEmbedding)
	}
	for key := range chunk.Metadata {
		if key == "" {
			return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrInvalidMetadata)
		}
	}
	return nil
}

// ValidateDimensions checks that vector has exactly want elements.
// A want of zero accepts any non-empty vector.
func ValidateDimensions(vector []float32, want int) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: vector is empty", ErrDimensionMismatch)
	}
	if want > 0 && len(vector) != want {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, want, len(vector))
	}
	return nil
}
