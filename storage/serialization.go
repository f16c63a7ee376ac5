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

package storage

import (
	"fmt"

	"github.com/poiesic/docindex/core"
)

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	buf := make([]byte, core.DocumentMUS.Size(*doc))
	core.DocumentMUS.Marshal(*doc, buf)
	return buf
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	doc, _, err := core.DocumentMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: document: %w", ErrSerializationFailed, err)
	}
	return &doc, nil
}

// MarshalChunk serializes a DocumentChunk to bytes.
func MarshalChunk(chunk *core.DocumentChunk) []byte {
	buf := make([]byte, core.DocumentChunkMUS.Size(*chunk))
	core.DocumentChunkMUS.Marshal(*chunk, buf)
	return buf
}

// UnmarshalChunk deserializes a DocumentChunk from bytes.
func UnmarshalChunk(data []byte) (*core.DocumentChunk, error) {
	chunk, _, err := core.DocumentChunkMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk: %w", ErrSerializationFailed, err)
	}
	return &chunk, nil
}

// MarshalVector serializes an embedding vector to bytes.
// SQL backends without a native vector type store this as a blob.
func MarshalVector(v []float32) []byte {
	buf := make([]byte, core.VectorMUS.Size(v))
	core.VectorMUS.Marshal(v, buf)
	return buf
}

// UnmarshalVector deserializes an embedding vector from bytes.
func UnmarshalVector(data []byte) ([]float32, error) {
	v, _, err := core.VectorMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: vector: %w", ErrSerializationFailed, err)
	}
	return v, nil
}
