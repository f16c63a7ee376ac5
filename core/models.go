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
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// DocumentID uniquely identifies an uploaded document.
type DocumentID = uuid.UUID

// CollectionID identifies the collection (workspace) owning a document.
type CollectionID = uuid.UUID

// NewDocumentID returns a fresh random document ID.
func NewDocumentID() DocumentID {
	return uuid.New()
}

// ParseDocumentID parses the canonical string form of a document ID.
func ParseDocumentID(s string) (DocumentID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid document id %q", ErrValidation, s)
	}
	return id, nil
}

// Document is the metadata record for one uploaded file.
// Exactly one Document exists per upload; only the intake collaborator
// and the processing pipeline mutate it.
type Document struct {
	ID               DocumentID
	CollectionID     CollectionID
	ObjectID         string // Stored object reference, opaque to the pipeline
	FileName         string // Name of the stored copy
	OriginalFileName string // Name as uploaded
	FilePath         string // Retrievable location of the stored copy
	ContentType      string
	FileExtension    string
	Size             int64
	Status           DocumentStatus
	StatusMessage    string // Human readable failure message, empty unless Failed
	UploadedBy       string
	UploadedAt       time.Time
	ProcessedAt      time.Time // Zero until the document completes
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DocumentChunk is one embedded segment of a document's text.
// Identity is (DocumentID, Index).
type DocumentChunk struct {
	DocumentID DocumentID
	Index      int
	Content    string
	Embedding  []float32
	Metadata   map[string]string
	CreatedAt  time.Time
}

// ChunkMatch is a chunk returned from a similarity query with its cosine distance
// to the query vector. Smaller distances are more similar.
type ChunkMatch struct {
	Chunk    *DocumentChunk
	Distance float32
}

// Metadata keys attached to every chunk by the ingestion pipeline.
const (
	MetadataSourceFile  = "source_file"
	MetadataContentType = "content_type"
	MetadataContentHash = "content_hash"
	MetadataCharCount   = "char_count"
)

// ContentHash returns the hex encoded BLAKE2b-256 digest of text.
func ContentHash(text string) string {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
