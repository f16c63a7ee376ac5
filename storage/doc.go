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

// Package storage provides the storage abstraction layer for docindex.
//
// There is one repository interface per entity. DocumentRepository holds
// document metadata and status; ChunkRepository holds embedded chunks and
// answers similarity queries. Every method is a self-contained atomic
// operation. There is no unit-of-work state shared between calls.
//
// # Backends
//
//   - storage/badger: embedded key-value store, the default
//   - storage/sqlite: embedded SQL store (modernc.org/sqlite, no cgo)
//   - storage/postgres: PostgreSQL with the pgvector extension
//
// Public constructors in backend packages return the interfaces defined
// here. Internal constructors may return concrete types.
//
// # Chunk Invariants
//
// Chunks are keyed by (document ID, chunk index). AddBatch writes a whole
// batch or nothing. Embedding length is fixed per store and checked on every
// write; a mismatch fails with core.ErrValidation rather than truncating or
// padding. Deleting a document deletes its chunks in the same write.
//
// # Testing
//
// The storagetest package holds a conformance suite that every backend runs:
//
//	func TestConformance(t *testing.T) {
//	    storagetest.Run(t, func(t *testing.T) (storage.DocumentRepository, storage.ChunkRepository) {
//	        ...
//	    })
//	}
package storage
