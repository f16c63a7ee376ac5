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
	"errors"

	"github.com/poiesic/docindex/core"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	// It is the domain ErrNotFound so callers may test either.
	ErrNotFound = core.ErrNotFound

	// ErrDuplicateKey indicates a duplicate key violation.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidQuery indicates invalid query parameters.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrBatchTooLarge indicates a chunk batch that does not fit in one
	// atomic write on the backend.
	ErrBatchTooLarge = errors.New("chunk batch too large")

	// ErrUnknownDriver indicates a storage driver name that is not registered.
	ErrUnknownDriver = errors.New("unknown storage driver")
)
