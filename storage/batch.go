package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/poiesic/docindex/core"
)

type chunkKey struct {
	id    core.DocumentID
	index int
}

// PrepareBatch validates a chunk batch before any of it is written.
// Every chunk must pass core.ValidateChunk, all embeddings must share one
// length (and match dimensions when it is non-zero), and no (document,
// index) pair may repeat. Missing CreatedAt timestamps are set to now.
// Returns the embedding length of the batch.
func PrepareBatch(chunks []*core.DocumentChunk, dimensions int) (int, error) {
	if len(chunks) == 0 {
		return dimensions, nil
	}

	now := time.Now().UTC()
	seen := make(map[chunkKey]struct{}, len(chunks))
	want := dimensions
	for i, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return 0, fmt.Errorf("chunk %d: %w", i, err)
		}
		if want == 0 {
			want = len(chunk.Embedding)
		}
		if err := core.ValidateDimensions(chunk.Embedding, want); err != nil {
			return 0, fmt.Errorf("chunk %d: %w", i, err)
		}
		key := chunkKey{chunk.DocumentID, chunk.Index}
		if _, dup := seen[key]; dup {
			return 0, fmt.Errorf("%w: chunk %s/%d repeated in batch", ErrDuplicateKey, chunk.DocumentID, chunk.Index)
		}
		seen[key] = struct{}{}
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = now
		}
	}
	return want, nil
}

// Dimensions tracks the embedding length a chunk store enforces.
// The zero value accepts the first length it is given.
type Dimensions struct {
	mu    sync.RWMutex
	value int
}

// NewDimensions returns a tracker fixed at n, or unset when n is 0.
func NewDimensions(n int) *Dimensions {
	return &Dimensions{value: n}
}

// Get returns the enforced length, 0 if unset.
func (d *Dimensions) Get() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.value
}

// Set records n as the enforced length if none is set yet.
func (d *Dimensions) Set(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.value == 0 {
		d.value = n
	}
}
