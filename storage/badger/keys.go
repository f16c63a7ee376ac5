package badger

import (
	"encoding/binary"

	"github.com/poiesic/docindex/core"
)

// Key prefixes for different data types
const (
	documentPrefix = "doc:"
	chunkPrefix    = "chk:"
	dimensionsKey  = "meta:dimensions"
)

// makeDocumentKey generates a key for a document by ID.
// Format: prefix + 16 byte id
func makeDocumentKey(id core.DocumentID) []byte {
	buf := make([]byte, len(documentPrefix)+len(id))
	offset := copy(buf, documentPrefix)
	copy(buf[offset:], id[:])
	return buf
}

// makeChunkKey generates a composite key for a chunk.
// Format: prefix + 16 byte document id + 4 byte index
func makeChunkKey(id core.DocumentID, index int) []byte {
	buf := make([]byte, len(chunkPrefix)+len(id)+4)
	offset := copy(buf, chunkPrefix)
	offset += copy(buf[offset:], id[:])
	// BigEndian so chunks of a document iterate in index order
	binary.BigEndian.PutUint32(buf[offset:], uint32(index))
	return buf
}

// makeChunkDocumentPrefix generates the key prefix shared by all chunks of a document.
func makeChunkDocumentPrefix(id core.DocumentID) []byte {
	buf := make([]byte, len(chunkPrefix)+len(id))
	offset := copy(buf, chunkPrefix)
	copy(buf[offset:], id[:])
	return buf
}
