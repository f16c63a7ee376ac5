package storage

import (
	"testing"
	"time"

	"github.com/poiesic/docindex/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalDocument(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	doc := &core.Document{
		ID:               core.NewDocumentID(),
		CollectionID:     core.NewDocumentID(),
		ObjectID:         "obj-1",
		FileName:         "stored.pdf",
		OriginalFileName: "Report Q3.pdf",
		FilePath:         "/uploads/stored.pdf",
		ContentType:      "application/pdf",
		FileExtension:    ".pdf",
		Size:             12345,
		Status:           core.StatusFailed,
		StatusMessage:    "An error occurred: boom",
		UploadedBy:       "alice",
		UploadedAt:       now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	data := MarshalDocument(doc)
	require.NotEmpty(t, data)

	decoded, err := UnmarshalDocument(data)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, decoded.ID)
	assert.Equal(t, doc.CollectionID, decoded.CollectionID)
	assert.Equal(t, doc.OriginalFileName, decoded.OriginalFileName)
	assert.Equal(t, doc.Size, decoded.Size)
	assert.Equal(t, doc.Status, decoded.Status)
	assert.Equal(t, doc.StatusMessage, decoded.StatusMessage)
	assert.True(t, doc.UploadedAt.Equal(decoded.UploadedAt))
	assert.True(t, decoded.ProcessedAt.IsZero())
}

func TestUnmarshal_Invalid(t *testing.T) {
	t.Run("empty document", func(t *testing.T) {
		_, err := UnmarshalDocument([]byte{})
		assert.ErrorIs(t, err, ErrSerializationFailed)
	})

	t.Run("truncated chunk", func(t *testing.T) {
		chunk := &core.DocumentChunk{
			DocumentID: core.NewDocumentID(),
			Content:    "text",
			Embedding:  []float32{1, 2, 3},
		}
		data := MarshalChunk(chunk)
		_, err := UnmarshalChunk(data[:len(data)-3])
		assert.ErrorIs(t, err, ErrSerializationFailed)
	})

	t.Run("empty vector", func(t *testing.T) {
		_, err := UnmarshalVector(nil)
		assert.ErrorIs(t, err, ErrSerializationFailed)
	})
}

func TestMarshalVector(t *testing.T) {
	v := []float32{0.5, -0.25, 1e-3}
	decoded, err := UnmarshalVector(MarshalVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, decoded)
}
