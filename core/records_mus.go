package core

import (
	"errors"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for the persisted records. Field order is part of the
// encoding; append new fields at the end.
var (
	DocumentIDMUS    = documentIDMUS{}
	TimeMUS          = timeMUS{}
	VectorMUS        = vectorMUS{}
	MetadataMUS      = metadataMUS{}
	DocumentMUS      = documentMUS{}
	DocumentChunkMUS = documentChunkMUS{}
)

var errNegativeLength = errors.New("negative length")

type documentIDMUS struct{}

func (documentIDMUS) Marshal(v DocumentID, bs []byte) (n int) {
	return copy(bs, v[:])
}

func (documentIDMUS) Unmarshal(bs []byte) (v DocumentID, n int, err error) {
	if len(bs) < len(v) {
		return uuid.Nil, 0, io.ErrUnexpectedEOF
	}
	n = copy(v[:], bs)
	return v, n, nil
}

func (documentIDMUS) Size(v DocumentID) int {
	return len(v)
}

// timeMUS stores timestamps as Unix microseconds in UTC.
type timeMUS struct{}

func (timeMUS) Marshal(v time.Time, bs []byte) (n int) {
	return varint.Int64.Marshal(v.UnixMicro(), bs)
}

func (timeMUS) Unmarshal(bs []byte) (v time.Time, n int, err error) {
	micros, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return time.Time{}, n, err
	}
	return time.UnixMicro(micros).UTC(), n, nil
}

func (timeMUS) Size(v time.Time) int {
	return varint.Int64.Size(v.UnixMicro())
}

type vectorMUS struct{}

func (vectorMUS) Marshal(v []float32, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return n
}

func (vectorMUS) Unmarshal(bs []byte) (v []float32, n int, err error) {
	length, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if length < 0 {
		return nil, n, errNegativeLength
	}
	v = make([]float32, length)
	var n1 int
	for i := range v {
		v[i], n1, err = raw.Float32.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return nil, n, err
		}
	}
	return v, n, nil
}

func (vectorMUS) Size(v []float32) (size int) {
	size = varint.Int.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return size
}

// metadataMUS writes entries in key order so equal maps encode identically.
type metadataMUS struct{}

func (metadataMUS) Marshal(v map[string]string, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, key := range sortedKeys(v) {
		n += ord.String.Marshal(key, bs[n:])
		n += ord.String.Marshal(v[key], bs[n:])
	}
	return n
}

func (metadataMUS) Unmarshal(bs []byte) (v map[string]string, n int, err error) {
	length, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if length < 0 {
		return nil, n, errNegativeLength
	}
	v = make(map[string]string, length)
	var (
		key, value string
		n1         int
	)
	for range length {
		key, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return nil, n, err
		}
		value, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return nil, n, err
		}
		v[key] = value
	}
	return v, n, nil
}

func (metadataMUS) Size(v map[string]string) (size int) {
	size = varint.Int.Size(len(v))
	for key, value := range v {
		size += ord.String.Size(key) + ord.String.Size(value)
	}
	return size
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

type documentMUS struct{}

func (documentMUS) Marshal(v Document, bs []byte) (n int) {
	n = DocumentIDMUS.Marshal(v.ID, bs)
	n += DocumentIDMUS.Marshal(v.CollectionID, bs[n:])
	n += ord.String.Marshal(v.ObjectID, bs[n:])
	n += ord.String.Marshal(v.FileName, bs[n:])
	n += ord.String.Marshal(v.OriginalFileName, bs[n:])
	n += ord.String.Marshal(v.FilePath, bs[n:])
	n += ord.String.Marshal(v.ContentType, bs[n:])
	n += ord.String.Marshal(v.FileExtension, bs[n:])
	n += varint.Int64.Marshal(v.Size, bs[n:])
	n += varint.Int.Marshal(int(v.Status), bs[n:])
	n += ord.String.Marshal(v.StatusMessage, bs[n:])
	n += ord.String.Marshal(v.UploadedBy, bs[n:])
	n += TimeMUS.Marshal(v.UploadedAt, bs[n:])
	n += TimeMUS.Marshal(v.ProcessedAt, bs[n:])
	n += TimeMUS.Marshal(v.CreatedAt, bs[n:])
	n += TimeMUS.Marshal(v.UpdatedAt, bs[n:])
	return n
}

func (documentMUS) Unmarshal(bs []byte) (v Document, n int, err error) {
	d := decoder{bs: bs}
	v.ID = d.documentID()
	v.CollectionID = d.documentID()
	v.ObjectID = d.string()
	v.FileName = d.string()
	v.OriginalFileName = d.string()
	v.FilePath = d.string()
	v.ContentType = d.string()
	v.FileExtension = d.string()
	v.Size = d.int64()
	v.Status = DocumentStatus(d.int())
	v.StatusMessage = d.string()
	v.UploadedBy = d.string()
	v.UploadedAt = d.time()
	v.ProcessedAt = d.time()
	v.CreatedAt = d.time()
	v.UpdatedAt = d.time()
	if d.err != nil {
		return Document{}, d.n, d.err
	}
	return v, d.n, nil
}

func (documentMUS) Size(v Document) (size int) {
	size = DocumentIDMUS.Size(v.ID) + DocumentIDMUS.Size(v.CollectionID)
	for _, s := range []string{v.ObjectID, v.FileName, v.OriginalFileName, v.FilePath, v.ContentType, v.FileExtension} {
		size += ord.String.Size(s)
	}
	size += varint.Int64.Size(v.Size)
	size += varint.Int.Size(int(v.Status))
	size += ord.String.Size(v.StatusMessage)
	size += ord.String.Size(v.UploadedBy)
	for _, t := range []time.Time{v.UploadedAt, v.ProcessedAt, v.CreatedAt, v.UpdatedAt} {
		size += TimeMUS.Size(t)
	}
	return size
}

type documentChunkMUS struct{}

func (documentChunkMUS) Marshal(v DocumentChunk, bs []byte) (n int) {
	n = DocumentIDMUS.Marshal(v.DocumentID, bs)
	n += varint.Int.Marshal(v.Index, bs[n:])
	n += ord.String.Marshal(v.Content, bs[n:])
	n += VectorMUS.Marshal(v.Embedding, bs[n:])
	n += MetadataMUS.Marshal(v.Metadata, bs[n:])
	n += TimeMUS.Marshal(v.CreatedAt, bs[n:])
	return n
}

func (documentChunkMUS) Unmarshal(bs []byte) (v DocumentChunk, n int, err error) {
	d := decoder{bs: bs}
	v.DocumentID = d.documentID()
	v.Index = d.int()
	v.Content = d.string()
	if d.err == nil {
		var n1 int
		v.Embedding, n1, d.err = VectorMUS.Unmarshal(d.bs[d.n:])
		d.n += n1
	}
	if d.err == nil {
		var n1 int
		v.Metadata, n1, d.err = MetadataMUS.Unmarshal(d.bs[d.n:])
		d.n += n1
	}
	v.CreatedAt = d.time()
	if d.err != nil {
		return DocumentChunk{}, d.n, d.err
	}
	return v, d.n, nil
}

func (documentChunkMUS) Size(v DocumentChunk) int {
	return DocumentIDMUS.Size(v.DocumentID) +
		varint.Int.Size(v.Index) +
		ord.String.Size(v.Content) +
		VectorMUS.Size(v.Embedding) +
		MetadataMUS.Size(v.Metadata) +
		TimeMUS.Size(v.CreatedAt)
}

// decoder reads consecutive fields and keeps the first error.
type decoder struct {
	bs  []byte
	n   int
	err error
}

func (d *decoder) documentID() (v DocumentID) {
	if d.err != nil {
		return v
	}
	var n int
	v, n, d.err = DocumentIDMUS.Unmarshal(d.bs[d.n:])
	d.n += n
	return v
}

func (d *decoder) string() (v string) {
	if d.err != nil {
		return v
	}
	var n int
	v, n, d.err = ord.String.Unmarshal(d.bs[d.n:])
	d.n += n
	return v
}

func (d *decoder) int() (v int) {
	if d.err != nil {
		return v
	}
	var n int
	v, n, d.err = varint.Int.Unmarshal(d.bs[d.n:])
	d.n += n
	return v
}

func (d *decoder) int64() (v int64) {
	if d.err != nil {
		return v
	}
	var n int
	v, n, d.err = varint.Int64.Unmarshal(d.bs[d.n:])
	d.n += n
	return v
}

func (d *decoder) time() (v time.Time) {
	if d.err != nil {
		return v
	}
	var n int
	v, n, d.err = TimeMUS.Unmarshal(d.bs[d.n:])
	d.n += n
	return v
}
