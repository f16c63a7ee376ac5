package extraction

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/docindex/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	output []byte
	err    error
	name   string
	args   []string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.name = name
	m.args = args
	return m.output, m.err
}

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeDOCX(t *testing.T, documentXML string) string {
	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

func TestRegistry_Dispatch(t *testing.T) {
	ctx := context.Background()
	runner := &mockRunner{output: []byte("pdf text")}
	registry := DefaultRegistry(runner)

	t.Run("plain text with parameters", func(t *testing.T) {
		doc := &core.Document{ContentType: "text/plain; charset=utf-8", FilePath: writeFile(t, "a.txt", "hello")}
		text, err := registry.ExtractText(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
	})

	t.Run("markdown", func(t *testing.T) {
		doc := &core.Document{ContentType: "text/markdown", FilePath: writeFile(t, "a.md", "# Title\nbody")}
		text, err := registry.ExtractText(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, "# Title\nbody", text)
	})

	t.Run("pdf via runner", func(t *testing.T) {
		doc := &core.Document{ContentType: ContentTypePDF, FilePath: "/uploads/a.pdf"}
		text, err := registry.ExtractText(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, "pdf text", text)
		assert.Equal(t, "pdftotext", runner.name)
		assert.Equal(t, []string{"-layout", "-enc", "UTF-8", "/uploads/a.pdf", "-"}, runner.args)
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := registry.ExtractText(ctx, &core.Document{ContentType: "image/png"})
		assert.ErrorIs(t, err, core.ErrUnsupportedContentType)
	})

	t.Run("cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := registry.ExtractText(cancelled, &core.Document{ContentType: ContentTypeText})
		assert.ErrorIs(t, err, core.ErrCancelled)
	})

	assert.True(t, registry.Supports("TEXT/PLAIN"))
	assert.False(t, registry.Supports("application/zip"))
	assert.Len(t, registry.ContentTypes(), 4)
}

func TestPDFExtractor_RunnerError(t *testing.T) {
	boom := errors.New("exit status 1")
	_, err := NewPDFExtractor(&mockRunner{err: boom}).Extract(context.Background(), "x.pdf")
	assert.ErrorIs(t, err, boom)
}

func TestDOCXExtractor(t *testing.T) {
	const body = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t xml:space="preserve">Split </w:t></w:r><w:r><w:t>run</w:t><w:tab/><w:t>tabbed</w:t></w:r></w:p>
    <w:p><w:pPr><w:jc w:val="center"/></w:pPr></w:p>
  </w:body>
</w:document>`

	text, err := DOCXExtractor{}.Extract(context.Background(), writeDOCX(t, body))
	require.NoError(t, err)
	assert.Equal(t, "First paragraph.\nSplit run\ttabbed", text)
}

func TestDOCXExtractor_Invalid(t *testing.T) {
	_, err := DOCXExtractor{}.Extract(context.Background(), writeFile(t, "bad.docx", "not a zip"))
	assert.ErrorIs(t, err, ErrInvalidDOCX)
}

func TestPlainTextExtractor_BOMAndInvalidUTF8(t *testing.T) {
	path := writeFile(t, "bom.txt", "\ufeffhi\xff")
	text, err := PlainTextExtractor{}.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "hi\ufffd", text)
}

func TestContentTypeForExtension(t *testing.T) {
	tests := map[string]string{
		".pdf":  ContentTypePDF,
		"DOCX":  ContentTypeDOCX,
		".txt":  ContentTypeText,
		".md":   ContentTypeMarkdown,
		".png":  "",
		"":      "",
	}
	for ext, want := range tests {
		assert.Equal(t, want, ContentTypeForExtension(ext), ext)
	}
}
