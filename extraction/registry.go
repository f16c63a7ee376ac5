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

// Package extraction turns stored document files into plain text.
//
// A Registry maps content types to Extractors. Lookups ignore content type
// parameters, so "text/plain; charset=utf-8" resolves to the text/plain
// extractor. Unknown types fail with core.ErrUnsupportedContentType.
package extraction

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"sync"

	"github.com/poiesic/docindex/core"
)

// Content types handled by the default registry.
const (
	ContentTypePDF      = "application/pdf"
	ContentTypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypeText     = "text/plain"
	ContentTypeMarkdown = "text/markdown"
)

// Extractor reads the text of a single file.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, path string) (string, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// Registry dispatches on a document's content type.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// DefaultRegistry returns a registry with PDF, DOCX, plain text and markdown support.
// PDF extraction shells out through runner; nil uses the pdftotext binary on PATH.
func DefaultRegistry(runner CommandRunner) *Registry {
	r := NewRegistry()
	r.Register(ContentTypePDF, NewPDFExtractor(runner))
	r.Register(ContentTypeDOCX, DOCXExtractor{})
	r.Register(ContentTypeText, PlainTextExtractor{})
	r.Register(ContentTypeMarkdown, PlainTextExtractor{})
	return r
}

// Register binds an extractor to a content type, replacing any previous binding.
func (r *Registry) Register(contentType string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[baseType(contentType)] = e
}

// Supports reports whether contentType has an extractor.
func (r *Registry) Supports(contentType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.extractors[baseType(contentType)]
	return ok
}

// ContentTypes lists the registered content types.
func (r *Registry) ContentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.extractors))
	for t := range r.extractors {
		types = append(types, t)
	}
	return types
}

// ExtractText returns the full text of doc's stored file.
func (r *Registry) ExtractText(ctx context.Context, doc *core.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", core.Cancelled(err)
	}

	r.mu.RLock()
	e, ok := r.extractors[baseType(doc.ContentType)]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", core.ErrUnsupportedContentType, doc.ContentType)
	}

	text, err := e.Extract(ctx, doc.FilePath)
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", doc.OriginalFileName, err)
	}
	return text, nil
}

// baseType lowercases a content type and drops its parameters.
func baseType(contentType string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	base, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// ContentTypeForExtension maps a file extension (with or without the dot) to a
// supported content type. Returns "" when the extension is not recognized.
func ContentTypeForExtension(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "pdf":
		return ContentTypePDF
	case "docx":
		return ContentTypeDOCX
	case "txt", "text", "log", "csv":
		return ContentTypeText
	case "md", "markdown":
		return ContentTypeMarkdown
	}
	return ""
}
