package extraction

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// PlainTextExtractor returns a file's bytes as text.
type PlainTextExtractor struct{}

// Extract reads path, replacing invalid UTF-8 and stripping a leading BOM.
func (PlainTextExtractor) Extract(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\ufffd")
	}
	return strings.TrimPrefix(text, "\ufeff"), nil
}
