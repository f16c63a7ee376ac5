package extraction

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrInvalidDOCX indicates a file that is not a readable DOCX package.
var ErrInvalidDOCX = errors.New("invalid docx file")

const docxBody = "word/document.xml"

// DOCXExtractor reads paragraph text from word/document.xml.
type DOCXExtractor struct{}

// Extract returns one line per paragraph. Tabs and line breaks inside runs are kept.
func (DOCXExtractor) Extract(_ context.Context, path string) (string, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidDOCX, err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.Name != docxBody {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidDOCX, err)
		}
		defer rc.Close()
		return parseDocumentXML(rc)
	}
	return "", fmt.Errorf("%w: missing %s", ErrInvalidDOCX, docxBody)
}

// parseDocumentXML walks WordprocessingML tokens, collecting w:t text.
func parseDocumentXML(r io.Reader) (string, error) {
	var (
		b      strings.Builder
		inText bool
	)
	decoder := xml.NewDecoder(r)
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidDOCX, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
