package extraction

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrPDFToolNotFound indicates pdftotext is not installed.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH (install poppler-utils)")

// CommandRunner executes an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrPDFToolNotFound
	}
	out, err := exec.CommandContext(ctx, name, args...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return nil, fmt.Errorf("%w: %s", err, exitErr.Stderr)
	}
	return out, err
}

// PDFExtractor extracts text with poppler's pdftotext.
type PDFExtractor struct {
	runner CommandRunner
}

// NewPDFExtractor creates a PDF extractor; nil runner uses ExecRunner.
func NewPDFExtractor(runner CommandRunner) *PDFExtractor {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &PDFExtractor{runner: runner}
}

// Extract writes the layout-preserving text of path to stdout and returns it.
func (e *PDFExtractor) Extract(ctx context.Context, path string) (string, error) {
	out, err := e.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}
