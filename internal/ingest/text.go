package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldproof/fieldproof/internal/model"
)

// PlainTextReader handles .txt, .log, and any unrecognized format that is
// not binary. Form feeds mark page breaks.
type PlainTextReader struct{}

// CanHandle returns true for everything; PlainTextReader is the fallback
// and must be registered last.
func (t *PlainTextReader) CanHandle(path string) bool {
	return true
}

// Read parses a plain text file into pages. Binary content yields no pages.
func (t *PlainTextReader) Read(ctx context.Context, path string) ([]model.LayoutPage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	content := string(data)
	if looksBinary(data) {
		return nil, nil
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	return splitPages(content), nil
}

// looksBinary checks the first kilobyte for NUL bytes.
func looksBinary(data []byte) bool {
	n := len(data)
	if n > 1024 {
		n = 1024
	}
	for _, b := range data[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}
