package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldproof/fieldproof/internal/model"
)

// MarkdownReader handles .md and .markdown files. Markdown is treated as
// text with light cleanup: the extraction core matches quoted spans against
// page text, so formatting markers are kept except for heading hashes,
// which never carry field values and pollute line-anchored evidence.
type MarkdownReader struct{}

func (m *MarkdownReader) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}

func (m *MarkdownReader) Read(ctx context.Context, path string) ([]model.LayoutPage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		lines = append(lines, strings.TrimLeft(line, "# "))
	}
	return splitPages(strings.Join(lines, "\n")), nil
}
