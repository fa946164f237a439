// Package ingest turns a run's input documents into the doc_index.json and
// layout.json artifacts.
//
// Each supported format has its own reader implementing the Reader
// interface. The engine detects formats by file extension with a content
// sniff fallback, assigns stable doc ids in filename order, and records a
// SHA-256 per file. Unreadable documents stay in the index with a reason so
// downstream stages can report them instead of silently dropping them.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fieldproof/fieldproof/internal/model"
	"github.com/fieldproof/fieldproof/internal/runfs"
)

// Reader extracts page text for a specific document format.
type Reader interface {
	// CanHandle reports whether this reader supports the given file.
	CanHandle(path string) bool

	// Read parses the file into 1-indexed pages.
	Read(ctx context.Context, path string) ([]model.LayoutPage, error)
}

// Result pairs the two ingest artifacts.
type Result struct {
	Index  []model.DocIndexItem
	Layout []model.LayoutDoc
}

// Engine runs ingest over a directory of documents.
type Engine struct {
	readers []Reader
}

// NewEngine returns an engine with the standard readers registered.
func NewEngine() *Engine {
	return &Engine{
		readers: []Reader{
			&MarkdownReader{},
			&PDFReader{},
			&PlainTextReader{},
		},
	}
}

// Ingest processes every regular file in dir, in lexical filename order so
// doc ids are stable across runs. A file no reader can parse is indexed as
// unreadable rather than failing the run.
func (e *Engine) Ingest(ctx context.Context, dir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading input dir %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	res := &Result{Index: []model.DocIndexItem{}, Layout: []model.LayoutDoc{}}
	for i, name := range names {
		path := filepath.Join(dir, name)
		docID := fmt.Sprintf("doc_%03d", i+1)

		sum, err := runfs.SHA256File(path)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", name, err)
		}

		item := model.DocIndexItem{
			DocID:    docID,
			Filename: name,
			MimeType: detectMime(path),
			SHA256:   sum,
		}

		pages, readErr := e.read(ctx, path)
		switch {
		case readErr != nil:
			item.HasTextLayer = false
			item.UnreadableReason = model.ReasonParseError
		case pages == nil:
			item.HasTextLayer = false
			item.UnreadableReason = model.ReasonNoTextLayer
		default:
			item.HasTextLayer = true
			item.Pages = len(pages)
			res.Layout = append(res.Layout, model.LayoutDoc{DocID: docID, Pages: pages})
		}
		res.Index = append(res.Index, item)
	}
	return res, nil
}

// read dispatches to the first reader that claims the file. A nil page
// slice with nil error means the format is recognized but carries no text.
func (e *Engine) read(ctx context.Context, path string) ([]model.LayoutPage, error) {
	for _, r := range e.readers {
		if r.CanHandle(path) {
			return r.Read(ctx, path)
		}
	}
	// PlainTextReader accepts everything, so this is unreachable with the
	// standard reader set.
	return nil, fmt.Errorf("no reader for %s", path)
}

// detectMime maps the extension, with a magic-byte sniff for PDFs saved
// under the wrong extension.
func detectMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt", ".text", ".log", "":
		if sniffPDF(path) {
			return "application/pdf"
		}
		return "text/plain"
	default:
		if sniffPDF(path) {
			return "application/pdf"
		}
		return "application/octet-stream"
	}
}

func sniffPDF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, 5)
	n, _ := f.Read(buf)
	return strings.HasPrefix(string(buf[:n]), "%PDF")
}

// splitPages breaks text on form feeds into 1-indexed pages. Text with no
// form feed is a single page. Page-relative offsets are preserved so quoted
// spans match the page text exactly.
func splitPages(content string) []model.LayoutPage {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	parts := strings.Split(content, "\f")
	pages := make([]model.LayoutPage, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, model.LayoutPage{
			Page:     i + 1,
			FullText: part,
			Spans:    []model.LayoutSpan{},
		})
	}
	return pages
}
