package ingest

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fieldproof/fieldproof/internal/model"
)

// PDFReader recognizes PDF files but does not extract text from them; text
// extraction for PDFs is delegated to an upstream layout producer. A PDF
// with no precomputed layout is indexed as having no text layer, which is
// surfaced to the caller rather than treated as an error.
type PDFReader struct{}

func (p *PDFReader) CanHandle(path string) bool {
	if strings.ToLower(filepath.Ext(path)) == ".pdf" {
		return true
	}
	return sniffPDF(path)
}

func (p *PDFReader) Read(ctx context.Context, path string) ([]model.LayoutPage, error) {
	return nil, nil
}
