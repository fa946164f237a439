// Package excerpt builds the bounded document slices handed to the
// generator. Selection is deterministic: documents in routing order, pages
// ascending, fixed character budgets.
package excerpt

import (
	"sort"
	"strings"

	"github.com/fieldproof/fieldproof/internal/model"
)

// Budget caps for a single field's excerpt set.
const (
	DefaultTotalChars  = 8000
	DefaultPerDocChars = 4000
	DefaultMaxPages    = 3
)

// Limits bounds excerpt construction. Zero values mean the defaults.
type Limits struct {
	TotalChars  int
	PerDocChars int
	MaxPages    int
}

func (l Limits) withDefaults() Limits {
	if l.TotalChars <= 0 {
		l.TotalChars = DefaultTotalChars
	}
	if l.PerDocChars <= 0 {
		l.PerDocChars = DefaultPerDocChars
	}
	if l.MaxPages <= 0 {
		l.MaxPages = DefaultMaxPages
	}
	return l
}

// DocExcerpt is one page slice offered to the generator.
type DocExcerpt struct {
	DocID string `json:"doc_id"`
	Page  int    `json:"page"`
	Text  string `json:"text"`
}

// Build selects up to MaxPages pages per document, preferring pages that
// mention one of the field's keywords and falling back to the first page.
// Page text is truncated to the remaining per-document and total budgets;
// construction stops once the total budget is spent.
func Build(field model.FieldSpec, docs []model.LayoutDoc, limits Limits) []DocExcerpt {
	limits = limits.withDefaults()
	keywords := field.Keywords()

	var out []DocExcerpt
	totalLeft := limits.TotalChars
	for _, doc := range docs {
		if totalLeft <= 0 {
			break
		}
		pages := selectPages(doc.Pages, keywords, limits.MaxPages)
		docLeft := limits.PerDocChars
		for _, page := range pages {
			if totalLeft <= 0 || docLeft <= 0 {
				break
			}
			take := len(page.FullText)
			if take > docLeft {
				take = docLeft
			}
			if take > totalLeft {
				take = totalLeft
			}
			text := page.FullText[:take]
			if text == "" {
				continue
			}
			out = append(out, DocExcerpt{DocID: doc.DocID, Page: page.Page, Text: text})
			docLeft -= take
			totalLeft -= take
		}
	}
	return out
}

// selectPages returns up to max pages mentioning a keyword, sorted by page
// number, or the lowest-numbered page when no page matches.
func selectPages(pages []model.LayoutPage, keywords []string, max int) []model.LayoutPage {
	if len(pages) == 0 {
		return nil
	}
	sorted := make([]model.LayoutPage, len(pages))
	copy(sorted, pages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Page < sorted[j].Page })

	var matched []model.LayoutPage
	for _, p := range sorted {
		lower := strings.ToLower(p.FullText)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				matched = append(matched, p)
				break
			}
		}
	}
	if len(matched) == 0 {
		matched = sorted[:1]
	}
	if len(matched) > max {
		matched = matched[:max]
	}
	return matched
}
