// Package route scores documents against field keywords and produces the
// routing.json artifact: for each field, the top-k readable documents most
// likely to contain its value. Scoring is plain token overlap, which keeps
// routing fully deterministic and explainable.
package route

import (
	"sort"
	"strings"

	"github.com/fieldproof/fieldproof/internal/model"
)

// docTextCap bounds how much of a document participates in scoring.
const docTextCap = 20000

// Result carries the routing entries plus whether any document was usable.
type Result struct {
	Entries     []model.RoutingEntry
	NoReadables bool
}

// Route builds routing entries for every field, sorted by field key. Only
// readable documents participate. Ties break on doc id so output is stable.
func Route(fields []model.FieldSpec, index []model.DocIndexItem, layout []model.LayoutDoc, topK int) Result {
	if topK <= 0 {
		topK = 3
	}

	readable := map[string]bool{}
	for _, item := range index {
		if item.Readable() {
			readable[item.DocID] = true
		}
	}

	docTokens := map[string]map[string]bool{}
	var docIDs []string
	for _, doc := range layout {
		if !readable[doc.DocID] {
			continue
		}
		docTokens[doc.DocID] = tokenize(docText(doc))
		docIDs = append(docIDs, doc.DocID)
	}
	sort.Strings(docIDs)

	sorted := make([]model.FieldSpec, len(fields))
	copy(sorted, fields)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	res := Result{Entries: []model.RoutingEntry{}, NoReadables: len(docIDs) == 0}
	for _, field := range sorted {
		query := tokenize(strings.Join(field.Keywords(), " "))

		type scored struct {
			id    string
			score float64
		}
		var ranked []scored
		scores := map[string]float64{}
		for _, id := range docIDs {
			s := overlap(query, docTokens[id])
			ranked = append(ranked, scored{id: id, score: s})
			scores[id] = s
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].score != ranked[j].score {
				return ranked[i].score > ranked[j].score
			}
			return ranked[i].id < ranked[j].id
		})
		if len(ranked) > topK {
			ranked = ranked[:topK]
		}

		entry := model.RoutingEntry{Field: field.Key, DocIDs: []string{}, Scores: map[string]float64{}}
		for _, r := range ranked {
			entry.DocIDs = append(entry.DocIDs, r.id)
			entry.Scores[r.id] = scores[r.id]
		}
		res.Entries = append(res.Entries, entry)
	}
	return res
}

// docText concatenates pages in page order, capped.
func docText(doc model.LayoutDoc) string {
	pages := make([]model.LayoutPage, len(doc.Pages))
	copy(pages, doc.Pages)
	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })

	var sb strings.Builder
	for _, p := range pages {
		if sb.Len() >= docTextCap {
			break
		}
		sb.WriteString(p.FullText)
		sb.WriteString("\n")
	}
	text := sb.String()
	if len(text) > docTextCap {
		text = text[:docTextCap]
	}
	return text
}

// tokenize lowercases, maps non-alphanumerics to spaces, and keeps tokens
// of length >= 2 as a set.
func tokenize(s string) map[string]bool {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune(' ')
		}
	}
	tokens := map[string]bool{}
	for _, tok := range strings.Fields(sb.String()) {
		if len(tok) >= 2 {
			tokens[tok] = true
		}
	}
	return tokens
}

// overlap is |query ∩ doc| / max(1, |query|).
func overlap(query, doc map[string]bool) float64 {
	hits := 0
	for tok := range query {
		if doc[tok] {
			hits++
		}
	}
	denom := len(query)
	if denom < 1 {
		denom = 1
	}
	return float64(hits) / float64(denom)
}
