// Package heuristics implements the deterministic first-pass extractors.
// Each extractor scans page text for labeled values, quotes the containing
// line as evidence, and records whether a field keyword anchors the match.
// Extractors never invent text: every candidate's quoted_text is a span
// taken from the page it cites.
package heuristics

import (
	"regexp"
	"strings"

	"github.com/fieldproof/fieldproof/internal/model"
	"github.com/fieldproof/fieldproof/internal/normalize"
)

const anchorWindow = 50

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}[-/]\d{1,2}[-/]\d{1,2}\b`),
	regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{4}\b`),
	regexp.MustCompile(`\b[A-Za-z]+\s+\d{1,2},?\s+\d{4}\b`),
	regexp.MustCompile(`\b\d{1,2}\s+[A-Za-z]+\s+\d{4}\b`),
}

var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`),
	regexp.MustCompile(`\b\d{3}[-.\s]\d{3}[-.\s]\d{4}\b`),
	regexp.MustCompile(`\+?1?[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`),
	regexp.MustCompile(`\b1\d{10}\b`),
	regexp.MustCompile(`\b\d{10}\b`),
}

var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:patient\s+)?name\s*:\s*(.+)`),
	regexp.MustCompile(`(?i)full\s+name\s*:\s*(.+)`),
	regexp.MustCompile(`(?i)patient\s*:\s*(.+)`),
}

var addressPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)address\s*:\s*(.+)`),
	regexp.MustCompile(`(?i)street\s*:\s*(.+)`),
	regexp.MustCompile(`(?i)mailing\s+address\s*:\s*(.+)`),
	regexp.MustCompile(`(?i)home\s+address\s*:\s*(.+)`),
}

var (
	dobAnchors   = []string{"dob", "date of birth", "birthdate", "birth date", "born"}
	phoneAnchors = []string{"phone", "mobile", "telephone", "tel", "cell", "contact"}

	insuranceKeywords = []string{"member", "policy", "id", "insurance", "subscriber", "group"}
	insuranceStop     = map[string]bool{
		"member": true, "policy": true, "insurance": true, "group": true, "subscriber": true,
	}
	insuranceIDRE = regexp.MustCompile(`\b[A-Za-z0-9]{4,20}\b`)

	allergyKeywords    = []string{"allergies", "allergy", "allergic to", "known allergies"}
	medicationKeywords = []string{"medications", "meds", "current medications", "prescriptions", "rx"}

	trailingPunctRE = regexp.MustCompile(`[,;:\.\|]+$`)
)

// Extract runs the extractor for the field's key over every page of the
// given documents. Candidates are deduplicated by normalized value within a
// single document; the same value found again in another document yields its
// own candidate with its own evidence.
func Extract(field model.FieldSpec, docs []model.LayoutDoc) []model.Candidate {
	switch field.Key {
	case model.KeyFullName:
		return extractByLabel(field, docs, namePatterns, validName, cleanName)
	case model.KeyDOB:
		return extractDOB(field, docs)
	case model.KeyPhone:
		return extractPhone(field, docs)
	case model.KeyAddress:
		return extractByLabel(field, docs, addressPatterns, func(v string) bool { return len(v) >= 5 }, nil)
	case model.KeyInsuranceMemberID:
		return extractInsuranceID(field, docs)
	case model.KeyAllergies:
		return extractKeywordList(field, docs, allergyKeywords)
	case model.KeyMedications:
		return extractKeywordList(field, docs, medicationKeywords)
	}
	return nil
}

// lineAround returns the trimmed line of text containing offset pos.
func lineAround(text string, pos int) string {
	start := strings.LastIndex(text[:pos], "\n")
	start++ // -1 becomes 0
	end := strings.Index(text[pos:], "\n")
	if end < 0 {
		end = len(text)
	} else {
		end += pos
	}
	return strings.TrimSpace(text[start:end])
}

// anchored reports whether any keyword appears in the lowercased window of
// text immediately before pos.
func anchored(text string, pos int, keywords []string) bool {
	start := pos - anchorWindow
	if start < 0 {
		start = 0
	}
	window := strings.ToLower(text[start:pos])
	for _, kw := range keywords {
		if strings.Contains(window, kw) {
			return true
		}
	}
	return false
}

func anchorScore(ok bool) model.CandidateScores {
	s := model.CandidateScores{}
	if ok {
		s.AnchorMatch = 1.0
	}
	return s
}

func appendCandidate(out []model.Candidate, field model.FieldKey, raw, norm string, ev model.Evidence, validators []string, scores model.CandidateScores) []model.Candidate {
	c, err := model.NewCandidate(field, raw, norm, []model.Evidence{ev}, model.MethodHeuristic, validators, scores)
	if err != nil {
		return out
	}
	return append(out, c)
}

func extractDOB(field model.FieldSpec, docs []model.LayoutDoc) []model.Candidate {
	var out []model.Candidate
	for _, doc := range docs {
		seen := map[string]bool{}
		for _, page := range doc.Pages {
			for _, re := range datePatterns {
				for _, loc := range re.FindAllStringIndex(page.FullText, -1) {
					raw := page.FullText[loc[0]:loc[1]]
					norm, ok := normalize.Date(raw)
					if !ok || seen[norm] {
						continue
					}
					line := lineAround(page.FullText, loc[0])
					if line == "" {
						continue
					}
					seen[norm] = true
					ev := model.Evidence{DocID: doc.DocID, Page: page.Page, QuotedText: line}
					out = appendCandidate(out, field.Key, raw, norm, ev, nil,
						anchorScore(anchored(page.FullText, loc[0], dobAnchors)))
				}
			}
		}
	}
	return out
}

func extractPhone(field model.FieldSpec, docs []model.LayoutDoc) []model.Candidate {
	var out []model.Candidate
	for _, doc := range docs {
		seen := map[string]bool{}
		for _, page := range doc.Pages {
			for _, re := range phonePatterns {
				for _, loc := range re.FindAllStringIndex(page.FullText, -1) {
					raw := page.FullText[loc[0]:loc[1]]
					norm, assumed := normalize.Phone(raw)
					if len(norm) < 10 || seen[norm] {
						continue
					}
					line := lineAround(page.FullText, loc[0])
					if line == "" {
						continue
					}
					seen[norm] = true
					var validators []string
					if assumed {
						validators = []string{"default_country_assumed"}
					}
					ev := model.Evidence{DocID: doc.DocID, Page: page.Page, QuotedText: line}
					out = appendCandidate(out, field.Key, raw, norm, ev, validators,
						anchorScore(anchored(page.FullText, loc[0], phoneAnchors)))
				}
			}
		}
	}
	return out
}

func validName(v string) bool {
	if len(v) < 2 || len(v) > 100 {
		return false
	}
	digits := 0
	for _, r := range v {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits*2 <= len(v)
}

func cleanName(v string) string {
	return strings.TrimSpace(trailingPunctRE.ReplaceAllString(v, ""))
}

// extractByLabel handles fields whose values follow an explicit label on the
// same line, like "Name: Jane Doe". Every pattern is tried against every
// line, so one line can yield several candidates. clean may be nil.
func extractByLabel(field model.FieldSpec, docs []model.LayoutDoc, patterns []*regexp.Regexp, valid func(string) bool, clean func(string) string) []model.Candidate {
	var out []model.Candidate
	for _, doc := range docs {
		seen := map[string]bool{}
		for _, page := range doc.Pages {
			for _, line := range strings.Split(page.FullText, "\n") {
				trimmed := strings.TrimSpace(line)
				if trimmed == "" {
					continue
				}
				for _, re := range patterns {
					m := re.FindStringSubmatch(trimmed)
					if m == nil {
						continue
					}
					raw := strings.TrimSpace(m[1])
					if clean != nil {
						raw = clean(raw)
					}
					if !valid(raw) {
						continue
					}
					norm := normalize.Text(raw)
					if norm == "" || seen[norm] {
						continue
					}
					seen[norm] = true
					ev := model.Evidence{DocID: doc.DocID, Page: page.Page, QuotedText: trimmed}
					out = appendCandidate(out, field.Key, raw, norm, ev, nil, anchorScore(true))
				}
			}
		}
	}
	return out
}

func extractInsuranceID(field model.FieldSpec, docs []model.LayoutDoc) []model.Candidate {
	var out []model.Candidate
	for _, doc := range docs {
		seen := map[string]bool{}
		for _, page := range doc.Pages {
			for _, line := range strings.Split(page.FullText, "\n") {
				trimmed := strings.TrimSpace(line)
				if trimmed == "" {
					continue
				}
				lower := strings.ToLower(trimmed)
				hasKeyword := false
				for _, kw := range insuranceKeywords {
					if strings.Contains(lower, kw) {
						hasKeyword = true
						break
					}
				}
				if !hasKeyword {
					continue
				}
				for _, raw := range insuranceIDRE.FindAllString(trimmed, -1) {
					if insuranceStop[strings.ToLower(raw)] {
						continue
					}
					if _, isDate := normalize.Date(raw); isDate {
						continue
					}
					norm := normalize.Text(raw)
					if norm == "" || seen[norm] {
						continue
					}
					seen[norm] = true
					ev := model.Evidence{DocID: doc.DocID, Page: page.Page, QuotedText: trimmed}
					out = appendCandidate(out, field.Key, raw, norm, ev, nil, anchorScore(true))
				}
			}
		}
	}
	return out
}

func extractKeywordList(field model.FieldSpec, docs []model.LayoutDoc, keywords []string) []model.Candidate {
	re := regexp.MustCompile(`(?i)\b(` + strings.Join(keywords, "|") + `)\s*:\s*(.+)`)
	var out []model.Candidate
	for _, doc := range docs {
		seen := map[string]bool{}
		for _, page := range doc.Pages {
			for _, line := range strings.Split(page.FullText, "\n") {
				trimmed := strings.TrimSpace(line)
				if trimmed == "" {
					continue
				}
				m := re.FindStringSubmatch(trimmed)
				if m == nil {
					continue
				}
				raw := strings.TrimSpace(m[2])
				if len(raw) < 2 {
					continue
				}
				norm := normalize.Text(raw)
				if norm == "" || seen[norm] {
					continue
				}
				seen[norm] = true
				ev := model.Evidence{DocID: doc.DocID, Page: page.Page, QuotedText: trimmed}
				out = appendCandidate(out, field.Key, raw, norm, ev, nil, anchorScore(true))
			}
		}
	}
	return out
}
