// Package verify implements the post-hoc evidence check. A candidate's
// normalized value must be derivable from its own quoted evidence text; a
// candidate that fails is rejected, never silently dropped. The same rules
// apply to every candidate regardless of which method produced it.
package verify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fieldproof/fieldproof/internal/model"
	"github.com/fieldproof/fieldproof/internal/normalize"
)

// ReasonUnsupported is appended to candidates whose value cannot be found
// in their quoted evidence.
const ReasonUnsupported = "unsupported_by_evidence"

var (
	isoDateRE = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
	listSepRE = regexp.MustCompile(`[,;]`)
)

// Supported reports whether the candidate's normalized value is present in
// its quoted evidence, per the rules for the field type. A candidate with no
// evidence, or with structurally invalid evidence, is never supported.
func Supported(c model.Candidate, typ model.FieldType) bool {
	if len(c.Evidence) == 0 {
		return false
	}
	for _, ev := range c.Evidence {
		if strings.TrimSpace(ev.DocID) == "" || ev.Page < 1 || strings.TrimSpace(ev.QuotedText) == "" {
			return false
		}
	}
	switch typ {
	case model.TypeDate:
		return dateSupported(c.NormalizedValue, c.Evidence)
	case model.TypePhone:
		return phoneSupported(c.NormalizedValue, c.Evidence)
	case model.TypeStringOrList:
		return stringOrListSupported(c.NormalizedValue, c.Evidence)
	default:
		return stringSupported(c.NormalizedValue, c.Evidence)
	}
}

// Apply verifies each candidate and appends ReasonUnsupported to failures.
// All candidates are returned; callers split on IsAccepted.
func Apply(cands []model.Candidate, typ model.FieldType) []model.Candidate {
	out := make([]model.Candidate, len(cands))
	for i, c := range cands {
		if !Supported(c, typ) {
			c.Reject(ReasonUnsupported)
		}
		out[i] = c
	}
	return out
}

// dateSupported accepts numeric renderings of the date in Y-M-D or M-D-Y
// order, padded or not, with - or / independently at each position, or a
// textual rendering that mentions the year, the day and the month name.
func dateSupported(value string, evidence []model.Evidence) bool {
	m := isoDateRE.FindStringSubmatch(value)
	if m == nil {
		return false
	}
	year := m[1]
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])

	numeric := []*regexp.Regexp{
		regexp.MustCompile(fmt.Sprintf(`%s[-/]%02d[-/]%02d`, year, month, day)),
		regexp.MustCompile(fmt.Sprintf(`%s[-/]%d[-/]%d`, year, month, day)),
		regexp.MustCompile(fmt.Sprintf(`%02d[-/]%02d[-/]%s`, month, day, year)),
		regexp.MustCompile(fmt.Sprintf(`%d[-/]%d[-/]%s`, month, day, year)),
	}
	names := normalize.MonthNames(month)
	dayStr := strconv.Itoa(day)

	for _, ev := range evidence {
		text := strings.ToLower(ev.QuotedText)
		for _, re := range numeric {
			if re.MatchString(text) {
				return true
			}
		}
		if strings.Contains(text, year) && strings.Contains(text, dayStr) {
			for _, name := range names {
				if strings.Contains(text, name) {
					return true
				}
			}
		}
	}
	return false
}

func phoneSupported(value string, evidence []model.Evidence) bool {
	valueDigits := normalize.Digits(value)
	if len(valueDigits) < 10 {
		return false
	}
	for _, ev := range evidence {
		evDigits := normalize.Digits(ev.QuotedText)
		if strings.Contains(evDigits, valueDigits) {
			return true
		}
		// A normalized value may carry an assumed country code the source
		// never wrote; match on the national number too.
		if strings.HasPrefix(valueDigits, "1") && strings.Contains(evDigits, valueDigits[1:]) {
			return true
		}
	}
	return false
}

func stringSupported(value string, evidence []model.Evidence) bool {
	norm := normalize.Text(value)
	if norm == "" {
		return false
	}
	for _, ev := range evidence {
		if strings.Contains(normalize.Text(ev.QuotedText), norm) {
			return true
		}
	}
	return false
}

// stringOrListSupported requires every list item to appear in the combined
// evidence text. A single-valued field falls back to the string rule.
func stringOrListSupported(value string, evidence []model.Evidence) bool {
	if !strings.ContainsAny(value, ",;") {
		return stringSupported(value, evidence)
	}
	var items []string
	for _, part := range listSepRE.Split(value, -1) {
		if p := strings.TrimSpace(part); p != "" {
			items = append(items, p)
		}
	}
	if len(items) == 0 {
		return false
	}
	var parts []string
	for _, ev := range evidence {
		parts = append(parts, ev.QuotedText)
	}
	combined := normalize.Text(strings.Join(parts, " "))
	for _, item := range items {
		if !strings.Contains(combined, normalize.Text(item)) {
			return false
		}
	}
	return true
}
