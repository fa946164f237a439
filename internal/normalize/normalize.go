// Package normalize converts raw text fragments into the canonical forms
// used for candidate values and evidence comparison. All functions are pure,
// total and deterministic.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	whitespaceRE = regexp.MustCompile(`\s+`)
	punctRE      = regexp.MustCompile(`[^\w\s\-]`)
	nonDigitRE   = regexp.MustCompile(`\D`)

	ymdRE      = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})`)
	mdyRE      = regexp.MustCompile(`^(\d{1,2})[-/](\d{1,2})[-/](\d{4})`)
	monthDayRE = regexp.MustCompile(`(?i)^([a-zA-Z]+)\s*(\d{1,2}),?\s*(\d{4})`)
	dayMonthRE = regexp.MustCompile(`(?i)^(\d{1,2})\s+([a-zA-Z]+)\s+(\d{4})`)
)

// monthNumbers maps full and 3-letter month names to month numbers.
var monthNumbers = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4,
	"may": 5, "june": 6, "july": 7, "august": 8,
	"september": 9, "october": 10, "november": 11, "december": 12,
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// MonthNames returns the recognized names for a month number (1-12),
// shortest first. Used by evidence verification.
func MonthNames(month int) []string {
	switch month {
	case 1:
		return []string{"jan", "january"}
	case 2:
		return []string{"feb", "february"}
	case 3:
		return []string{"mar", "march"}
	case 4:
		return []string{"apr", "april"}
	case 5:
		return []string{"may"}
	case 6:
		return []string{"jun", "june"}
	case 7:
		return []string{"jul", "july"}
	case 8:
		return []string{"aug", "august"}
	case 9:
		return []string{"sep", "september"}
	case 10:
		return []string{"oct", "october"}
	case 11:
		return []string{"nov", "november"}
	case 12:
		return []string{"dec", "december"}
	}
	return nil
}

// Text normalizes text for comparison: lowercase, collapse whitespace runs
// to single spaces, strip punctuation except hyphens, trim. Idempotent.
func Text(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRE.ReplaceAllString(s, " ")
	s = punctRE.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Date normalizes a date string to zero-padded YYYY-MM-DD. Patterns are
// tried in a fixed order and the first match wins:
// YYYY[-/]MM[-/]DD, MM[-/]DD[-/]YYYY, "Month DD, YYYY", "DD Month YYYY".
// Returns ok=false when no pattern matches; callers treat that as "not a
// date", not an error.
func Date(raw string) (string, bool) {
	if m := ymdRE.FindStringSubmatch(raw); m != nil {
		year := m[1]
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return fmt.Sprintf("%s-%02d-%02d", year, month, day), true
	}
	if m := mdyRE.FindStringSubmatch(raw); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%s-%02d-%02d", m[3], month, day), true
	}
	if m := monthDayRE.FindStringSubmatch(raw); m != nil {
		if month, ok := monthNumbers[strings.ToLower(m[1])]; ok {
			day, _ := strconv.Atoi(m[2])
			return fmt.Sprintf("%s-%02d-%02d", m[3], month, day), true
		}
	}
	if m := dayMonthRE.FindStringSubmatch(raw); m != nil {
		if month, ok := monthNumbers[strings.ToLower(m[2])]; ok {
			day, _ := strconv.Atoi(m[1])
			return fmt.Sprintf("%s-%02d-%02d", m[3], month, day), true
		}
	}
	return "", false
}

// Phone normalizes a phone number to digits only. A bare 10-digit number is
// assumed to be US and gains a leading "1" (defaultCountryAssumed=true).
// An 11-digit number starting with "1" passes through. Any other digit count
// passes through unchanged; validity is the caller's concern.
func Phone(raw string) (digits string, defaultCountryAssumed bool) {
	digits = nonDigitRE.ReplaceAllString(raw, "")
	if len(digits) == 10 {
		return "1" + digits, true
	}
	return digits, false
}

// Digits strips all non-digit characters. Used for evidence-phone
// comparison only, not for candidate normalization.
func Digits(s string) string {
	return nonDigitRE.ReplaceAllString(s, "")
}

// ValueForField applies the type-appropriate normalization to a raw value.
// Dates that fail to parse fall back to plain text normalization.
func ValueForField(typ string, raw string) string {
	switch typ {
	case "date":
		if d, ok := Date(raw); ok {
			return d
		}
		return Text(raw)
	case "phone":
		d, _ := Phone(raw)
		return d
	default:
		return Text(raw)
	}
}
