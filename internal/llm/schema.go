package llm

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// responseSchema validates only the top-level shape of a generator response.
// It must be a JSON array; items are checked individually in code so a
// single malformed item drops only that item, not the whole response.
var responseSchema = jsonschema.MustCompileString("response.json", `{
	"type": "array"
}`)

// stripFences removes a Markdown code fence wrapper if present. Models
// sometimes wrap JSON in fences despite the contract.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	} else {
		return s
	}
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
