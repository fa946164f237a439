package llm

import (
	"fmt"
	"strings"

	"github.com/fieldproof/fieldproof/internal/excerpt"
	"github.com/fieldproof/fieldproof/internal/model"
)

const systemPrompt = "You extract form field values from document excerpts. " +
	"You only report values that appear verbatim in the provided text, with exact quoted evidence. " +
	"You respond with a JSON array and nothing else."

func typeHint(t model.FieldType) string {
	switch t {
	case model.TypeDate:
		return "The value is a date. Report raw_value exactly as written and normalized_value as YYYY-MM-DD."
	case model.TypePhone:
		return "The value is a phone number. Report raw_value exactly as written and normalized_value as digits only."
	case model.TypeStringOrList:
		return "The value may be a single item or a list. For lists, join items with commas in normalized_value."
	default:
		return "The value is free text. Report raw_value exactly as written."
	}
}

// buildPrompt renders the excerpts and the response contract for one field.
func buildPrompt(field model.FieldSpec, excerpts []excerpt.DocExcerpt) string {
	var sb strings.Builder
	label := field.Label
	if label == "" {
		label = string(field.Key)
	}
	fmt.Fprintf(&sb, "Extract the field %q (%s) from the document excerpts below.\n", field.Key, label)
	sb.WriteString(typeHint(field.Type))
	sb.WriteString("\n\nExcerpts:\n\n")
	for _, ex := range excerpts {
		fmt.Fprintf(&sb, "[Document: %s, Page: %d]\n%s\n\n", ex.DocID, ex.Page, ex.Text)
	}
	sb.WriteString(`Respond with a JSON array only. Each element must be an object:
{
  "raw_value": "<exact text as it appears>",
  "normalized_value": "<normalized form, optional>",
  "evidence": [{"doc_id": "<id>", "page": <number>, "quoted_text": "<exact span containing the value>"}]
}
Every evidence quote must be copied verbatim from an excerpt above. If the field does not appear, respond with [].`)
	return sb.String()
}

// buildRetryPrompt is the second and final attempt after an unparseable
// response. It repeats the contract and names the failure.
func buildRetryPrompt(field model.FieldSpec, excerpts []excerpt.DocExcerpt, firstErr error) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Your previous response could not be used: %s.\n", firstErr)
	sb.WriteString("Respond again with ONLY a valid JSON array matching the contract. No prose, no code fences.\n\n")
	sb.WriteString(buildPrompt(field, excerpts))
	return sb.String()
}
