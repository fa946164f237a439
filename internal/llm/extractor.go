package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fieldproof/fieldproof/internal/excerpt"
	"github.com/fieldproof/fieldproof/internal/model"
	"github.com/fieldproof/fieldproof/internal/normalize"
)

// InvalidOutputError reports that the generator produced unusable output for
// a field on both the initial attempt and the single retry. The field's
// extraction fails; other fields are unaffected.
type InvalidOutputError struct {
	Field   model.FieldKey
	Message string
}

func (e *InvalidOutputError) Error() string {
	return fmt.Sprintf("invalid generator output for field %q: %s", e.Field, e.Message)
}

// Extractor produces candidates for a field from document excerpts.
type Extractor interface {
	Extract(ctx context.Context, field model.FieldSpec, excerpts []excerpt.DocExcerpt, opts model.RunOptions) ([]model.Candidate, error)
}

// ProviderExtractor implements Extractor over a completion Provider with an
// initial-attempt-then-single-retry protocol. Temperature is pinned to zero.
type ProviderExtractor struct {
	provider Provider
}

func NewExtractor(p Provider) *ProviderExtractor {
	return &ProviderExtractor{provider: p}
}

// parseResult is the tagged outcome of one parse attempt. Exactly one of
// candidates or err is meaningful.
type parseResult struct {
	candidates []model.Candidate
	err        error
}

// Extract runs the two-attempt protocol. Empty excerpts short-circuit to an
// empty candidate list without calling the provider. Transport errors are
// returned as-is; two unusable responses in a row return *InvalidOutputError.
func (x *ProviderExtractor) Extract(ctx context.Context, field model.FieldSpec, excerpts []excerpt.DocExcerpt, opts model.RunOptions) ([]model.Candidate, error) {
	if len(excerpts) == 0 {
		return []model.Candidate{}, nil
	}

	copts := CompletionOpts{
		MaxTokens:   opts.MaxLLMTokens,
		Temperature: 0,
		Model:       opts.LLMModel,
		System:      systemPrompt,
	}

	raw, err := x.provider.Complete(ctx, buildPrompt(field, excerpts), copts)
	if err != nil {
		return nil, fmt.Errorf("completing field %q: %w", field.Key, err)
	}
	first := parseResponse(field, raw)
	if first.err == nil {
		return first.candidates, nil
	}

	raw, err = x.provider.Complete(ctx, buildRetryPrompt(field, excerpts, first.err), copts)
	if err != nil {
		return nil, fmt.Errorf("completing field %q (retry): %w", field.Key, err)
	}
	second := parseResponse(field, raw)
	if second.err == nil {
		return second.candidates, nil
	}
	return nil, &InvalidOutputError{Field: field.Key, Message: second.err.Error()}
}

type responseEvidence struct {
	DocID      string      `json:"doc_id"`
	Page       json.Number `json:"page"`
	QuotedText string      `json:"quoted_text"`
}

type responseItem struct {
	RawValue        string             `json:"raw_value"`
	NormalizedValue string             `json:"normalized_value"`
	Evidence        []responseEvidence `json:"evidence"`
}

// parseResponse turns raw generator output into candidates. Only two faults
// fail the attempt: text that is not valid JSON, and a top level that is not
// an array. Malformed items within a well-formed array are dropped silently.
func parseResponse(field model.FieldSpec, raw string) parseResult {
	text := stripFences(raw)

	var decoded interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return parseResult{err: fmt.Errorf("response is not valid JSON: %v", err)}
	}
	if err := responseSchema.Validate(decoded); err != nil {
		return parseResult{err: fmt.Errorf("response must be a JSON array: %v", err)}
	}

	var rawItems []json.RawMessage
	if err := json.Unmarshal([]byte(text), &rawItems); err != nil {
		return parseResult{err: fmt.Errorf("decoding response items: %v", err)}
	}

	candidates := []model.Candidate{}
	for _, rawItem := range rawItems {
		var item responseItem
		if err := json.Unmarshal(rawItem, &item); err != nil {
			continue
		}
		c, ok := candidateFromItem(field, item)
		if !ok {
			continue
		}
		candidates = append(candidates, c)
	}
	return parseResult{candidates: candidates}
}

func candidateFromItem(field model.FieldSpec, item responseItem) (model.Candidate, bool) {
	if strings.TrimSpace(item.RawValue) == "" || len(item.Evidence) == 0 {
		return model.Candidate{}, false
	}
	// A malformed evidence entry is skipped; the candidate survives as long
	// as at least one well-formed entry remains.
	evidence := make([]model.Evidence, 0, len(item.Evidence))
	for _, ev := range item.Evidence {
		page, err := ev.Page.Int64()
		if err != nil || page < 1 {
			continue
		}
		e, err := model.NewEvidence(ev.DocID, int(page), ev.QuotedText)
		if err != nil {
			continue
		}
		evidence = append(evidence, e)
	}
	if len(evidence) == 0 {
		return model.Candidate{}, false
	}

	normalized := item.NormalizedValue
	var validators []string
	switch field.Type {
	case model.TypePhone:
		digits, assumed := normalize.Phone(item.RawValue)
		if normalized == "" {
			normalized = digits
		}
		if assumed {
			validators = []string{"default_country_assumed"}
		}
	case model.TypeDate:
		if normalized == "" {
			normalized = normalize.ValueForField(string(model.TypeDate), item.RawValue)
		}
	default:
		if normalized == "" {
			normalized = normalize.Text(item.RawValue)
		}
	}

	c, err := model.NewCandidate(field.Key, item.RawValue, normalized, evidence, model.MethodLLM,
		validators, model.CandidateScores{AnchorMatch: 1.0})
	if err != nil {
		return model.Candidate{}, false
	}
	return c, true
}
