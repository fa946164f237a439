package model

import (
	"fmt"
	"strings"
)

// Method records how a candidate was produced.
type Method string

const (
	MethodHeuristic Method = "heuristic"
	MethodLLM       Method = "llm"
)

// SchemaSource records which precedence level produced the resolved schema.
type SchemaSource string

const (
	SourceUserSchema   SchemaSource = "user_schema"
	SourceFormTemplate SchemaSource = "form_template"
	SourceFallbackV1   SchemaSource = "fallback_v1"
)

// UnreadableReason explains why a document has no usable text.
type UnreadableReason string

const (
	ReasonNoTextLayer UnreadableReason = "no_text_layer"
	ReasonParseError  UnreadableReason = "parse_error"
)

// RunOptions configures a pipeline run. Values other than MaxFields are
// passed through opaquely to the generator client.
type RunOptions struct {
	TopKDocs     int    `json:"top_k_docs"`
	LLMProvider  string `json:"llm_provider"`
	LLMModel     string `json:"llm_model"`
	MaxLLMTokens int    `json:"max_llm_tokens"`
	MaxFields    int    `json:"max_fields"`
}

// DefaultRunOptions returns the standard run configuration.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		TopKDocs:     3,
		LLMProvider:  "anthropic",
		LLMModel:     "claude-sonnet-4-20250514",
		MaxLLMTokens: 1200,
		MaxFields:    len(FieldOrder),
	}
}

// FieldSpec describes a single field to extract. Type always comes from the
// registry's key→type table, never from caller input.
type FieldSpec struct {
	Key   FieldKey  `json:"key"`
	Label string    `json:"label,omitempty"`
	Type  FieldType `json:"type"`
}

// NewFieldSpec builds a FieldSpec for a supported key with its fixed type.
func NewFieldSpec(key FieldKey, label string) (FieldSpec, error) {
	typ, ok := TypeOf(key)
	if !ok {
		return FieldSpec{}, fmt.Errorf("unsupported field key: %q", key)
	}
	return FieldSpec{Key: key, Label: label, Type: typ}, nil
}

// Keywords returns the lowercased search terms for this field: key, label
// (if set), and all aliases.
func (f FieldSpec) Keywords() []string {
	kws := []string{strings.ToLower(string(f.Key))}
	if f.Label != "" {
		kws = append(kws, strings.ToLower(f.Label))
	}
	for _, a := range Aliases(f.Key) {
		kws = append(kws, strings.ToLower(a))
	}
	return kws
}

// ResolvedSchema is the schema.json artifact.
type ResolvedSchema struct {
	SchemaSource      SchemaSource `json:"schema_source"`
	ResolvedFields    []FieldSpec  `json:"resolved_fields"`
	UnsupportedFields []string     `json:"unsupported_fields"`
}

// DocIndexItem is one entry of the doc_index.json artifact.
type DocIndexItem struct {
	DocID            string           `json:"doc_id"`
	Filename         string           `json:"filename"`
	MimeType         string           `json:"mime_type"`
	Pages            int              `json:"pages"`
	HasTextLayer     bool             `json:"has_text_layer"`
	UnreadableReason UnreadableReason `json:"unreadable_reason,omitempty"`
	SHA256           string           `json:"sha256"`
}

// Readable reports whether the document can contribute text to extraction.
func (d DocIndexItem) Readable() bool {
	return d.HasTextLayer && d.UnreadableReason == ""
}

// LayoutSpan is a span of page text with optional geometry. The extraction
// core never reads BBox; it is carried for downstream consumers.
type LayoutSpan struct {
	Text string    `json:"text"`
	BBox []float64 `json:"bbox,omitempty"`
}

// LayoutPage holds the extracted text of one page. Pages are 1-indexed.
type LayoutPage struct {
	Page     int          `json:"page"`
	FullText string       `json:"full_text"`
	Spans    []LayoutSpan `json:"spans"`
}

// LayoutDoc is the per-document entry of the layout.json artifact.
// A document with zero pages is valid and yields no candidates.
type LayoutDoc struct {
	DocID string       `json:"doc_id"`
	Pages []LayoutPage `json:"pages"`
}

// RoutingEntry maps a field to its relevant documents, best first.
type RoutingEntry struct {
	Field  FieldKey           `json:"field"`
	DocIDs []string           `json:"doc_ids"`
	Scores map[string]float64 `json:"scores"`
}

// Evidence is an exact quoted span from a document page. doc_id and
// quoted_text must never be empty; this is enforced at construction.
type Evidence struct {
	DocID      string    `json:"doc_id"`
	Page       int       `json:"page"`
	QuotedText string    `json:"quoted_text"`
	BBox       []float64 `json:"bbox,omitempty"`
}

// NewEvidence validates and builds an Evidence value.
func NewEvidence(docID string, page int, quotedText string) (Evidence, error) {
	if strings.TrimSpace(docID) == "" {
		return Evidence{}, fmt.Errorf("evidence doc_id must not be empty")
	}
	if page < 1 {
		return Evidence{}, fmt.Errorf("evidence page must be >= 1, got %d", page)
	}
	if strings.TrimSpace(quotedText) == "" {
		return Evidence{}, fmt.Errorf("evidence quoted_text must not be empty")
	}
	return Evidence{DocID: docID, Page: page, QuotedText: quotedText}, nil
}

// CandidateScores holds the scoring components for a candidate. Only
// AnchorMatch is populated by the current extractors; the rest are reserved
// for later scoring stages.
type CandidateScores struct {
	AnchorMatch          float64 `json:"anchor_match"`
	Validator            float64 `json:"validator"`
	DocRelevance         float64 `json:"doc_relevance"`
	CrossDocAgreement    float64 `json:"cross_doc_agreement"`
	ContradictionPenalty float64 `json:"contradiction_penalty"`
}

// Validate checks every score is within [0, 1].
func (s CandidateScores) Validate() error {
	check := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, v)
		}
		return nil
	}
	if err := check("anchor_match", s.AnchorMatch); err != nil {
		return err
	}
	if err := check("validator", s.Validator); err != nil {
		return err
	}
	if err := check("doc_relevance", s.DocRelevance); err != nil {
		return err
	}
	if err := check("cross_doc_agreement", s.CrossDocAgreement); err != nil {
		return err
	}
	return check("contradiction_penalty", s.ContradictionPenalty)
}

// Candidate is a proposed value for a field with supporting evidence.
// Candidates are never discarded once built: verification failures append to
// RejectedReasons and the candidate stays in the output for auditability.
type Candidate struct {
	Field           FieldKey        `json:"field"`
	RawValue        string          `json:"raw_value"`
	NormalizedValue string          `json:"normalized_value"`
	Evidence        []Evidence      `json:"evidence"`
	FromMethod      Method          `json:"from_method"`
	Validators      []string        `json:"validators"`
	RejectedReasons []string        `json:"rejected_reasons"`
	Scores          CandidateScores `json:"scores"`
}

// NewCandidate validates and builds a Candidate. Evidence must be non-empty;
// a candidate with no evidence cannot exist.
func NewCandidate(field FieldKey, rawValue, normalizedValue string, evidence []Evidence, method Method, validators []string, scores CandidateScores) (Candidate, error) {
	if !IsSupported(field) {
		return Candidate{}, fmt.Errorf("unsupported field key: %q", field)
	}
	if len(evidence) == 0 {
		return Candidate{}, fmt.Errorf("candidate for %q has no evidence", field)
	}
	for i, ev := range evidence {
		if _, err := NewEvidence(ev.DocID, ev.Page, ev.QuotedText); err != nil {
			return Candidate{}, fmt.Errorf("evidence[%d]: %w", i, err)
		}
	}
	if method != MethodHeuristic && method != MethodLLM {
		return Candidate{}, fmt.Errorf("unknown extraction method: %q", method)
	}
	if err := scores.Validate(); err != nil {
		return Candidate{}, err
	}
	if validators == nil {
		validators = []string{}
	}
	return Candidate{
		Field:           field,
		RawValue:        rawValue,
		NormalizedValue: normalizedValue,
		Evidence:        evidence,
		FromMethod:      method,
		Validators:      validators,
		RejectedReasons: []string{},
		Scores:          scores,
	}, nil
}

// Reject appends a rejection reason. The candidate remains in the output.
func (c *Candidate) Reject(reason string) {
	c.RejectedReasons = append(c.RejectedReasons, reason)
}

// IsAccepted reports whether the candidate has no rejection reasons.
func (c Candidate) IsAccepted() bool {
	return len(c.RejectedReasons) == 0
}
