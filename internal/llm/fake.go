package llm

import (
	"context"
	"fmt"

	"github.com/fieldproof/fieldproof/internal/excerpt"
	"github.com/fieldproof/fieldproof/internal/model"
)

// FakeProvider is a scripted Provider for tests. Responses are consumed in
// order; running past the queue is an error. Prompts are recorded so tests
// can assert on what was sent.
type FakeProvider struct {
	Responses []string
	Errs      []error
	Prompts   []string

	calls int
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	f.Prompts = append(f.Prompts, prompt)
	i := f.calls
	f.calls++
	if i < len(f.Errs) && f.Errs[i] != nil {
		return "", f.Errs[i]
	}
	if i >= len(f.Responses) {
		return "", fmt.Errorf("fake provider: no response queued for call %d", i+1)
	}
	return f.Responses[i], nil
}

// Calls returns how many completions were requested.
func (f *FakeProvider) Calls() int { return f.calls }

// FakeExtractor is a scripted Extractor for orchestrator tests. Results are
// keyed by field; each call's field and excerpts are recorded in call order.
type FakeExtractor struct {
	Results  map[model.FieldKey][]model.Candidate
	Errors   map[model.FieldKey]error
	Fields   []model.FieldKey
	Excerpts [][]excerpt.DocExcerpt
}

func (f *FakeExtractor) Extract(ctx context.Context, field model.FieldSpec, excerpts []excerpt.DocExcerpt, opts model.RunOptions) ([]model.Candidate, error) {
	f.Fields = append(f.Fields, field.Key)
	f.Excerpts = append(f.Excerpts, excerpts)
	if err, ok := f.Errors[field.Key]; ok {
		return nil, err
	}
	if cands, ok := f.Results[field.Key]; ok {
		return cands, nil
	}
	return []model.Candidate{}, nil
}
