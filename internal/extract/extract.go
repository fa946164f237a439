// Package extract orchestrates candidate extraction for a run: routed
// documents per field, the deterministic heuristic pass, escalation to the
// generator when heuristics come up short, evidence verification over
// everything, and the candidates.json artifact.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fieldproof/fieldproof/internal/excerpt"
	"github.com/fieldproof/fieldproof/internal/heuristics"
	"github.com/fieldproof/fieldproof/internal/llm"
	"github.com/fieldproof/fieldproof/internal/model"
	"github.com/fieldproof/fieldproof/internal/runfs"
	"github.com/fieldproof/fieldproof/internal/trace"
	"github.com/fieldproof/fieldproof/internal/verify"
)

// AutofillThreshold is the provisional confidence a field's best accepted
// heuristic candidate must reach to skip generator escalation.
const AutofillThreshold = 0.75

const anchorWeight = 0.45

// FieldStats summarizes one field's extraction. LLMUsed reports that the
// generator was invoked, whether or not its output was usable.
type FieldStats struct {
	HeuristicCount int  `json:"heuristic_count"`
	LLMUsed        bool `json:"llm_used"`
	AcceptedCount  int  `json:"accepted_count"`
	RejectedCount  int  `json:"rejected_count"`
}

// Artifact is the in-memory result of the extraction stage. On disk,
// candidates.json holds the sorted candidate array alone; stats go to the
// registry and the trace.
type Artifact struct {
	RunID      string                `json:"run_id"`
	Candidates []model.Candidate     `json:"candidates"`
	Stats      map[string]FieldStats `json:"stats"`
}

// Orchestrator runs the extraction pipeline stage for one run.
type Orchestrator struct {
	Extractor llm.Extractor
	Limits    excerpt.Limits
	now       func() time.Time
}

func NewOrchestrator(x llm.Extractor) *Orchestrator {
	return &Orchestrator{Extractor: x, now: time.Now}
}

// Run extracts candidates for every resolved field, verifies them against
// their own evidence, and writes the sorted candidate array to
// candidates.json atomically. A generator transport failure aborts the run;
// unusable generator output fails only the affected field.
func (o *Orchestrator) Run(ctx context.Context, paths runfs.Paths, schema model.ResolvedSchema, layout []model.LayoutDoc, routing []model.RoutingEntry, opts model.RunOptions, logger *trace.Logger) (*Artifact, error) {
	artifact, err := o.run(ctx, paths, schema, layout, routing, opts, logger)
	inputs := []string{
		paths.Artifact("schema.json"),
		paths.Artifact("layout.json"),
		paths.Artifact("routing.json"),
	}
	outputs := []string{paths.Artifact("candidates.json")}
	if err != nil {
		logger.Emit("extract_candidates", trace.StatusError, 0, inputs, outputs, &trace.ErrorInfo{
			Kind:    "extract_failed",
			Message: err.Error(),
		})
		return nil, err
	}
	logger.Emit("extract_candidates", trace.StatusOK, 0, inputs, outputs, nil)
	return artifact, nil
}

func (o *Orchestrator) run(ctx context.Context, paths runfs.Paths, schema model.ResolvedSchema, layout []model.LayoutDoc, routing []model.RoutingEntry, opts model.RunOptions, logger *trace.Logger) (*Artifact, error) {
	docsByID := make(map[string]model.LayoutDoc, len(layout))
	for _, doc := range layout {
		docsByID[doc.DocID] = doc
	}
	routingByField := make(map[model.FieldKey]model.RoutingEntry, len(routing))
	for _, entry := range routing {
		routingByField[entry.Field] = entry
	}

	fields := schema.ResolvedFields
	if opts.MaxFields > 0 && len(fields) > opts.MaxFields {
		fields = fields[:opts.MaxFields]
	}

	allCandidates := []model.Candidate{}
	stats := make(map[string]FieldStats, len(fields))

	for _, field := range fields {
		docs := routedDocs(routingByField[field.Key], docsByID)
		if len(docs) == 0 {
			stats[string(field.Key)] = FieldStats{}
			continue
		}

		fs := FieldStats{}

		heuristicCands := o.timedHeuristics(field, docs, logger)
		heuristicCands = verify.Apply(heuristicCands, field.Type)
		fs.HeuristicCount = len(heuristicCands)

		fieldCands := heuristicCands
		if shouldEscalate(heuristicCands) {
			fs.LLMUsed = true
			llmCands, err := o.timedLLM(ctx, field, docs, opts, logger)
			var invalid *llm.InvalidOutputError
			if errors.As(err, &invalid) {
				// Field-level generator failure. Heuristic candidates stand.
			} else if err != nil {
				return nil, fmt.Errorf("extracting field %q: %w", field.Key, err)
			} else {
				fieldCands = append(fieldCands, verify.Apply(llmCands, field.Type)...)
			}
		}

		for _, c := range fieldCands {
			if c.IsAccepted() {
				fs.AcceptedCount++
			} else {
				fs.RejectedCount++
			}
		}
		stats[string(field.Key)] = fs
		allCandidates = append(allCandidates, fieldCands...)
	}

	sortCandidates(allCandidates)

	if err := runfs.WriteJSONAtomic(paths.Artifact("candidates.json"), allCandidates); err != nil {
		return nil, fmt.Errorf("writing candidates artifact: %w", err)
	}
	return &Artifact{
		RunID:      paths.RunID,
		Candidates: allCandidates,
		Stats:      stats,
	}, nil
}

func (o *Orchestrator) timedHeuristics(field model.FieldSpec, docs []model.LayoutDoc, logger *trace.Logger) []model.Candidate {
	start := o.now()
	cands := heuristics.Extract(field, docs)
	logger.Emit(fmt.Sprintf("field:%s:heuristic", field.Key), trace.StatusOK,
		o.now().Sub(start).Milliseconds(), nil, nil, nil)
	return cands
}

func (o *Orchestrator) timedLLM(ctx context.Context, field model.FieldSpec, docs []model.LayoutDoc, opts model.RunOptions, logger *trace.Logger) ([]model.Candidate, error) {
	start := o.now()
	excerpts := excerpt.Build(field, docs, o.Limits)
	cands, err := o.Extractor.Extract(ctx, field, excerpts, opts)
	duration := o.now().Sub(start).Milliseconds()
	step := fmt.Sprintf("field:%s:llm", field.Key)
	var invalid *llm.InvalidOutputError
	if errors.As(err, &invalid) {
		logger.Emit(step, trace.StatusError, duration, nil, nil, &trace.ErrorInfo{
			Kind:    "invalid_output",
			Message: invalid.Message,
		})
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	logger.Emit(step, trace.StatusOK, duration, nil, nil, nil)
	return cands, nil
}

// routedDocs resolves a routing entry's doc ids against the layout, keeping
// routing order and skipping unknown ids.
func routedDocs(entry model.RoutingEntry, docsByID map[string]model.LayoutDoc) []model.LayoutDoc {
	var docs []model.LayoutDoc
	for _, id := range entry.DocIDs {
		if doc, ok := docsByID[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs
}

// provisionalConfidence is the score available before any cross-candidate
// analysis: the anchor component alone.
func provisionalConfidence(c model.Candidate) float64 {
	return anchorWeight * c.Scores.AnchorMatch
}

// shouldEscalate reports whether the generator pass is needed: no accepted
// heuristic candidate, or none confident enough for autofill.
func shouldEscalate(cands []model.Candidate) bool {
	best := -1.0
	for _, c := range cands {
		if !c.IsAccepted() {
			continue
		}
		if conf := provisionalConfidence(c); conf > best {
			best = conf
		}
	}
	return best < AutofillThreshold
}

// sortCandidates orders the artifact deterministically: field ascending,
// heuristic before generator, then normalized value.
func sortCandidates(cands []model.Candidate) {
	methodRank := func(m model.Method) int {
		if m == model.MethodHeuristic {
			return 0
		}
		return 1
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Field != cands[j].Field {
			return cands[i].Field < cands[j].Field
		}
		if cands[i].FromMethod != cands[j].FromMethod {
			return methodRank(cands[i].FromMethod) < methodRank(cands[j].FromMethod)
		}
		return cands[i].NormalizedValue < cands[j].NormalizedValue
	})
}
