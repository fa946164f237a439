// Package pipeline wires the run lifecycle end to end: run directory
// creation, document intake, schema resolution, routing, candidate
// extraction, and registry bookkeeping. Each stage appends a trace event
// and writes its artifact atomically before the next stage starts.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fieldproof/fieldproof/internal/extract"
	"github.com/fieldproof/fieldproof/internal/ingest"
	"github.com/fieldproof/fieldproof/internal/llm"
	"github.com/fieldproof/fieldproof/internal/model"
	"github.com/fieldproof/fieldproof/internal/route"
	"github.com/fieldproof/fieldproof/internal/runfs"
	"github.com/fieldproof/fieldproof/internal/schema"
	"github.com/fieldproof/fieldproof/internal/store"
	"github.com/fieldproof/fieldproof/internal/trace"
)

// Request describes one extraction run.
type Request struct {
	DocsDir          string           `json:"docs_dir"`
	UserSchemaPath   string           `json:"user_schema_path,omitempty"`
	FormTemplatePath string           `json:"form_template_path,omitempty"`
	Options          model.RunOptions `json:"options"`
}

// Result is what a completed run produced.
type Result struct {
	RunID    string
	Paths    runfs.Paths
	Schema   model.ResolvedSchema
	Index    []model.DocIndexItem
	Artifact *extract.Artifact
	Warnings []string
}

// Pipeline executes runs.
type Pipeline struct {
	RunsRoot  string
	Store     store.Store
	Extractor llm.Extractor
	Engine    *ingest.Engine
	Log       *zap.Logger

	now func() time.Time
}

func New(runsRoot string, st store.Store, x llm.Extractor, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		RunsRoot:  runsRoot,
		Store:     st,
		Extractor: x,
		Engine:    ingest.NewEngine(),
		Log:       log,
		now:       time.Now,
	}
}

// Run executes the full pipeline for a request. The run directory and a
// failed registry row survive an error so the partial trace can be
// inspected.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	runID := runfs.NewRunID(p.now())
	paths, err := runfs.CreateRun(p.RunsRoot, runID)
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	logger := trace.NewLogger(paths.TraceFile(), runID)
	log := p.Log.With(zap.String("run_id", runID))
	log.Info("run started", zap.String("docs_dir", req.DocsDir))

	if p.Store != nil {
		if err := p.Store.CreateRun(ctx, &store.Run{
			RunID:       runID,
			CreatedAt:   p.now().UTC(),
			Status:      store.StatusRunning,
			LLMProvider: req.Options.LLMProvider,
			LLMModel:    req.Options.LLMModel,
		}); err != nil {
			return nil, fmt.Errorf("registering run: %w", err)
		}
	}

	res, err := p.run(ctx, paths, req, logger, log)
	if p.Store != nil {
		status := store.StatusCompleted
		if err != nil {
			status = store.StatusFailed
		}
		if serr := p.Store.SetRunStatus(ctx, runID, status); serr != nil {
			log.Warn("updating run status", zap.Error(serr))
		}
	}
	if err != nil {
		log.Error("run failed", zap.Error(err))
		return nil, err
	}
	log.Info("run completed",
		zap.Int("candidates", len(res.Artifact.Candidates)),
		zap.String("schema_source", string(res.Schema.SchemaSource)))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, paths runfs.Paths, req Request, logger *trace.Logger, log *zap.Logger) (*Result, error) {
	if err := runfs.WriteJSONAtomic(paths.RequestFile(), req); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Intake: copy input docs into the run so it is self-contained.
	if err := logger.Step("intake", []string{req.DocsDir}, []string{paths.InputDocsDir()}, func() error {
		return p.copyInputs(req.DocsDir, paths.InputDocsDir())
	}); err != nil {
		return nil, fmt.Errorf("copying inputs: %w", err)
	}

	var ingestRes *ingest.Result
	if err := logger.Step("ingest", []string{paths.InputDocsDir()},
		[]string{paths.Artifact("doc_index.json"), paths.Artifact("layout.json")}, func() error {
			var err error
			ingestRes, err = p.Engine.Ingest(ctx, paths.InputDocsDir())
			if err != nil {
				return err
			}
			if err := runfs.WriteJSONAtomic(paths.Artifact("doc_index.json"), ingestRes.Index); err != nil {
				return err
			}
			return runfs.WriteJSONAtomic(paths.Artifact("layout.json"), ingestRes.Layout)
		}); err != nil {
		return nil, fmt.Errorf("ingesting documents: %w", err)
	}

	var schemaRes schema.Result
	if err := logger.Step("resolve_schema", nil, []string{paths.Artifact("schema.json")}, func() error {
		in := schema.Input{MaxFields: req.Options.MaxFields}
		var err error
		if req.UserSchemaPath != "" {
			if in.UserSchema, err = os.ReadFile(req.UserSchemaPath); err != nil {
				return fmt.Errorf("reading user schema: %w", err)
			}
		}
		if req.FormTemplatePath != "" {
			if in.FormTemplate, err = os.ReadFile(req.FormTemplatePath); err != nil {
				return fmt.Errorf("reading form template: %w", err)
			}
		}
		if schemaRes, err = schema.Resolve(in); err != nil {
			return err
		}
		return runfs.WriteJSONAtomic(paths.Artifact("schema.json"), schemaRes.Schema)
	}); err != nil {
		return nil, fmt.Errorf("resolving schema: %w", err)
	}
	for _, w := range schemaRes.Warnings {
		log.Warn("schema resolution", zap.String("warning", w))
	}

	routeRes := route.Route(schemaRes.Schema.ResolvedFields, ingestRes.Index, ingestRes.Layout, req.Options.TopKDocs)
	status := trace.StatusOK
	if routeRes.NoReadables {
		status = trace.StatusWarn
	}
	if err := runfs.WriteJSONAtomic(paths.Artifact("routing.json"), routeRes.Entries); err != nil {
		logger.Emit("route", trace.StatusError, 0, nil, nil, &trace.ErrorInfo{Kind: "write_failed", Message: err.Error()})
		return nil, fmt.Errorf("writing routing: %w", err)
	}
	logger.Emit("route", status, 0,
		[]string{paths.Artifact("schema.json"), paths.Artifact("doc_index.json")},
		[]string{paths.Artifact("routing.json")}, nil)

	orch := extract.NewOrchestrator(p.Extractor)
	artifact, err := orch.Run(ctx, paths, schemaRes.Schema, ingestRes.Layout, routeRes.Entries, req.Options, logger)
	if err != nil {
		return nil, err
	}

	p.record(ctx, paths, artifact, schemaRes.Schema, log)

	return &Result{
		RunID:    paths.RunID,
		Paths:    paths,
		Schema:   schemaRes.Schema,
		Index:    ingestRes.Index,
		Artifact: artifact,
		Warnings: schemaRes.Warnings,
	}, nil
}

// record stores per-field stats and artifact digests in the registry.
// Registry failures are logged, not fatal; the filesystem already holds the
// authoritative outputs.
func (p *Pipeline) record(ctx context.Context, paths runfs.Paths, artifact *extract.Artifact, resolved model.ResolvedSchema, log *zap.Logger) {
	if p.Store == nil {
		return
	}

	if err := p.Store.SetRunSchemaSource(ctx, paths.RunID, string(resolved.SchemaSource)); err != nil {
		log.Warn("recording schema source", zap.Error(err))
	}

	var stats []store.FieldStats
	for field, fs := range artifact.Stats {
		stats = append(stats, store.FieldStats{
			RunID:          paths.RunID,
			Field:          field,
			HeuristicCount: fs.HeuristicCount,
			LLMUsed:        fs.LLMUsed,
			AcceptedCount:  fs.AcceptedCount,
			RejectedCount:  fs.RejectedCount,
		})
	}
	if err := p.Store.PutFieldStats(ctx, stats); err != nil {
		log.Warn("recording field stats", zap.Error(err))
	}

	for _, name := range []string{"doc_index.json", "layout.json", "schema.json", "routing.json", "candidates.json"} {
		digest, err := runfs.CanonicalDigest(paths.Artifact(name))
		if err != nil {
			log.Warn("digesting artifact", zap.String("artifact", name), zap.Error(err))
			continue
		}
		if err := p.Store.PutArtifact(ctx, &store.ArtifactRecord{RunID: paths.RunID, Name: name, Digest: digest}); err != nil {
			log.Warn("recording artifact", zap.String("artifact", name), zap.Error(err))
		}
	}
}

func (p *Pipeline) copyInputs(srcDir, dstDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("reading docs dir %s: %w", srcDir, err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if _, err := runfs.CopyFileIdempotent(filepath.Join(srcDir, entry.Name()), dstDir); err != nil {
			return err
		}
	}
	return nil
}

// LoadArtifact reads a JSON artifact from a finished run.
func LoadArtifact(paths runfs.Paths, name string, v any) error {
	data, err := os.ReadFile(paths.Artifact(name))
	if err != nil {
		return fmt.Errorf("reading artifact %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding artifact %s: %w", name, err)
	}
	return nil
}
