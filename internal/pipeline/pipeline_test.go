package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldproof/fieldproof/internal/llm"
	"github.com/fieldproof/fieldproof/internal/model"
	"github.com/fieldproof/fieldproof/internal/store"
)

const intakeDoc = `Patient Name: Jane Doe
DOB: 03/07/1985
Phone: (555) 123-4567
Address: 12 Oak Street, Springfield
`

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testPipeline(t *testing.T, x llm.Extractor) (*Pipeline, store.Store) {
	t.Helper()
	st, err := store.NewStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return New(t.TempDir(), st, x, zap.NewNop()), st
}

func TestRunEndToEnd(t *testing.T) {
	docsDir := t.TempDir()
	writeDoc(t, docsDir, "intake.txt", intakeDoc)

	fake := &llm.FakeExtractor{}
	p, st := testPipeline(t, fake)

	res, err := p.Run(context.Background(), Request{
		DocsDir: docsDir,
		Options: model.DefaultRunOptions(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.RunID == "" {
		t.Fatal("empty run id")
	}

	for _, name := range []string{"doc_index.json", "layout.json", "schema.json", "routing.json", "candidates.json"} {
		if _, err := os.Stat(res.Paths.Artifact(name)); err != nil {
			t.Errorf("missing artifact %s: %v", name, err)
		}
	}
	if _, err := os.Stat(res.Paths.RequestFile()); err != nil {
		t.Errorf("missing request.json: %v", err)
	}

	if res.Schema.SchemaSource != model.SourceFallbackV1 {
		t.Errorf("schema_source = %q", res.Schema.SchemaSource)
	}

	var gotDOB bool
	for _, c := range res.Artifact.Candidates {
		if c.Field == model.KeyDOB && c.NormalizedValue == "1985-03-07" && c.IsAccepted() {
			gotDOB = true
		}
	}
	if !gotDOB {
		t.Errorf("no accepted dob candidate in %+v", res.Artifact.Candidates)
	}

	// Provisional confidence never clears the autofill threshold, so every
	// routed field escalates.
	if len(fake.Fields) != len(res.Schema.ResolvedFields) {
		t.Errorf("llm called for %d fields, want %d", len(fake.Fields), len(res.Schema.ResolvedFields))
	}

	run, err := st.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != store.StatusCompleted {
		t.Errorf("status = %q", run.Status)
	}
	if run.SchemaSource != "fallback_v1" {
		t.Errorf("schema_source = %q", run.SchemaSource)
	}

	stats, err := st.GetFieldStats(context.Background(), res.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != len(res.Schema.ResolvedFields) {
		t.Errorf("field stats rows = %d, want %d", len(stats), len(res.Schema.ResolvedFields))
	}

	arts, err := st.ListArtifacts(context.Background(), res.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 5 {
		t.Fatalf("artifact records = %d, want 5", len(arts))
	}
	for _, a := range arts {
		if len(a.Digest) != 64 {
			t.Errorf("artifact %s digest %q not sha256 hex", a.Name, a.Digest)
		}
	}
}

func TestRunCopiesInputs(t *testing.T) {
	docsDir := t.TempDir()
	writeDoc(t, docsDir, "intake.txt", intakeDoc)

	p, _ := testPipeline(t, &llm.FakeExtractor{})
	res, err := p.Run(context.Background(), Request{DocsDir: docsDir, Options: model.DefaultRunOptions()})
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(res.Paths.InputDocsDir(), "intake.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != intakeDoc {
		t.Errorf("copied doc differs from source")
	}
}

func TestRunUserSchemaRestrictsFields(t *testing.T) {
	docsDir := t.TempDir()
	writeDoc(t, docsDir, "intake.txt", intakeDoc)
	schemaPath := writeDoc(t, t.TempDir(), "schema.json",
		`{"fields": [{"key": "dob"}, {"key": "full_name"}]}`)

	fake := &llm.FakeExtractor{}
	p, _ := testPipeline(t, fake)
	res, err := p.Run(context.Background(), Request{
		DocsDir:        docsDir,
		UserSchemaPath: schemaPath,
		Options:        model.DefaultRunOptions(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if res.Schema.SchemaSource != model.SourceUserSchema {
		t.Errorf("schema_source = %q", res.Schema.SchemaSource)
	}
	want := []model.FieldKey{model.KeyFullName, model.KeyDOB}
	if len(res.Schema.ResolvedFields) != len(want) {
		t.Fatalf("resolved fields = %+v", res.Schema.ResolvedFields)
	}
	for i, f := range res.Schema.ResolvedFields {
		if f.Key != want[i] {
			t.Errorf("field[%d] = %q, want %q", i, f.Key, want[i])
		}
	}
	for _, k := range fake.Fields {
		if k != model.KeyFullName && k != model.KeyDOB {
			t.Errorf("llm called for unrequested field %q", k)
		}
	}
}

func TestRunWithoutStore(t *testing.T) {
	docsDir := t.TempDir()
	writeDoc(t, docsDir, "intake.txt", intakeDoc)

	p := New(t.TempDir(), nil, &llm.FakeExtractor{}, nil)
	if _, err := p.Run(context.Background(), Request{DocsDir: docsDir, Options: model.DefaultRunOptions()}); err != nil {
		t.Fatal(err)
	}
}

func TestRunTransportFailureMarksRunFailed(t *testing.T) {
	docsDir := t.TempDir()
	writeDoc(t, docsDir, "intake.txt", intakeDoc)

	fake := &llm.FakeExtractor{
		Errors: map[model.FieldKey]error{model.KeyFullName: context.DeadlineExceeded},
	}
	p, st := testPipeline(t, fake)

	_, err := p.Run(context.Background(), Request{DocsDir: docsDir, Options: model.DefaultRunOptions()})
	if err == nil {
		t.Fatal("expected run error")
	}

	runs, err := st.ListRuns(context.Background(), store.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", runs[0].Status)
	}
}

func TestRunMissingDocsDir(t *testing.T) {
	p, _ := testPipeline(t, &llm.FakeExtractor{})
	if _, err := p.Run(context.Background(), Request{
		DocsDir: filepath.Join(t.TempDir(), "nope"),
		Options: model.DefaultRunOptions(),
	}); err == nil {
		t.Fatal("expected error for missing docs dir")
	}
}

func TestTraceCoversStages(t *testing.T) {
	docsDir := t.TempDir()
	writeDoc(t, docsDir, "intake.txt", intakeDoc)

	p, _ := testPipeline(t, &llm.FakeExtractor{})
	res, err := p.Run(context.Background(), Request{DocsDir: docsDir, Options: model.DefaultRunOptions()})
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(res.Paths.TraceFile())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	steps := map[string]bool{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev struct {
			RunID  string `json:"run_id"`
			Step   string `json:"step"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad trace line %q: %v", sc.Text(), err)
		}
		if ev.RunID != res.RunID {
			t.Errorf("trace run_id = %q, want %q", ev.RunID, res.RunID)
		}
		steps[ev.Step] = true
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	for _, step := range []string{"intake", "ingest", "resolve_schema", "route", "extract_candidates"} {
		if !steps[step] {
			t.Errorf("trace missing step %q", step)
		}
	}
}

func TestLoadArtifact(t *testing.T) {
	docsDir := t.TempDir()
	writeDoc(t, docsDir, "intake.txt", intakeDoc)

	p, _ := testPipeline(t, &llm.FakeExtractor{})
	res, err := p.Run(context.Background(), Request{DocsDir: docsDir, Options: model.DefaultRunOptions()})
	if err != nil {
		t.Fatal(err)
	}

	var candidates []model.Candidate
	if err := LoadArtifact(res.Paths, "candidates.json", &candidates); err != nil {
		t.Fatal(err)
	}
	if len(candidates) != len(res.Artifact.Candidates) {
		t.Errorf("reloaded %d candidates, want %d", len(candidates), len(res.Artifact.Candidates))
	}
}
