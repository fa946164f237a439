package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fieldproof/fieldproof/internal/llm"
	"github.com/fieldproof/fieldproof/internal/model"
	"github.com/fieldproof/fieldproof/internal/pipeline"
	"github.com/fieldproof/fieldproof/internal/store"
	"github.com/mark3labs/mcp-go/server"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	runs := []*store.Run{
		{RunID: "run_old", CreatedAt: base, Status: store.StatusCompleted, SchemaSource: "fallback_v1"},
		{RunID: "run_new", CreatedAt: base.Add(time.Hour), Status: store.StatusCompleted, SchemaSource: "user_schema"},
	}
	for _, r := range runs {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("adding test run: %v", err)
		}
	}
	if err := s.PutFieldStats(ctx, []store.FieldStats{
		{RunID: "run_new", Field: "dob", HeuristicCount: 2, LLMUsed: true, AcceptedCount: 1, RejectedCount: 1},
	}); err != nil {
		t.Fatalf("adding test stats: %v", err)
	}
	if err := s.PutArtifact(ctx, &store.ArtifactRecord{RunID: "run_new", Name: "candidates.json", Digest: strings.Repeat("ab", 32)}); err != nil {
		t.Fatalf("adding test artifact: %v", err)
	}
	return s
}

// callTool invokes an MCP tool through the server's JSON-RPC entry point.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) (string, bool) {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			return c.Text, resp.Result.IsError
		}
	}
	t.Fatal("no text content in result")
	return "", false
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestNewServer(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, RunsRoot: t.TempDir()})
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
}

func TestRunsTool(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, RunsRoot: t.TempDir()})

	text, isErr := callTool(t, srv, "fieldproof_runs", map[string]interface{}{})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}

	var infos []runInfo
	if err := json.Unmarshal([]byte(text), &infos); err != nil {
		t.Fatalf("parsing runs: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("runs = %d, want 2", len(infos))
	}
	if infos[0].RunID != "run_new" {
		t.Errorf("first run = %q, want run_new (newest first)", infos[0].RunID)
	}
}

func TestRunsToolLimit(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, RunsRoot: t.TempDir()})

	text, _ := callTool(t, srv, "fieldproof_runs", map[string]interface{}{"limit": float64(1)})
	var infos []runInfo
	if err := json.Unmarshal([]byte(text), &infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Errorf("runs = %d, want 1", len(infos))
	}
}

func TestRunTool(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, RunsRoot: t.TempDir()})

	text, isErr := callTool(t, srv, "fieldproof_run", map[string]interface{}{"run_id": "run_new"})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}

	var detail struct {
		Run    runInfo `json:"run"`
		Fields []struct {
			Field         string `json:"field"`
			LLMUsed       bool   `json:"llm_used"`
			AcceptedCount int    `json:"accepted_count"`
		} `json:"fields"`
		Artifacts []struct {
			Name   string `json:"name"`
			Digest string `json:"digest"`
		} `json:"artifacts"`
	}
	if err := json.Unmarshal([]byte(text), &detail); err != nil {
		t.Fatalf("parsing run detail: %v", err)
	}
	if detail.Run.SchemaSource != "user_schema" {
		t.Errorf("schema_source = %q", detail.Run.SchemaSource)
	}
	if len(detail.Fields) != 1 || detail.Fields[0].Field != "dob" || !detail.Fields[0].LLMUsed {
		t.Errorf("fields = %+v", detail.Fields)
	}
	if len(detail.Artifacts) != 1 || detail.Artifacts[0].Name != "candidates.json" {
		t.Errorf("artifacts = %+v", detail.Artifacts)
	}
}

func TestRunToolMissing(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, RunsRoot: t.TempDir()})

	text, isErr := callTool(t, srv, "fieldproof_run", map[string]interface{}{"run_id": "nope"})
	if !isErr {
		t.Fatalf("expected tool error, got %s", text)
	}
}

func newTestPipeline(t *testing.T, st store.Store, runsRoot string) *pipeline.Pipeline {
	t.Helper()
	return pipeline.New(runsRoot, st, &llm.FakeExtractor{}, zap.NewNop())
}

func TestExtractAndCandidatesTools(t *testing.T) {
	st, err := store.NewStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	docsDir := t.TempDir()
	doc := "Patient Name: Jane Doe\nDOB: 03/07/1985\nPhone: (555) 123-4567\n"
	if err := os.WriteFile(filepath.Join(docsDir, "intake.txt"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	runsRoot := t.TempDir()
	srv := NewServer(ServerConfig{
		Store:    st,
		RunsRoot: runsRoot,
		Pipeline: newTestPipeline(t, st, runsRoot),
	})

	text, isErr := callTool(t, srv, "fieldproof_extract", map[string]interface{}{"docs_dir": docsDir})
	if isErr {
		t.Fatalf("extract error: %s", text)
	}
	var out struct {
		RunID      string `json:"run_id"`
		Candidates int    `json:"candidates"`
		Accepted   int    `json:"accepted"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("parsing extract output: %v", err)
	}
	if out.RunID == "" || out.Candidates == 0 || out.Accepted == 0 {
		t.Fatalf("extract output = %+v", out)
	}

	text, isErr = callTool(t, srv, "fieldproof_candidates", map[string]interface{}{
		"run_id": out.RunID,
		"field":  "dob",
	})
	if isErr {
		t.Fatalf("candidates error: %s", text)
	}
	var cands []model.Candidate
	if err := json.Unmarshal([]byte(text), &cands); err != nil {
		t.Fatalf("parsing candidates: %v", err)
	}
	if len(cands) == 0 {
		t.Fatal("no dob candidates")
	}
	for _, c := range cands {
		if c.Field != model.KeyDOB {
			t.Errorf("candidate field = %q, want dob", c.Field)
		}
		if len(c.Evidence) == 0 {
			t.Errorf("candidate %q has no evidence", c.NormalizedValue)
		}
	}
}

func TestCandidatesToolMissingRun(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, RunsRoot: t.TempDir()})

	text, isErr := callTool(t, srv, "fieldproof_candidates", map[string]interface{}{"run_id": "run_new"})
	if !isErr {
		t.Fatalf("expected tool error for run without artifacts, got %s", text)
	}
}

func TestRecentRunsResource(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s, RunsRoot: t.TempDir()})

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "resources/read",
		"params": map[string]interface{}{
			"uri": "fieldproof://runs/recent",
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	var resp struct {
		Result struct {
			Contents []struct {
				URI  string `json:"uri"`
				Text string `json:"text"`
			} `json:"contents"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("resource error: %s", resp.Error.Message)
	}
	if len(resp.Result.Contents) == 0 {
		t.Fatal("no resource contents")
	}
	var infos []runInfo
	if err := json.Unmarshal([]byte(resp.Result.Contents[0].Text), &infos); err != nil {
		t.Fatalf("parsing resource: %v", err)
	}
	if len(infos) != 2 {
		t.Errorf("recent runs = %d, want 2", len(infos))
	}
}
