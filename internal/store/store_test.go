package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func memStore(t *testing.T) Store {
	t.Helper()
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetRun(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	r := &Run{
		RunID:        "run_1",
		CreatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		SchemaSource: "fallback_v1",
		LLMProvider:  "anthropic",
		LLMModel:     "claude-sonnet-4-20250514",
	}
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusRunning {
		t.Errorf("status = %q, want running default", got.Status)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, r.CreatedAt)
	}
	if got.SchemaSource != "fallback_v1" || got.LLMModel != "claude-sonnet-4-20250514" {
		t.Errorf("got = %+v", got)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := memStore(t)
	if _, err := s.GetRun(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing run")
	}
}

func TestSetRunStatus(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()
	if err := s.CreateRun(ctx, &Run{RunID: "run_1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRunStatus(ctx, "run_1", StatusCompleted); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status = %q", got.Status)
	}
	if err := s.SetRunStatus(ctx, "missing", StatusFailed); err == nil {
		t.Error("expected error for missing run")
	}
}

func TestSetRunSchemaSource(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()
	if err := s.CreateRun(ctx, &Run{RunID: "run_1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRunSchemaSource(ctx, "run_1", "user_schema"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SchemaSource != "user_schema" {
		t.Errorf("schema_source = %q", got.SchemaSource)
	}
	if err := s.SetRunSchemaSource(ctx, "missing", "user_schema"); err == nil {
		t.Error("expected error for missing run")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"run_a", "run_b", "run_c"} {
		if err := s.CreateRun(ctx, &Run{RunID: id, CreatedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 || runs[0].RunID != "run_c" || runs[2].RunID != "run_a" {
		t.Errorf("runs = %v", runIDs(runs))
	}

	runs, err = s.ListRuns(ctx, ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].RunID != "run_b" {
		t.Errorf("paginated runs = %v", runIDs(runs))
	}
}

func runIDs(runs []*Run) []string {
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.RunID)
	}
	return ids
}

func TestFieldStatsRoundTrip(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()
	if err := s.CreateRun(ctx, &Run{RunID: "run_1"}); err != nil {
		t.Fatal(err)
	}

	stats := []FieldStats{
		{RunID: "run_1", Field: "dob", HeuristicCount: 2, LLMUsed: true, AcceptedCount: 1, RejectedCount: 2},
		{RunID: "run_1", Field: "full_name", HeuristicCount: 1, AcceptedCount: 1},
	}
	if err := s.PutFieldStats(ctx, stats); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetFieldStats(ctx, "run_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d stats", len(got))
	}
	if got[0].Field != "dob" || !got[0].LLMUsed || got[0].RejectedCount != 2 {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Field != "full_name" || got[1].LLMUsed {
		t.Errorf("got[1] = %+v", got[1])
	}

	// Upsert replaces.
	stats[0].AcceptedCount = 9
	if err := s.PutFieldStats(ctx, stats[:1]); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetFieldStats(ctx, "run_1")
	if got[0].AcceptedCount != 9 {
		t.Errorf("upsert did not replace: %+v", got[0])
	}
}

func TestArtifactsRoundTrip(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()
	if err := s.CreateRun(ctx, &Run{RunID: "run_1"}); err != nil {
		t.Fatal(err)
	}

	if err := s.PutArtifact(ctx, &ArtifactRecord{RunID: "run_1", Name: "candidates.json", Digest: "abc"}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutArtifact(ctx, &ArtifactRecord{RunID: "run_1", Name: "candidates.json", Digest: "def"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListArtifacts(ctx, "run_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Digest != "def" {
		t.Errorf("artifacts = %+v", got)
	}
}

func TestNewStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "registry.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.CreateRun(context.Background(), &Run{RunID: "run_1"}); err != nil {
		t.Fatal(err)
	}
}
