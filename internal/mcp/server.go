// Package mcp provides a Model Context Protocol server for fieldproof.
//
// It exposes the run registry (list runs, run detail) and run artifacts
// (candidates with evidence) as MCP tools, plus an extraction tool that
// executes the full pipeline. Supports stdio transport.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fieldproof/fieldproof/internal/model"
	"github.com/fieldproof/fieldproof/internal/pipeline"
	"github.com/fieldproof/fieldproof/internal/runfs"
	"github.com/fieldproof/fieldproof/internal/store"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store    store.Store
	RunsRoot string
	Pipeline *pipeline.Pipeline // nil disables the extract tool
	Version  string
}

// regMu serializes tool calls that touch the registry. The mcp-go library
// dispatches handlers concurrently via goroutines; SQLite supports only one
// writer at a time.
var regMu sync.Mutex

// NewServer creates a configured MCP server with all fieldproof tools.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"Fieldproof",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerRunsTool(s, cfg.Store)
	registerRunTool(s, cfg.Store)
	registerCandidatesTool(s, cfg.RunsRoot)
	if cfg.Pipeline != nil {
		registerExtractTool(s, cfg.Pipeline)
	}
	registerRecentRunsResource(s, cfg.Store)

	return s
}

// runInfo is the registry row shape returned by tools.
type runInfo struct {
	RunID        string `json:"run_id"`
	CreatedAt    string `json:"created_at"`
	Status       string `json:"status"`
	SchemaSource string `json:"schema_source,omitempty"`
	LLMProvider  string `json:"llm_provider,omitempty"`
	LLMModel     string `json:"llm_model,omitempty"`
}

func toRunInfo(r *store.Run) runInfo {
	return runInfo{
		RunID:        r.RunID,
		CreatedAt:    r.CreatedAt.Format(time.RFC3339),
		Status:       r.Status,
		SchemaSource: r.SchemaSource,
		LLMProvider:  r.LLMProvider,
		LLMModel:     r.LLMModel,
	}
}

// --- Tools ---

func registerRunsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("fieldproof_runs",
		mcp.WithDescription("List extraction runs from the registry, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of runs to return (default: 20, max: 100)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of runs to skip (for pagination)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		regMu.Lock()
		defer regMu.Unlock()

		opts := store.ListOpts{Limit: 20}
		if l, err := req.RequireFloat("limit"); err == nil && l > 0 {
			limit := int(l)
			if limit > 100 {
				limit = 100
			}
			opts.Limit = limit
		}
		if o, err := req.RequireFloat("offset"); err == nil && o > 0 {
			opts.Offset = int(o)
		}

		runs, err := st.ListRuns(ctx, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list runs error: %v", err)), nil
		}

		infos := make([]runInfo, 0, len(runs))
		for _, r := range runs {
			infos = append(infos, toRunInfo(r))
		}
		data, _ := json.MarshalIndent(infos, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerRunTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("fieldproof_run",
		mcp.WithDescription("Get one run's registry detail: status, per-field extraction stats, and canonical artifact digests."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run identifier (e.g. '2025-06-01T12-30-45Z_a1b2c3d4')"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		regMu.Lock()
		defer regMu.Unlock()

		runID, err := req.RequireString("run_id")
		if err != nil {
			return mcp.NewToolResultError("run_id is required"), nil
		}

		run, err := st.GetRun(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run %q: %v", runID, err)), nil
		}
		stats, err := st.GetFieldStats(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("field stats error: %v", err)), nil
		}
		arts, err := st.ListArtifacts(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("artifacts error: %v", err)), nil
		}

		type fieldInfo struct {
			Field          string `json:"field"`
			HeuristicCount int    `json:"heuristic_count"`
			LLMUsed        bool   `json:"llm_used"`
			AcceptedCount  int    `json:"accepted_count"`
			RejectedCount  int    `json:"rejected_count"`
		}
		type artifactInfo struct {
			Name   string `json:"name"`
			Digest string `json:"digest"`
		}

		detail := map[string]interface{}{
			"run": toRunInfo(run),
		}
		fields := make([]fieldInfo, 0, len(stats))
		for _, fs := range stats {
			fields = append(fields, fieldInfo{
				Field:          fs.Field,
				HeuristicCount: fs.HeuristicCount,
				LLMUsed:        fs.LLMUsed,
				AcceptedCount:  fs.AcceptedCount,
				RejectedCount:  fs.RejectedCount,
			})
		}
		detail["fields"] = fields
		artifacts := make([]artifactInfo, 0, len(arts))
		for _, a := range arts {
			artifacts = append(artifacts, artifactInfo{Name: a.Name, Digest: a.Digest})
		}
		detail["artifacts"] = artifacts

		data, _ := json.MarshalIndent(detail, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerCandidatesTool(s *server.MCPServer, runsRoot string) {
	tool := mcp.NewTool("fieldproof_candidates",
		mcp.WithDescription("Read a run's extracted candidates with their evidence spans, verification scores, and rejection reasons. Optionally filter by field key."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run identifier"),
		),
		mcp.WithString("field",
			mcp.Description("Field key to filter by (e.g. 'dob', 'phone'). Empty = all fields."),
		),
		mcp.WithBoolean("accepted_only",
			mcp.Description("Only return candidates that passed evidence verification (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, err := req.RequireString("run_id")
		if err != nil {
			return mcp.NewToolResultError("run_id is required"), nil
		}
		runID, err = runfs.SanitizeFilename(runID)
		if err != nil {
			return mcp.NewToolResultError("invalid run_id"), nil
		}

		var candidates []model.Candidate
		paths := runfs.Paths{Root: runsRoot, RunID: runID}
		if err := pipeline.LoadArtifact(paths, "candidates.json", &candidates); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("candidates error: %v", err)), nil
		}

		field := ""
		if f, err := req.RequireString("field"); err == nil {
			field = f
		}
		acceptedOnly := false
		if a, err := req.RequireString("accepted_only"); err == nil && a == "true" {
			acceptedOnly = true
		}

		filtered := make([]model.Candidate, 0, len(candidates))
		for _, c := range candidates {
			if field != "" && string(c.Field) != field {
				continue
			}
			if acceptedOnly && !c.IsAccepted() {
				continue
			}
			filtered = append(filtered, c)
		}

		data, _ := json.MarshalIndent(filtered, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerExtractTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("fieldproof_extract",
		mcp.WithDescription("Run the full extraction pipeline on a directory of documents: ingest, schema resolution, routing, heuristic and generative extraction with evidence verification. Returns the run id and per-field stats."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("docs_dir",
			mcp.Required(),
			mcp.Description("Directory containing the documents to extract from"),
		),
		mcp.WithString("schema_path",
			mcp.Description("Path to a user schema JSON file restricting the extracted fields"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		regMu.Lock()
		defer regMu.Unlock()

		docsDir, err := req.RequireString("docs_dir")
		if err != nil {
			return mcp.NewToolResultError("docs_dir is required"), nil
		}

		pr := pipeline.Request{DocsDir: docsDir, Options: model.DefaultRunOptions()}
		if sp, err := req.RequireString("schema_path"); err == nil && sp != "" {
			pr.UserSchemaPath = sp
		}

		res, err := p.Run(ctx, pr)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("extraction error: %v", err)), nil
		}

		accepted := 0
		for _, c := range res.Artifact.Candidates {
			if c.IsAccepted() {
				accepted++
			}
		}
		out := map[string]interface{}{
			"run_id":        res.RunID,
			"schema_source": res.Schema.SchemaSource,
			"candidates":    len(res.Artifact.Candidates),
			"accepted":      accepted,
			"stats":         res.Artifact.Stats,
		}
		if len(res.Warnings) > 0 {
			out["warnings"] = res.Warnings
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// --- Resources ---

func registerRecentRunsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"fieldproof://runs/recent",
		"Recent Runs",
		mcp.WithResourceDescription("The 20 most recent extraction runs."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		regMu.Lock()
		defer regMu.Unlock()

		runs, err := st.ListRuns(ctx, store.ListOpts{Limit: 20})
		if err != nil {
			return nil, fmt.Errorf("listing recent runs: %w", err)
		}

		infos := make([]runInfo, 0, len(runs))
		for _, r := range runs {
			infos = append(infos, toRunInfo(r))
		}
		data, _ := json.MarshalIndent(infos, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
