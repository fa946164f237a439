package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fieldproof/fieldproof/internal/config"
	"github.com/fieldproof/fieldproof/internal/extract"
	"github.com/fieldproof/fieldproof/internal/llm"
	"github.com/fieldproof/fieldproof/internal/mcp"
	"github.com/fieldproof/fieldproof/internal/model"
	"github.com/fieldproof/fieldproof/internal/pipeline"
	"github.com/fieldproof/fieldproof/internal/runfs"
	"github.com/fieldproof/fieldproof/internal/store"
	"github.com/fieldproof/fieldproof/internal/trace"
	"github.com/mark3labs/mcp-go/server"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "run":
		if err := runRun(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "extract":
		if err := runExtract(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "runs":
		if err := runRuns(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "mcp":
		if err := runMCP(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("fieldproof %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// cliFlags is the subset of flags shared by every subcommand.
type cliFlags struct {
	configPath string
	runsRoot   string
	dbPath     string
	llmFlag    string
	topK       string
	maxFields  string
	schema     string
	template   string
	limit      int
	positional []string
}

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" && i+1 < len(args):
			i++
			f.configPath = args[i]
		case strings.HasPrefix(args[i], "--config="):
			f.configPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--runs" && i+1 < len(args):
			i++
			f.runsRoot = args[i]
		case strings.HasPrefix(args[i], "--runs="):
			f.runsRoot = strings.TrimPrefix(args[i], "--runs=")
		case args[i] == "--db" && i+1 < len(args):
			i++
			f.dbPath = args[i]
		case strings.HasPrefix(args[i], "--db="):
			f.dbPath = strings.TrimPrefix(args[i], "--db=")
		case args[i] == "--llm" && i+1 < len(args):
			i++
			f.llmFlag = args[i]
		case strings.HasPrefix(args[i], "--llm="):
			f.llmFlag = strings.TrimPrefix(args[i], "--llm=")
		case args[i] == "--top-k" && i+1 < len(args):
			i++
			f.topK = args[i]
		case strings.HasPrefix(args[i], "--top-k="):
			f.topK = strings.TrimPrefix(args[i], "--top-k=")
		case args[i] == "--max-fields" && i+1 < len(args):
			i++
			f.maxFields = args[i]
		case strings.HasPrefix(args[i], "--max-fields="):
			f.maxFields = strings.TrimPrefix(args[i], "--max-fields=")
		case args[i] == "--schema" && i+1 < len(args):
			i++
			f.schema = args[i]
		case strings.HasPrefix(args[i], "--schema="):
			f.schema = strings.TrimPrefix(args[i], "--schema=")
		case args[i] == "--template" && i+1 < len(args):
			i++
			f.template = args[i]
		case strings.HasPrefix(args[i], "--template="):
			f.template = strings.TrimPrefix(args[i], "--template=")
		case args[i] == "--limit" && i+1 < len(args):
			i++
			fmt.Sscanf(args[i], "%d", &f.limit)
		case strings.HasPrefix(args[i], "--limit="):
			fmt.Sscanf(strings.TrimPrefix(args[i], "--limit="), "%d", &f.limit)
		case strings.HasPrefix(args[i], "-"):
			return f, fmt.Errorf("unknown flag: %s", args[i])
		default:
			f.positional = append(f.positional, args[i])
		}
	}
	return f, nil
}

func resolve(f cliFlags) (config.ResolvedConfig, error) {
	return config.ResolveConfig(config.ResolveOptions{
		ConfigPath:  f.configPath,
		CLIRunsRoot: f.runsRoot,
		CLIDBPath:   f.dbPath,
		CLILLM:      f.llmFlag,
		CLITopK:     f.topK,
		CLIMaxField: f.maxFields,
	})
}

func buildExtractor(cfg config.ResolvedConfig) (llm.Extractor, model.RunOptions, error) {
	opts := model.DefaultRunOptions()
	opts.TopKDocs = cfg.TopKDocs.IntOr(opts.TopKDocs)
	opts.MaxLLMTokens = cfg.MaxLLMTokens.IntOr(opts.MaxLLMTokens)
	opts.MaxFields = cfg.MaxFields.IntOr(opts.MaxFields)

	pcfg, err := llm.ParseProviderFlag(cfg.LLMProvider.Value)
	if err != nil {
		return nil, opts, err
	}
	if key := cfg.APIKeyForProvider(pcfg.Provider); key.Value != "" {
		pcfg.APIKey = key.Value
	}
	provider, err := llm.NewProvider(pcfg)
	if err != nil {
		return nil, opts, err
	}
	opts.LLMProvider = pcfg.Provider
	opts.LLMModel = pcfg.Model
	return llm.NewExtractor(provider), opts, nil
}

func runRun(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	if len(f.positional) != 1 {
		return fmt.Errorf("usage: fieldproof run <docs-dir> [--schema <file>] [--template <file>] [--llm provider/model]")
	}

	cfg, err := resolve(f)
	if err != nil {
		return err
	}
	extractor, opts, err := buildExtractor(cfg)
	if err != nil {
		return err
	}

	st, err := store.NewStore(cfg.DBPath.Value)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}
	defer st.Close()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	p := pipeline.New(cfg.RunsRoot.Value, st, extractor, logger)
	res, err := p.Run(context.Background(), pipeline.Request{
		DocsDir:          f.positional[0],
		UserSchemaPath:   f.schema,
		FormTemplatePath: f.template,
		Options:          opts,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Run %s completed\n", res.RunID)
	fmt.Printf("  schema: %s\n", res.Schema.SchemaSource)
	for _, w := range res.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	printStats(res.Artifact)
	fmt.Printf("  artifacts: %s\n", res.Paths.ArtifactsDir())
	return nil
}

// runExtract re-runs candidate extraction over an existing run's artifacts.
// Ingest, schema resolution and routing are reused as written.
func runExtract(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	if len(f.positional) != 1 {
		return fmt.Errorf("usage: fieldproof extract <run-id> [--llm provider/model]")
	}

	cfg, err := resolve(f)
	if err != nil {
		return err
	}
	extractor, opts, err := buildExtractor(cfg)
	if err != nil {
		return err
	}

	runID, err := runfs.SanitizeFilename(f.positional[0])
	if err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}
	paths := runfs.Paths{Root: cfg.RunsRoot.Value, RunID: runID}
	if _, err := os.Stat(paths.RunDir()); err != nil {
		return fmt.Errorf("run %s not found under %s", runID, cfg.RunsRoot.Value)
	}

	var resolved model.ResolvedSchema
	var layout []model.LayoutDoc
	var routing []model.RoutingEntry
	if err := pipeline.LoadArtifact(paths, "schema.json", &resolved); err != nil {
		return err
	}
	if err := pipeline.LoadArtifact(paths, "layout.json", &layout); err != nil {
		return err
	}
	if err := pipeline.LoadArtifact(paths, "routing.json", &routing); err != nil {
		return err
	}

	logger := trace.NewLogger(paths.TraceFile(), runID)
	orch := extract.NewOrchestrator(extractor)
	artifact, err := orch.Run(context.Background(), paths, resolved, layout, routing, opts, logger)
	if err != nil {
		return err
	}

	st, err := store.NewStore(cfg.DBPath.Value)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	var stats []store.FieldStats
	for field, fs := range artifact.Stats {
		stats = append(stats, store.FieldStats{
			RunID:          runID,
			Field:          field,
			HeuristicCount: fs.HeuristicCount,
			LLMUsed:        fs.LLMUsed,
			AcceptedCount:  fs.AcceptedCount,
			RejectedCount:  fs.RejectedCount,
		})
	}
	if err := st.PutFieldStats(ctx, stats); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: recording field stats: %v\n", err)
	}
	if digest, err := runfs.CanonicalDigest(paths.Artifact("candidates.json")); err == nil {
		if err := st.PutArtifact(ctx, &store.ArtifactRecord{RunID: runID, Name: "candidates.json", Digest: digest}); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: recording artifact: %v\n", err)
		}
	}

	fmt.Printf("Re-extracted run %s\n", runID)
	printStats(artifact)
	return nil
}

func runRuns(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolve(f)
	if err != nil {
		return err
	}

	st, err := store.NewStore(cfg.DBPath.Value)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}
	defer st.Close()

	limit := f.limit
	if limit <= 0 {
		limit = 20
	}
	runs, err := st.ListRuns(context.Background(), store.ListOpts{Limit: limit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	fmt.Printf("%-32s  %-10s  %-13s  %s\n", "RUN", "STATUS", "SCHEMA", "LLM")
	for _, r := range runs {
		llmDesc := r.LLMProvider
		if r.LLMModel != "" {
			llmDesc += "/" + r.LLMModel
		}
		fmt.Printf("%-32s  %-10s  %-13s  %s\n", r.RunID, r.Status, r.SchemaSource, llmDesc)
	}
	return nil
}

func runMCP(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolve(f)
	if err != nil {
		return err
	}

	st, err := store.NewStore(cfg.DBPath.Value)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}
	defer st.Close()

	// The extract tool is only offered when an LLM provider is configured.
	var p *pipeline.Pipeline
	if extractor, _, err := buildExtractor(cfg); err == nil {
		logger, _ := zap.NewProduction()
		defer logger.Sync()
		p = pipeline.New(cfg.RunsRoot.Value, st, extractor, logger)
	}

	srv := mcp.NewServer(mcp.ServerConfig{
		Store:    st,
		RunsRoot: cfg.RunsRoot.Value,
		Pipeline: p,
		Version:  version,
	})
	return server.ServeStdio(srv)
}

func printStats(artifact *extract.Artifact) {
	accepted, rejected := 0, 0
	for _, c := range artifact.Candidates {
		if c.IsAccepted() {
			accepted++
		} else {
			rejected++
		}
	}
	fmt.Printf("  candidates: %d accepted, %d rejected\n", accepted, rejected)
	fields := make([]string, 0, len(artifact.Stats))
	for field := range artifact.Stats {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		fs := artifact.Stats[field]
		marker := ""
		if fs.LLMUsed {
			marker = " (llm)"
		}
		fmt.Printf("    %-22s %d/%d accepted%s\n", field, fs.AcceptedCount, fs.AcceptedCount+fs.RejectedCount, marker)
	}
}

func printUsage() {
	fmt.Printf(`fieldproof %s — evidence-first document field extraction

Usage:
  fieldproof <command> [arguments]

Commands:
  run <docs-dir>      Extract fields from a directory of documents
  extract <run-id>    Re-run candidate extraction for an existing run
  runs                List recorded runs
  mcp                 Serve runs and extraction over MCP (stdio)
  version             Print version

Run Flags:
  --schema <file>     User schema JSON restricting the extracted fields
  --template <file>   Form template JSON to resolve fields from
  --llm <p>/<model>   LLM provider and model (e.g. anthropic/claude-sonnet-4-20250514)
  --top-k <n>         Documents routed per field
  --max-fields <n>    Cap on extracted fields

Flags:
  --config <file>     Config file path (default ~/.fieldproof/config.yaml)
  --runs <dir>        Runs directory (default ./runs)
  --db <file>         Registry database path (default <runs>/registry.db)
  -h, --help          Show this help message
  -v, --version       Print version
`, version)
}
