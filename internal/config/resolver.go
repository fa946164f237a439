// Package config resolves runtime settings from, in rising precedence,
// the YAML config file, environment variables, and CLI flags. Every
// resolved value remembers where it came from so `fieldproof config` can
// explain the effective configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath  string
	CLIRunsRoot string
	CLIDBPath   string
	CLILLM      string
	CLITopK     string
	CLIMaxField string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	RunsRoot     ResolvedValue `json:"runs_root"`
	DBPath       ResolvedValue `json:"db_path"`
	LLMProvider  ResolvedValue `json:"llm_provider"`
	MaxLLMTokens ResolvedValue `json:"max_llm_tokens"`
	TopKDocs     ResolvedValue `json:"top_k_docs"`
	MaxFields    ResolvedValue `json:"max_fields"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`
}

type fileConfig struct {
	RunsRoot string `yaml:"runs_root"`
	DBPath   string `yaml:"db_path"`
	LLM      struct {
		Provider  string `yaml:"provider"`
		APIKey    string `yaml:"api_key"`
		MaxTokens int    `yaml:"max_tokens"`
	} `yaml:"llm"`
	Routing struct {
		TopK int `yaml:"top_k"`
	} `yaml:"routing"`
	MaxFields int `yaml:"max_fields"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fieldproof", "config.yaml")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.RunsRoot, cfg.RunsRoot, SourceConfig, path)
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.LLMProvider, cfg.LLM.Provider, SourceConfig, path)
		if cfg.LLM.MaxTokens > 0 {
			apply(&out.MaxLLMTokens, strconv.Itoa(cfg.LLM.MaxTokens), SourceConfig, path)
		}
		if cfg.Routing.TopK > 0 {
			apply(&out.TopKDocs, strconv.Itoa(cfg.Routing.TopK), SourceConfig, path)
		}
		if cfg.MaxFields > 0 {
			apply(&out.MaxFields, strconv.Itoa(cfg.MaxFields), SourceConfig, path)
		}

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			provider := providerOf(cfg.LLM.Provider)
			if provider == "" {
				provider = "default"
			}
			out.LLMKeys[provider] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
	}

	applyEnv(&out.RunsRoot, "FIELDPROOF_RUNS")
	applyEnv(&out.DBPath, "FIELDPROOF_DB")
	applyEnv(&out.LLMProvider, "FIELDPROOF_LLM")
	applyEnv(&out.MaxLLMTokens, "FIELDPROOF_MAX_LLM_TOKENS")
	applyEnv(&out.TopKDocs, "FIELDPROOF_TOP_K")
	applyEnv(&out.MaxFields, "FIELDPROOF_MAX_FIELDS")

	for env, provider := range map[string]string{
		"ANTHROPIC_API_KEY":  "anthropic",
		"OPENROUTER_API_KEY": "openrouter",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.RunsRoot, opts.CLIRunsRoot, SourceCLI, "--runs")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.LLMProvider, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.TopKDocs, opts.CLITopK, SourceCLI, "--top-k")
	apply(&out.MaxFields, opts.CLIMaxField, SourceCLI, "--max-fields")

	if out.RunsRoot.Value == "" {
		out.RunsRoot = ResolvedValue{Value: "runs", Source: SourceDefault, From: "built-in default"}
	}
	out.RunsRoot.Value = expandUserPath(out.RunsRoot.Value)
	if out.DBPath.Value == "" {
		out.DBPath = ResolvedValue{
			Value:  filepath.Join(out.RunsRoot.Value, "registry.db"),
			Source: SourceDefault,
			From:   "built-in default",
		}
	}
	out.DBPath.Value = expandUserPath(out.DBPath.Value)

	return out, nil
}

// IntOr parses the resolved value as an int, or returns fallback when unset
// or unparseable.
func (v ResolvedValue) IntOr(fallback int) int {
	s := strings.TrimSpace(v.Value)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// APIKeyForProvider returns the key resolved for a provider (or a model
// string of the form provider/model).
func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
