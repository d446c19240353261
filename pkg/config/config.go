// Package config provides configuration loading, validation, and management
// for the orchestrator.
//
// A single global Config instance is maintained in memory, protected by a
// mutex, and always returned BY VALUE so callers cannot mutate shared state.
// API keys are never stored in the file; they come from the environment at
// client-construction time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"quorum/pkg/logx"
)

//nolint:gochecknoglobals // Intentional singleton pattern for config management.
var (
	config *Config
	mu     sync.RWMutex
	logger = logx.NewLogger("config")
)

// VaultConfig describes one knowledge partition.
type VaultConfig struct {
	// Path is the root of the markdown vault.
	Path string `yaml:"path"`
}

// ProviderConfig selects the external backends.
type ProviderConfig struct {
	// LLM is one of: echo, claude, openai, gemini, ollama.
	LLM string `yaml:"llm"`
	// LLMModel overrides the provider's default chat model.
	LLMModel string `yaml:"llm_model,omitempty"`
	// Embedding is one of: echo, openai, gemini, ollama.
	Embedding string `yaml:"embedding"`
	// EmbeddingModel overrides the provider's default embedding model.
	EmbeddingModel string `yaml:"embedding_model,omitempty"`
	// SearchBaseURL is the endpoint of the JSON search API. Empty disables
	// the search role.
	SearchBaseURL string `yaml:"search_base_url,omitempty"`
	// OllamaHost is the local Ollama server URL.
	OllamaHost string `yaml:"ollama_host,omitempty"`
	// Fallback names a secondary LLM provider tried when the primary
	// fails with a provider error. Empty disables fallback.
	Fallback string `yaml:"fallback,omitempty"`
}

// RetrievalConfig tunes context assembly.
type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	MinRelevance  float64 `yaml:"min_relevance"`
	MaxWords      int     `yaml:"max_words"`
	OverlapWords  int     `yaml:"overlap_words"`
	BatchSize     int     `yaml:"batch_size"`
	ContextBudget int     `yaml:"context_budget_tokens"`
}

// ExecutionConfig tunes the execution manager.
type ExecutionConfig struct {
	// IterationCap is the maximum automatic refinement retries per
	// subtask before an explicit override is required.
	IterationCap int `yaml:"iteration_cap"`
	// Workers bounds concurrent agent dispatches per task.
	Workers int `yaml:"workers"`
}

// VocabularyConfig drives the planner's deterministic heuristics.
type VocabularyConfig struct {
	PersonalKeywords []string `yaml:"personal_keywords"`
	ProjectKeywords  []string `yaml:"project_keywords"`
	// RoleKeywords maps an agent role name to its trigger words.
	RoleKeywords map[string][]string `yaml:"role_keywords"`
	// FreshnessKeywords mark queries needing external search.
	FreshnessKeywords []string `yaml:"freshness_keywords"`
}

// Config is the root configuration.
type Config struct {
	// LedgerPath is the sqlite ledger file.
	LedgerPath string `yaml:"ledger_path"`
	// IndexRoot holds one <vault>.sqlite3 index per partition.
	IndexRoot string `yaml:"index_root"`
	// PrometheusURL enables the metrics query service when set.
	PrometheusURL string `yaml:"prometheus_url,omitempty"`

	Vaults     map[string]VaultConfig `yaml:"vaults"`
	Providers  ProviderConfig         `yaml:"providers"`
	Retrieval  RetrievalConfig        `yaml:"retrieval"`
	Execution  ExecutionConfig        `yaml:"execution"`
	Vocabulary VocabularyConfig       `yaml:"vocabulary"`
}

// Default values applied when the file omits a field.
const (
	DefaultTopK          = 5
	DefaultMinRelevance  = 0.3
	DefaultMaxWords      = 800
	DefaultOverlapWords  = 100
	DefaultBatchSize     = 16
	DefaultContextBudget = 6000
	DefaultIterationCap  = 3
	DefaultWorkers       = 2
	MaxWorkers           = 4
)

// applyDefaults fills zero-valued tunables.
func (c *Config) applyDefaults() {
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(".quorum", "ledger.db")
	}
	if c.IndexRoot == "" {
		c.IndexRoot = filepath.Join(".quorum", "index")
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = DefaultTopK
	}
	if c.Retrieval.MinRelevance <= 0 {
		c.Retrieval.MinRelevance = DefaultMinRelevance
	}
	if c.Retrieval.MaxWords <= 0 {
		c.Retrieval.MaxWords = DefaultMaxWords
	}
	if c.Retrieval.OverlapWords <= 0 {
		c.Retrieval.OverlapWords = DefaultOverlapWords
	}
	if c.Retrieval.BatchSize <= 0 {
		c.Retrieval.BatchSize = DefaultBatchSize
	}
	if c.Retrieval.ContextBudget <= 0 {
		c.Retrieval.ContextBudget = DefaultContextBudget
	}
	if c.Execution.IterationCap <= 0 {
		c.Execution.IterationCap = DefaultIterationCap
	}
	if c.Execution.Workers <= 0 {
		c.Execution.Workers = DefaultWorkers
	}
	if c.Execution.Workers > MaxWorkers {
		c.Execution.Workers = MaxWorkers
	}
	if c.Providers.LLM == "" {
		c.Providers.LLM = "echo"
	}
	if c.Providers.Embedding == "" {
		c.Providers.Embedding = "echo"
	}
	if c.Providers.OllamaHost == "" {
		c.Providers.OllamaHost = "http://localhost:11434"
	}
}

// Validate rejects configs that cannot drive the orchestrator.
func (c *Config) Validate() error {
	if c.Retrieval.OverlapWords >= c.Retrieval.MaxWords {
		return fmt.Errorf("retrieval overlap_words (%d) must be smaller than max_words (%d)",
			c.Retrieval.OverlapWords, c.Retrieval.MaxWords)
	}
	for name, vault := range c.Vaults {
		if vault.Path == "" {
			return fmt.Errorf("vault %q has no path", name)
		}
	}
	if c.Providers.Fallback != "" && c.Providers.Fallback == c.Providers.LLM {
		return fmt.Errorf("fallback provider must differ from primary %q", c.Providers.LLM)
	}
	return nil
}

// DefaultConfig returns a config with every tunable at its default.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads the YAML config file and installs it as the global
// instance. Missing file is not an error: defaults apply.
func LoadConfig(path string) error {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		logger.Info("no config file at %s, using defaults", path)
	default:
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	config = cfg
	return nil
}

// SetConfig installs a config directly. Intended for tests.
func SetConfig(cfg Config) {
	cfg.applyDefaults()
	mu.Lock()
	defer mu.Unlock()
	config = &cfg
}

// GetConfig returns the current config by value. LoadConfig or SetConfig
// must have been called first.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not loaded")
	}
	return *config, nil
}
