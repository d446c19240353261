package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	// A nonexistent path loads pure defaults.
	require.NoError(t, LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")))

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, cfg.Retrieval.TopK)
	assert.Equal(t, DefaultMinRelevance, cfg.Retrieval.MinRelevance)
	assert.Equal(t, DefaultIterationCap, cfg.Execution.IterationCap)
	assert.Equal(t, DefaultWorkers, cfg.Execution.Workers)
	assert.Equal(t, "echo", cfg.Providers.LLM)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quorum.yaml")
	content := `
ledger_path: /tmp/ledger.db
vaults:
  personal:
    path: /notes/personal
  project:
    path: /notes/project
providers:
  llm: claude
  embedding: gemini
  fallback: ollama
retrieval:
  top_k: 8
execution:
  iteration_cap: 5
  workers: 10
vocabulary:
  personal_keywords: [journal, diary]
  project_keywords: [sprint, backlog]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, LoadConfig(path))

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.Providers.LLM)
	assert.Equal(t, "gemini", cfg.Providers.Embedding)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, 5, cfg.Execution.IterationCap)
	// Worker count is clamped to the pool maximum.
	assert.Equal(t, MaxWorkers, cfg.Execution.Workers)
	assert.Equal(t, "/notes/personal", cfg.Vaults["personal"].Path)
	assert.Equal(t, []string{"journal", "diary"}, cfg.Vocabulary.PersonalKeywords)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	bad := Config{}
	bad.applyDefaults()
	bad.Retrieval.OverlapWords = bad.Retrieval.MaxWords
	assert.Error(t, bad.Validate())

	samefallback := Config{Providers: ProviderConfig{LLM: "claude", Fallback: "claude"}}
	samefallback.applyDefaults()
	assert.Error(t, samefallback.Validate())

	emptyVault := Config{Vaults: map[string]VaultConfig{"personal": {}}}
	emptyVault.applyDefaults()
	assert.Error(t, emptyVault.Validate())
}
