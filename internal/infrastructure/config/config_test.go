package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAMLFile(t *testing.T) {
	content := `
matching:
  date_tolerance_days: 3
  match_threshold: 85
suggestions:
  max_suggestions: 5
  keyword_rules:
    - pattern: "shell|chevron"
      category_id: "auto-gas"
splits:
  tip_percentage: 0.20
ledger:
  base_url: "https://ledger.example.com"
  api_key: "${TEST_LEDGER_TOKEN}"
storage:
  database_path: "/tmp/test.db"
`
	t.Setenv("TEST_LEDGER_TOKEN", "secret-token")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Matching.DateToleranceDays)
	assert.Equal(t, 85, cfg.Matching.MatchThreshold)
	assert.Equal(t, 5, cfg.Suggestions.MaxSuggestions)
	require.Len(t, cfg.Suggestions.KeywordRules, 1)
	assert.Equal(t, "auto-gas", cfg.Suggestions.KeywordRules[0].CategoryID)
	assert.Equal(t, 0.20, cfg.Splits.TipPercentage)
	assert.Equal(t, "secret-token", cfg.Ledger.APIKey)
	assert.Equal(t, "/tmp/test.db", cfg.Storage.DatabasePath)

	// Unspecified keys keep their defaults.
	assert.Equal(t, int64(50), cfg.Matching.AmountToleranceCents)
	assert.Equal(t, 60, cfg.Suggestions.MinConfidence)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RECON_DB_PATH", "/data/recon.db")
	t.Setenv("LEDGER_TOKEN", "env-token")
	t.Setenv("MATCH_THRESHOLD", "75")

	cfg := LoadFromEnv()
	assert.Equal(t, "/data/recon.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "env-token", cfg.Ledger.APIKey)
	assert.Equal(t, 75, cfg.Matching.MatchThreshold)
}

func TestDefaults(t *testing.T) {
	cfg := defaults()

	assert.Equal(t, 2, cfg.Matching.DateToleranceDays)
	assert.Equal(t, int64(50), cfg.Matching.AmountToleranceCents)
	assert.Equal(t, 80, cfg.Matching.MatchThreshold)
	assert.Equal(t, 90, cfg.Matching.RetentionDays)
	assert.Equal(t, 3, cfg.Suggestions.MaxSuggestions)
	assert.Equal(t, 60, cfg.Suggestions.MinConfidence)
	assert.Equal(t, 0.18, cfg.Splits.TipPercentage)
	assert.Equal(t, int64(5000), cfg.Splits.OnlineRetailThresholdCents)
	assert.Equal(t, int64(10000), cfg.Splits.WarehouseThresholdCents)
	assert.Equal(t, 3, cfg.Providers.Retry.MaxAttempts)
}

func TestLoadOrEnvWithPath_FallsBack(t *testing.T) {
	cfg := LoadOrEnvWithPath(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NotNil(t, cfg)
	assert.Equal(t, 80, cfg.Matching.MatchThreshold)
}
