// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	threshold := cfg.Matching.MatchThreshold
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Matching      MatchingConfig      `yaml:"matching"`
	Suggestions   SuggestionsConfig   `yaml:"suggestions"`
	Splits        SplitsConfig        `yaml:"splits"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Storage       StorageConfig       `yaml:"storage"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// MatchingConfig tunes candidate admission and selection.
type MatchingConfig struct {
	DateToleranceDays    int   `yaml:"date_tolerance_days"`
	AmountToleranceCents int64 `yaml:"amount_tolerance_cents"`
	MatchThreshold       int   `yaml:"match_threshold"`
	RetentionDays        int   `yaml:"retention_days"`
	ScoreWorkers         int   `yaml:"score_workers"`
}

// SuggestionsConfig tunes the category suggestion engine.
type SuggestionsConfig struct {
	MaxSuggestions int            `yaml:"max_suggestions"`
	MinConfidence  int            `yaml:"min_confidence"`
	KeywordRules   []KeywordRule  `yaml:"keyword_rules"`
	AmountBuckets  []AmountBucket `yaml:"amount_buckets"`
}

// KeywordRule maps a payee keyword or regex to a category.
type KeywordRule struct {
	Pattern    string `yaml:"pattern"`
	CategoryID string `yaml:"category_id"`
	Confidence int    `yaml:"confidence"` // zero means the default 90
}

// AmountBucket maps an amount range to a low-confidence category.
type AmountBucket struct {
	MinCents   int64  `yaml:"min_cents"`
	MaxCents   int64  `yaml:"max_cents"`
	CategoryID string `yaml:"category_id"`
	Confidence int    `yaml:"confidence"` // zero means the default 40
}

// SplitsConfig tunes the split detector.
type SplitsConfig struct {
	TipPercentage              float64            `yaml:"tip_percentage"`
	TipSplittingEnabled        bool               `yaml:"tip_splitting_enabled"`
	OnlineRetailThresholdCents int64              `yaml:"online_retail_threshold_cents"`
	WarehouseThresholdCents    int64              `yaml:"warehouse_threshold_cents"`
	DiningCategoryID           string             `yaml:"dining_category_id"`
	TipsCategoryID             string             `yaml:"tips_category_id"`
	MerchantTypeRules          []MerchantTypeRule `yaml:"merchant_type_rules"`
}

// MerchantTypeRule maps payee keywords to a merchant type. Rules are
// checked in order, first hit wins; built-in defaults apply when empty.
type MerchantTypeRule struct {
	Keywords []string `yaml:"keywords"`
	Type     string   `yaml:"type"`
}

// ProvidersConfig holds source provider settings.
type ProvidersConfig struct {
	Folder         FolderProviderConfig `yaml:"folder"`
	Manual         ManualProviderConfig `yaml:"manual"`
	Remote         RemoteProviderConfig `yaml:"remote"`
	Priority       []string             `yaml:"priority"`
	MaxConcurrent  int                  `yaml:"max_concurrent"`
	MinDelayMillis int                  `yaml:"min_delay_millis"`
	Retry          RetryConfig          `yaml:"retry"`
}

// FolderProviderConfig reads purchase records dropped as JSON files in
// a download directory.
type FolderProviderConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	AllowEmpty bool   `yaml:"allow_empty"`
}

// ManualProviderConfig imports a single, manually exported file.
type ManualProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RemoteProviderConfig pulls records from a remote automation endpoint.
type RemoteProviderConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	AllowEmpty bool   `yaml:"allow_empty"`
}

// RetryConfig shapes the retry policy for external calls.
type RetryConfig struct {
	MaxAttempts     int `yaml:"max_attempts"`
	BaseDelayMillis int `yaml:"base_delay_millis"`
	MaxDelayMillis  int `yaml:"max_delay_millis"`
}

// LedgerConfig holds ledger API settings. AccountTypes maps account ids
// to their expected payment type for the scorer's account-type bonus.
type LedgerConfig struct {
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	AccountFilter string            `yaml:"account_filter"`
	AccountTypes  map[string]string `yaml:"account_types"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${LEDGER_TOKEN})
	expanded := os.ExpandEnv(string(data))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := defaults()
	cfg.Storage.DatabasePath = getEnv("RECON_DB_PATH", cfg.Storage.DatabasePath)
	cfg.Ledger.BaseURL = os.Getenv("LEDGER_BASE_URL")
	cfg.Ledger.APIKey = os.Getenv("LEDGER_TOKEN")
	cfg.Providers.Remote.BaseURL = os.Getenv("SOURCE_REMOTE_BASE_URL")
	cfg.Providers.Remote.APIKey = os.Getenv("SOURCE_REMOTE_TOKEN")
	cfg.Providers.Remote.Enabled = cfg.Providers.Remote.BaseURL != ""
	cfg.Providers.Folder.Path = getEnv("SOURCE_FOLDER_PATH", "")
	cfg.Providers.Folder.Enabled = cfg.Providers.Folder.Path != ""
	cfg.Matching.MatchThreshold = getEnvInt("MATCH_THRESHOLD", cfg.Matching.MatchThreshold)
	cfg.API.Port = getEnvInt("API_PORT", cfg.API.Port)
	cfg.Observability.Logging.Level = getEnv("LOG_LEVEL", "info")
	cfg.Observability.Logging.Format = getEnv("LOG_FORMAT", "text")
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from specified path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// defaults returns a Config with the documented default values.
func defaults() *Config {
	return &Config{
		Matching: MatchingConfig{
			DateToleranceDays:    2,
			AmountToleranceCents: 50,
			MatchThreshold:       80,
			RetentionDays:        90,
			ScoreWorkers:         4,
		},
		Suggestions: SuggestionsConfig{
			MaxSuggestions: 3,
			MinConfidence:  60,
		},
		Splits: SplitsConfig{
			TipPercentage:              0.18,
			TipSplittingEnabled:        true,
			OnlineRetailThresholdCents: 5000,
			WarehouseThresholdCents:    10000,
			DiningCategoryID:           "dining",
			TipsCategoryID:             "tips",
		},
		Providers: ProvidersConfig{
			Priority:       []string{"folder", "manual", "remote"},
			MaxConcurrent:  2,
			MinDelayMillis: 250,
			Retry: RetryConfig{
				MaxAttempts:     3,
				BaseDelayMillis: 500,
				MaxDelayMillis:  8000,
			},
		},
		Storage: StorageConfig{
			DatabasePath: "recon.db",
		},
		API: APIConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Level: "info", Format: "text"},
		},
	}
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}
