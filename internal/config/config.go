package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	Plaid    PlaidConfig
	Sync     SyncConfig
	Match    MatchConfig
	LLM      LLMConfig
	Secrets  SecretsConfig
	Log      LogConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path         string
	MaxOpenConns int `mapstructure:"max_open_conns"`
}

// PlaidConfig holds upstream API settings.
type PlaidConfig struct {
	ClientID          string `mapstructure:"client_id"`
	Secret            string
	Environment       string
	BaseURL           string        `mapstructure:"base_url"`
	PageSize          int           `mapstructure:"page_size"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxRetries        int           `mapstructure:"max_retries"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// SyncConfig controls the orchestrator.
type SyncConfig struct {
	Cooldown       time.Duration
	Concurrency    int
	AutoCategorize bool `mapstructure:"auto_categorize"`
}

// MatchConfig holds fuzzy duplicate tolerances.
type MatchConfig struct {
	AmountTolerance string  `mapstructure:"amount_tolerance"`
	DayWindow       int     `mapstructure:"day_window"`
	MinSimilarity   float64 `mapstructure:"min_similarity"`
}

// Tolerance parses AmountTolerance.
func (m MatchConfig) Tolerance() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(m.AmountTolerance))
	if err != nil {
		return decimal.Zero, fmt.Errorf("match.amount_tolerance: %w", err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("match.amount_tolerance must not be negative")
	}
	return d, nil
}

// LLMConfig holds classifier settings.
type LLMConfig struct {
	Provider            string
	APIKeyEnv           string  `mapstructure:"api_key_env"`
	APIKey              string  `mapstructure:"api_key"`
	Model               string
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// SecretsConfig controls how access tokens are sealed.
type SecretsConfig struct {
	KeyEnv string `mapstructure:"key_env"`
	Dir    string
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string
	Format string
}

// Path returns the config file location. MONEYSYNC_CONFIG overrides it.
func Path() string {
	if p := os.Getenv("MONEYSYNC_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "moneysync", "config.toml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "moneysync", "moneysync.db"))
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("plaid.client_id", "")
	v.SetDefault("plaid.secret", "")
	v.SetDefault("plaid.environment", "sandbox")
	v.SetDefault("plaid.base_url", "")
	v.SetDefault("plaid.page_size", 500)
	v.SetDefault("plaid.requests_per_second", 2.0)
	v.SetDefault("plaid.max_retries", 3)
	v.SetDefault("plaid.timeout", "30s")
	v.SetDefault("sync.cooldown", "5m")
	v.SetDefault("sync.concurrency", 2)
	v.SetDefault("sync.auto_categorize", false)
	v.SetDefault("match.amount_tolerance", "0.01")
	v.SetDefault("match.day_window", 3)
	v.SetDefault("match.min_similarity", 0.0)
	v.SetDefault("llm.provider", "keyword")
	v.SetDefault("llm.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.confidence_threshold", 0.5)
	v.SetDefault("secrets.key_env", "MONEYSYNC_SECRET_KEY")
	v.SetDefault("secrets.dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration from Path() and env. Env var overrides use prefix
// MONEYSYNC_. A .env file in the working directory is loaded first without
// overriding variables already set.
func Load() (Config, error) {
	return LoadFile(Path())
}

// LoadFile is Load with an explicit config file location.
func LoadFile(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	v.SetConfigFile(path)

	v.SetEnvPrefix("MONEYSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	if fileExists(path) {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks values that would otherwise fail deep inside a sync.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path is required")
	}
	if _, err := c.Match.Tolerance(); err != nil {
		return err
	}
	if c.Match.DayWindow < 0 {
		return fmt.Errorf("match.day_window must not be negative")
	}
	if c.Match.MinSimilarity < 0 || c.Match.MinSimilarity > 1 {
		return fmt.Errorf("match.min_similarity must be between 0 and 1")
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1")
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "keyword", "gemini":
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	return nil
}

// Save writes the provided config to Path(), creating the config directory if needed.
// Secrets are left out; they belong in the environment or the secret store.
func Save(cfg Config) error {
	return SaveFile(Path(), cfg)
}

// SaveFile writes cfg as TOML to path.
func SaveFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.Set("plaid.client_id", cfg.Plaid.ClientID)
	v.Set("plaid.environment", cfg.Plaid.Environment)
	v.Set("plaid.base_url", cfg.Plaid.BaseURL)
	v.Set("plaid.page_size", cfg.Plaid.PageSize)
	v.Set("plaid.requests_per_second", cfg.Plaid.RequestsPerSecond)
	v.Set("plaid.max_retries", cfg.Plaid.MaxRetries)
	v.Set("plaid.timeout", cfg.Plaid.Timeout.String())
	v.Set("sync.cooldown", cfg.Sync.Cooldown.String())
	v.Set("sync.concurrency", cfg.Sync.Concurrency)
	v.Set("sync.auto_categorize", cfg.Sync.AutoCategorize)
	v.Set("match.amount_tolerance", cfg.Match.AmountTolerance)
	v.Set("match.day_window", cfg.Match.DayWindow)
	v.Set("match.min_similarity", cfg.Match.MinSimilarity)
	v.Set("llm.provider", cfg.LLM.Provider)
	v.Set("llm.api_key_env", cfg.LLM.APIKeyEnv)
	v.Set("llm.model", cfg.LLM.Model)
	v.Set("llm.confidence_threshold", cfg.LLM.ConfidenceThreshold)
	v.Set("secrets.key_env", cfg.Secrets.KeyEnv)
	v.Set("secrets.dir", cfg.Secrets.Dir)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Exists reports whether a config file is present at path.
func Exists(path string) bool { return fileExists(path) }

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
