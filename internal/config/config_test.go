package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MONEYSYNC_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Cooldown)
	assert.Equal(t, 3, cfg.Match.DayWindow)
	assert.Equal(t, "sandbox", cfg.Plaid.Environment)
	assert.Equal(t, 500, cfg.Plaid.PageSize)
	assert.Equal(t, "keyword", cfg.LLM.Provider)
	tol, err := cfg.Match.Tolerance()
	require.NoError(t, err)
	assert.Equal(t, "0.01", tol.String())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
path = "/tmp/ms.db"

[match]
amount_tolerance = "0.05"
day_window = 5

[sync]
cooldown = "10m"
`), 0o600))
	t.Setenv("MONEYSYNC_CONFIG", path)
	t.Setenv("MONEYSYNC_PLAID_CLIENT_ID", "from-env")
	t.Setenv("MONEYSYNC_MATCH_DAY_WINDOW", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ms.db", cfg.Database.Path)
	assert.Equal(t, "from-env", cfg.Plaid.ClientID)
	assert.Equal(t, 7, cfg.Match.DayWindow)
	assert.Equal(t, 10*time.Minute, cfg.Sync.Cooldown)
	assert.Equal(t, "0.05", cfg.Match.AmountTolerance)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[match]\namount_tolerance = \"abc\"\n"), 0o600))
	t.Setenv("MONEYSYNC_CONFIG", path)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount_tolerance")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	t.Setenv("MONEYSYNC_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	cfg.Database.Path = "/data/money.db"
	cfg.Sync.Concurrency = 4
	cfg.LLM.Provider = "gemini"
	cfg.Plaid.Secret = "do-not-write"
	require.NoError(t, Save(cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "do-not-write")

	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/money.db", got.Database.Path)
	assert.Equal(t, 4, got.Sync.Concurrency)
	assert.Equal(t, "gemini", got.LLM.Provider)
	assert.Equal(t, cfg.Sync.Cooldown, got.Sync.Cooldown)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := Config{
		Database: DatabaseConfig{Path: "x.db"},
		Sync:     SyncConfig{Concurrency: 1},
		Match:    MatchConfig{AmountTolerance: "0.01", DayWindow: 3},
		LLM:      LLMConfig{Provider: "keyword"},
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.Match.DayWindow = -1
	require.Error(t, bad.Validate())

	bad = base
	bad.Sync.Concurrency = 0
	require.Error(t, bad.Validate())

	bad = base
	bad.LLM.Provider = "openai"
	require.Error(t, bad.Validate())

	bad = base
	bad.Match.AmountTolerance = "-1"
	require.Error(t, bad.Validate())

	bad = base
	bad.Match.MinSimilarity = 1.5
	require.Error(t, bad.Validate())
}
