package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().BatchSize, cfg.BatchSize)
	assert.True(t, cfg.ValidationEnabled)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.SetProjectKey("PROJ")
	cfg.Source.BaseURL = "https://source.example.com"
	cfg.Source.APIToken = "super-secret"
	cfg.Target.BaseURL = "https://target.example.com"
	cfg.BatchSize = 25

	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "PROJ", loaded.ProjectKey)
	assert.Equal(t, "https://source.example.com", loaded.Source.BaseURL)
	assert.Equal(t, "super-secret", loaded.Source.APIToken)
	assert.Equal(t, 25, loaded.BatchSize)
}

func TestLoadConfig_AppliesDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	partial := &WorkflowConfig{ProjectKey: "PROJ", BatchSize: 10}
	require.NoError(t, partial.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.BatchSize)
	assert.Equal(t, DefaultConfig().MaxWorkers, loaded.MaxWorkers)
	assert.Equal(t, DefaultConfig().Timeout, loaded.Timeout)
}

func TestRedact_MasksAPITokens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.APIToken = "top-secret"
	cfg.Target.APIToken = "also-secret"

	redacted := cfg.Redact()
	assert.Equal(t, "***REDACTED***", redacted["source_api_token"])
	assert.Equal(t, "***REDACTED***", redacted["target_api_token"])
}

func TestRetryPolicy_UsesConfiguredAttemptsAndDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 7

	p := cfg.RetryPolicy()
	assert.Equal(t, 7, p.MaxRetries)
	assert.Equal(t, cfg.RetryBackoff, p.InitialDelay)
}
