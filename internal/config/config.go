// Package config loads and persists the workflow configuration (spec
// §4.9's WorkflowConfig): Source/Target connection details plus the ETL
// executor's tuning knobs, grounded on the teacher's internal/config's
// atomic-JSON-save + applyDefaults + mutex-guarded-access pattern.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/heymumford/ztoq-migrate/internal/observability"
	"github.com/heymumford/ztoq-migrate/internal/retry"
)

// EndpointConfig is one side's connection details (Source or Target).
type EndpointConfig struct {
	BaseURL  string `json:"base_url"`
	APIToken string `json:"api_token"`
}

// WorkflowConfig holds everything an orchestrator.Orchestrator needs to run
// one project's migration.
type WorkflowConfig struct {
	ProjectKey string `json:"project_key"`

	Source EndpointConfig `json:"source"`
	Target EndpointConfig `json:"target"`

	BatchSize  int `json:"batch_size"`
	MaxWorkers int `json:"max_workers"`

	ValidationEnabled   bool `json:"validation_enabled"`
	RollbackEnabled     bool `json:"rollback_enabled"`
	UseBatchTransformer bool `json:"use_batch_transformer"`

	AttachmentsDir string        `json:"attachments_dir,omitempty"`
	OutputDir      string        `json:"output_dir,omitempty"`
	Timeout        time.Duration `json:"timeout"`

	// Retry configuration
	MaxRetries      int           `json:"max_retries"`
	RetryBackoff    time.Duration `json:"retry_backoff"`
	RetryMaxBackoff time.Duration `json:"retry_max_backoff"`

	// HTTP status surface (spec §10's optional status/report server)
	HTTPAddr string `json:"http_addr"`

	// Logging configuration
	LogLevel string `json:"log_level"`

	// Data directory for persisted state
	DataDir string `json:"data_dir"`

	mu sync.RWMutex
}

// DefaultConfig returns a configuration with sensible defaults. ProjectKey
// and the endpoint credentials are left blank; callers must supply them.
func DefaultConfig() *WorkflowConfig {
	return &WorkflowConfig{
		BatchSize:           50,
		MaxWorkers:          4,
		ValidationEnabled:   true,
		RollbackEnabled:     true,
		UseBatchTransformer: true,
		Timeout:             time.Hour,
		MaxRetries:          3,
		RetryBackoff:        time.Second,
		RetryMaxBackoff:     time.Minute,
		HTTPAddr:            ":8080",
		LogLevel:            "info",
		DataDir:             "",
	}
}

// LoadConfig loads configuration from a file or returns default config.
func LoadConfig(path string) (*WorkflowConfig, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, ".ztoq-migrate", "config.json")
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg WorkflowConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Save saves the configuration to a file, atomically (write to a temp file,
// then rename over the destination) so a crash mid-write never leaves a
// half-written config behind.
func (c *WorkflowConfig) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".ztoq-migrate", "config.json")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	return nil
}

// Redact returns a redacted copy of the config for logging, masking both
// endpoints' API tokens.
func (c *WorkflowConfig) Redact() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"project_key":           c.ProjectKey,
		"source_base_url":       c.Source.BaseURL,
		"source_api_token":      "***REDACTED***",
		"target_base_url":       c.Target.BaseURL,
		"target_api_token":      "***REDACTED***",
		"batch_size":            c.BatchSize,
		"max_workers":           c.MaxWorkers,
		"validation_enabled":    c.ValidationEnabled,
		"rollback_enabled":      c.RollbackEnabled,
		"use_batch_transformer": c.UseBatchTransformer,
		"timeout":               c.Timeout,
		"max_retries":           c.MaxRetries,
		"http_addr":             observability.RedactString(c.HTTPAddr),
		"log_level":             c.LogLevel,
	}
}

func applyDefaults(cfg *WorkflowConfig) {
	defaults := DefaultConfig()

	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = defaults.MaxWorkers
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = defaults.RetryBackoff
	}
	if cfg.RetryMaxBackoff == 0 {
		cfg.RetryMaxBackoff = defaults.RetryMaxBackoff
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaults.HTTPAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
}

// RetryPolicy builds a retry.Policy from the config's retry fields, keeping
// retry.Default()'s status-code set and classifiers (this config only tunes
// attempt count and backoff, not which errors are treated as transient).
func (c *WorkflowConfig) RetryPolicy() retry.Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p := retry.Default()
	p.MaxRetries = c.MaxRetries
	p.InitialDelay = c.RetryBackoff
	return p
}

// SetProjectKey updates the project key under lock.
func (c *WorkflowConfig) SetProjectKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ProjectKey = key
}
