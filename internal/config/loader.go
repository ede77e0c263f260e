// Package config provides configuration loading for remedyd.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (WORKFLOW_MAX_ITERATIONS, GITHUB_TOKEN, ...)
//  2. YAML config file (~/.config/remedyd/config.yaml by default)
//  3. Hardcoded defaults
//
// The config file must live under ~/.config/remedyd/ or /etc/remedyd/, be at
// most 1MB, and carry 0600 or 0400 permissions. Environment variables map to
// YAML paths by splitting on the first underscore:
//
//	WORKFLOW_MAX_ITERATIONS -> workflow.max_iterations
//	GITHUB_TOKEN            -> github.token
//	HTTP_PORT               -> http.port
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "remedyd", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate via the file descriptor to avoid a TOCTOU
		// race between stat and read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		// Section and field split on the first underscore:
		// WORKFLOW_MAX_ITERATIONS -> workflow.max_iterations
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validateConfigPath checks that path is in an allowed directory.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// A path that does not exist yet still gets validated.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "remedyd"),
		"/etc/remedyd",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/remedyd/ or /etc/remedyd/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "localhost"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 9085
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "remedyd.runs"
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o"
	}

	if cfg.Workflow.MaxIterations == 0 {
		cfg.Workflow.MaxIterations = 3
	}
	if cfg.Workflow.CallBudget == 0 {
		cfg.Workflow.CallBudget = 100
	}
	if cfg.Workflow.PollInterval == 0 {
		cfg.Workflow.PollInterval = Duration(30 * time.Second)
	}
	if cfg.Workflow.Retry.MaxRetries == 0 {
		cfg.Workflow.Retry.MaxRetries = 3
	}
	if cfg.Workflow.Retry.InitialDelay == 0 {
		cfg.Workflow.Retry.InitialDelay = Duration(time.Second)
	}
	if cfg.Workflow.Retry.MaxDelay == 0 {
		cfg.Workflow.Retry.MaxDelay = Duration(30 * time.Second)
	}
	if cfg.Workflow.Retry.Multiplier == 0 {
		cfg.Workflow.Retry.Multiplier = 2.0
	}
	if cfg.Workflow.Compaction.ResultBudget == 0 {
		cfg.Workflow.Compaction.ResultBudget = 500
	}
	if cfg.Workflow.Compaction.InstructionBudget == 0 {
		cfg.Workflow.Compaction.InstructionBudget = 200
	}
	if cfg.Workflow.Compaction.SizeThreshold == 0 {
		cfg.Workflow.Compaction.SizeThreshold = 80000
	}
	if cfg.Workflow.Compaction.ReasoningBudget == 0 {
		cfg.Workflow.Compaction.ReasoningBudget = 200
	}
	if cfg.Workflow.Compaction.PreserveRecent == 0 {
		cfg.Workflow.Compaction.PreserveRecent = 10
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "remedyd"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
}
