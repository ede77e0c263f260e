package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig places a config file inside the allowed directory under a
// temporary HOME.
func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".config", "remedyd")
	require.NoError(t, os.MkdirAll(configDir, 0700))

	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), perm))
	return configPath
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	configPath := writeConfig(t, `
http:
  port: 9090
  host: 127.0.0.1

workflow:
  max_iterations: 5
  call_budget: 40
  add_tests: true
  retry:
    max_retries: 7
    initial_delay: 2s

github:
  token: ghp_testtoken
`, 0600)

	cfg, err := LoadWithFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)
	assert.Equal(t, 5, cfg.Workflow.MaxIterations)
	assert.Equal(t, 40, cfg.Workflow.CallBudget)
	assert.True(t, cfg.Workflow.AddTests)
	assert.Equal(t, 7, cfg.Workflow.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Workflow.Retry.InitialDelay.Duration())
	assert.Equal(t, "ghp_testtoken", cfg.GitHub.Token.Value())
}

func TestLoadWithFile_DefaultsWhenFileAbsent(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 9085, cfg.HTTP.Port)
	assert.Equal(t, 3, cfg.Workflow.MaxIterations)
	assert.Equal(t, 100, cfg.Workflow.CallBudget)
	assert.Equal(t, 30*time.Second, cfg.Workflow.PollInterval.Duration())
	assert.Equal(t, 500, cfg.Workflow.Compaction.ResultBudget)
	assert.Equal(t, 200, cfg.Workflow.Compaction.InstructionBudget)
	assert.Equal(t, 80000, cfg.Workflow.Compaction.SizeThreshold)
	assert.Equal(t, 10, cfg.Workflow.Compaction.PreserveRecent)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "remedyd", cfg.Telemetry.ServiceName)
}

func TestLoadWithFile_EnvironmentOverridesYAML(t *testing.T) {
	configPath := writeConfig(t, `
workflow:
  max_iterations: 5
`, 0600)

	t.Setenv("WORKFLOW_MAX_ITERATIONS", "9")
	t.Setenv("HTTP_PORT", "7777")

	cfg, err := LoadWithFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Workflow.MaxIterations)
	assert.Equal(t, 7777, cfg.HTTP.Port)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	configPath := writeConfig(t, "http:\n  port: 9090\n", 0644)

	_, err := LoadWithFile(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("{}"), 0600))

	_, err := LoadWithFile(outside)
	require.Error(t, err)
}

func TestLoadWithFile_RejectsMalformedYAML(t *testing.T) {
	configPath := writeConfig(t, "workflow: [unclosed", 0600)

	_, err := LoadWithFile(configPath)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	t.Run("defaults pass", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("max iterations must be positive", func(t *testing.T) {
		cfg := valid()
		cfg.Workflow.MaxIterations = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("call budget must be positive", func(t *testing.T) {
		cfg := valid()
		cfg.Workflow.CallBudget = -5
		assert.Error(t, cfg.Validate())
	})

	t.Run("port range", func(t *testing.T) {
		cfg := valid()
		cfg.HTTP.Port = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown log format", func(t *testing.T) {
		cfg := valid()
		cfg.Logging.Format = "xml"
		assert.Error(t, cfg.Validate())
	})
}
