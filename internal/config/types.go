package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration for human-readable config values ("30s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret holds a sensitive value that must never appear in logs or JSON.
type Secret string

// String implements fmt.Stringer. Always returns the redacted value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value returns the actual secret value. Use sparingly.
func (s Secret) Value() string {
	return string(s)
}

// IsSet returns true if the secret has a non-empty value.
func (s Secret) IsSet() bool {
	return s != ""
}

// MarshalJSON implements json.Marshaler. Always returns the redacted value.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("[REDACTED]")
}

// MarshalText implements encoding.TextMarshaler. Always redacted.
func (s Secret) MarshalText() ([]byte, error) {
	if s == "" {
		return []byte(""), nil
	}
	return []byte("[REDACTED]"), nil
}

// Config is the root remedyd configuration.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	HTTP      HTTPConfig      `koanf:"http"`
	NATS      NATSConfig      `koanf:"nats"`
	GitHub    GitHubConfig    `koanf:"github"`
	LLM       LLMConfig       `koanf:"llm"`
	Workflow  WorkflowConfig  `koanf:"workflow"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// HTTPConfig configures the run-inspection API server.
type HTTPConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NATSConfig configures the progress event publisher.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// GitHubConfig configures access to the code host.
type GitHubConfig struct {
	Token Secret `koanf:"token"`
}

// LLMConfig configures the model backing the agents.
type LLMConfig struct {
	Model       string  `koanf:"model"`
	Temperature float64 `koanf:"temperature"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      Secret  `koanf:"api_key"`
}

// RetryConfig configures the external-call retry policy.
type RetryConfig struct {
	MaxRetries   int      `koanf:"max_retries"`
	InitialDelay Duration `koanf:"initial_delay"`
	MaxDelay     Duration `koanf:"max_delay"`
	Multiplier   float64  `koanf:"multiplier"`
}

// CompactionConfig holds the transcript compactor's character budgets.
type CompactionConfig struct {
	ResultBudget      int `koanf:"result_budget"`
	InstructionBudget int `koanf:"instruction_budget"`
	SizeThreshold     int `koanf:"size_threshold"`
	ReasoningBudget   int `koanf:"reasoning_budget"`
	PreserveRecent    int `koanf:"preserve_recent"`
}

// WorkflowConfig bounds a single run.
type WorkflowConfig struct {
	MaxIterations int              `koanf:"max_iterations"`
	CallBudget    int              `koanf:"call_budget"`
	AddTests      bool             `koanf:"add_tests"`
	PollInterval  Duration         `koanf:"poll_interval"`
	Retry         RetryConfig      `koanf:"retry"`
	Compaction    CompactionConfig `koanf:"compaction"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	Insecure    bool   `koanf:"insecure"`
	ServiceName string `koanf:"service_name"`
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Workflow.MaxIterations < 1 {
		return fmt.Errorf("workflow.max_iterations must be at least 1, got %d", c.Workflow.MaxIterations)
	}
	if c.Workflow.CallBudget < 1 {
		return fmt.Errorf("workflow.call_budget must be at least 1, got %d", c.Workflow.CallBudget)
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	if c.Workflow.Retry.Multiplier < 0 {
		return fmt.Errorf("workflow.retry.multiplier cannot be negative")
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url required when nats.enabled is true")
	}
	return nil
}
