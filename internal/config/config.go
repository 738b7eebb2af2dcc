// Package config loads the kernel's own startup configuration: worker
// count, default budgets, timeouts, and logging. Env-var expansion, YAML
// decode into a typed struct, defaulting, and a closed config schema
// version with a dedicated error type.
package config

import (
	"fmt"
	"time"
)

// CurrentVersion is the config schema version this build understands.
const CurrentVersion = 1

// VersionError reports a config file whose declared version this build
// cannot load.
type VersionError struct {
	Version int
	Current int
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Version > e.Current {
		return fmt.Sprintf("config version %d is newer than this build (current: %d); upgrade the kernel binary", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is unsupported (current: %d); migrate the config file", e.Version, e.Current)
}

// ValidateVersion rejects any version other than CurrentVersion. Only one
// schema version has shipped so far; the outdated/too-new distinction
// lives in the error message, not the check.
func ValidateVersion(version int) error {
	if version != CurrentVersion {
		return &VersionError{Version: version, Current: CurrentVersion}
	}
	return nil
}

// WorkerConfig configures the Worker Pool.
type WorkerConfig struct {
	Count            int           `yaml:"count"`
	ShutdownGrace    time.Duration `yaml:"shutdownGrace"`
	MaxDurationMs    int64         `yaml:"maxDurationMs"`
	NodeDeadlineMs   int64         `yaml:"nodeDeadlineMs"`
}

// BudgetConfig configures the Budget/Rate Manager's defaults.
type BudgetConfig struct {
	DefaultTokenBudget int64   `yaml:"defaultTokenBudget"`
	DefaultMaxUSD      float64 `yaml:"defaultMaxUsd"`
	WarnThresholdPct   float64 `yaml:"warnThresholdPct"`
}

// SnapshotConfig selects and configures the Snapshot Store backend
//.
type SnapshotConfig struct {
	Backend string `yaml:"backend"` // "memory", "sqlite", or "postgres"
	Path    string `yaml:"path"`    // sqlite file path, when Backend == "sqlite"
	DSN     string `yaml:"dsn"`     // postgres connection string, when Backend == "postgres"
}

// LogConfig configures internal/kernellog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProviderConfig configures the Provider Router and the concrete LLM
// providers it routes to.
type ProviderConfig struct {
	Strategy            string           `yaml:"strategy"`
	MaxFallbackAttempts int              `yaml:"maxFallbackAttempts"`
	Anthropic           *AnthropicConfig `yaml:"anthropic,omitempty"`
	OpenAI              *OpenAIConfig    `yaml:"openai,omitempty"`
	Bedrock             *BedrockConfig   `yaml:"bedrock,omitempty"`
	Gemini              *GeminiConfig    `yaml:"gemini,omitempty"`
}

// AnthropicConfig configures the Anthropic Messages API adapter
// (internal/provider/anthropic). APIKey is read from ANTHROPIC_API_KEY via
// os.ExpandEnv when written as "${ANTHROPIC_API_KEY}" in the YAML file.
type AnthropicConfig struct {
	APIKey       string `yaml:"apiKey"`
	BaseURL      string `yaml:"baseUrl"`
	DefaultModel string `yaml:"defaultModel"`
}

// OpenAIConfig configures the OpenAI Chat Completions adapter
// (internal/provider/openai).
type OpenAIConfig struct {
	APIKey       string `yaml:"apiKey"`
	BaseURL      string `yaml:"baseUrl"`
	DefaultModel string `yaml:"defaultModel"`
}

// BedrockConfig configures the AWS Bedrock Converse adapter
// (internal/provider/bedrock). AccessKeyID/SecretAccessKey are optional;
// when empty, the adapter falls back to the default AWS credential chain.
type BedrockConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	DefaultModel    string `yaml:"defaultModel"`
}

// GeminiConfig configures the Google Gemini adapter
// (internal/provider/gemini).
type GeminiConfig struct {
	APIKey       string `yaml:"apiKey"`
	DefaultModel string `yaml:"defaultModel"`
}

// TransportConfig configures the reference gRPC Transport. GRPCAddr empty means the Transport is not started.
type TransportConfig struct {
	GRPCAddr    string        `yaml:"grpcAddr"`
	TokenSecret string        `yaml:"tokenSecret"`
	TokenTTL    time.Duration `yaml:"tokenTtl"`
}

// DeployConfig points at the bundle of graphs and agents a Runtime serves
// (internal/deploy).
type DeployConfig struct {
	BundlePath string `yaml:"bundlePath"`
}

// ObservabilityConfig configures Prometheus metrics exposition and OTLP
// tracing (internal/observability).
type ObservabilityConfig struct {
	MetricsAddr    string  `yaml:"metricsAddr"`
	TraceEndpoint  string  `yaml:"traceEndpoint"`
	TraceSampling  float64 `yaml:"traceSampling"`
}

// Config is the top-level Runtime startup configuration.
type Config struct {
	Version       int                 `yaml:"version"`
	Worker        WorkerConfig        `yaml:"worker"`
	Budget        BudgetConfig        `yaml:"budget"`
	Snapshot      SnapshotConfig      `yaml:"snapshot"`
	Log           LogConfig           `yaml:"log"`
	Provider      ProviderConfig      `yaml:"provider"`
	Transport     TransportConfig     `yaml:"transport"`
	Deploy        DeployConfig        `yaml:"deploy"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Default returns a configuration with every field populated with a sane
// zero-config value, so a deployment can start from an empty file.
func Default() Config {
	return Config{
		Version: CurrentVersion,
		Worker: WorkerConfig{
			Count:          4,
			ShutdownGrace:  30 * time.Second,
			MaxDurationMs:  5 * 60 * 1000,
			NodeDeadlineMs: 60 * 1000,
		},
		Budget: BudgetConfig{
			DefaultTokenBudget: 100_000,
			DefaultMaxUSD:      5.0,
			WarnThresholdPct:   0.8,
		},
		Snapshot: SnapshotConfig{
			Backend: "memory",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Provider: ProviderConfig{
			Strategy:            "priority",
			MaxFallbackAttempts: 3,
		},
	}
}

// applyDefaults fills zero-valued fields with Default()'s values, so a
// partially-specified YAML document loads without every field set
// explicitly.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Version == 0 {
		c.Version = d.Version
	}
	if c.Worker.Count == 0 {
		c.Worker.Count = d.Worker.Count
	}
	if c.Worker.ShutdownGrace == 0 {
		c.Worker.ShutdownGrace = d.Worker.ShutdownGrace
	}
	if c.Worker.MaxDurationMs == 0 {
		c.Worker.MaxDurationMs = d.Worker.MaxDurationMs
	}
	if c.Worker.NodeDeadlineMs == 0 {
		c.Worker.NodeDeadlineMs = d.Worker.NodeDeadlineMs
	}
	if c.Budget.DefaultTokenBudget == 0 {
		c.Budget.DefaultTokenBudget = d.Budget.DefaultTokenBudget
	}
	if c.Budget.WarnThresholdPct == 0 {
		c.Budget.WarnThresholdPct = d.Budget.WarnThresholdPct
	}
	if c.Snapshot.Backend == "" {
		c.Snapshot.Backend = d.Snapshot.Backend
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Provider.Strategy == "" {
		c.Provider.Strategy = d.Provider.Strategy
	}
	if c.Provider.MaxFallbackAttempts == 0 {
		c.Provider.MaxFallbackAttempts = d.Provider.MaxFallbackAttempts
	}
}

// Validate rejects a config whose schema version this build can't load or
// whose snapshot backend isn't one of the three shipped implementations.
func (c *Config) Validate() error {
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}
	switch c.Snapshot.Backend {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown snapshot backend %q", c.Snapshot.Backend)
	}
	if c.Snapshot.Backend == "sqlite" && c.Snapshot.Path == "" {
		return fmt.Errorf("config: snapshot.path is required when snapshot.backend is \"sqlite\"")
	}
	if c.Snapshot.Backend == "postgres" && c.Snapshot.DSN == "" {
		return fmt.Errorf("config: snapshot.dsn is required when snapshot.backend is \"postgres\"")
	}
	return nil
}
