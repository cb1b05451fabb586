// Package config loads steward configuration from YAML with environment
// overrides.
//
// Precedence (highest to lowest):
//  1. Environment variables (STEWARD_MODEL_NAME, STEWARD_ENGINE_MAX_ATTEMPTS, ...)
//  2. YAML config file
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/steward-labs/steward/engine/guardrail"
)

const envPrefix = "STEWARD_"

const maxConfigFileSize = 1 << 20

// Config is the full runtime configuration.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Model     ModelConfig     `koanf:"model"`
	Engine    EngineConfig    `koanf:"engine"`
	Audit     AuditConfig     `koanf:"audit"`
	Server    ServerConfig    `koanf:"server"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Tools     ToolsConfig     `koanf:"tools"`
	Guardrail GuardrailConfig `koanf:"guardrail"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// ModelConfig selects and authenticates the language model backend.
type ModelConfig struct {
	Name        string  `koanf:"name"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      string  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
}

// EngineConfig bounds orchestration behavior.
type EngineConfig struct {
	MaxConcurrent        int           `koanf:"max_concurrent"`
	MaxAttempts          int           `koanf:"max_attempts"`
	MaxReplans           int           `koanf:"max_replans"`
	ApprovalTTL          time.Duration `koanf:"approval_ttl"`
	ToolTimeout          time.Duration `koanf:"tool_timeout"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
}

// AuditConfig controls the audit ledger sink.
type AuditConfig struct {
	// Path appends every record as a JSON line. Empty disables the file sink.
	Path string `koanf:"path"`
}

// ServerConfig controls the HTTP API surface.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Endpoint string `koanf:"endpoint"` // empty disables tracing
}

// ToolsConfig configures the built-in tool contracts.
type ToolsConfig struct {
	// WorkspaceRoot confines filesystem tool operations.
	WorkspaceRoot string `koanf:"workspace_root"`
	// GitHubToken authenticates the github tool. Empty disables it.
	GitHubToken string `koanf:"github_token"`
	// CodeExecTimeout bounds a single code execution.
	CodeExecTimeout time.Duration `koanf:"code_exec_timeout"`
}

// GuardrailConfig declares the risk policy as data.
type GuardrailConfig struct {
	// Rules maps "tool" or "tool.action" to a risk tier name.
	Rules map[string]string `koanf:"rules"`
	// SerializeTiers lists tiers whose steps never run concurrently with
	// one another. Defaults to ["require_approval"].
	SerializeTiers []string `koanf:"serialize_tiers"`
}

// Load reads configuration from an optional YAML file and the environment.
// A missing file is not an error; defaults plus environment win.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		info, err := os.Stat(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to defaults.
		case err != nil:
			return nil, fmt.Errorf("stat config file: %w", err)
		case info.Size() > maxConfigFileSize:
			return nil, fmt.Errorf("config file too large: %d bytes", info.Size())
		default:
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	// STEWARD_MODEL_NAME -> model.name, STEWARD_ENGINE_MAX_ATTEMPTS -> engine.max_attempts
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Model.Name == "" {
		cfg.Model.Name = "gpt-4o-mini"
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if cfg.Engine.MaxConcurrent == 0 {
		cfg.Engine.MaxConcurrent = 4
	}
	if cfg.Engine.MaxAttempts == 0 {
		cfg.Engine.MaxAttempts = 3
	}
	if cfg.Engine.MaxReplans == 0 {
		cfg.Engine.MaxReplans = 1
	}
	if cfg.Engine.ApprovalTTL == 0 {
		cfg.Engine.ApprovalTTL = 15 * time.Minute
	}
	if cfg.Engine.ToolTimeout == 0 {
		cfg.Engine.ToolTimeout = 60 * time.Second
	}
	if cfg.Engine.RetryInitialInterval == 0 {
		cfg.Engine.RetryInitialInterval = 500 * time.Millisecond
	}
	if cfg.Engine.RetryMaxInterval == 0 {
		cfg.Engine.RetryMaxInterval = 10 * time.Second
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8787"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Tools.WorkspaceRoot == "" {
		cfg.Tools.WorkspaceRoot = "."
	}
	if cfg.Tools.GitHubToken == "" {
		cfg.Tools.GitHubToken = os.Getenv("GITHUB_TOKEN")
	}
	if cfg.Tools.CodeExecTimeout == 0 {
		cfg.Tools.CodeExecTimeout = 30 * time.Second
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be positive")
	}
	if c.Engine.MaxReplans < 0 {
		return fmt.Errorf("engine.max_replans must not be negative")
	}
	for key, tier := range c.Guardrail.Rules {
		if _, err := guardrail.TierFromString(tier); err != nil {
			return fmt.Errorf("guardrail rule %q: %w", key, err)
		}
	}
	for _, tier := range c.Guardrail.SerializeTiers {
		if _, err := guardrail.TierFromString(tier); err != nil {
			return fmt.Errorf("guardrail serialize tier: %w", err)
		}
	}
	return nil
}

// PolicyTable builds the guardrail policy from configuration. Without
// explicit rules the built-in policy applies.
func (c *Config) PolicyTable() *guardrail.PolicyTable {
	if len(c.Guardrail.Rules) == 0 {
		table := guardrail.DefaultPolicyTable()
		c.applySerializeTiers(table)
		return table
	}

	table := guardrail.NewPolicyTable()
	for key, tierName := range c.Guardrail.Rules {
		tier, _ := guardrail.TierFromString(tierName)
		tool, action := splitRuleKey(key)
		table.Set(tool, action, tier)
	}
	c.applySerializeTiers(table)
	return table
}

func (c *Config) applySerializeTiers(table *guardrail.PolicyTable) {
	if len(c.Guardrail.SerializeTiers) == 0 {
		return
	}
	tiers := make([]guardrail.Tier, 0, len(c.Guardrail.SerializeTiers))
	for _, name := range c.Guardrail.SerializeTiers {
		tier, _ := guardrail.TierFromString(name)
		tiers = append(tiers, tier)
	}
	table.SetSerializeTiers(tiers)
}

// splitRuleKey parses "tool.action" or bare "tool" (wildcard action).
func splitRuleKey(key string) (tool, action string) {
	if i := strings.IndexByte(key, '.'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, guardrail.Wildcard
}
