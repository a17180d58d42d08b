// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates engine configuration from
// environment variables, optionally overlaid with a YAML file.
//
// Unlike a typical CLI utility's config package, this one returns an
// explicit *Config from Load rather than populating a package-level
// singleton: the design notes call out the pool and limiter as the
// only legitimate process-wide globals, and config must be safe to
// load distinctly in tests.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig holds the main-agent loop bounds from §6's
// `agent.main_agent.*` keys.
type AgentConfig struct {
	MaxTurns            int `yaml:"max_turns"`
	KeepToolResult      int `yaml:"keep_tool_result"`
	ContextCompressLimit int `yaml:"context_compress_limit"`
}

// ToolConfig is one entry of the `tools.<name>.*` table.
type ToolConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Config is the fully resolved, validated engine configuration.
type Config struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"-"` // never serialized; held in secrets.Store
	ModelName string `yaml:"model_name"`

	SummaryBaseURL   string `yaml:"summary_base_url"`
	SummaryModelName string `yaml:"summary_model_name"`
	SummaryAPIKey    string `yaml:"-"`

	PipelinePoolSize      int `yaml:"pipeline_pool_size"`
	MaxConcurrentRequests int `yaml:"max_concurrent_requests"`
	MaxHistoryTokens      int `yaml:"max_history_tokens"`

	ContextCompressionEnabled bool `yaml:"context_compression_enabled"`

	MainAgent AgentConfig            `yaml:"main_agent"`
	SubAgent  AgentConfig            `yaml:"sub_agent"`
	Tools     map[string]ToolConfig  `yaml:"tools"`

	MaxContextLength      int           `yaml:"max_context_length"`
	LLMRequestsPerSecond  float64       `yaml:"llm_requests_per_second"`
	TaskTimeout           time.Duration `yaml:"-"`
	LLMCallTimeout        time.Duration `yaml:"-"`
	ToolCallTimeout       time.Duration `yaml:"-"`

	DemoMode         bool `yaml:"demo_mode"`
	MaxResponseBytes int  `yaml:"max_response_bytes"`

	ListenAddr string `yaml:"listen_addr"`

	// OTelEndpoint is the OTLP/gRPC collector address for distributed
	// tracing. Empty disables the exporter and traces go to stdout
	// instead, matching the teacher's dev-mode fallback.
	OTelEndpoint string `yaml:"otel_endpoint"`

	// LogDir enables file logging alongside stderr, per
	// pkg/logging.Config. Empty disables file logging.
	LogDir string `yaml:"log_dir"`
	// LogJSON switches stderr output from human-readable text to JSON.
	LogJSON bool `yaml:"log_json"`
}

const (
	// EXTRA_ATTEMPTS_BUFFER bounds total_attempts beyond max_turns, per
	// spec.md's invariant 1.
	ExtraAttemptsBuffer = 5
	// MaxConsecutiveRollbacks is the hard ceiling from spec.md invariant 2.
	MaxConsecutiveRollbacks = 5
	// MaxFinalizationAttempts bounds retry-with-failure-experience.
	MaxFinalizationAttempts = 3
)

// Default returns a Config populated with the same defaults the
// teacher's service layer applies, generalized to this engine's
// configuration surface.
func Default() Config {
	return Config{
		BaseURL:               "https://api.openai.com/v1",
		ModelName:             "gpt-4o-mini",
		PipelinePoolSize:      4,
		MaxConcurrentRequests: 8,
		MaxHistoryTokens:      8000,
		MainAgent: AgentConfig{
			MaxTurns:             20,
			KeepToolResult:       -1,
			ContextCompressLimit: 0,
		},
		SubAgent: AgentConfig{
			MaxTurns:             10,
			KeepToolResult:       -1,
			ContextCompressLimit: 0,
		},
		Tools:            map[string]ToolConfig{},
		MaxContextLength: 128000,
		TaskTimeout:      30 * time.Minute,
		LLMCallTimeout:   2 * time.Minute,
		ToolCallTimeout:  60 * time.Second,
		MaxResponseBytes: 16 * 1024,
		ListenAddr:       ":8080",
	}
}

// Load resolves configuration: start from Default(), overlay an
// optional YAML file at yamlPath (skipped if empty or missing), then
// overlay environment variables per §6's configuration table, which
// take final precedence. It validates the result before returning.
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config file %s: %w", yamlPath, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	intVal := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	floatVal := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	boolVal := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "1" || v == "true" || v == "yes"
		}
	}

	str("BASE_URL", &cfg.BaseURL)
	str("API_KEY", &cfg.APIKey)
	str("MODEL_NAME", &cfg.ModelName)
	str("SUMMARY_LLM_BASE_URL", &cfg.SummaryBaseURL)
	str("SUMMARY_LLM_MODEL_NAME", &cfg.SummaryModelName)
	str("SUMMARY_LLM_API_KEY", &cfg.SummaryAPIKey)
	str("OTEL_ENDPOINT", &cfg.OTelEndpoint)
	floatVal("LLM_REQUESTS_PER_SECOND", &cfg.LLMRequestsPerSecond)
	str("LOG_DIR", &cfg.LogDir)
	boolVal("LOG_JSON", &cfg.LogJSON)

	intVal("PIPELINE_POOL_SIZE", &cfg.PipelinePoolSize)
	intVal("MAX_CONCURRENT_REQUESTS", &cfg.MaxConcurrentRequests)
	intVal("MAX_HISTORY_TOKENS", &cfg.MaxHistoryTokens)
	boolVal("CONTEXT_COMPRESSION_ENABLED", &cfg.ContextCompressionEnabled)

	intVal("AGENT_MAIN_AGENT_MAX_TURNS", &cfg.MainAgent.MaxTurns)
	intVal("AGENT_MAIN_AGENT_KEEP_TOOL_RESULT", &cfg.MainAgent.KeepToolResult)
	intVal("AGENT_MAIN_AGENT_CONTEXT_COMPRESS_LIMIT", &cfg.MainAgent.ContextCompressLimit)

	if cfg.SummaryBaseURL == "" {
		cfg.SummaryBaseURL = cfg.BaseURL
	}
	if cfg.SummaryModelName == "" {
		cfg.SummaryModelName = cfg.ModelName
	}
	if cfg.SummaryAPIKey == "" {
		cfg.SummaryAPIKey = cfg.APIKey
	}
}

// Validate rejects configurations that would make the orchestrator's
// invariants unsatisfiable — exit code 1 (fatal config error) per §6.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: API_KEY is required")
	}
	if c.MainAgent.MaxTurns <= 0 {
		return fmt.Errorf("config: agent.main_agent.max_turns must be > 0")
	}
	if c.PipelinePoolSize <= 0 {
		return fmt.Errorf("config: PIPELINE_POOL_SIZE must be > 0")
	}
	if c.MaxConcurrentRequests < c.PipelinePoolSize {
		return fmt.Errorf("config: MAX_CONCURRENT_REQUESTS must be >= PIPELINE_POOL_SIZE")
	}
	if c.MaxContextLength <= 0 {
		return fmt.Errorf("config: max_context_length must be > 0")
	}
	return nil
}
