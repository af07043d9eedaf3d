package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/evidencechain/orchestrator/pkg/orchestrator"
)

// Config represents the complete application configuration
type Config struct {
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Agents        AgentsConfig        `yaml:"agents"`
	Evidence      EvidenceConfig      `yaml:"evidence"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	LLM           LLMConfig           `yaml:"llm"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// OrchestrationConfig controls plan scheduling and task lifecycle
type OrchestrationConfig struct {
	Strategy       string `yaml:"strategy"` // "sequential", "parallel", "adaptive"
	MaxAgents      int    `yaml:"max_agents"`
	AdaptiveWindow int    `yaml:"adaptive_window"`
	TaskTimeout    string `yaml:"task_timeout"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryDelay     string `yaml:"retry_delay"`
	CancelGrace    string `yaml:"cancel_grace"`
	MaxQueueDepth  int    `yaml:"max_queue_depth"`
	MaxPlanSteps   int    `yaml:"max_plan_steps"`
}

// AgentsConfig sets the agent pool composition and circuit breaker tuning
type AgentsConfig struct {
	ResearchAgents   int    `yaml:"research_agents"`
	EvidenceAgents   int    `yaml:"evidence_agents"`
	SynthesisAgents  int    `yaml:"synthesis_agents"`
	MaxTasksPerAgent int    `yaml:"max_tasks_per_agent"`
	BreakerThreshold int    `yaml:"breaker_threshold"`
	BreakerCooldown  string `yaml:"breaker_cooldown"`
}

// EvidenceConfig tunes deduplication and relationship inference
type EvidenceConfig struct {
	DedupeThreshold   float64 `yaml:"dedupe_threshold"`
	InferenceBatch    int     `yaml:"inference_batch"`
	PairwiseCap       int     `yaml:"pairwise_cap"`
	MinEdgeConfidence float64 `yaml:"min_edge_confidence"`
}

// SynthesisConfig tunes report generation
type SynthesisConfig struct {
	MinEvidenceThreshold int `yaml:"min_evidence_threshold"`
	TopThemes            int `yaml:"top_themes"`
	HighImpactFrequency  int `yaml:"high_impact_frequency"`
}

// LLMConfig selects the completion provider
type LLMConfig struct {
	Provider string       `yaml:"provider"` // "ollama", "openai"
	Ollama   OllamaConfig `yaml:"ollama"`
	OpenAI   OpenAIConfig `yaml:"openai"`
}

// OllamaConfig contains Ollama-specific configuration
type OllamaConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TopP        float64 `yaml:"top_p,omitempty"`
	Timeout     string  `yaml:"timeout"`
}

// OpenAIConfig contains OpenAI-specific configuration
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
}

// RetrievalConfig contains document retrieval configuration
type RetrievalConfig struct {
	BaseURL    string `yaml:"base_url"`
	MaxResults int    `yaml:"max_results"`
	Timeout    string `yaml:"timeout"`
}

// StorageConfig contains persistence configuration
type StorageConfig struct {
	Type string `yaml:"type"` // "memory", "file"
	Path string `yaml:"path,omitempty"`
}

// ObservabilityConfig contains observability configuration
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json"
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	config.overrideFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file or returns default config
func LoadOrDefault(path string) *Config {
	config, err := Load(path)
	if err != nil {
		config = Default()
	}
	return config
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Orchestration: OrchestrationConfig{
			Strategy:       string(orchestrator.StrategyParallel),
			MaxAgents:      3,
			AdaptiveWindow: 3,
			TaskTimeout:    "2m",
			MaxRetries:     2,
			RetryDelay:     "500ms",
			CancelGrace:    "5s",
			MaxQueueDepth:  100,
			MaxPlanSteps:   20,
		},
		Agents: AgentsConfig{
			ResearchAgents:   2,
			EvidenceAgents:   1,
			SynthesisAgents:  1,
			MaxTasksPerAgent: 1,
			BreakerThreshold: 3,
			BreakerCooldown:  "30s",
		},
		Evidence: EvidenceConfig{
			DedupeThreshold:   0.95,
			InferenceBatch:    5,
			PairwiseCap:       200,
			MinEdgeConfidence: 0.3,
		},
		Synthesis: SynthesisConfig{
			MinEvidenceThreshold: 3,
			TopThemes:            3,
			HighImpactFrequency:  5,
		},
		LLM: LLMConfig{
			Provider: "ollama",
			Ollama: OllamaConfig{
				BaseURL:     "http://localhost:11434",
				Model:       "llama3.2",
				Temperature: 0.7,
				MaxTokens:   2048,
				Timeout:     "2m",
			},
			OpenAI: OpenAIConfig{
				Model: "gpt-4o-mini",
			},
		},
		Retrieval: RetrievalConfig{
			BaseURL:    "http://localhost:8081",
			MaxResults: 10,
			Timeout:    "30s",
		},
		Storage: StorageConfig{
			Type: "memory",
			Path: "./data",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:      true,
				Endpoint:     "localhost:4318",
				SamplingRate: 1.0,
				Insecure:     true,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Port:    2223,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
	}
}

// applyDefaults applies default values to missing fields
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Orchestration.Strategy == "" {
		c.Orchestration.Strategy = defaults.Orchestration.Strategy
	}
	if c.Orchestration.MaxAgents == 0 {
		c.Orchestration.MaxAgents = defaults.Orchestration.MaxAgents
	}
	if c.Orchestration.AdaptiveWindow == 0 {
		c.Orchestration.AdaptiveWindow = defaults.Orchestration.AdaptiveWindow
	}
	if c.Orchestration.TaskTimeout == "" {
		c.Orchestration.TaskTimeout = defaults.Orchestration.TaskTimeout
	}
	if c.Orchestration.RetryDelay == "" {
		c.Orchestration.RetryDelay = defaults.Orchestration.RetryDelay
	}
	if c.Orchestration.CancelGrace == "" {
		c.Orchestration.CancelGrace = defaults.Orchestration.CancelGrace
	}
	if c.Orchestration.MaxQueueDepth == 0 {
		c.Orchestration.MaxQueueDepth = defaults.Orchestration.MaxQueueDepth
	}
	if c.Orchestration.MaxPlanSteps == 0 {
		c.Orchestration.MaxPlanSteps = defaults.Orchestration.MaxPlanSteps
	}

	if c.Agents.ResearchAgents == 0 {
		c.Agents.ResearchAgents = defaults.Agents.ResearchAgents
	}
	if c.Agents.MaxTasksPerAgent == 0 {
		c.Agents.MaxTasksPerAgent = defaults.Agents.MaxTasksPerAgent
	}
	if c.Agents.BreakerThreshold == 0 {
		c.Agents.BreakerThreshold = defaults.Agents.BreakerThreshold
	}
	if c.Agents.BreakerCooldown == "" {
		c.Agents.BreakerCooldown = defaults.Agents.BreakerCooldown
	}

	if c.Evidence.DedupeThreshold == 0 {
		c.Evidence.DedupeThreshold = defaults.Evidence.DedupeThreshold
	}
	if c.Evidence.InferenceBatch == 0 {
		c.Evidence.InferenceBatch = defaults.Evidence.InferenceBatch
	}
	if c.Evidence.PairwiseCap == 0 {
		c.Evidence.PairwiseCap = defaults.Evidence.PairwiseCap
	}
	if c.Evidence.MinEdgeConfidence == 0 {
		c.Evidence.MinEdgeConfidence = defaults.Evidence.MinEdgeConfidence
	}

	if c.Synthesis.MinEvidenceThreshold == 0 {
		c.Synthesis.MinEvidenceThreshold = defaults.Synthesis.MinEvidenceThreshold
	}
	if c.Synthesis.TopThemes == 0 {
		c.Synthesis.TopThemes = defaults.Synthesis.TopThemes
	}
	if c.Synthesis.HighImpactFrequency == 0 {
		c.Synthesis.HighImpactFrequency = defaults.Synthesis.HighImpactFrequency
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = defaults.LLM.Provider
	}
	if c.LLM.Ollama.BaseURL == "" {
		c.LLM.Ollama.BaseURL = defaults.LLM.Ollama.BaseURL
	}
	if c.LLM.Ollama.Model == "" {
		c.LLM.Ollama.Model = defaults.LLM.Ollama.Model
	}
	if c.LLM.Ollama.Temperature == 0 {
		c.LLM.Ollama.Temperature = defaults.LLM.Ollama.Temperature
	}
	if c.LLM.Ollama.MaxTokens == 0 {
		c.LLM.Ollama.MaxTokens = defaults.LLM.Ollama.MaxTokens
	}
	if c.LLM.Ollama.Timeout == "" {
		c.LLM.Ollama.Timeout = defaults.LLM.Ollama.Timeout
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = defaults.LLM.OpenAI.Model
	}

	if c.Retrieval.BaseURL == "" {
		c.Retrieval.BaseURL = defaults.Retrieval.BaseURL
	}
	if c.Retrieval.MaxResults == 0 {
		c.Retrieval.MaxResults = defaults.Retrieval.MaxResults
	}
	if c.Retrieval.Timeout == "" {
		c.Retrieval.Timeout = defaults.Retrieval.Timeout
	}

	if c.Storage.Type == "" {
		c.Storage.Type = defaults.Storage.Type
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaults.Storage.Path
	}

	if c.Observability.Tracing.Endpoint == "" {
		c.Observability.Tracing.Endpoint = defaults.Observability.Tracing.Endpoint
	}
	if c.Observability.Tracing.SamplingRate == 0 {
		c.Observability.Tracing.SamplingRate = defaults.Observability.Tracing.SamplingRate
	}
	if c.Observability.Metrics.Port == 0 {
		c.Observability.Metrics.Port = defaults.Observability.Metrics.Port
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = defaults.Observability.Logging.Level
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = defaults.Observability.Logging.Format
	}
}

// overrideFromEnv overrides configuration from environment variables
func (c *Config) overrideFromEnv() {
	if strategy := os.Getenv("ECO_STRATEGY"); strategy != "" {
		c.Orchestration.Strategy = strategy
	}
	if agents := os.Getenv("ECO_MAX_AGENTS"); agents != "" {
		fmt.Sscanf(agents, "%d", &c.Orchestration.MaxAgents)
	}

	if provider := os.Getenv("ECO_LLM_PROVIDER"); provider != "" {
		c.LLM.Provider = provider
	}
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		c.LLM.Ollama.BaseURL = url
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		c.LLM.Ollama.Model = model
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.OpenAI.APIKey = key
	}

	if url := os.Getenv("ECO_RETRIEVAL_URL"); url != "" {
		c.Retrieval.BaseURL = url
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Observability.Tracing.Endpoint = endpoint
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if !orchestrator.ValidStrategy(orchestrator.Strategy(c.Orchestration.Strategy)) {
		return fmt.Errorf("unknown orchestration strategy: %s", c.Orchestration.Strategy)
	}
	if c.Orchestration.MaxAgents < 1 {
		return fmt.Errorf("orchestration max_agents must be at least 1")
	}
	if c.Orchestration.MaxRetries < 0 {
		return fmt.Errorf("orchestration max_retries must not be negative")
	}
	if _, err := time.ParseDuration(c.Orchestration.TaskTimeout); err != nil {
		return fmt.Errorf("invalid task_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Orchestration.RetryDelay); err != nil {
		return fmt.Errorf("invalid retry_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.Orchestration.CancelGrace); err != nil {
		return fmt.Errorf("invalid cancel_grace: %w", err)
	}

	if c.Agents.MaxTasksPerAgent < 1 {
		return fmt.Errorf("agents max_tasks_per_agent must be at least 1")
	}

	if c.Evidence.DedupeThreshold <= 0 || c.Evidence.DedupeThreshold > 1 {
		return fmt.Errorf("evidence dedupe_threshold must be in (0, 1]")
	}
	if c.Evidence.MinEdgeConfidence < 0 || c.Evidence.MinEdgeConfidence > 1 {
		return fmt.Errorf("evidence min_edge_confidence must be in [0, 1]")
	}

	switch c.LLM.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLM.Provider)
	}
	if c.LLM.Provider == "openai" && c.LLM.OpenAI.APIKey == "" {
		return fmt.Errorf("openai api_key is required when provider is openai")
	}

	switch c.Storage.Type {
	case "memory", "file":
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}
	if c.Storage.Type == "file" && c.Storage.Path == "" {
		return fmt.Errorf("storage path is required when type is file")
	}

	if c.Observability.Metrics.Enabled && (c.Observability.Metrics.Port < 1 || c.Observability.Metrics.Port > 65535) {
		return fmt.Errorf("metrics port must be between 1 and 65535")
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Duration parses a duration field, falling back to a default on error
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
