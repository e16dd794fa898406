// Package config provides the runtime's layered configuration: typed
// structs with Validate/SetDefaults, loaded from YAML via koanf and
// expanded against process environment variables, grounded on
// pkg/config/koanf_loader.go and config/env.go's zero-config philosophy
// ("every section fills in sane defaults for a missing value"). Trimmed
// to this runtime's own sections — agent/workflow/document-store/tool-
// repository/A2A-server configuration the teacher carries has no
// counterpart here and is dropped rather than carried as dead structs.
package config

import "fmt"

// ConfigInterface is implemented by every section below, letting Config's
// own Validate/SetDefaults recurse uniformly.
type ConfigInterface interface {
	Validate() error
	SetDefaults()
}

// Config is the complete, top-level configuration (§10).
type Config struct {
	Version string `yaml:"version,omitempty"`
	Name    string `yaml:"name,omitempty"`

	Logging LoggingConfig `yaml:"logging,omitempty"`

	LLMs map[string]LLMProviderConfig `yaml:"llms,omitempty"`

	ContextWindow ContextWindowConfig `yaml:"context_window,omitempty"`
	AgentLoop     AgentLoopConfig     `yaml:"agent_loop,omitempty"`
	Memory        MemoryConfig        `yaml:"memory,omitempty"`
	Skills        SkillsConfig        `yaml:"skills,omitempty"`

	Observability ObservabilityConfig `yaml:"observability,omitempty"`
}

func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llm %q: %w", name, err)
		}
	}
	if err := c.ContextWindow.Validate(); err != nil {
		return fmt.Errorf("context_window: %w", err)
	}
	if err := c.AgentLoop.Validate(); err != nil {
		return fmt.Errorf("agent_loop: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := c.Skills.Validate(); err != nil {
		return fmt.Errorf("skills: %w", err)
	}
	return nil
}

func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()

	if c.LLMs == nil {
		c.LLMs = make(map[string]LLMProviderConfig)
	}
	if len(c.LLMs) == 0 {
		c.LLMs["default"] = LLMProviderConfig{}
	}
	for name := range c.LLMs {
		llm := c.LLMs[name]
		llm.SetDefaults()
		c.LLMs[name] = llm
	}

	c.ContextWindow.SetDefaults()
	c.AgentLoop.SetDefaults()
	c.Memory.SetDefaults()
	c.Skills.SetDefaults()
	c.Observability.SetDefaults()
}

// LoggingConfig controls the slog handler (§10).
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Format)
	}
	return nil
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// LLMProviderConfig describes one injectable llm.Provider backend.
type LLMProviderConfig struct {
	Type        string  `yaml:"type"` // "openai"; cmd/conduit builds an OpenAI-compatible provider for any value
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Host        string  `yaml:"host"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSec  int     `yaml:"timeout"`
}

func (c *LLMProviderConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Type == "openai" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for openai")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Host == "" && c.Type == "openai" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2000
	}
	if c.TimeoutSec == 0 {
		c.TimeoutSec = 60
	}
}

// ContextWindowConfig mirrors contextwindow.Config (§4.1).
type ContextWindowConfig struct {
	MaxTokens      int `yaml:"max_tokens"`
	ReservedTokens int `yaml:"reserved_tokens"`
}

func (c *ContextWindowConfig) Validate() error {
	if c.MaxTokens < 0 || c.ReservedTokens < 0 {
		return fmt.Errorf("token budgets must be non-negative")
	}
	return nil
}

func (c *ContextWindowConfig) SetDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = 8000
	}
	if c.ReservedTokens == 0 {
		c.ReservedTokens = 1000
	}
}

// AgentLoopConfig mirrors agentloop.Dependencies' tunables (§4.8).
type AgentLoopConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	SystemPrompt  string `yaml:"system_prompt"`
}

func (c *AgentLoopConfig) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be non-negative")
	}
	return nil
}

func (c *AgentLoopConfig) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = "You are a helpful assistant with access to tools and memory."
	}
}

// MemoryConfig configures both memory subsystems (§4.2, §4.3).
type MemoryConfig struct {
	ShortTerm ShortTermConfig `yaml:"short_term"`
	LongTerm  LongTermConfig  `yaml:"long_term"`
}

func (c *MemoryConfig) Validate() error {
	if err := c.ShortTerm.Validate(); err != nil {
		return fmt.Errorf("short_term: %w", err)
	}
	if err := c.LongTerm.Validate(); err != nil {
		return fmt.Errorf("long_term: %w", err)
	}
	return nil
}

func (c *MemoryConfig) SetDefaults() {
	c.ShortTerm.SetDefaults()
	c.LongTerm.SetDefaults()
}

// ShortTermConfig mirrors shortterm.Config (§4.2).
type ShortTermConfig struct {
	MaxSessions       int `yaml:"max_sessions"`
	TickIntervalSec   int `yaml:"tick_interval_seconds"`
}

func (c *ShortTermConfig) Validate() error {
	if c.MaxSessions < 0 || c.TickIntervalSec < 0 {
		return fmt.Errorf("must be non-negative")
	}
	return nil
}

func (c *ShortTermConfig) SetDefaults() {
	if c.MaxSessions == 0 {
		c.MaxSessions = 1000
	}
	if c.TickIntervalSec == 0 {
		c.TickIntervalSec = 300
	}
}

// LongTermConfig selects and configures a longterm.VectorIndex backend.
type LongTermConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Backend    string           `yaml:"backend"` // "chromem" | "qdrant" | "pinecone"
	Collection string           `yaml:"collection"`
	Chromem    ChromemConfig    `yaml:"chromem"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Pinecone   PineconeConfig   `yaml:"pinecone"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
}

func (c *LongTermConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Backend {
	case "chromem", "qdrant", "pinecone":
	default:
		return fmt.Errorf("unsupported backend: %s", c.Backend)
	}
	return nil
}

func (c *LongTermConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "chromem"
	}
	if c.Collection == "" {
		c.Collection = "memories"
	}
	c.Chromem.SetDefaults()
	c.Qdrant.SetDefaults()
	c.Pinecone.SetDefaults()
	c.Embedder.SetDefaults()
}

// ChromemConfig configures the embedded default vector backend.
type ChromemConfig struct {
	Path string `yaml:"path"` // empty = in-memory
}

func (c *ChromemConfig) SetDefaults() {}

// QdrantConfig configures the server-backed vector backend, grounded on
// pkg/databases/qdrant.go's connection fields.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

func (c *QdrantConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
}

// PineconeConfig configures the managed-service vector backend, grounded
// on pkg/databases/pinecone.go's connection fields.
type PineconeConfig struct {
	APIKey string `yaml:"api_key"`
	Host   string `yaml:"host"`
}

func (c *PineconeConfig) SetDefaults() {}

// EmbedderConfig configures the embeddings provider backing vector
// recall.
type EmbedderConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
}

// SkillsConfig configures the Skill Registry's sources (§4.4, §4.5, §4.6).
type SkillsConfig struct {
	LocalDirs []LocalSkillConfig `yaml:"local_dirs"`
	MCP       []MCPSkillConfig   `yaml:"mcp"`
}

func (c *SkillsConfig) Validate() error {
	for i, m := range c.MCP {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("mcp[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *SkillsConfig) SetDefaults() {}

// LocalSkillConfig points at one SKILL.md-bearing directory.
type LocalSkillConfig struct {
	Dir string `yaml:"dir"`
}

// MCPSkillConfig mirrors mcpskill.Config (§4.5).
type MCPSkillConfig struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"` // "stdio" | "sse"
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	URL     string            `yaml:"url"`
	Enabled bool              `yaml:"enabled"`
}

func (c *MCPSkillConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch c.Type {
	case "stdio":
		if c.Command == "" {
			return fmt.Errorf("command is required for stdio transport")
		}
	case "sse":
		if c.URL == "" {
			return fmt.Errorf("url is required for sse transport")
		}
	default:
		return fmt.Errorf("unsupported type: %s", c.Type)
	}
	return nil
}

// ObservabilityConfig wires observability.TracerConfig/MetricsConfig.
type ObservabilityConfig struct {
	TracingEnabled bool    `yaml:"tracing_enabled"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
	ServiceName    string  `yaml:"service_name"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
	if c.ServiceName == "" {
		c.ServiceName = "conduit"
	}
}
