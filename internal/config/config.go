// Package config handles CarePilot configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./config.yaml, ~/.config/carepilot/config.yaml, /etc/carepilot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "carepilot", "config.yaml"))
	}

	paths = append(paths, "/etc/carepilot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// LoadDotEnv reads KEY=value pairs from path into the process
// environment so they are visible to ${VAR} expansion in the YAML file.
// Variables already set in the environment win. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Config holds all CarePilot configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Models     ModelsConfig     `yaml:"models"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Agent      AgentConfig      `yaml:"agent"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	CORS       CORSConfig       `yaml:"cors"`
	DataDir    string           `yaml:"data_dir"`
	Timezone   string           `yaml:"timezone"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text, json, pretty
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig selects models per agent role and maps model names to
// providers.
type ModelsConfig struct {
	Default    string        `yaml:"default"`
	Chat       string        `yaml:"chat"`       // chat agent; falls back to Default
	Diet       string        `yaml:"diet"`       // diet agent; falls back to Default
	Background string        `yaml:"background"` // generators and summarizer; falls back to Default
	OllamaURL  string        `yaml:"ollama_url"`
	Available  []ModelConfig `yaml:"available"`
}

// ModelConfig maps a single model to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, anthropic, openai
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an API key is present.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// OpenAIConfig defines settings for any OpenAI-compatible endpoint
// (OpenAI itself, or xAI via base_url https://api.x.ai/v1).
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether an API key is present.
func (c OpenAIConfig) Configured() bool { return c.APIKey != "" }

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`   // Embedding model name (e.g., nomic-embed-text)
	BaseURL string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// AgentConfig bounds each agent loop run.
type AgentConfig struct {
	MaxToolRounds int           `yaml:"max_tool_rounds"`
	Timeout       time.Duration `yaml:"timeout"`        // 0 disables the wall-clock bound
	ContextTokens int           `yaml:"context_tokens"` // history budget sent to the model
}

// SummarizerConfig controls the background recent-summary worker.
type SummarizerConfig struct {
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
	Messages  int           `yaml:"messages"` // trailing messages summarized per turn
}

// SchedulerConfig controls daily artifact pre-generation.
type SchedulerConfig struct {
	Enabled bool   `yaml:"enabled"`
	DailyAt string `yaml:"daily_at"` // HH:MM local time
}

// MQTTConfig defines the optional calendar-change publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Port: 8008},
		DataDir: "./data",
		Models: ModelsConfig{
			Default:   "qwen3:4b",
			OllamaURL: "http://localhost:11434",
			Available: []ModelConfig{
				{Name: "qwen3:4b", Provider: "ollama"},
			},
		},
		Agent: AgentConfig{
			MaxToolRounds: 10,
			ContextTokens: 8000,
		},
		Summarizer: SummarizerConfig{
			QueueSize: 64,
			Timeout:   60 * time.Second,
			Messages:  5,
		},
		Scheduler: SchedulerConfig{
			DailyAt: "04:00",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "carepilot",
			ClientID:    "carepilot",
		},
	}
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Listen.Port == 0 {
		c.Listen.Port = d.Listen.Port
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = d.Models.OllamaURL
	}
	if c.Models.Default == "" {
		c.Models.Default = d.Models.Default
	}
	if c.Models.Chat == "" {
		c.Models.Chat = c.Models.Default
	}
	if c.Models.Diet == "" {
		c.Models.Diet = c.Models.Default
	}
	if c.Models.Background == "" {
		c.Models.Background = c.Models.Default
	}
	for i := range c.Models.Available {
		if c.Models.Available[i].Provider == "" {
			c.Models.Available[i].Provider = "ollama"
		}
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Models.OllamaURL
	}
	if c.Agent.MaxToolRounds <= 0 {
		c.Agent.MaxToolRounds = d.Agent.MaxToolRounds
	}
	if c.Agent.ContextTokens <= 0 {
		c.Agent.ContextTokens = d.Agent.ContextTokens
	}
	if c.Summarizer.QueueSize <= 0 {
		c.Summarizer.QueueSize = d.Summarizer.QueueSize
	}
	if c.Summarizer.Timeout <= 0 {
		c.Summarizer.Timeout = d.Summarizer.Timeout
	}
	if c.Summarizer.Messages <= 0 {
		c.Summarizer.Messages = d.Summarizer.Messages
	}
	if c.Scheduler.DailyAt == "" {
		c.Scheduler.DailyAt = d.Scheduler.DailyAt
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = d.MQTT.TopicPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = d.MQTT.ClientID
	}
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json", "pretty":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json, pretty)", c.LogFormat)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := time.Parse("15:04", c.Scheduler.DailyAt); err != nil {
		return fmt.Errorf("scheduler.daily_at %q: expected HH:MM", c.Scheduler.DailyAt)
	}
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "ollama", "anthropic", "openai":
		default:
			return fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// Location resolves the configured time zone. Empty means local time.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DatabasePath is the SQLite file holding all stores.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "carepilot.db")
}
