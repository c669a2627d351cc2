// Package config loads the YAML configuration of the tutor CLI and server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/boristopalov/tutor/pkg/core"
	"github.com/boristopalov/tutor/pkg/feedback"
)

// Environment variables that override file values.
const (
	EnvOllamaHost      = "OLLAMA_HOST"
	EnvProvider        = "TUTOR_PROVIDER"
	EnvModel           = "TUTOR_MODEL"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvOpenAIBaseURL   = "OPENAI_API_BASE_URL"
	EnvGeminiAPIKey    = "GEMINI_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
)

type Config struct {
	Provider ProviderConfig   `yaml:"provider"`
	Run      RunSection       `yaml:"run"`
	Teacher  core.Hyperparams `yaml:"teacher"`
	Student  core.Hyperparams `yaml:"student"`
	Policy   core.Policy      `yaml:"policy"`
	Agent    AgentConfig      `yaml:"agent"`
	Feedback FeedbackConfig   `yaml:"feedback"`
	Server   ServerConfig     `yaml:"server"`
	Store    StoreConfig      `yaml:"store"`
	Report   ReportConfig     `yaml:"report"`
}

// ProviderConfig selects the language model backend. TeacherModel and
// StudentModel fall back to Model when empty.
type ProviderConfig struct {
	Name         string        `yaml:"name"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Backend      string        `yaml:"backend"`
	Model        string        `yaml:"model"`
	TeacherModel string        `yaml:"teacher_model"`
	StudentModel string        `yaml:"student_model"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

type RunSection struct {
	NumRounds         int      `yaml:"num_rounds"`
	Topics            []string `yaml:"topics"`
	EvolutionInterval int      `yaml:"evolution_interval"`
	Seed              int64    `yaml:"seed"`
}

type AgentConfig struct {
	TokenLimit     int `yaml:"token_limit"`
	MemoryCapacity int `yaml:"memory_capacity"`
}

type FeedbackConfig struct {
	Keywords feedback.KeywordTable `yaml:"keywords"`
	Rewards  feedback.RewardTable  `yaml:"rewards"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ReportConfig struct {
	Dir   string `yaml:"dir"`
	CSV   bool   `yaml:"csv"`
	Chart bool   `yaml:"chart"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:       "ollama",
			Model:      "llama3.2",
			MaxTokens:  1024,
			Timeout:    120 * time.Second,
			MaxRetries: 2,
		},
		Run: RunSection{
			NumRounds:         10,
			Topics:            []string{"reinforcement learning basics", "Q-learning", "exploration vs exploitation"},
			EvolutionInterval: 5,
			Seed:              1,
		},
		Teacher:  core.DefaultHyperparams(),
		Student:  core.DefaultHyperparams(),
		Policy:   core.DefaultPolicy(),
		Agent:    AgentConfig{TokenLimit: 256, MemoryCapacity: 100},
		Feedback: FeedbackConfig{Keywords: feedback.DefaultKeywords(), Rewards: feedback.DefaultRewards()},
		Server:   ServerConfig{Addr: ":8080"},
		Store:    StoreConfig{Enabled: true, Path: "tutor.db"},
		Report:   ReportConfig{Dir: "reports", CSV: true, Chart: true},
	}
}

// LoadConfig reads and validates a config file. An empty path yields the
// defaults with environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Read parses a YAML file over the defaults and applies environment
// overrides without validating, so callers can layer flags on top.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides provider settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvProvider); v != "" {
		c.Provider.Name = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Provider.Model = v
	}
	switch strings.ToLower(c.Provider.Name) {
	case "ollama":
		if v := os.Getenv(EnvOllamaHost); v != "" {
			c.Provider.BaseURL = v
		}
	case "openai":
		if v := os.Getenv(EnvOpenAIAPIKey); v != "" {
			c.Provider.APIKey = v
		}
		if v := os.Getenv(EnvOpenAIBaseURL); v != "" {
			c.Provider.BaseURL = v
		}
	case "google":
		if v := os.Getenv(EnvGeminiAPIKey); v != "" {
			c.Provider.APIKey = v
		}
	case "anthropic":
		if v := os.Getenv(EnvAnthropicAPIKey); v != "" {
			c.Provider.APIKey = v
		}
	}
}

// Validate checks everything a run depends on. Errors are
// *core.ConfigurationError.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Provider.Name) {
	case "ollama", "openai", "google", "anthropic", "gollm":
	default:
		return core.NewConfigurationError("provider.name", "unknown provider %q", c.Provider.Name)
	}
	if c.Provider.Timeout <= 0 {
		return core.NewConfigurationError("provider.timeout", "must be positive, got %s", c.Provider.Timeout)
	}
	if c.Provider.MaxRetries < 0 {
		return core.NewConfigurationError("provider.max_retries", "must not be negative, got %d", c.Provider.MaxRetries)
	}
	if c.Agent.TokenLimit <= 0 {
		return core.NewConfigurationError("agent.token_limit", "must be positive, got %d", c.Agent.TokenLimit)
	}
	if c.Agent.MemoryCapacity <= 0 {
		return core.NewConfigurationError("agent.memory_capacity", "must be positive, got %d", c.Agent.MemoryCapacity)
	}
	if c.Agent.MemoryCapacity < c.Policy.Window {
		return core.NewConfigurationError("agent.memory_capacity", "%d is smaller than policy.window %d", c.Agent.MemoryCapacity, c.Policy.Window)
	}
	if _, err := c.Interpreter(); err != nil {
		return err
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return core.NewConfigurationError("store.path", "required when the store is enabled")
	}
	return c.RunConfig().Validate()
}

// RunConfig assembles the core run configuration.
func (c *Config) RunConfig() core.RunConfig {
	return core.RunConfig{
		NumRounds:         c.Run.NumRounds,
		Topics:            append([]string(nil), c.Run.Topics...),
		EvolutionInterval: c.Run.EvolutionInterval,
		Seed:              c.Run.Seed,
		Teacher:           c.Teacher,
		Student:           c.Student,
		Policy:            c.Policy,
	}
}

// Interpreter builds the feedback interpreter from the keyword and reward
// tables.
func (c *Config) Interpreter() (*feedback.Interpreter, error) {
	in, err := feedback.New(c.Feedback.Keywords, c.Feedback.Rewards)
	if err != nil {
		var cfgErr *core.ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, core.NewConfigurationError("feedback.keywords", "%v", err)
	}
	return in, nil
}

// ModelFor returns the model configured for role.
func (p ProviderConfig) ModelFor(role core.Role) string {
	switch role {
	case core.RoleTeacher:
		if p.TeacherModel != "" {
			return p.TeacherModel
		}
	case core.RoleStudent:
		if p.StudentModel != "" {
			return p.StudentModel
		}
	}
	return p.Model
}
