package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models orbit.yml.
type Config struct {
	Owner struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"owner"`
	Missions struct {
		DefaultDuration  int `yaml:"default_duration"`
		SubtaskDuration  int `yaml:"subtask_duration"`
		FallbackDuration int `yaml:"fallback_duration"`
	} `yaml:"missions"`
	Providers struct {
		Order  []string       `yaml:"order"`
		Claude ClaudeProvider `yaml:"claude"`
		Gemini KeyedProvider  `yaml:"gemini"`
		OpenAI KeyedProvider  `yaml:"openai"`
	} `yaml:"providers"`
	Proxy struct {
		Addr       string `yaml:"addr"`
		APIKey     string `yaml:"api_key"`
		Retries    int    `yaml:"retries"`
		BackoffSec int    `yaml:"backoff_sec"`
	} `yaml:"proxy"`
}

type ClaudeProvider struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type KeyedProvider struct {
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Timeout returns the request timeout, defaulting to 30s.
func (p KeyedProvider) Timeout() time.Duration {
	if p.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutSec) * time.Second
}

var knownProviders = map[string]bool{"claude": true, "gemini": true, "openai": true}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with orbit init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Owner.ID == "" {
		return fmt.Errorf("config.owner.id is required")
	}
	if c.Missions.DefaultDuration < 0 {
		return fmt.Errorf("config.missions.default_duration must not be negative")
	}
	if c.Missions.SubtaskDuration < 0 {
		return fmt.Errorf("config.missions.subtask_duration must not be negative")
	}
	for _, name := range c.Providers.Order {
		if !knownProviders[name] {
			return fmt.Errorf("config.providers.order contains unknown provider %s", name)
		}
	}
	if c.Proxy.Retries < 0 {
		return fmt.Errorf("config.proxy.retries must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "orbit.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(ownerID string) string {
	return fmt.Sprintf(defaultTemplate, ownerID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an owner.
func Default(ownerID string) *Config {
	var cfg Config
	cfg.Owner.ID = ownerID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, ownerID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `owner:
  id: %s
  name: ""

missions:
  default_duration: 25
  subtask_duration: 15
  fallback_duration: 15

providers:
  order: [claude, gemini, openai]
  claude:
    url: http://localhost:3001/api/claude
    api_key: ""
    model: claude-3-5-sonnet-20241022
  gemini:
    api_key: ""
    model: gemini-2.0-flash
  openai:
    api_key: ""
    model: gpt-4o-mini
    base_url: ""
    timeout_sec: 30

proxy:
  addr: :3001
  api_key: ""
  retries: 3
  backoff_sec: 2
`
