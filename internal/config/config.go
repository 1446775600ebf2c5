package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models teamboard.yml.
type Config struct {
	Defaults struct {
		Team    string `yaml:"team"`
		Project string `yaml:"project"`
		User    string `yaml:"user"`
	} `yaml:"defaults"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
		// AllowLegacyActorHeader accepts X-Actor-Id without a token.
		AllowLegacyActorHeader bool `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	Cache struct {
		RedisAddr  string `yaml:"redis_addr"`
		TTLSeconds int    `yaml:"ttl_seconds"`
	} `yaml:"cache"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one activity forwarding target.
type WebhookConfig struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Team           string   `yaml:"team"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

func (w WebhookConfig) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// CacheTTL returns the configured cache TTL, defaulting to five minutes.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tb init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("config.cache.ttl_seconds must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event type", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "teamboard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(userID string) string {
	return fmt.Sprintf(defaultTemplate, userID)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(""), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default(userID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(userID))).Decode(&cfg)
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

// Save writes the config to the workspace.
func (c *Config) Save(workspace string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(workspace), data, 0o644)
}

const defaultTemplate = `defaults:
  user: %q

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  allow_legacy_actor_header: false

cache:
  redis_addr: ""
  ttl_seconds: 300

webhooks: []
`
