package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models rentline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret  string `yaml:"jwt_secret"`
		CronSecret string `yaml:"cron_secret"`
	} `yaml:"auth"`
	Email struct {
		DispatchURL     string `yaml:"dispatch_url"`
		IntervalSeconds int    `yaml:"interval_seconds"`
		BatchSize       int    `yaml:"batch_size"`
	} `yaml:"email"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with rl init or set RENTLINE_* env vars", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Email.IntervalSeconds < 0 {
		return fmt.Errorf("config.email.interval_seconds must not be negative")
	}
	if c.Email.BatchSize < 0 {
		return fmt.Errorf("config.email.batch_size must not be negative")
	}
	if c.Email.DispatchURL != "" && !strings.HasPrefix(c.Email.DispatchURL, "http") {
		return fmt.Errorf("config.email.dispatch_url must be an http(s) URL")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "rentline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /v0

auth:
  # HS256 secret for admin bearer tokens. Empty disables JWT auth.
  jwt_secret: ""
  # Shared secret the scheduler sends in X-Cron-Secret. Empty disables cron auth.
  cron_secret: ""

email:
  # Delivery endpoint for queued emails. Empty leaves messages in the queue.
  dispatch_url: ""
  interval_seconds: 5
  batch_size: 100
`
