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

const (
	SinkLog     = "log"
	SinkRedis   = "redis"
	SinkWebhook = "webhook"
)

// Config models helpling.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		// AllowUserHeader trusts X-User-Id as the caller identity. Local use only.
		AllowUserHeader bool `yaml:"allow_user_header"`
		// DevLogin exposes POST auth/dev/login, which mints a token for any user id.
		DevLogin bool `yaml:"dev_login"`
	} `yaml:"auth"`
	Notifications Notifications `yaml:"notifications"`
	Hooks         struct {
		IntervalMS  int    `yaml:"interval_ms"`
		BatchSize   int    `yaml:"batch_size"`
		MaxAttempts int    `yaml:"max_attempts"`
		Consumer    string `yaml:"consumer"`
		Disabled    bool   `yaml:"disabled"`
	} `yaml:"hooks"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type Notifications struct {
	Sink           string `yaml:"sink"`
	DeeplinkScheme string `yaml:"deeplink_scheme"`
	RedisURL       string `yaml:"redis_url"`
	WebhookURL     string `yaml:"webhook_url"`
	WebhookSecret  string `yaml:"webhook_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-send timeout for network sinks.
func (n Notifications) Timeout() time.Duration {
	if n.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(n.TimeoutSeconds) * time.Second
}

func (c *Config) HookInterval() time.Duration {
	if c.Hooks.IntervalMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Hooks.IntervalMS) * time.Millisecond
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with hl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	n := c.Notifications
	switch n.Sink {
	case "", SinkLog:
	case SinkRedis:
		if n.RedisURL == "" {
			return fmt.Errorf("config.notifications.redis_url is required for the redis sink")
		}
		if _, err := url.Parse(n.RedisURL); err != nil {
			return fmt.Errorf("config.notifications.redis_url: %w", err)
		}
	case SinkWebhook:
		if n.WebhookURL == "" {
			return fmt.Errorf("config.notifications.webhook_url is required for the webhook sink")
		}
		u, err := url.Parse(n.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config.notifications.webhook_url must be an http(s) url")
		}
	default:
		return fmt.Errorf("config.notifications.sink must be one of log, redis, webhook")
	}
	if n.TimeoutSeconds < 0 {
		return fmt.Errorf("config.notifications.timeout_seconds must not be negative")
	}
	if strings.Contains(strings.TrimSuffix(n.DeeplinkScheme, "://"), "/") {
		return fmt.Errorf("config.notifications.deeplink_scheme is not a scheme")
	}
	if c.Hooks.IntervalMS < 0 || c.Hooks.BatchSize < 0 || c.Hooks.MaxAttempts < 0 {
		return fmt.Errorf("config.hooks values must not be negative")
	}
	switch c.Log.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not a level", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "helpling.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections keep
// their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config, masking secrets.
func (c *Config) YAML() (string, error) {
	out := *c
	if out.Auth.JWTSecret != "" {
		out.Auth.JWTSecret = "***"
	}
	if out.Notifications.WebhookSecret != "" {
		out.Notifications.WebhookSecret = "***"
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

auth:
  jwt_secret: ""
  allow_user_header: false
  dev_login: false

notifications:
  sink: log
  deeplink_scheme: app
  redis_url: ""
  webhook_url: ""
  webhook_secret: ""
  timeout_seconds: 5

hooks:
  interval_ms: 2000
  batch_size: 100
  max_attempts: 5
  consumer: hooks
  disabled: false

log:
  level: info
  format: console
`
