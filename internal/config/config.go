package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models bookline.yml.
type Config struct {
	Scheduling struct {
		Defaults struct {
			MinNoticeMinutes                   int `yaml:"min_notice_minutes"`
			NoPenaltyCancellationWindowMinutes int `yaml:"no_penalty_cancellation_window_minutes"`
		} `yaml:"defaults"`
		Day struct {
			Start       string `yaml:"start"`
			End         string `yaml:"end"`
			SlotMinutes int    `yaml:"slot_minutes"`
		} `yaml:"day"`
		Timezone string `yaml:"timezone"`
	} `yaml:"scheduling"`
	Delegation struct {
		Permissions map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"permissions"`
	} `yaml:"delegation"`
	Lock LockConfig `yaml:"lock"`
	Log  struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
}

type LockConfig struct {
	Backend string `yaml:"backend"`
	Redis   struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	TTL  string `yaml:"ttl"`
	Wait string `yaml:"wait"`
}

// TTLDuration returns how long a distributed lock is held before expiring.
func (l LockConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(l.TTL)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// WaitDuration bounds how long Lock retries a contended key.
func (l LockConfig) WaitDuration() time.Duration {
	d, err := time.ParseDuration(l.Wait)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// Location resolves scheduling.timezone; empty means the process local zone.
func (c *Config) Location() (*time.Location, error) {
	if c == nil || c.Scheduling.Timezone == "" || c.Scheduling.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Scheduling.Timezone)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bookline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	d := c.Scheduling.Defaults
	if d.MinNoticeMinutes < 0 {
		return fmt.Errorf("scheduling.defaults.min_notice_minutes must be >= 0")
	}
	if d.NoPenaltyCancellationWindowMinutes < 0 {
		return fmt.Errorf("scheduling.defaults.no_penalty_cancellation_window_minutes must be >= 0")
	}
	day := c.Scheduling.Day
	start, err := time.Parse("15:04", day.Start)
	if err != nil {
		return fmt.Errorf("scheduling.day.start %q must be HH:MM", day.Start)
	}
	end, err := time.Parse("15:04", day.End)
	if err != nil {
		return fmt.Errorf("scheduling.day.end %q must be HH:MM", day.End)
	}
	if !start.Before(end) {
		return fmt.Errorf("scheduling.day.start must be before scheduling.day.end")
	}
	if day.SlotMinutes <= 0 {
		return fmt.Errorf("scheduling.day.slot_minutes must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("scheduling.timezone: %w", err)
	}
	for id := range c.Delegation.Permissions {
		if id == "" {
			return fmt.Errorf("delegation.permissions contains empty permission id")
		}
	}
	switch c.Lock.Backend {
	case "", "local":
	case "redis":
		if c.Lock.Redis.Addr == "" {
			return fmt.Errorf("lock.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("lock.backend must be local or redis, got %q", c.Lock.Backend)
	}
	for _, v := range []string{c.Lock.TTL, c.Lock.Wait} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("lock duration %q: %w", v, err)
		}
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	return nil
}

// HasPermission reports whether id is a known delegate permission.
func (c *Config) HasPermission(id string) bool {
	_, ok := c.Delegation.Permissions[id]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bookline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the defaults if the config file does not exist.
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

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Fields absent
// from data keep their default values.
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

const defaultTemplate = `scheduling:
  defaults:
    min_notice_minutes: 60
    no_penalty_cancellation_window_minutes: 1440
  day:
    start: "08:00"
    end: "18:00"
    slot_minutes: 60
  timezone: Local

delegation:
  permissions:
    negociarProposta:
      description: "Create and send proposals for the professional"
    gerenciarAgenda:
      description: "Manage blocks, settings and appointments for the professional"

lock:
  backend: local
  ttl: 10s
  wait: 5s
  redis:
    addr: "127.0.0.1:6379"
    db: 0

log:
  level: info

server:
  addr: "127.0.0.1:8080"
  base_path: "/v0"
`
