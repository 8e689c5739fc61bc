package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the application configuration
type Config struct {
	Upstream  UpstreamConfig  `json:"upstream"`
	Storage   StorageConfig   `json:"storage"`
	Pending   PendingConfig   `json:"pending"`
	Session   SessionConfig   `json:"session"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
}

// UpstreamConfig holds the job API client configuration
type UpstreamConfig struct {
	BaseURL   string   `json:"base_url" validate:"required,url"`
	Timeout   Duration `json:"timeout"`
	RateLimit int      `json:"rate_limit" validate:"gte=0"`
}

// StorageConfig selects where the session is persisted. BadgerPath is a
// parent directory; each session id gets its own database beneath it.
type StorageConfig struct {
	Backend     string `json:"backend" validate:"oneof=badger supabase memory"`
	BadgerPath  string `json:"badger_path" validate:"required_if=Backend badger"`
	SupabaseURL string `json:"supabase_url" validate:"required_if=Backend supabase"`
	SupabaseKey string `json:"supabase_key" validate:"required_if=Backend supabase"`
}

// PendingConfig selects the store shared between sessions
type PendingConfig struct {
	Backend  string `json:"backend" validate:"oneof=redis memory"`
	RedisURL string `json:"redis_url" validate:"required_if=Backend redis"`
	Key      string `json:"key"`
}

// SessionConfig identifies the persisted session
type SessionConfig struct {
	ID string `json:"id" validate:"required"`
}

// SchedulerConfig holds the periodic reconciliation settings
type SchedulerConfig struct {
	Enabled           bool     `json:"enabled"`
	ReconcileInterval Duration `json:"reconcile_interval"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level       string `json:"level" validate:"oneof=debug info warn error"`
	File        string `json:"file"`
	Development bool   `json:"development"`
}

// Duration is a time.Duration written as "30s" in JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			BaseURL:   "http://localhost:5000",
			Timeout:   Duration{30 * time.Second},
			RateLimit: 10,
		},
		Storage: StorageConfig{
			Backend:    "badger",
			BadgerPath: "data/session",
		},
		Pending: PendingConfig{
			Backend: "memory",
			Key:     "jobsync:pending",
		},
		Session: SessionConfig{
			ID: "default",
		},
		Scheduler: SchedulerConfig{
			Enabled:           true,
			ReconcileInterval: Duration{5 * time.Minute},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(filename string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	// If file doesn't exist, return default config
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return config, nil
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides file values with environment variables when set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("JOBSYNC_BASE_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Pending.RedisURL = v
		c.Pending.Backend = "redis"
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		c.Storage.SupabaseURL = v
	}
	if v := os.Getenv("SUPABASE_KEY"); v != "" {
		c.Storage.SupabaseKey = v
	}
	if v := os.Getenv("JOBSYNC_SESSION_ID"); v != "" {
		c.Session.ID = v
	}
}

// SessionBadgerPath is the Badger directory of the configured session. Badger
// locks its directory, so two sessions sharing one would fail to open.
func (c *Config) SessionBadgerPath() string {
	return filepath.Join(c.Storage.BadgerPath, c.Session.ID)
}

// Warnings lists settings that are valid but probably not what was meant.
func (c *Config) Warnings() []string {
	var out []string
	if c.Pending.Backend == "memory" {
		out = append(out, "pending backend is memory: status updates are not shared with other sessions or processes; set pending.backend to redis to share them")
	}
	return out
}

// SaveConfig saves configuration to a JSON file
func (c *Config) SaveConfig(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %w", err)
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
	}

	if c.Upstream.Timeout.Duration <= 0 {
		return fmt.Errorf("upstream timeout must be positive")
	}

	switch id := c.Session.ID; {
	case id == "." || id == "..", strings.ContainsAny(id, `/\`):
		return fmt.Errorf("session id %q cannot be used as a directory name", id)
	}

	if c.Scheduler.Enabled && c.Scheduler.ReconcileInterval.Duration < time.Second {
		return fmt.Errorf("reconcile interval must be at least 1s")
	}

	return nil
}
