// Package config handles loading and managing application configuration
// from YAML files, an optional .env file and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wakafine/ticketqr/render"
	"github.com/wakafine/ticketqr/ticket"
)

// RenderConfig controls how ticket codes are produced.
type RenderConfig struct {
	Format          string   `yaml:"format"`
	PayloadMode     string   `yaml:"payload_mode"`
	Width           int      `yaml:"width"`
	Height          int      `yaml:"height"`
	Margin          int      `yaml:"margin"`
	ErrorCorrection string   `yaml:"error_correction"`
	ColorDark       string   `yaml:"color_dark"`
	ColorLight      string   `yaml:"color_light"`
	PollInterval    Duration `yaml:"poll_interval"`
	MaxAttempts     int      `yaml:"max_attempts"`
}

// RedisConfig points at the optional artifact cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	TTL      Duration `yaml:"ttl"`
}

// WhatsAppConfig controls ticket delivery over WhatsApp.
type WhatsAppConfig struct {
	Enabled           bool     `yaml:"enabled"`
	AutoReconnect     bool     `yaml:"auto_reconnect"`
	ReconnectInterval Duration `yaml:"reconnect_interval"`
}

// Config holds all application configuration values.
type Config struct {
	Port       int            `yaml:"port"`
	DataDir    string         `yaml:"data_dir"`
	BaseURL    string         `yaml:"base_url"`
	LogLevel   string         `yaml:"log_level"`
	WebhookURL string         `yaml:"webhook_url"`
	Render     RenderConfig   `yaml:"render"`
	Redis      RedisConfig    `yaml:"redis"`
	WhatsApp   WhatsAppConfig `yaml:"whatsapp"`
}

// Duration is a wrapper around time.Duration that supports YAML unmarshalling
// from human-readable strings like "200ms", "30s", "5m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	opts := render.Defaults()
	return &Config{
		Port:     8556,
		DataDir:  filepath.Join(homeDir, ".ticketqr"),
		BaseURL:  "http://localhost:8556",
		LogLevel: "info",
		Render: RenderConfig{
			Format:          "png",
			PayloadMode:     string(ticket.PayloadText),
			Width:           opts.Width,
			Height:          opts.Height,
			Margin:          opts.Margin,
			ErrorCorrection: string(opts.ErrorCorrection),
			ColorDark:       opts.ColorDark,
			ColorLight:      opts.ColorLight,
			PollInterval:    Duration{200 * time.Millisecond},
			MaxAttempts:     30,
		},
		Redis: RedisConfig{
			TTL: Duration{24 * time.Hour},
		},
		WhatsApp: WhatsAppConfig{
			AutoReconnect:     true,
			ReconnectInterval: Duration{30 * time.Second},
		},
	}
}

// Load reads configuration from the YAML file at path, falling back to
// defaults if the file does not exist. A .env file next to the config file
// is loaded into the environment without overriding variables already set,
// then TQR_* environment variables override file and default values.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// File doesn't exist, proceed with defaults.
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies TQR_* environment variable overrides to cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TQR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("TQR_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TQR_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("TQR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TQR_WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}
	if v := os.Getenv("TQR_RENDER_FORMAT"); v != "" {
		cfg.Render.Format = v
	}
	if v := os.Getenv("TQR_PAYLOAD_MODE"); v != "" {
		cfg.Render.PayloadMode = v
	}
	if v := os.Getenv("TQR_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Render.PollInterval = Duration{d}
		}
	}
	if v := os.Getenv("TQR_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Render.MaxAttempts = n
		}
	}
	if v := os.Getenv("TQR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TQR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TQR_WHATSAPP_ENABLED"); v != "" {
		if b, ok := parseBool(v); ok {
			cfg.WhatsApp.Enabled = b
		}
	}
	if v := os.Getenv("TQR_WHATSAPP_AUTO_RECONNECT"); v != "" {
		if b, ok := parseBool(v); ok {
			cfg.WhatsApp.AutoReconnect = b
		}
	}
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	}
	return false, false
}

// Validate checks values that would otherwise only fail at render time.
func (c *Config) Validate() error {
	if _, err := ticket.ParsePayloadMode(c.Render.PayloadMode); err != nil {
		return fmt.Errorf("render.payload_mode: %w", err)
	}
	if _, err := c.RenderOptions(); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if c.Render.MaxAttempts < 0 {
		return fmt.Errorf("render.max_attempts must not be negative")
	}
	return nil
}

// RenderOptions converts the render section into renderer options.
func (c *Config) RenderOptions() (render.Options, error) {
	level, err := render.ParseLevel(c.Render.ErrorCorrection)
	if err != nil {
		return render.Options{}, err
	}
	opts := render.Resolve(render.Options{
		Width:           c.Render.Width,
		Height:          c.Render.Height,
		Margin:          c.Render.Margin,
		ErrorCorrection: level,
		ColorDark:       c.Render.ColorDark,
		ColorLight:      c.Render.ColorLight,
	})
	if err := opts.Validate(); err != nil {
		return render.Options{}, err
	}
	return opts, nil
}

// RendererConfig builds the renderer configuration. Call after Validate.
func (c *Config) RendererConfig() render.Config {
	mode, _ := ticket.ParsePayloadMode(c.Render.PayloadMode)
	opts, _ := c.RenderOptions()
	return render.Config{
		Mode:         mode,
		BaseURL:      c.BaseURL,
		Options:      opts,
		PollInterval: c.Render.PollInterval.Duration,
		MaxAttempts:  c.Render.MaxAttempts,
	}
}

// EnsureDataDir creates the DataDir and its sessions subdirectory if they
// do not already exist.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir %s: %w", c.DataDir, err)
	}
	sessionsDir := filepath.Join(c.DataDir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return fmt.Errorf("creating sessions dir %s: %w", sessionsDir, err)
	}
	return nil
}
