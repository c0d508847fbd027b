// Package config loads server settings: built-in defaults, then an optional
// YAML file, then SHAREDHEALTH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/talgya/sharedhealth/internal/retention"
	"github.com/talgya/sharedhealth/internal/world"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SHAREDHEALTH_"

// Config is the full server configuration.
type Config struct {
	DataDir   string `yaml:"data_dir" env:"DATA_DIR"`
	WorldsDir string `yaml:"worlds_dir" env:"WORLDS_DIR"` // defaults to <data_dir>/worlds
	DBPath    string `yaml:"db_path" env:"DB_PATH"`       // defaults to <data_dir>/sharedhealth.db
	Waiting   string `yaml:"waiting_world" env:"WAITING_WORLD"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`

	APIPort      int      `yaml:"api_port" env:"API_PORT"`
	AdminKey     string   `yaml:"-" env:"ADMIN_KEY"`
	RelayKey     string   `yaml:"-" env:"RELAY_KEY"`
	RandomOrgKey string   `yaml:"-" env:"RANDOM_ORG_API_KEY"`
	RegenPerHour int      `yaml:"regenerate_per_hour" env:"REGENERATE_PER_HOUR"`
	CORSOrigins  []string `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`

	// TrustedProxies may set X-Forwarded-For. Addresses or CIDRs.
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" envSeparator:","`

	TickInterval           time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	ReconnectDelayTicks    uint64        `yaml:"reconnect_delay_ticks" env:"RECONNECT_DELAY_TICKS"`
	DeathTriggerDelayTicks uint64        `yaml:"death_trigger_delay_ticks" env:"DEATH_TRIGGER_DELAY_TICKS"`
	ProgressEveryTicks     uint64        `yaml:"progress_every_ticks" env:"PROGRESS_EVERY_TICKS"`
	WaitingCheckTicks      uint64        `yaml:"waiting_check_ticks" env:"WAITING_CHECK_TICKS"`
	WaitingRadius          float64       `yaml:"waiting_radius" env:"WAITING_RADIUS"`
	EventFlushTicks        uint64        `yaml:"event_flush_ticks" env:"EVENT_FLUSH_TICKS"`

	Retention  retention.Policy `yaml:"retention" envPrefix:"RETENTION_"`
	Generation world.GenConfig  `yaml:"generation" envPrefix:"GENERATION_"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		DataDir:                "data",
		Waiting:                "waiting_area",
		LogLevel:               "info",
		APIPort:                8080,
		RegenPerHour:           12,
		TickInterval:           50 * time.Millisecond,
		ReconnectDelayTicks:    20,
		DeathTriggerDelayTicks: 20,
		ProgressEveryTicks:     10,
		WaitingCheckTicks:      20,
		WaitingRadius:          7,
		EventFlushTicks:        200,
		Retention:              retention.DefaultPolicy(),
		Generation:             world.DefaultGenConfig(),
	}
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.WorldsDir == "" {
		c.WorldsDir = filepath.Join(c.DataDir, "worlds")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "sharedhealth.db")
	}
	c.Retention.Mode = retention.Mode(strings.ToLower(string(c.Retention.Mode)))
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Waiting == "" || filepath.Base(c.Waiting) != c.Waiting {
		errs = append(errs, fmt.Errorf("waiting_world %q is not a valid name", c.Waiting))
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("api_port %d out of range", c.APIPort))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick_interval must be positive"))
	}
	if c.WaitingRadius <= 0 {
		errs = append(errs, errors.New("waiting_radius must be positive"))
	}
	if c.Generation.Radius < 1 {
		errs = append(errs, fmt.Errorf("generation radius must be at least 1, got %d", c.Generation.Radius))
	}
	for _, spec := range c.TrustedProxies {
		if !validProxy(spec) {
			errs = append(errs, fmt.Errorf("trusted_proxies: %q is not an address or CIDR", spec))
		}
	}
	if c.RegenPerHour < 1 {
		errs = append(errs, errors.New("regenerate_per_hour must be at least 1"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

func validProxy(spec string) bool {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return true
	}
	if strings.Contains(spec, "/") {
		_, err := netip.ParsePrefix(spec)
		return err == nil
	}
	_, err := netip.ParseAddr(spec)
	return err == nil
}
