package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/ptyd/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ptyd/internal/providers/terminal"
)

// Environment variables are the envconfig tag names, e.g. PTYD_COMMAND or
// PTYD_IDLE_TIMEOUT_MINUTES. Lists are comma separated and maps are written
// as KEY:VALUE,KEY:VALUE.

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Terminal  TerminalConfig  `yaml:"terminal" toml:"terminal"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port                   string `envconfig:"PTYD_PORT" yaml:"port" toml:"port"`
	Host                   string `envconfig:"PTYD_HOST" yaml:"host" toml:"host"`
	Gzip                   bool   `envconfig:"PTYD_GZIP" yaml:"gzip" toml:"gzip"`
	ShutdownTimeoutSeconds int    `envconfig:"PTYD_SHUTDOWN_TIMEOUT_SECONDS" yaml:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`
}

// TerminalConfig holds the session engine configuration.
type TerminalConfig struct {
	Command              string            `envconfig:"PTYD_COMMAND" yaml:"command" toml:"command"`
	Args                 []string          `envconfig:"PTYD_ARGS" yaml:"args" toml:"args"`
	WorkingDir           string            `envconfig:"PTYD_WORKING_DIR" yaml:"working_dir" toml:"working_dir"`
	Env                  map[string]string `envconfig:"PTYD_ENV" yaml:"env" toml:"env"`
	IdleTimeoutMinutes   int               `envconfig:"PTYD_IDLE_TIMEOUT_MINUTES" yaml:"idle_timeout_minutes" toml:"idle_timeout_minutes"`
	SweepIntervalSeconds int               `envconfig:"PTYD_SWEEP_INTERVAL_SECONDS" yaml:"sweep_interval_seconds" toml:"sweep_interval_seconds"`
	Rows                 int               `envconfig:"PTYD_ROWS" yaml:"rows" toml:"rows"`
	Cols                 int               `envconfig:"PTYD_COLS" yaml:"cols" toml:"cols"`
	MaxBufferKB          int               `envconfig:"PTYD_MAX_BUFFER_KB" yaml:"max_buffer_kb" toml:"max_buffer_kb"`
	StripANSI            bool              `envconfig:"PTYD_STRIP_ANSI" yaml:"strip_ansi" toml:"strip_ansi"`
	MaxSessions          int               `envconfig:"PTYD_MAX_SESSIONS" yaml:"max_sessions" toml:"max_sessions"`
	GracePeriodSeconds   int               `envconfig:"PTYD_GRACE_PERIOD_SECONDS" yaml:"grace_period_seconds" toml:"grace_period_seconds"`
	AllowedCommands      []string          `envconfig:"PTYD_ALLOWED_COMMANDS" yaml:"allowed_commands" toml:"allowed_commands"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"PTYD_LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"PTYD_LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"PTYD_RATE_LIMIT_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"PTYD_RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"PTYD_RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
	// GlobalRequestsPerSecond caps all clients together. Zero disables it.
	GlobalRequestsPerSecond int `envconfig:"PTYD_RATE_LIMIT_GLOBAL_RPS" yaml:"global_requests_per_second" toml:"global_requests_per_second"`
	GlobalBurst             int `envconfig:"PTYD_RATE_LIMIT_GLOBAL_BURST" yaml:"global_burst" toml:"global_burst"`
}

// CORSConfig holds cross-origin settings.
type CORSConfig struct {
	AllowedOrigins   []string `envconfig:"PTYD_CORS_ORIGINS" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowCredentials bool     `envconfig:"PTYD_CORS_CREDENTIALS" yaml:"allow_credentials" toml:"allow_credentials"`
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                   "8080",
			Host:                   "127.0.0.1",
			Gzip:                   true,
			ShutdownTimeoutSeconds: 15,
		},
		Terminal: TerminalConfig{
			Command:              DefaultShell(),
			IdleTimeoutMinutes:   int(terminal.DefaultIdleTimeout / time.Minute),
			SweepIntervalSeconds: int(terminal.DefaultSweepInterval / time.Second),
			Rows:                 terminal.DefaultRows,
			Cols:                 terminal.DefaultCols,
			MaxBufferKB:          terminal.DefaultBufferSize >> 10,
			MaxSessions:          terminal.DefaultMaxSessions,
			GracePeriodSeconds:   int(terminal.DefaultGracePeriod / time.Second),
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
	}
}

// DefaultShell returns $SHELL, falling back to /bin/sh.
func DefaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// Load builds the configuration in layers: defaults, then the optional file
// at path, then environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 0 || port > 65535 {
		add("server.port %q is not a valid port", c.Server.Port)
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		add("server.shutdown_timeout_seconds must be positive")
	}

	t := c.Terminal
	if strings.TrimSpace(t.Command) == "" {
		add("terminal.command is required")
	}
	if _, err := terminal.NewSize(t.Rows, t.Cols); err != nil {
		add("terminal.rows/cols: %v", err)
	}
	if t.MaxBufferKB <= 0 {
		add("terminal.max_buffer_kb must be positive")
	}
	if t.SweepIntervalSeconds <= 0 {
		add("terminal.sweep_interval_seconds must be positive")
	}
	if t.MaxSessions < 0 {
		add("terminal.max_sessions must not be negative")
	}
	if t.GracePeriodSeconds < 0 {
		add("terminal.grace_period_seconds must not be negative")
	}
	for _, pattern := range t.AllowedCommands {
		if !doublestar.ValidatePattern(pattern) {
			add("terminal.allowed_commands: bad pattern %q", pattern)
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		add("rate_limit.requests_per_second and burst must be positive when enabled")
	}
	if c.RateLimit.GlobalRequestsPerSecond < 0 || (c.RateLimit.GlobalRequestsPerSecond > 0 && c.RateLimit.GlobalBurst <= 0) {
		add("rate_limit.global_requests_per_second must not be negative and needs a positive global_burst")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// ShutdownTimeout returns how long a graceful shutdown may take.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// IdleTimeout converts the configured minutes. Negative disables idle
// reclamation.
func (t TerminalConfig) IdleTimeout() time.Duration {
	return time.Duration(t.IdleTimeoutMinutes) * time.Minute
}

// CommandSpec returns the program new sessions run.
func (t TerminalConfig) CommandSpec() terminal.Command {
	return terminal.Command{
		Path: t.Command,
		Args: t.Args,
		Dir:  t.WorkingDir,
		Env:  t.Env,
	}
}

// Size returns the initial terminal size.
func (t TerminalConfig) Size() terminal.Size {
	return terminal.Size{Rows: uint16(t.Rows), Cols: uint16(t.Cols)}
}

// Options converts the terminal section into registry options. Logger,
// Observer and Open are left for the caller.
func (t TerminalConfig) Options() terminal.Options {
	return terminal.Options{
		IdleTimeout:     t.IdleTimeout(),
		SweepInterval:   time.Duration(t.SweepIntervalSeconds) * time.Second,
		GracePeriod:     time.Duration(t.GracePeriodSeconds) * time.Second,
		MaxSessions:     t.MaxSessions,
		BufferSize:      t.MaxBufferKB << 10,
		StripANSI:       t.StripANSI,
		AllowedCommands: t.AllowedCommands,
	}
}
