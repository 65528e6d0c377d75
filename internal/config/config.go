// Package config handles loading and validation of claudit configuration.
// It loads from .env files, environment variables, and CLI flags.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults.
const (
	DefaultPort           = 9312
	DefaultHost           = "127.0.0.1"
	DefaultUsageURL       = "https://api.anthropic.com/api/oauth/usage"
	DefaultUsageTimeout   = 10 * time.Second
	DefaultCostTimeout    = 45 * time.Second
	DefaultNotifySchedule = "@every 5m"
	LogFileName           = "debug.log"
	DBFileName            = "claudit.db"
)

// Config holds all application configuration.
type Config struct {
	DataDir        string        // CLAUDIT_DATA_DIR
	Port           int           // CLAUDIT_PORT
	Host           string        // CLAUDIT_HOST (loopback by default)
	LogLevel       string        // CLAUDIT_LOG_LEVEL
	UsageURL       string        // CLAUDIT_USAGE_URL
	CcusagePath    string        // CLAUDIT_CCUSAGE_PATH (skips tool resolution)
	UsageTimeout   time.Duration // CLAUDIT_USAGE_TIMEOUT (seconds)
	CostTimeout    time.Duration // CLAUDIT_COST_TIMEOUT (seconds)
	NotifySchedule string        // CLAUDIT_NOTIFY_SCHEDULE (cron spec)
	AnthropicToken string        // ANTHROPIC_TOKEN (bypasses the credential store)
	DebugMode      bool          // --debug flag (foreground mode)
}

// Flags holds values bound from the command line. Zero values mean unset.
type Flags struct {
	Port    int
	Host    string
	DataDir string
	Debug   bool
}

// Load reads configuration from .env file, environment variables, and flags.
// Flags take precedence over environment variables.
func Load(flags Flags) (*Config, error) {
	// .env is optional
	_ = godotenv.Load(".env")

	cfg := &Config{
		DataDir:        os.Getenv("CLAUDIT_DATA_DIR"),
		Host:           os.Getenv("CLAUDIT_HOST"),
		LogLevel:       strings.ToLower(os.Getenv("CLAUDIT_LOG_LEVEL")),
		UsageURL:       os.Getenv("CLAUDIT_USAGE_URL"),
		CcusagePath:    os.Getenv("CLAUDIT_CCUSAGE_PATH"),
		NotifySchedule: os.Getenv("CLAUDIT_NOTIFY_SCHEDULE"),
		AnthropicToken: os.Getenv("ANTHROPIC_TOKEN"),
		DebugMode:      flags.Debug,
	}

	if env := os.Getenv("CLAUDIT_PORT"); env != "" {
		v, err := strconv.Atoi(env)
		if err != nil {
			return nil, fmt.Errorf("invalid CLAUDIT_PORT %q: %w", env, err)
		}
		cfg.Port = v
	}
	var err error
	if cfg.UsageTimeout, err = secondsEnv("CLAUDIT_USAGE_TIMEOUT"); err != nil {
		return nil, err
	}
	if cfg.CostTimeout, err = secondsEnv("CLAUDIT_COST_TIMEOUT"); err != nil {
		return nil, err
	}

	if flags.Port > 0 {
		cfg.Port = flags.Port
	}
	if flags.Host != "" {
		cfg.Host = flags.Host
	}
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func secondsEnv(key string) (time.Duration, error) {
	env := os.Getenv(key)
	if env == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(env)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, env, err)
	}
	return time.Duration(v) * time.Second, nil
}

// applyDefaults sets default values for empty config fields.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.UsageURL == "" {
		c.UsageURL = DefaultUsageURL
	}
	if c.UsageTimeout == 0 {
		c.UsageTimeout = DefaultUsageTimeout
	}
	if c.CostTimeout == 0 {
		c.CostTimeout = DefaultCostTimeout
	}
	if c.NotifySchedule == "" {
		c.NotifySchedule = DefaultNotifySchedule
	}
}

// DefaultDataDir returns the per-user application data directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "claudit")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".claudit"
	}
	return filepath.Join(home, ".claudit")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1024 and 65535")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error")
	}

	if c.UsageTimeout < time.Second || c.UsageTimeout > 5*time.Minute {
		return fmt.Errorf("usage timeout must be between 1s and 5m")
	}
	if c.CostTimeout < time.Second || c.CostTimeout > 10*time.Minute {
		return fmt.Errorf("cost timeout must be between 1s and 10m")
	}

	if !strings.HasPrefix(c.UsageURL, "http://") && !strings.HasPrefix(c.UsageURL, "https://") {
		return fmt.Errorf("CLAUDIT_USAGE_URL must be an http(s) URL")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DBPath returns the preferences database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, DBFileName)
}

// String returns a redacted string representation of the config.
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Config{\n")
	fmt.Fprintf(&sb, "  DataDir: %s,\n", c.DataDir)
	fmt.Fprintf(&sb, "  Addr: %s,\n", c.Addr())
	fmt.Fprintf(&sb, "  UsageURL: %s,\n", c.UsageURL)
	fmt.Fprintf(&sb, "  AnthropicToken: %s,\n", redactToken(c.AnthropicToken))
	if c.CcusagePath != "" {
		fmt.Fprintf(&sb, "  CcusagePath: %s,\n", c.CcusagePath)
	}
	fmt.Fprintf(&sb, "  UsageTimeout: %v,\n", c.UsageTimeout)
	fmt.Fprintf(&sb, "  CostTimeout: %v,\n", c.CostTimeout)
	fmt.Fprintf(&sb, "  NotifySchedule: %s,\n", c.NotifySchedule)
	fmt.Fprintf(&sb, "  LogLevel: %s,\n", c.LogLevel)
	fmt.Fprintf(&sb, "  DebugMode: %v,\n", c.DebugMode)
	fmt.Fprintf(&sb, "}")
	return sb.String()
}

// redactToken masks the token for display.
func redactToken(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 7 {
		return "***...***"
	}
	// Show first 4 chars and last 3 chars
	return key[:4] + "***...***" + key[len(key)-3:]
}

// LogWriter returns the log destination. Debug mode logs to stdout, otherwise
// to debug.log in the data directory.
func (c *Config) LogWriter() (io.Writer, error) {
	if c.DebugMode {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(c.DataDir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}
