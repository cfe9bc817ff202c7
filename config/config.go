// Package config loads binaudit configuration from YAML files and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/binaudit/pkg/db"
	"github.com/otherjamesbrown/binaudit/pkg/judge"
	"github.com/otherjamesbrown/binaudit/pkg/logging"
	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// Default configuration values.
const (
	DefaultConfigDir       = ".binaudit"
	DefaultConfigFile      = "config.yaml"
	DefaultConcurrency     = 4
	DefaultLang            = "en"
	DefaultPatternCacheTTL = 5 * time.Minute
	DefaultQueueName       = "audit:requests"
	DefaultMetricsAddress  = ":9464"
)

// RedisConfig holds Redis connection settings for the queue and events.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// IsConfigured reports whether a Redis address is set.
func (c RedisConfig) IsConfigured() bool { return c.Addr != "" }

// WorkerConfig holds settings for the queue worker.
type WorkerConfig struct {
	Count             int           `yaml:"count"`
	QueueName         string        `yaml:"queue_name"`
	MaxRetries        int           `yaml:"max_retries"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// ServiceConfig holds binaudit configuration.
type ServiceConfig struct {
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// LogJSON switches logs from console to JSON output.
	LogJSON bool `yaml:"log_json"`

	// OutputFormat specifies the default output format for commands.
	OutputFormat OutputFormat `yaml:"output_format"`

	// Lang is the default locale for messages and item labels.
	Lang string `yaml:"lang"`

	// OrganizationID is the default organization for CLI audits.
	OrganizationID string `yaml:"organization_id,omitempty"`

	// Concurrency caps concurrent model calls per transaction.
	Concurrency int `yaml:"concurrency"`

	// PatternsFile is a YAML file of response patterns. Supports ~.
	PatternsFile string `yaml:"patterns_file,omitempty"`

	// PatternCacheTTL is how long an organization's patterns are cached.
	// Zero disables caching.
	PatternCacheTTL time.Duration `yaml:"pattern_cache_ttl"`

	// Database enables the PostgreSQL pattern store and audit-run log.
	Database *db.Config `yaml:"database,omitempty"`

	// Redis enables the audit queue and event publishing.
	Redis RedisConfig `yaml:"redis,omitempty"`

	Worker WorkerConfig `yaml:"worker"`

	// Judge is the vision model endpoint used by the worker and by audits
	// run without fixtures.
	Judge judge.OpenAIConfig `yaml:"judge,omitempty"`

	// MetricsAddress is where the worker serves /metrics and /version.
	MetricsAddress string `yaml:"metrics_address"`
}

// DefaultConfig returns a ServiceConfig with default values.
func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		LogLevel:        string(logging.LevelInfo),
		OutputFormat:    OutputFormatText,
		Lang:            DefaultLang,
		Concurrency:     DefaultConcurrency,
		PatternCacheTTL: DefaultPatternCacheTTL,
		Worker: WorkerConfig{
			Count:             2,
			QueueName:         DefaultQueueName,
			MaxRetries:        3,
			VisibilityTimeout: 5 * time.Minute,
			PollInterval:      time.Second,
		},
		Judge: judge.OpenAIConfig{
			Timeout:    60 * time.Second,
			MaxRetries: 2,
		},
		MetricsAddress: DefaultMetricsAddress,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $BINAUDIT_CONFIG_DIR if set, otherwise ~/.binaudit
func ConfigDir() (string, error) {
	if dir := os.Getenv("BINAUDIT_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the default configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// Load builds the configuration. Later sources override earlier:
//  1. Default values
//  2. The config file at path, or the default path when path is empty
//     (a missing default file is not an error)
//  3. Environment variables (BINAUDIT_*, DB_*, REDIS_ADDR)
func Load(path string) (*ServiceConfig, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return nil, fmt.Errorf("getting config path: %w", err)
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg.
func loadFromFile(cfg *ServiceConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Database != nil {
		// Unset fields in the file fall back to connection defaults.
		merged := db.DefaultConfig()
		if err := yaml.Unmarshal(data, &struct {
			Database *db.Config `yaml:"database"`
		}{Database: merged}); err != nil {
			return fmt.Errorf("parsing database config: %w", err)
		}
		cfg.Database = merged
	}
	return nil
}

func envBool(v string) bool {
	return v == "true" || v == "1"
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *ServiceConfig) {
	if v := os.Getenv("BINAUDIT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BINAUDIT_LOG_JSON"); v != "" {
		cfg.LogJSON = envBool(v)
	}
	if v := os.Getenv("BINAUDIT_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}
	if v := os.Getenv("BINAUDIT_LANG"); v != "" {
		cfg.Lang = v
	}
	if v := os.Getenv("BINAUDIT_ORGANIZATION_ID"); v != "" {
		cfg.OrganizationID = v
	}
	if v := os.Getenv("BINAUDIT_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("BINAUDIT_PATTERNS_FILE"); v != "" {
		cfg.PatternsFile = v
	}
	if v := os.Getenv("BINAUDIT_PATTERN_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PatternCacheTTL = d
		}
	}
	if v := os.Getenv("BINAUDIT_METRICS_ADDRESS"); v != "" {
		cfg.MetricsAddress = v
	}
	if v := os.Getenv("BINAUDIT_QUEUE_NAME"); v != "" {
		cfg.Worker.QueueName = v
	}
	if v := os.Getenv("BINAUDIT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Count = n
		}
	}

	if v := os.Getenv("BINAUDIT_JUDGE_URL"); v != "" {
		cfg.Judge.BaseURL = v
	}
	if v := os.Getenv("BINAUDIT_JUDGE_MODEL"); v != "" {
		cfg.Judge.Model = v
	}
	if v := os.Getenv("BINAUDIT_JUDGE_API_KEY"); v != "" {
		cfg.Judge.APIKey = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// DB_HOST alone is enough to enable the database.
	if os.Getenv("DB_HOST") != "" && cfg.Database == nil {
		cfg.Database = db.DefaultConfig()
	}
	if cfg.Database != nil {
		cfg.Database.ApplyEnv()
	}
}

// Validate checks that the configuration is valid.
func (c *ServiceConfig) Validate() error {
	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level: %q", c.LogLevel)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.PatternCacheTTL < 0 {
		return fmt.Errorf("pattern_cache_ttl must not be negative")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be at least 1, got %d", c.Worker.Count)
	}
	if c.Worker.MaxRetries < 1 {
		return fmt.Errorf("worker.max_retries must be at least 1, got %d", c.Worker.MaxRetries)
	}
	if c.Judge.IsConfigured() && c.Judge.Model == "" {
		return fmt.Errorf("judge.model is required when judge.base_url is set")
	}
	if c.Database != nil {
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

// Locale returns the language tag for the configured default locale.
func (c *ServiceConfig) Locale() string {
	return materials.Locale(c.Lang).String()
}

// LoggerConfig builds the logging configuration.
func (c *ServiceConfig) LoggerConfig() *logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(c.LogLevel)
	cfg.JSONFormat = c.LogJSON
	return cfg
}

// ResolvedPatternsFile returns PatternsFile with ~ expanded.
func (c *ServiceConfig) ResolvedPatternsFile() (string, error) {
	return ExpandPath(c.PatternsFile)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/")), nil
	}
	return path, nil
}
