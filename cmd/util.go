// Package cmd provides CLI commands for the binaudit tool.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/binaudit/config"
	"github.com/otherjamesbrown/binaudit/pkg/db"
	"github.com/otherjamesbrown/binaudit/pkg/logging"
)

// Global settings bound to the root command's persistent flags.
var (
	ConfigFile   string
	OutputFormat string
	LogLevel     string
)

// loadConfig loads configuration and applies the global flag overrides.
func loadConfig() (*config.ServiceConfig, error) {
	cfg, err := config.Load(ConfigFile)
	if err != nil {
		return nil, err
	}
	if OutputFormat != "" {
		cfg.OutputFormat = config.OutputFormat(OutputFormat)
	}
	if LogLevel != "" {
		cfg.LogLevel = LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the command logger. Logs go to stderr so stdout stays
// parseable.
func newLogger(cfg *config.ServiceConfig) logging.Logger {
	lc := cfg.LoggerConfig()
	lc.Output = os.Stderr
	lc.NoColor = !isTerminal(os.Stderr)
	return logging.NewLogger(lc)
}

// resolveFormat picks the per-command flag over the configured default.
func resolveFormat(flag string, cfg *config.ServiceConfig) (config.OutputFormat, error) {
	format := cfg.OutputFormat
	if flag != "" {
		format = config.OutputFormat(flag)
	}
	if !format.IsValid() {
		return "", fmt.Errorf("invalid output format %q (must be text, json, or yaml)", format)
	}
	return format, nil
}

// writeStructured writes v as JSON or YAML. YAML goes through the JSON
// encoding so both formats share field names.
func writeStructured(w io.Writer, format config.OutputFormat, v interface{}) error {
	switch format {
	case config.OutputFormatYAML:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// colorEnabled reports whether ANSI colors should be written to w.
func colorEnabled(w io.Writer) bool {
	return os.Getenv("NO_COLOR") == "" && isTerminal(w)
}

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
)

func paint(on bool, color, s string) string {
	if !on {
		return s
	}
	return color + s + ansiReset
}

// readInput reads the named file, or stdin when name is empty or "-".
func readInput(name string, stdin io.Reader) ([]byte, error) {
	if name == "" || name == "-" {
		if stdin == nil {
			stdin = os.Stdin
		}
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

// decodeDocument decodes JSON, or YAML when name has a YAML extension.
func decodeDocument(name string, data []byte, v interface{}) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, v)
	default:
		return json.Unmarshal(data, v)
	}
}

// connectToDatabase opens the configured PostgreSQL pool.
func connectToDatabase(ctx context.Context, cfg *config.ServiceConfig) (*pgxpool.Pool, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("database not configured: set DB_HOST or the database section of the config file")
	}
	return db.Connect(ctx, cfg.Database)
}

// connectToRedis opens the configured Redis client and checks it responds.
func connectToRedis(ctx context.Context, cfg *config.ServiceConfig) (*redis.Client, error) {
	if !cfg.Redis.IsConfigured() {
		return nil, fmt.Errorf("redis not configured: set REDIS_ADDR or redis.addr in the config file")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("testing redis connection: %w", err)
	}
	return client, nil
}

// truncateString truncates s to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
