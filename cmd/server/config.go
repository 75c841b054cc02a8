package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/warp/feefine-engine/feefine"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the server configuration. Each flag takes its default from
// the matching FEEFINE_* environment variable when that is set.
type Config struct {
	Port          int
	DBPath        string
	Timezone      string
	ReportWorkers int
	Attribution   string
	LogLevel      string
	Dev           bool
	AuditInterval time.Duration
	AuditLookback int
}

func parseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.IntVar(&cfg.Port, "port", getenvIntOrDefault("FEEFINE_PORT", 8080), "HTTP server port")
	fs.StringVar(&cfg.DBPath, "db", getenvOrDefault("FEEFINE_DB", "feefines.db"), `SQLite database path (":memory:" for in-memory)`)
	fs.StringVar(&cfg.Timezone, "timezone", getenvOrDefault("FEEFINE_TIMEZONE", "UTC"), "Default tenant timezone (IANA id)")
	fs.IntVar(&cfg.ReportWorkers, "report-workers", getenvIntOrDefault("FEEFINE_REPORT_WORKERS", 8), "Accounts processed concurrently per report")
	fs.StringVar(&cfg.Attribution, "attribution", getenvOrDefault("FEEFINE_ATTRIBUTION", "fifo"), "Refund attribution mode: fifo or cumulative")
	fs.StringVar(&cfg.LogLevel, "log-level", getenvOrDefault("FEEFINE_LOG_LEVEL", ""), "Log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.Dev, "dev", getenvBoolOrDefault("FEEFINE_DEV", false), "Development logging")
	fs.DurationVar(&cfg.AuditInterval, "audit-interval", getenvDurationOrDefault("FEEFINE_AUDIT_INTERVAL", time.Hour), "Refund report audit interval (0 disables)")
	fs.IntVar(&cfg.AuditLookback, "audit-lookback", getenvIntOrDefault("FEEFINE_AUDIT_LOOKBACK", 30), "Days covered by each audit")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if _, err := feefine.ParseAttributionMode(c.Attribution); err != nil {
		return err
	}
	if c.AuditLookback < 0 {
		return fmt.Errorf("invalid audit lookback %d", c.AuditLookback)
	}
	return nil
}

// ReportConfig converts the flags into the report service configuration.
func (c Config) ReportConfig() feefine.ReportConfig {
	mode, _ := feefine.ParseAttributionMode(c.Attribution)
	return feefine.ReportConfig{
		Mode:            mode,
		Workers:         c.ReportWorkers,
		DefaultTimezone: c.Timezone,
	}
}

// =============================================================================
// LOGGER
// =============================================================================

// newLogger builds a JSON zap logger. Development mode lowers the default
// level to debug; an explicit level always wins.
func newLogger(level string, dev bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Encoding = "json"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true

	switch {
	case strings.TrimSpace(level) != "":
		var parsed zapcore.Level
		if err := parsed.Set(level); err != nil {
			return nil, fmt.Errorf("invalid level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	case dev:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// Blank values count as unset. Unparseable values fall back to the default.

func getenvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvIntOrDefault(key string, def int) int {
	v, err := strconv.Atoi(getenvOrDefault(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getenvBoolOrDefault(key string, def bool) bool {
	v, err := strconv.ParseBool(getenvOrDefault(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getenvDurationOrDefault(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(getenvOrDefault(key, ""))
	if err != nil {
		return def
	}
	return v
}
