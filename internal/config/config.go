package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Wikid82/cerberus/internal/models"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	DatabasePath string
	LogDir       string
	Debug        bool
	Security     SecurityConfig
	Alerts       AlertConfig
	Redis        RedisConfig
}

// SecurityConfig drives the validation engine and its background jobs.
type SecurityConfig struct {
	Mode               models.Mode
	FailClosed         bool
	GeoMode            string // "deny" or "allow"
	RefreshInterval    time.Duration
	SweepInterval      time.Duration
	RetentionSchedule  string
	EventRetentionDays int
	MatchTimeout       time.Duration
	MaxInspectBytes    int
	EventQueueSize     int
	GeoIPDatabase      string
}

// AlertConfig configures the shoutrrr alert forwarder. No URLs disables it.
type AlertConfig struct {
	URLs        []string
	MinSeverity string
	PerMinute   int
}

// RedisConfig configures cross-replica block propagation. Empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Load reads env vars and falls back to defaults so the engine can boot with zero configuration.
// A .env file in the working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:  getEnv("CERBERUS_ENV", "development"),
		DatabasePath: getEnv("CERBERUS_DB_PATH", filepath.Join("data", "cerberus.db")),
		LogDir:       getEnv("CERBERUS_LOG_DIR", filepath.Join("data", "logs")),
		Security: SecurityConfig{
			GeoMode:           strings.ToLower(getEnv("CERBERUS_GEO_MODE", "deny")),
			RetentionSchedule: getEnv("CERBERUS_RETENTION_SCHEDULE", "0 3 * * *"),
			GeoIPDatabase:     getEnv("CERBERUS_GEOIP_DB", ""),
		},
		Alerts: AlertConfig{
			URLs:        splitList(getEnv("CERBERUS_ALERT_URLS", "")),
			MinSeverity: strings.ToUpper(getEnv("CERBERUS_ALERT_MIN_SEVERITY", models.SeverityHigh)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("CERBERUS_REDIS_ADDR", ""),
			Password: getEnv("CERBERUS_REDIS_PASSWORD", ""),
			Channel:  getEnv("CERBERUS_REDIS_CHANNEL", "cerberus:blocks"),
		},
	}

	var err error
	mode, ok := models.ParseMode(getEnv("CERBERUS_WAF_MODE", "detect"))
	if !ok {
		return Config{}, fmt.Errorf("invalid CERBERUS_WAF_MODE %q", os.Getenv("CERBERUS_WAF_MODE"))
	}
	cfg.Security.Mode = mode

	if cfg.Security.GeoMode != "deny" && cfg.Security.GeoMode != "allow" {
		return Config{}, fmt.Errorf("invalid CERBERUS_GEO_MODE %q", cfg.Security.GeoMode)
	}
	if !models.IsValidSeverity(cfg.Alerts.MinSeverity) {
		return Config{}, fmt.Errorf("invalid CERBERUS_ALERT_MIN_SEVERITY %q", cfg.Alerts.MinSeverity)
	}

	if cfg.Debug, err = getBool("CERBERUS_DEBUG", false); err != nil {
		return Config{}, err
	}
	if cfg.Security.FailClosed, err = getBool("CERBERUS_FAIL_CLOSED", false); err != nil {
		return Config{}, err
	}
	if cfg.Security.RefreshInterval, err = getDuration("CERBERUS_REFRESH_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Security.SweepInterval, err = getDuration("CERBERUS_SWEEP_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.Security.MatchTimeout, err = getDuration("CERBERUS_MATCH_TIMEOUT", 50*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.Security.EventRetentionDays, err = getInt("CERBERUS_EVENT_RETENTION_DAYS", 90); err != nil {
		return Config{}, err
	}
	if cfg.Security.MaxInspectBytes, err = getInt("CERBERUS_MAX_INSPECT_BYTES", 64<<10); err != nil {
		return Config{}, err
	}
	if cfg.Security.EventQueueSize, err = getInt("CERBERUS_EVENT_QUEUE_SIZE", 1024); err != nil {
		return Config{}, err
	}
	if cfg.Alerts.PerMinute, err = getInt("CERBERUS_ALERT_RATE", 30); err != nil {
		return Config{}, err
	}
	if cfg.Redis.DB, err = getInt("CERBERUS_REDIS_DB", 0); err != nil {
		return Config{}, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, val)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, val)
	}
	return d, nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
