package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/abrezinsky/cragboard/internal/logger"
)

// EnvPrefix prefixes every environment variable the server reads
const EnvPrefix = "CRAGBOARD_"

// Config holds server settings. Precedence: flags, then environment, then
// the .env file, then defaults.
type Config struct {
	Addr                 string
	DBPath               string
	OperatorPassword     string
	LogLevel             string
	LogFormat            string
	HeartbeatInterval    time.Duration
	TimerSyncInterval    time.Duration
	AllowedOrigins       []string
	AllowedOriginPattern string
	ResultsURL           string
	NATSURL              string
	NATSSubjectPrefix    string
	EventFile            string
	BaseURL              string
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		Addr:              ":8081",
		DBPath:            "cragboard.db",
		LogLevel:          "info",
		LogFormat:         "text",
		HeartbeatInterval: 30 * time.Second,
		TimerSyncInterval: 10 * time.Second,
		NATSSubjectPrefix: "cragboard",
	}
}

// Load reads envFile (if it exists) into the process environment and
// returns the defaults overlaid with CRAGBOARD_* variables. Variables
// already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg := Default()
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays every CRAGBOARD_* variable that is set
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v := getenv(EnvPrefix + key)
		if v == "" {
			return nil
		}
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("ADDR", &c.Addr)
	str("DB", &c.DBPath)
	str("OPERATOR_PASSWORD", &c.OperatorPassword)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("ALLOWED_ORIGIN_PATTERN", &c.AllowedOriginPattern)
	str("RESULTS_URL", &c.ResultsURL)
	str("NATS_URL", &c.NATSURL)
	str("NATS_SUBJECT_PREFIX", &c.NATSSubjectPrefix)
	str("EVENT_FILE", &c.EventFile)
	str("BASE_URL", &c.BaseURL)
	if v := getenv(EnvPrefix + "ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = SplitList(v)
	}
	if err := dur("HEARTBEAT_INTERVAL", &c.HeartbeatInterval); err != nil {
		return err
	}
	return dur("TIMER_SYNC_INTERVAL", &c.TimerSyncInterval)
}

// Validate rejects settings the server cannot run with
func (c Config) Validate() error {
	if c.Addr == "" {
		return stderrors.New("listen address is required")
	}
	if c.DBPath == "" {
		return stderrors.New("database path is required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", c.HeartbeatInterval)
	}
	if c.TimerSyncInterval < 0 {
		return fmt.Errorf("timer sync interval must not be negative, got %v", c.TimerSyncInterval)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// LoggerOptions translates the logging settings
func (c Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level:  logger.ParseLevel(c.LogLevel),
		Format: c.LogFormat,
	}
}

// ParseDuration accepts Go durations ("45s") or a plain number of seconds
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// SplitList splits a comma separated list, dropping blanks
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
