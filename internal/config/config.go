// Package config loads runtime settings: defaults, then an optional YAML file,
// then .env files, then environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shpitdev/autoprospect/internal/gateway/gemini"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Gemini Gemini `yaml:"gemini"`
	Retry  Retry  `yaml:"retry"`
	Bulk   Bulk   `yaml:"bulk"`
	Geo    Geo    `yaml:"geo"`
	HTTP   HTTP   `yaml:"http"`
	Log    Log    `yaml:"log"`
}

type Gemini struct {
	// APIKey is usually supplied through GEMINI_API_KEY rather than the file.
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	SearchMode   string `yaml:"search_mode"`
	CaptureAudit bool   `yaml:"capture_audit"`
}

type Retry struct {
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
}

type Bulk struct {
	LogWindow    int           `yaml:"log_window"`
	Cooldown     time.Duration `yaml:"cooldown"`
	ApproveDelay time.Duration `yaml:"approve_delay"`
	SendDelay    time.Duration `yaml:"send_delay"`
}

type Geo struct {
	Latitude  *float64      `yaml:"latitude"`
	Longitude *float64      `yaml:"longitude"`
	LookupURL string        `yaml:"lookup_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

type HTTP struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Gemini: Gemini{
			Model:      gemini.DefaultModel,
			SearchMode: string(gemini.SearchModeWeb),
		},
		Retry: Retry{
			MaxRetries:     3,
			RequestTimeout: 60 * time.Second,
		},
		Bulk: Bulk{
			LogWindow:    4,
			Cooldown:     2 * time.Second,
			ApproveDelay: 100 * time.Millisecond,
			SendDelay:    600 * time.Millisecond,
		},
		Geo: Geo{
			Timeout: 3 * time.Second,
		},
		HTTP: HTTP{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load builds the configuration. file is an optional YAML path. envFiles are
// loaded with godotenv without overriding variables already set; when none are
// given, ./.env is loaded if present.
func Load(file string, envFiles ...string) (Config, error) {
	cfg := Default()

	if file = strings.TrimSpace(file); file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := envString("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	} else if v := envString("API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	setString(&c.Gemini.Model, "GEMINI_MODEL")
	setString(&c.Gemini.BaseURL, "GEMINI_BASE_URL")
	setString(&c.Gemini.SearchMode, "GEMINI_SEARCH_MODE")
	setString(&c.Geo.LookupURL, "GEO_LOOKUP_URL")
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.Log.Level, "LOG_LEVEL")
	if v := envString("CORS_ORIGINS"); v != "" {
		c.HTTP.CORSOrigins = splitCSV(v)
	}

	var err error
	if c.Gemini.CaptureAudit, err = envBool("GEMINI_CAPTURE_AUDIT", c.Gemini.CaptureAudit); err != nil {
		return err
	}
	if c.Log.Development, err = envBool("LOG_DEVELOPMENT", c.Log.Development); err != nil {
		return err
	}
	if c.Retry.MaxRetries, err = envInt("MAX_RETRIES", c.Retry.MaxRetries); err != nil {
		return err
	}
	if c.Retry.RequestTimeout, err = envDuration("REQUEST_TIMEOUT", c.Retry.RequestTimeout); err != nil {
		return err
	}
	if c.Retry.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", c.Retry.RateLimitRPS); err != nil {
		return err
	}
	if c.Bulk.LogWindow, err = envInt("BULK_LOG_WINDOW", c.Bulk.LogWindow); err != nil {
		return err
	}
	if c.Bulk.Cooldown, err = envDuration("BULK_COOLDOWN", c.Bulk.Cooldown); err != nil {
		return err
	}
	if c.Bulk.ApproveDelay, err = envDuration("APPROVE_DELAY", c.Bulk.ApproveDelay); err != nil {
		return err
	}
	if c.Bulk.SendDelay, err = envDuration("SEND_DELAY", c.Bulk.SendDelay); err != nil {
		return err
	}
	if c.Geo.Timeout, err = envDuration("GEO_TIMEOUT", c.Geo.Timeout); err != nil {
		return err
	}
	if c.Geo.Latitude, err = envFloatPtr("GEO_LATITUDE", c.Geo.Latitude); err != nil {
		return err
	}
	if c.Geo.Longitude, err = envFloatPtr("GEO_LONGITUDE", c.Geo.Longitude); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the services cannot run with. A missing API key is
// allowed: actions needing the gateway report it individually.
func (c Config) Validate() error {
	if _, err := gemini.ParseSearchMode(c.Gemini.SearchMode); err != nil {
		return err
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be > 0, got %s", c.Retry.RequestTimeout)
	}
	if c.Retry.RateLimitRPS < 0 {
		return fmt.Errorf("rate_limit_rps must be >= 0, got %v", c.Retry.RateLimitRPS)
	}
	if c.Bulk.LogWindow < 1 {
		return fmt.Errorf("bulk log_window must be >= 1, got %d", c.Bulk.LogWindow)
	}
	if c.Bulk.Cooldown < 0 || c.Bulk.ApproveDelay < 0 || c.Bulk.SendDelay < 0 {
		return fmt.Errorf("bulk delays must be >= 0")
	}
	if (c.Geo.Latitude == nil) != (c.Geo.Longitude == nil) {
		return fmt.Errorf("geo latitude and longitude must be set together")
	}
	if c.Geo.Latitude != nil {
		if lat := *c.Geo.Latitude; lat < -90 || lat > 90 {
			return fmt.Errorf("geo latitude out of range: %v", lat)
		}
		if lon := *c.Geo.Longitude; lon < -180 || lon > 180 {
			return fmt.Errorf("geo longitude out of range: %v", lon)
		}
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("http addr is required")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	return nil
}

func envString(varName string) string {
	return strings.TrimSpace(os.Getenv(varName))
}

func setString(dst *string, varName string) {
	if v := envString(varName); v != "" {
		*dst = v
	}
}

func envInt(varName string, fallback int) (int, error) {
	v := envString(varName)
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := envString(varName)
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloatPtr(varName string, fallback *float64) (*float64, error) {
	v := envString(varName)
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return &out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := envString(varName)
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envBool(varName string, fallback bool) (bool, error) {
	v := envString(varName)
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
