package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/example/art-gallery/api-go/internal/compositor"
)

type Config struct {
	Addr              string        `yaml:"addr"`
	DataDir           string        `yaml:"data_dir"`
	BaseURL           string        `yaml:"base_url"`
	RelayURL          string        `yaml:"relay_url"`
	PeriodMode        string        `yaml:"period_mode"`
	MaxAttempts       int           `yaml:"max_attempts"`
	Backoff           time.Duration `yaml:"backoff"`
	RelayTimeout      time.Duration `yaml:"relay_timeout"`
	RelayAllowPrivate bool          `yaml:"relay_allow_private"`
	ImageHeightMM     float64       `yaml:"image_height_mm"`
	Locale            string        `yaml:"locale"`
	Currency          string        `yaml:"currency"`
	RedisAddr         string        `yaml:"redis_addr"`
	LogLevel          string        `yaml:"log_level"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
}

func Defaults() Config {
	return Config{
		Addr:           ":8000",
		DataDir:        filepath.Join("..", "..", "local-data"),
		PeriodMode:     string(compositor.PeriodSince),
		MaxAttempts:    3,
		Backoff:        time.Second,
		RelayTimeout:   60 * time.Second,
		ImageHeightMM:  100,
		Locale:         "en-IN",
		Currency:       "INR",
		LogLevel:       "info",
		AllowedOrigins: []string{"*"},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// ART_CONFIG, and environment variables, in increasing precedence.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("ART_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.Addr = getenv("ART_API_ADDR", cfg.Addr)
	cfg.DataDir = getenv("ART_DATA_DIR", cfg.DataDir)
	cfg.BaseURL = getenv("ART_BASE_URL", cfg.BaseURL)
	cfg.RelayURL = getenv("ART_RELAY_URL", cfg.RelayURL)
	cfg.PeriodMode = strings.ToLower(getenv("ART_PERIOD_MODE", cfg.PeriodMode))
	cfg.Locale = getenv("ART_LOCALE", cfg.Locale)
	cfg.Currency = strings.ToUpper(getenv("ART_CURRENCY", cfg.Currency))
	cfg.RedisAddr = getenv("ART_REDIS_ADDR", cfg.RedisAddr)
	cfg.LogLevel = getenv("ART_LOG_LEVEL", cfg.LogLevel)
	cfg.AllowedOrigins = getenvCSV("ART_ALLOWED_ORIGINS", cfg.AllowedOrigins)

	var err error
	if cfg.MaxAttempts, err = getenvInt("ART_MAX_ATTEMPTS", cfg.MaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.Backoff, err = getenvDuration("ART_BACKOFF", cfg.Backoff); err != nil {
		return Config{}, err
	}
	if cfg.RelayTimeout, err = getenvDuration("ART_RELAY_TIMEOUT", cfg.RelayTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RelayAllowPrivate, err = getenvBool("ART_RELAY_ALLOW_PRIVATE", cfg.RelayAllowPrivate); err != nil {
		return Config{}, err
	}
	if cfg.ImageHeightMM, err = getenvFloat("ART_IMAGE_HEIGHT_MM", cfg.ImageHeightMM); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if _, err := compositor.ParsePeriodMode(c.PeriodMode); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.Backoff < 0 {
		return fmt.Errorf("backoff must not be negative, got %s", c.Backoff)
	}
	if c.ImageHeightMM <= 0 {
		return fmt.Errorf("image height must be positive, got %v", c.ImageHeightMM)
	}
	return nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv walks up from the working directory looking for a .env file.
func LoadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getenvBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getenvFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getenvCSV(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	values := splitCSV(raw)
	if len(values) == 0 {
		return fallback
	}
	return values
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
