package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/irgordon/sealedapi/api/internal/core/domain"
	"github.com/irgordon/sealedapi/api/internal/infrastructure/crypto"
)

// Decode failure policies.
const (
	FailClosed = "closed"
	FailOpen   = "open"
)

const DefaultTimeout = 100 * time.Second

// DefaultBaseURL points the client at a mirror running locally on its
// default port.
const DefaultBaseURL = "http://localhost:8080"

// Config is built once at startup and shared read-only afterwards.
type Config struct {
	Environment string        `yaml:"environment" validate:"oneof=development production test"`
	BaseURL     string        `yaml:"base_url" validate:"required,url"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	RateLimit   float64       `yaml:"rate_limit" validate:"gte=0"`
	LogLevel    string        `yaml:"log_level" validate:"oneof=debug info warn error"`

	Encryption EncryptionConfig `yaml:"encryption"`
	Mirror     MirrorConfig     `yaml:"mirror"`
}

// EncryptionConfig holds the payload codec settings.
type EncryptionConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Secret        string        `yaml:"secret" validate:"required_if=Enabled true"`
	DoubleEncode  bool          `yaml:"double_encode"`
	DecodeFailure string        `yaml:"decode_failure" validate:"oneof=closed open"`
	MaxTokenAge   time.Duration `yaml:"max_token_age" validate:"gte=0"`
}

// MirrorConfig configures the reference server.
type MirrorConfig struct {
	Port           string   `yaml:"port" validate:"required,numeric"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	JWTSecret      string   `yaml:"jwt_secret"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes" validate:"gt=0"`
	RateLimit      float64  `yaml:"rate_limit" validate:"gte=0"`
}

// FailOpen reports whether decode failures on responses are passed through.
func (e EncryptionConfig) FailOpen() bool { return e.DecodeFailure == FailOpen }

// String keeps the secret out of %v output.
func (e EncryptionConfig) String() string {
	return fmt.Sprintf("{Enabled:%t Secret:[REDACTED] DoubleEncode:%t DecodeFailure:%s MaxTokenAge:%s}",
		e.Enabled, e.DoubleEncode, e.DecodeFailure, e.MaxTokenAge)
}

var validate = validator.New()

// Default returns the baseline settings. No secret is ever defaulted.
func Default() *Config {
	return &Config{
		Environment: "production",
		BaseURL:     DefaultBaseURL,
		Timeout:     DefaultTimeout,
		LogLevel:    "info",
		Encryption: EncryptionConfig{
			Enabled:       true,
			DecodeFailure: FailClosed,
		},
		Mirror: MirrorConfig{
			Port:           "8080",
			AllowedOrigins: []string{"http://localhost:5173"},
			MaxBodyBytes:   1_048_576,
			RateLimit:      10,
		},
	}
}

// Load layers defaults, the optional YAML file at path, a .env file and the
// process environment, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &domain.ConfigError{Field: "file", Err: err}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &domain.ConfigError{Field: "file", Err: err}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &domain.ConfigError{Field: ".env", Err: err}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and that an enabled secret parses.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return &domain.ConfigError{Field: fieldErrs[0].Namespace(), Err: fmt.Errorf("failed %q validation", fieldErrs[0].Tag())}
		}
		return &domain.ConfigError{Field: "config", Err: err}
	}

	if c.Encryption.Enabled {
		if _, err := crypto.ParseSecret(c.Encryption.Secret); err != nil {
			return &domain.ConfigError{Field: "encryption.secret", Err: err}
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Environment = getEnv("SEALEDAPI_ENV", cfg.Environment)
	cfg.BaseURL = getEnv("API_BASE_URL", cfg.BaseURL)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))

	cfg.Encryption.Secret = getEnv("ENCRYPTION_SECRET", cfg.Encryption.Secret)
	cfg.Encryption.DecodeFailure = strings.ToLower(getEnv("DECODE_FAILURE_POLICY", cfg.Encryption.DecodeFailure))

	cfg.Mirror.Port = getEnv("PORT", cfg.Mirror.Port)
	cfg.Mirror.JWTSecret = getEnv("JWT_SECRET", cfg.Mirror.JWTSecret)
	if origins := getEnv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.Mirror.AllowedOrigins = strings.Split(origins, ",")
	}

	var err error
	if cfg.Encryption.Enabled, err = getBool("ENCRYPTION_ENABLED", cfg.Encryption.Enabled); err != nil {
		return err
	}
	if cfg.Encryption.DoubleEncode, err = getBool("ENCRYPTION_DOUBLE_ENCODE", cfg.Encryption.DoubleEncode); err != nil {
		return err
	}
	if cfg.Encryption.MaxTokenAge, err = getDuration("TOKEN_MAX_AGE", cfg.Encryption.MaxTokenAge); err != nil {
		return err
	}
	if cfg.Timeout, err = getDuration("HTTP_TIMEOUT", cfg.Timeout); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_RPS"); ok {
		if cfg.RateLimit, err = strconv.ParseFloat(v, 64); err != nil {
			return &domain.ConfigError{Field: "RATE_LIMIT_RPS", Err: err}
		}
	}
	if v, ok := os.LookupEnv("MAX_BODY_BYTES"); ok {
		if cfg.Mirror.MaxBodyBytes, err = strconv.ParseInt(v, 10, 64); err != nil {
			return &domain.ConfigError{Field: "MAX_BODY_BYTES", Err: err}
		}
	}
	return nil
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, &domain.ConfigError{Field: key, Err: err}
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &domain.ConfigError{Field: key, Err: err}
	}
	return d, nil
}
