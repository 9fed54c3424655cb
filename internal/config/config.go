// Package config loads netpulse configuration from a YAML file, .env files
// and environment variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/netpulse/internal/kv"
	"github.com/rcliao/netpulse/internal/logging"
)

// Config is the root configuration.
type Config struct {
	Store   kv.Config      `yaml:"store"`
	Log     logging.Config `yaml:"log"`
	Server  ServerConfig   `yaml:"server"`
	AI      AIConfig       `yaml:"ai"`
	Tracker TrackerConfig  `yaml:"tracker"`
}

// ServerConfig configures the local daemon.
type ServerConfig struct {
	Addr            string        `yaml:"addr"             env:"NETPULSE_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"NETPULSE_SHUTDOWN_TIMEOUT"`
}

// AIConfig configures the analysis pipeline.
type AIConfig struct {
	Provider  string      `yaml:"provider"   env:"NETPULSE_AI_PROVIDER"`
	Model     string      `yaml:"model"      env:"NETPULSE_AI_MODEL"`
	Language  string      `yaml:"language"   env:"NETPULSE_AI_LANGUAGE"`
	APIKey    string      `yaml:"api_key"    env:"NETPULSE_AI_API_KEY"`
	Endpoint  string      `yaml:"endpoint"   env:"NETPULSE_AI_ENDPOINT"`
	MaxTokens int         `yaml:"max_tokens" env:"NETPULSE_AI_MAX_TOKENS"`
	Cache     CacheConfig `yaml:"cache"`
}

// CacheConfig configures the analysis result cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"         env:"NETPULSE_CACHE_TTL"`
	MaxEntries int           `yaml:"max_entries" env:"NETPULSE_CACHE_MAX"`
}

// TrackerConfig configures request tracking.
type TrackerConfig struct {
	// AuthorizedDomains are seeded into the authorization store at startup.
	AuthorizedDomains []string `yaml:"authorized_domains"`
}

// SetDefaults fills every unset field.
func (c *Config) SetDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = kv.DriverSQLite
	}
	if c.Store.Driver == kv.DriverSQLite && c.Store.Path == "" {
		c.Store.Path = kv.DefaultPath()
	}
	if c.Store.Redis.Address == "" {
		c.Store.Redis.Address = "localhost:6379"
	}
	c.Log.SetDefaults()
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:7878"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "openai"
	}
	if c.AI.Language == "" {
		c.AI.Language = "en"
	}
	if c.AI.MaxTokens == 0 {
		c.AI.MaxTokens = 2048
	}
	if c.AI.Cache.TTL == 0 {
		c.AI.Cache.TTL = time.Hour
	}
	if c.AI.Cache.MaxEntries == 0 {
		c.AI.Cache.MaxEntries = 30
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.AI.MaxTokens < 0 {
		return &ValidationError{Field: "ai.max_tokens", Message: "must not be negative"}
	}
	if c.AI.Cache.MaxEntries < 0 {
		return &ValidationError{Field: "ai.cache.max_entries", Message: "must not be negative"}
	}
	if c.AI.Language != "en" && c.AI.Language != "zh" {
		return &ValidationError{Field: "ai.language", Message: fmt.Sprintf("unsupported language %q (valid: en, zh)", c.AI.Language)}
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
