package kv

import (
	"fmt"
	"os"
	"path/filepath"
)

// Supported store drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config selects and configures a Store backend.
type Config struct {
	Driver string      `yaml:"driver" env:"NETPULSE_STORE"`
	Path   string      `yaml:"path"   env:"NETPULSE_DB"`
	Redis  RedisConfig `yaml:"redis"`
}

// DefaultPath is the SQLite location used when none is configured.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".netpulse", "netpulse.db")
}

// Open builds the Store named by cfg.Driver.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = DefaultPath()
		}
		return NewSQLiteStore(path)
	case DriverRedis:
		return NewRedisStore(cfg.Redis)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q (valid: sqlite, redis, memory)", cfg.Driver)
	}
}
