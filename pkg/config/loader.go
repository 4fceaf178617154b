package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Environment variable names
const (
	EnvManagerURL = "TONACCESS_MANAGER_URL"
	EnvLogLevel   = "TONACCESS_LOG_LEVEL"
	EnvAddr       = "TONACCESS_ADDR"
	EnvRedisAddr  = "TONACCESS_REDIS_ADDR"
	EnvFanOut     = "TONACCESS_FAN_OUT"
)

// Load returns the configuration with priority defaults < file < env.
// An empty path skips the file; a named file that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid TOML in %s: %w", path, err)
		}
	}

	if err := applyEnvVars(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML onto cfg. Keys absent from data keep their current values.
func Parse(data []byte, cfg *Config) error {
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	return decoder.Decode(cfg)
}

// Encode renders cfg as TOML.
func Encode(cfg *Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

func applyEnvVars(cfg *Config) error {
	if v := os.Getenv(EnvManagerURL); v != "" {
		cfg.Manager.URL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvAddr); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Store.RedisAddr = v
	}
	if v := os.Getenv(EnvFanOut); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, EnvFanOut, v)
		}
		cfg.Resolver.FanOut = i
	}
	return nil
}
