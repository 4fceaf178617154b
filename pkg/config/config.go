package config

import (
	"fmt"
	"time"

	"tonaccess/pkg/fleet"
	"tonaccess/pkg/models"
	"tonaccess/pkg/resolver"
	"tonaccess/pkg/server"
	"tonaccess/pkg/store"
)

const (
	// DefaultAddr is the status API listen address.
	DefaultAddr = ":8080"
	// DefaultGracefulShutdownTimeout bounds server shutdown.
	DefaultGracefulShutdownTimeout = 30 * time.Second
	// DefaultSQLitePath is used by the sqlite store driver when no path is set.
	DefaultSQLitePath = "ton-access.db"
)

// Duration is a time.Duration written as a string like "10m" in TOML.
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the daemon configuration.
type Config struct {
	Manager  ManagerConfig  `toml:"manager"`
	Resolver ResolverConfig `toml:"resolver"`
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Log      LogConfig      `toml:"log"`
}

// ManagerConfig configures fleet manager polling.
type ManagerConfig struct {
	URL           string   `toml:"url"`
	RefreshAfter  Duration `toml:"refresh_after"`
	StaleAfter    Duration `toml:"stale_after"`
	FetchTimeout  Duration `toml:"fetch_timeout"`
	RetryMax      int      `toml:"retry_max"`
	RetryWaitMin  Duration `toml:"retry_wait_min"`
	RetryWaitMax  Duration `toml:"retry_wait_max"`
	RetryInterval Duration `toml:"retry_interval"`
}

// ResolverConfig holds endpoint defaults and the fan-out.
type ResolverConfig struct {
	FanOut         int    `toml:"fan_out"`
	Network        string `toml:"network"`
	Host           string `toml:"host"`
	AccessVersion  int    `toml:"access_version"`
	ProtocolFormat string `toml:"protocol_format"`
}

// Endpoint returns the resolver defaults as an endpoint config.
func (r ResolverConfig) Endpoint() models.EndpointConfig {
	return models.EndpointConfig{
		Network:        models.Network(r.Network),
		Host:           r.Host,
		AccessVersion:  r.AccessVersion,
		ProtocolFormat: models.Format(r.ProtocolFormat),
	}
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Addr                    string   `toml:"addr"`
	GracefulShutdownTimeout Duration `toml:"graceful_shutdown_timeout"`
	RequestTimeout          Duration `toml:"request_timeout"`
}

// StoreConfig selects snapshot persistence.
type StoreConfig struct {
	Driver    string `toml:"driver"`
	Path      string `toml:"path"`
	RedisAddr string `toml:"redis_addr"`
	RedisKey  string `toml:"redis_key"`
}

// Options returns the store options for store.Open. The sqlite driver falls back
// to DefaultSQLitePath.
func (s StoreConfig) Options() store.Options {
	path := s.Path
	if path == "" && s.Driver == store.DriverSQLite {
		path = DefaultSQLitePath
	}
	return store.Options{
		Driver:    s.Driver,
		Path:      path,
		RedisAddr: s.RedisAddr,
		RedisKey:  s.RedisKey,
	}
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Manager: ManagerConfig{
			URL:           fleet.DefaultManagerURL,
			RefreshAfter:  Duration(fleet.DefaultRefreshAfter),
			StaleAfter:    Duration(fleet.DefaultStaleAfter),
			FetchTimeout:  Duration(fleet.DefaultFetchTimeout),
			RetryMax:      fleet.DefaultRetryMax,
			RetryWaitMin:  Duration(fleet.DefaultRetryWaitMin),
			RetryWaitMax:  Duration(fleet.DefaultRetryWaitMax),
			RetryInterval: Duration(fleet.DefaultRetryInterval),
		},
		Resolver: ResolverConfig{
			FanOut:         resolver.DefaultFanOut,
			Network:        string(models.DefaultNetwork),
			Host:           models.DefaultHost,
			AccessVersion:  models.DefaultAccessVersion,
			ProtocolFormat: string(models.DefaultFormat),
		},
		Server: ServerConfig{
			Addr:                    DefaultAddr,
			GracefulShutdownTimeout: Duration(DefaultGracefulShutdownTimeout),
			RequestTimeout:          Duration(server.DefaultRequestTimeout),
		},
		Store: StoreConfig{
			Driver:   store.DriverNone,
			RedisKey: store.DefaultRedisKey,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
