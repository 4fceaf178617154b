package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"tonaccess/pkg/store"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidLogLevels are the allowed log level values.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	parsed, err := url.Parse(c.Manager.URL)
	if c.Manager.URL == "" || err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		errs = append(errs, fmt.Sprintf("manager.url %q must be an absolute http(s) URL", c.Manager.URL))
	}
	if c.Manager.RefreshAfter <= 0 {
		errs = append(errs, "manager.refresh_after must be positive")
	}
	if c.Manager.StaleAfter <= 0 {
		errs = append(errs, "manager.stale_after must be positive")
	}
	if c.Manager.RefreshAfter > c.Manager.StaleAfter {
		errs = append(errs, "manager.refresh_after must not exceed manager.stale_after")
	}
	if c.Manager.FetchTimeout <= 0 {
		errs = append(errs, "manager.fetch_timeout must be positive")
	}
	if c.Manager.RetryMax < 0 {
		errs = append(errs, "manager.retry_max must be non-negative")
	}
	if c.Manager.RetryWaitMin < 0 || c.Manager.RetryWaitMax < 0 {
		errs = append(errs, "manager retry waits must be non-negative")
	}
	if c.Manager.RetryInterval < 0 {
		errs = append(errs, "manager.retry_interval must be non-negative")
	}

	if c.Resolver.FanOut < 1 {
		errs = append(errs, "resolver.fan_out must be at least 1")
	}
	if err := c.Resolver.Endpoint().WithDefaults().Validate(); err != nil {
		errs = append(errs, "resolver: "+err.Error())
	}

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.GracefulShutdownTimeout < 0 {
		errs = append(errs, "server.graceful_shutdown_timeout must be non-negative")
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "server.request_timeout must be positive")
	}

	switch c.Store.Driver {
	case "", store.DriverNone, store.DriverSQLite:
	case store.DriverRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, "store.redis_addr is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
	}

	validLevel := false
	for _, level := range ValidLogLevels {
		if strings.EqualFold(c.Log.Level, level) {
			validLevel = true
			break
		}
	}
	if !validLevel {
		errs = append(errs, fmt.Sprintf("invalid log.level %q (must be one of: %s)",
			c.Log.Level, strings.Join(ValidLogLevels, ", ")))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}
