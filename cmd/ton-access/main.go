package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"tonaccess/pkg/config"
	"tonaccess/pkg/fleet"
	"tonaccess/pkg/log"
	"tonaccess/pkg/resolver"
	"tonaccess/pkg/server"
	"tonaccess/pkg/store"
)

var Version string

const storeOpenTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file")
	addr := flag.String("addr", config.DefaultAddr, "Status API listen address")
	managerURL := flag.String("manager-url", fleet.DefaultManagerURL, "Fleet manager node list URL")
	refreshAfter := flag.Duration("refresh-after", fleet.DefaultRefreshAfter, "Snapshot age that triggers a refresh")
	staleAfter := flag.Duration("stale-after", fleet.DefaultStaleAfter, "Snapshot age after which it is no longer served")
	fanOut := flag.Int("fan-out", resolver.DefaultFanOut, "Number of endpoints returned by multi-endpoint calls")
	storeDriver := flag.String("store", store.DriverNone, "Snapshot store: none, sqlite or redis")
	dbPath := flag.String("db", config.DefaultSQLitePath, "SQLite database path for the sqlite store")
	redisAddr := flag.String("redis-addr", "", "Redis address for the redis store")
	requestTimeout := flag.Duration("request-timeout", server.DefaultRequestTimeout, "Per-request resolution timeout")
	debug := flag.Bool("debug", false, "Enable debug logging")
	jsonLog := flag.Bool("json-log", false, "Write logs as JSON")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("Failed to load configuration")
	}

	// Flags given explicitly win over the file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addr
		case "manager-url":
			cfg.Manager.URL = *managerURL
		case "refresh-after":
			cfg.Manager.RefreshAfter = config.Duration(*refreshAfter)
		case "stale-after":
			cfg.Manager.StaleAfter = config.Duration(*staleAfter)
		case "fan-out":
			cfg.Resolver.FanOut = *fanOut
		case "store":
			cfg.Store.Driver = *storeDriver
		case "db":
			cfg.Store.Path = *dbPath
		case "request-timeout":
			cfg.Server.RequestTimeout = config.Duration(*requestTimeout)
		case "redis-addr":
			cfg.Store.RedisAddr = *redisAddr
		case "debug":
			if *debug {
				cfg.Log.Level = "debug"
			}
		case "json-log":
			cfg.Log.JSON = *jsonLog
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if cfg.Log.JSON {
		log.SetJSONOutput(os.Stdout)
	}
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}
	log.Debug().Msg("Debug mode enabled")

	openCtx, cancel := context.WithTimeout(context.Background(), storeOpenTimeout)
	snapshotStore, err := store.Open(openCtx, cfg.Store.Options())
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Failed to open snapshot store")
	}

	fetcher := fleet.NewHTTPFetcher(
		cfg.Manager.RetryMax,
		cfg.Manager.RetryWaitMin.Std(),
		cfg.Manager.RetryWaitMax.Std(),
		cfg.Manager.FetchTimeout.Std(),
	)

	cacheOpts := []fleet.CacheOption{
		fleet.WithRefreshAfter(cfg.Manager.RefreshAfter.Std()),
		fleet.WithStaleAfter(cfg.Manager.StaleAfter.Std()),
		fleet.WithFetchTimeout(cfg.Manager.FetchTimeout.Std()),
		fleet.WithRetryInterval(cfg.Manager.RetryInterval.Std()),
	}
	if snapshotStore != nil {
		cacheOpts = append(cacheOpts, fleet.WithStore(snapshotStore))
	}

	cache, err := fleet.NewCache(cfg.Manager.URL, fetcher, cacheOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create fleet cache")
	}
	if err := cache.Warm(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Failed to load persisted fleet snapshot")
	}
	cache.Start()

	res := resolver.New(cache,
		resolver.WithFanOut(cfg.Resolver.FanOut),
		resolver.WithDefaults(cfg.Resolver.Endpoint()),
	)

	log.Info().
		Str("manager_url", cfg.Manager.URL).
		Dur("refresh_after", cfg.Manager.RefreshAfter.Std()).
		Dur("stale_after", cfg.Manager.StaleAfter.Std()).
		Int("fan_out", res.FanOut()).
		Str("store", cfg.Store.Driver).
		Msg("Configured resolver")

	srv := server.NewServer(res, cache, cfg.Server.GracefulShutdownTimeout.Std(), cfg.Server.RequestTimeout.Std(), strings.TrimSpace(Version))
	err = srv.Start(cfg.Server.Addr)

	cache.Stop()
	if snapshotStore != nil {
		if closeErr := snapshotStore.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close snapshot store")
		}
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}

	os.Exit(0)
}
