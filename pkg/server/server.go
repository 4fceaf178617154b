package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tonaccess/pkg/fleet"
	"tonaccess/pkg/log"
	"tonaccess/pkg/resolver"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// DefaultRequestTimeout bounds one resolution request.
const DefaultRequestTimeout = 20 * time.Second

// Server exposes endpoint resolution and fleet status over HTTP.
type Server struct {
	resolver                *resolver.Resolver
	cache                   *fleet.Cache
	gracefulShutdownTimeout time.Duration
	requestTimeout          time.Duration
	version                 string
	echo                    *echo.Echo
}

func NewServer(res *resolver.Resolver, cache *fleet.Cache, gracefulShutdownTimeout, requestTimeout time.Duration, version string) *Server {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Server{
		resolver:                res,
		cache:                   cache,
		gracefulShutdownTimeout: gracefulShutdownTimeout,
		requestTimeout:          requestTimeout,
		version:                 version,
		echo:                    echo.New(),
	}
}

// Start serves on addr until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start(addr string) error {
	s.setupRoutes()

	go func() {
		log.Info().
			Str("addr", addr).
			Str("manager_url", s.cache.ManagerURL()).
			Str("version", s.version).
			Msg("Starting ton-access resolver")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.gracefulShutdownTimeout)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.echo.Use(middleware.Logger())
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())

	s.echo.GET("/health", s.health)

	api := s.echo.Group("/api/v1")
	api.GET("/nodes", s.nodes)
	api.GET("/endpoint/:protocol", s.endpoint)
	api.GET("/endpoints/:protocol", s.endpoints)
}
