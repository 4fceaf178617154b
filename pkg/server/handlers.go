package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tonaccess/pkg/log"
	"tonaccess/pkg/models"

	"github.com/labstack/echo/v4"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Nodes     int    `json:"nodes"`
	Age       string `json:"age,omitempty"`
	Fetches   int64  `json:"fetches"`
	Failures  int64  `json:"failures"`
	LastError string `json:"last_error,omitempty"`
}

// URLResponse is the body of a single HTTP endpoint resolution.
type URLResponse struct {
	URL string `json:"url"`
}

// URLsResponse is the body of a multi HTTP endpoint resolution.
type URLsResponse struct {
	URLs []string `json:"urls"`
}

// AdnlResponse is the body of a multi adnl-proxy resolution.
type AdnlResponse struct {
	Endpoints []models.AdnlEndpoint `json:"endpoints"`
}

// health reports whether a usable fleet snapshot is cached. It never fetches.
func (s *Server) health(ctx echo.Context) error {
	resp := HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Fetches:  s.cache.FetchCount(),
		Failures: s.cache.FailureCount(),
	}
	if err := s.cache.LastError(); err != nil {
		resp.LastError = err.Error()
	}

	snapshot := s.cache.Current()
	if snapshot == nil {
		resp.Status = "unavailable"
		return ctx.JSON(http.StatusServiceUnavailable, resp)
	}

	age := snapshot.Age(s.cache.Now())
	resp.Nodes = snapshot.Len()
	resp.Age = age.Round(time.Second).String()
	if age > s.cache.StaleAfter() {
		resp.Status = "stale"
		return ctx.JSON(http.StatusServiceUnavailable, resp)
	}

	return ctx.JSON(http.StatusOK, resp)
}

// nodes handles GET /api/v1/nodes.
func (s *Server) nodes(ctx echo.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx.Request().Context(), s.requestTimeout)
	defer cancel()

	status, err := s.resolver.Status(reqCtx)
	if err != nil {
		return s.fail(ctx, err)
	}
	return ctx.JSON(http.StatusOK, status)
}

// endpoint handles GET /api/v1/endpoint/:protocol.
func (s *Server) endpoint(ctx echo.Context) error {
	protocol, cfg, err := parseRequest(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, errorBody(err))
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request().Context(), s.requestTimeout)
	defer cancel()

	if protocol == models.ProtocolAdnlProxy {
		adnl, err := s.resolver.AdnlProxyEndpoint(reqCtx, cfg)
		if err != nil {
			return s.fail(ctx, err)
		}
		return ctx.JSON(http.StatusOK, adnl)
	}

	url, err := s.resolver.Endpoint(reqCtx, protocol, cfg)
	if err != nil {
		return s.fail(ctx, err)
	}
	return ctx.JSON(http.StatusOK, URLResponse{URL: url})
}

// endpoints handles GET /api/v1/endpoints/:protocol.
func (s *Server) endpoints(ctx echo.Context) error {
	protocol, cfg, err := parseRequest(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, errorBody(err))
	}

	single := false
	if raw := ctx.QueryParam("single"); raw != "" {
		single, err = strconv.ParseBool(raw)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, errorBody(fmt.Errorf("invalid single %q", raw)))
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request().Context(), s.requestTimeout)
	defer cancel()

	if protocol == models.ProtocolAdnlProxy {
		endpoints, err := s.resolver.AdnlProxyEndpoints(reqCtx, cfg, single)
		if err != nil {
			return s.fail(ctx, err)
		}
		return ctx.JSON(http.StatusOK, AdnlResponse{Endpoints: endpoints})
	}

	urls, err := s.resolver.Endpoints(reqCtx, protocol, cfg, single)
	if err != nil {
		return s.fail(ctx, err)
	}
	return ctx.JSON(http.StatusOK, URLsResponse{URLs: urls})
}

func (s *Server) fail(ctx echo.Context, err error) error {
	code := statusFor(err)
	event := log.Warn()
	if code >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).
		Int("status", code).
		Str("path", ctx.Request().URL.Path).
		Msg("Resolution failed")
	return ctx.JSON(code, errorBody(err))
}

// parseRequest reads the protocol path parameter and the endpoint config query parameters.
func parseRequest(ctx echo.Context) (models.Protocol, models.EndpointConfig, error) {
	protocol, err := models.ParseProtocol(ctx.Param("protocol"))
	if err != nil {
		return "", models.EndpointConfig{}, err
	}

	cfg := models.EndpointConfig{
		Network:        models.Network(ctx.QueryParam("network")),
		Host:           ctx.QueryParam("host"),
		ProtocolFormat: models.Format(ctx.QueryParam("format")),
	}
	if raw := ctx.QueryParam("version"); raw != "" {
		cfg.AccessVersion, err = strconv.Atoi(raw)
		if err != nil {
			return "", models.EndpointConfig{}, fmt.Errorf("invalid version %q", raw)
		}
	}

	return protocol, cfg, nil
}
