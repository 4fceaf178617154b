package server

import (
	"context"
	"errors"
	"net/http"

	"tonaccess/pkg/resolver"
)

// statusFor maps a resolution error to an HTTP status code.
func statusFor(err error) int {
	var invalid *resolver.InvalidConfigError
	var unsupported *resolver.UnsupportedProtocolError
	var fetchErr *resolver.FetchError

	switch {
	case errors.As(err, &invalid), errors.As(err, &unsupported):
		return http.StatusBadRequest
	case errors.Is(err, resolver.ErrNoHealthyNodes):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, resolver.ErrAllNodesStale), errors.As(err, &fetchErr), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) map[string]string {
	return map[string]string{
		"error": err.Error(),
	}
}
