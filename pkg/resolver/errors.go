package resolver

import (
	"errors"
	"fmt"

	"tonaccess/pkg/endpoint"
	"tonaccess/pkg/fleet"
	"tonaccess/pkg/models"
)

var (
	// ErrNoHealthyNodes matches every NoHealthyNodesError.
	ErrNoHealthyNodes = errors.New("no healthy nodes")

	// ErrAllNodesStale is returned when the fleet snapshot is too old and could not be refreshed.
	ErrAllNodesStale = fleet.ErrAllNodesStale
)

// FetchError reports an unreachable manager or malformed manager data.
type FetchError = fleet.FetchError

// UnsupportedProtocolError reports an invalid protocol and format combination.
type UnsupportedProtocolError = endpoint.UnsupportedProtocolError

// NoHealthyNodesError is returned when no node is healthy for the requested protocol and network.
type NoHealthyNodesError struct {
	Protocol models.Protocol
	Network  models.Network
}

func (e *NoHealthyNodesError) Error() string {
	return fmt.Sprintf("no healthy nodes for %s:%s", e.Protocol, e.Network)
}

// Is lets errors.Is(err, ErrNoHealthyNodes) match.
func (e *NoHealthyNodesError) Is(target error) bool {
	return target == ErrNoHealthyNodes
}

// InvalidConfigError is returned for an endpoint config that fails validation.
type InvalidConfigError struct {
	Err error
}

func (e *InvalidConfigError) Error() string {
	return "invalid endpoint config: " + e.Err.Error()
}

func (e *InvalidConfigError) Unwrap() error {
	return e.Err
}
