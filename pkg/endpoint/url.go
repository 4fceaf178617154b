package endpoint

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"tonaccess/pkg/models"
)

const jsonRPCSuffix = "jsonRPC"

var (
	// ErrNotHTTPProtocol is returned when building an HTTP URL for a protocol without one.
	ErrNotHTTPProtocol = errors.New("protocol has no http endpoint")

	// ErrIncompleteAdnlRecord is returned when a node lacks ADNL connection info.
	ErrIncompleteAdnlRecord = errors.New("node has no adnl connection info")
)

// UnsupportedProtocolError reports an invalid protocol and format combination.
type UnsupportedProtocolError struct {
	Protocol models.Protocol
	Format   models.Format
}

func (e *UnsupportedProtocolError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("unsupported protocol %q", e.Protocol)
	}
	return fmt.Sprintf("protocol %s does not support format %s", e.Protocol, e.Format)
}

// Build assembles https://{host}/{nodeId}/{version}/{network}/{protocol}/{suffix}.
// An empty suffix drops the trailing slash.
func Build(host, nodeID string, version int, network models.Network, protocol models.Protocol, suffix string) string {
	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(host)
	b.WriteByte('/')
	b.WriteString(nodeID)
	b.WriteByte('/')
	b.WriteString(strconv.Itoa(version))
	b.WriteByte('/')
	b.WriteString(string(network))
	b.WriteByte('/')
	b.WriteString(string(protocol))
	if suffix != "" {
		b.WriteByte('/')
		b.WriteString(suffix)
	}
	return b.String()
}

// CheckFormat reports whether protocol can be served in format. It does no I/O.
func CheckFormat(protocol models.Protocol, format models.Format) error {
	_, err := Suffix(protocol, format)
	return err
}

// Suffix returns the trailing path segment for protocol in format.
func Suffix(protocol models.Protocol, format models.Format) (string, error) {
	if format == "" {
		format = models.FormatDefault
	}

	switch protocol {
	case models.ProtocolTonCenterV2:
		if format == models.FormatREST {
			return "", nil
		}
		return jsonRPCSuffix, nil
	case models.ProtocolTonAPIV4:
		if format == models.FormatJSONRPC {
			return "", &UnsupportedProtocolError{Protocol: protocol, Format: format}
		}
		return "", nil
	case models.ProtocolAdnlProxy:
		return "", fmt.Errorf("%w: %s", ErrNotHTTPProtocol, protocol)
	default:
		return "", &UnsupportedProtocolError{Protocol: protocol}
	}
}

// URL builds the endpoint URL of node for protocol using a defaulted config.
func URL(node models.NodeRecord, protocol models.Protocol, cfg models.EndpointConfig) (string, error) {
	suffix, err := Suffix(protocol, cfg.ProtocolFormat)
	if err != nil {
		return "", err
	}
	return Build(cfg.Host, node.NodeID, cfg.AccessVersion, cfg.Network, protocol, suffix), nil
}

// Adnl returns the ADNL bootstrap record of node: ip:port and its public key.
func Adnl(node models.NodeRecord) (models.AdnlEndpoint, error) {
	if node.IP == "" || node.AdnlPort <= 0 || node.AdnlPublicKey == "" {
		return models.AdnlEndpoint{}, fmt.Errorf("%w: %s", ErrIncompleteAdnlRecord, node.NodeID)
	}

	return models.AdnlEndpoint{
		Endpoint:  net.JoinHostPort(node.IP, strconv.Itoa(node.AdnlPort)),
		PublicKey: node.AdnlPublicKey,
	}, nil
}
