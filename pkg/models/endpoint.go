package models

import (
	"fmt"
	"net/url"
	"strings"
)

// Network selects the fleet partition.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Valid reports whether the network is known.
func (n Network) Valid() bool {
	return n == Mainnet || n == Testnet
}

// Protocol is an RPC API shape served by the fleet.
type Protocol string

const (
	ProtocolTonCenterV2 Protocol = "toncenter-api-v2"
	ProtocolTonAPIV4    Protocol = "ton-api-v4"
	ProtocolAdnlProxy   Protocol = "adnl-proxy"
)

// Valid reports whether the protocol is known.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolTonCenterV2, ProtocolTonAPIV4, ProtocolAdnlProxy:
		return true
	default:
		return false
	}
}

// ParseProtocol parses a protocol name. The short aliases v2, v4 and adnl are accepted.
func ParseProtocol(raw string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ProtocolTonCenterV2), "v2":
		return ProtocolTonCenterV2, nil
	case string(ProtocolTonAPIV4), "v4":
		return ProtocolTonAPIV4, nil
	case string(ProtocolAdnlProxy), "adnl":
		return ProtocolAdnlProxy, nil
	default:
		return "", fmt.Errorf("unknown protocol %q", raw)
	}
}

// Format selects the URL suffix flavour.
type Format string

const (
	FormatDefault Format = "default"
	FormatJSONRPC Format = "json-rpc"
	FormatREST    Format = "rest"
)

// Valid reports whether the format is known.
func (f Format) Valid() bool {
	return f == FormatDefault || f == FormatJSONRPC || f == FormatREST
}

const (
	DefaultHost          = "ton.access.orbs.network"
	DefaultAccessVersion = 1
	DefaultNetwork       = Mainnet
	DefaultFormat        = FormatDefault
)

// EndpointConfig is the caller-supplied resolution config. Zero values mean "use the default".
type EndpointConfig struct {
	Network        Network `json:"network,omitempty" toml:"network"`
	Host           string  `json:"host,omitempty" toml:"host"`
	AccessVersion  int     `json:"access_version,omitempty" toml:"access_version"`
	ProtocolFormat Format  `json:"protocol_format,omitempty" toml:"protocol_format"`
}

// WithDefaults returns a copy with unset fields filled in.
func (c EndpointConfig) WithDefaults() EndpointConfig {
	if c.Network == "" {
		c.Network = DefaultNetwork
	}
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.AccessVersion == 0 {
		c.AccessVersion = DefaultAccessVersion
	}
	if c.ProtocolFormat == "" {
		c.ProtocolFormat = DefaultFormat
	}
	return c
}

// Validate checks a defaulted config.
func (c EndpointConfig) Validate() error {
	if !c.Network.Valid() {
		return fmt.Errorf("unknown network %q", c.Network)
	}
	if !validHost(c.Host) {
		return fmt.Errorf("invalid host %q", c.Host)
	}
	if c.AccessVersion < 1 {
		return fmt.Errorf("access version must be positive, got %d", c.AccessVersion)
	}
	if !c.ProtocolFormat.Valid() {
		return fmt.Errorf("unknown protocol format %q", c.ProtocolFormat)
	}
	return nil
}

// validHost accepts a hostname or IP literal with an optional port and nothing else.
func validHost(host string) bool {
	if host == "" || strings.ContainsAny(host, "/\\?#@ \t") {
		return false
	}
	parsed, err := url.Parse("https://" + host)
	if err != nil {
		return false
	}
	return parsed.Host == host &&
		parsed.Hostname() != "" &&
		parsed.User == nil &&
		parsed.Path == "" &&
		parsed.RawQuery == "" &&
		parsed.Fragment == ""
}

// AdnlEndpoint is the connection info needed to bootstrap an ADNL session.
type AdnlEndpoint struct {
	Endpoint  string `json:"endpoint"`
	PublicKey string `json:"publicKey"`
}
