package resolver

import (
	"context"
	"time"

	"tonaccess/pkg/endpoint"
	"tonaccess/pkg/fleet"
	"tonaccess/pkg/log"
	"tonaccess/pkg/models"
	"tonaccess/pkg/selector"

	"github.com/rs/zerolog"
)

// DefaultFanOut is the number of endpoints returned by the multi-endpoint calls.
const DefaultFanOut = 3

// Resolution states, logged at debug level.
const (
	stateFetching  = "fetching"
	stateFiltering = "filtering"
	stateSelecting = "selecting"
	stateBuilding  = "building"
	stateDone      = "done"
)

// SnapshotSource provides the current fleet snapshot, refreshing it as needed.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*fleet.Snapshot, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSelector replaces the random selector, typically with a seeded one.
func WithSelector(sel *selector.Selector) Option {
	return func(r *Resolver) {
		if sel != nil {
			r.selector = sel
		}
	}
}

// WithFanOut sets how many endpoints the multi-endpoint calls return.
func WithFanOut(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.fanOut = n
		}
	}
}

// WithDefaults sets deployment-wide defaults applied before the built-in ones,
// e.g. a different edge host.
func WithDefaults(cfg models.EndpointConfig) Option {
	return func(r *Resolver) {
		r.defaults = cfg
	}
}

// WithClock replaces time.Now for status reporting.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// Resolver turns a protocol and network into endpoints of healthy fleet nodes.
type Resolver struct {
	source   SnapshotSource
	selector *selector.Selector
	fanOut   int
	defaults models.EndpointConfig
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates a resolver over a snapshot source, usually a *fleet.Cache.
func New(source SnapshotSource, opts ...Option) *Resolver {
	r := &Resolver{
		source:   source,
		selector: selector.NewRandom(),
		fanOut:   DefaultFanOut,
		now:      time.Now,
		logger:   log.Component("resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FanOut returns the multi-endpoint count.
func (r *Resolver) FanOut() int {
	return r.fanOut
}

// HTTPEndpoint returns one toncenter-api-v2 URL.
func (r *Resolver) HTTPEndpoint(ctx context.Context, cfg models.EndpointConfig) (string, error) {
	return r.Endpoint(ctx, models.ProtocolTonCenterV2, cfg)
}

// HTTPEndpoints returns toncenter-api-v2 URLs: one when single, otherwise FanOut.
func (r *Resolver) HTTPEndpoints(ctx context.Context, cfg models.EndpointConfig, single bool) ([]string, error) {
	return r.Endpoints(ctx, models.ProtocolTonCenterV2, cfg, single)
}

// V4Endpoint returns one ton-api-v4 URL. The json-rpc format is rejected before any fetch.
func (r *Resolver) V4Endpoint(ctx context.Context, cfg models.EndpointConfig) (string, error) {
	return r.Endpoint(ctx, models.ProtocolTonAPIV4, cfg)
}

// V4Endpoints returns ton-api-v4 URLs: one when single, otherwise FanOut.
func (r *Resolver) V4Endpoints(ctx context.Context, cfg models.EndpointConfig, single bool) ([]string, error) {
	return r.Endpoints(ctx, models.ProtocolTonAPIV4, cfg, single)
}

// Endpoint returns one URL for an HTTP protocol.
func (r *Resolver) Endpoint(ctx context.Context, protocol models.Protocol, cfg models.EndpointConfig) (string, error) {
	urls, err := r.Endpoints(ctx, protocol, cfg, true)
	if err != nil {
		return "", err
	}
	return urls[0], nil
}

// Endpoints returns URLs for an HTTP protocol: one when single, otherwise FanOut
// distinct nodes, repeating nodes only when fewer than FanOut are healthy.
func (r *Resolver) Endpoints(ctx context.Context, protocol models.Protocol, cfg models.EndpointConfig, single bool) ([]string, error) {
	cfg, err := r.prepare(cfg)
	if err != nil {
		return nil, err
	}
	if err := endpoint.CheckFormat(protocol, cfg.ProtocolFormat); err != nil {
		return nil, err
	}

	nodes, err := r.resolve(ctx, protocol, cfg, r.count(single))
	if err != nil {
		return nil, err
	}

	r.trace(protocol, cfg.Network, stateBuilding)
	urls := make([]string, 0, len(nodes))
	for _, node := range nodes {
		url, err := endpoint.URL(node, protocol, cfg)
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}

	r.logger.Debug().
		Str("protocol", string(protocol)).
		Str("network", string(cfg.Network)).
		Strs("urls", urls).
		Str("state", stateDone).
		Msg("Endpoints resolved")
	return urls, nil
}

// AdnlProxyEndpoint returns the connection info of one adnl-proxy node.
func (r *Resolver) AdnlProxyEndpoint(ctx context.Context, cfg models.EndpointConfig) (models.AdnlEndpoint, error) {
	endpoints, err := r.AdnlProxyEndpoints(ctx, cfg, true)
	if err != nil {
		return models.AdnlEndpoint{}, err
	}
	return endpoints[0], nil
}

// AdnlProxyEndpoints returns adnl-proxy connection info: one when single, otherwise FanOut.
func (r *Resolver) AdnlProxyEndpoints(ctx context.Context, cfg models.EndpointConfig, single bool) ([]models.AdnlEndpoint, error) {
	cfg, err := r.prepare(cfg)
	if err != nil {
		return nil, err
	}

	nodes, err := r.resolve(ctx, models.ProtocolAdnlProxy, cfg, r.count(single))
	if err != nil {
		return nil, err
	}

	r.trace(models.ProtocolAdnlProxy, cfg.Network, stateBuilding)
	endpoints := make([]models.AdnlEndpoint, 0, len(nodes))
	for _, node := range nodes {
		adnl, err := endpoint.Adnl(node)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, adnl)
	}
	return endpoints, nil
}

// Status returns the node status view of the current snapshot.
func (r *Resolver) Status(ctx context.Context) (models.FleetStatus, error) {
	snapshot, err := r.source.Snapshot(ctx)
	if err != nil {
		return models.FleetStatus{}, err
	}
	return snapshot.Status(r.now()), nil
}

// prepare applies deployment and built-in defaults and validates the result.
func (r *Resolver) prepare(cfg models.EndpointConfig) (models.EndpointConfig, error) {
	if cfg.Network == "" {
		cfg.Network = r.defaults.Network
	}
	if cfg.Host == "" {
		cfg.Host = r.defaults.Host
	}
	if cfg.AccessVersion == 0 {
		cfg.AccessVersion = r.defaults.AccessVersion
	}
	if cfg.ProtocolFormat == "" {
		cfg.ProtocolFormat = r.defaults.ProtocolFormat
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, &InvalidConfigError{Err: err}
	}
	return cfg, nil
}

func (r *Resolver) count(single bool) int {
	if single {
		return 1
	}
	return r.fanOut
}

// resolve runs fetch, filter and select for protocol on cfg.Network.
func (r *Resolver) resolve(ctx context.Context, protocol models.Protocol, cfg models.EndpointConfig, count int) ([]models.NodeRecord, error) {
	r.trace(protocol, cfg.Network, stateFetching)
	snapshot, err := r.source.Snapshot(ctx)
	if err != nil {
		r.logger.Debug().Err(err).Str("state", stateDone).Msg("Fleet fetch failed")
		return nil, err
	}

	r.trace(protocol, cfg.Network, stateFiltering)
	candidates := fleet.Healthy(snapshot, protocol, cfg.Network)
	if protocol == models.ProtocolAdnlProxy {
		candidates = withAdnlInfo(candidates)
	}
	if len(candidates) == 0 {
		err := &NoHealthyNodesError{Protocol: protocol, Network: cfg.Network}
		r.logger.Warn().
			Str("protocol", string(protocol)).
			Str("network", string(cfg.Network)).
			Int("fleet_size", snapshot.Len()).
			Msg("No healthy nodes")
		return nil, err
	}

	r.trace(protocol, cfg.Network, stateSelecting)
	return r.selector.PickDistinct(candidates, count)
}

func (r *Resolver) trace(protocol models.Protocol, network models.Network, state string) {
	r.logger.Debug().
		Str("protocol", string(protocol)).
		Str("network", string(network)).
		Str("state", state).
		Msg("Resolution state")
}

// withAdnlInfo keeps nodes that carry a complete ADNL bootstrap record.
func withAdnlInfo(nodes []models.NodeRecord) []models.NodeRecord {
	out := nodes[:0:0]
	for _, node := range nodes {
		if _, err := endpoint.Adnl(node); err == nil {
			out = append(out, node)
		}
	}
	return out
}
