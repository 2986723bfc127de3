package getclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/streamget-go/getclient"
)

// =============================================================================
// AgentConfig - Connection Pool Configuration
// =============================================================================

// AgentConfig holds the transport-tuning options recognized by an Agent.
// Use DefaultAgentConfig() to get a properly initialized configuration,
// then modify specific fields as needed.
//
// Example:
//
//	cfg := getclient.DefaultAgentConfig()
//	cfg.Connections = 32
//	cfg.HeadersTimeout = 5 * time.Second
//
//	agent := getclient.NewAgent(getclient.WithAgentConfig(cfg))
type AgentConfig struct {
	// =======================================================================
	// Connection Pool Settings
	// =======================================================================

	// Connections is the maximum number of simultaneous connections per
	// origin (idle and active combined). Zero means unlimited, which also
	// disables the in-flight bound derived from Pipelining.
	//
	// Default: 100
	Connections int

	// KeepAliveTimeout is how long an idle socket stays in the pool before
	// it becomes eligible for closure.
	//
	// Should match or slightly exceed the idle timeout of the servers you
	// talk to, so the pool closes sockets before the peer does.
	//
	// Default: 90s
	KeepAliveTimeout time.Duration

	// KeepAliveTimeoutThreshold is a grace period added on top of
	// KeepAliveTimeout before the idle timeout is enforced.
	//
	// Default: 1s
	KeepAliveTimeoutThreshold time.Duration

	// KeepAliveMaxTimeout is a hard cap on keep-alive lifetime regardless
	// of activity. The agent sweeps its idle connections on this interval,
	// so no pooled socket outlives the cap by more than one sweep.
	// Zero disables the sweep.
	//
	// Default: 10m
	KeepAliveMaxTimeout time.Duration

	// Pipelining is the depth of in-flight requests per connection.
	//
	// Go's HTTP/1.1 transport does not pipeline on the wire, so the agent
	// enforces this as an admission bound instead: at most
	// Connections x Pipelining requests are in flight at once, and further
	// Get calls wait (respecting their context) until a stream completes.
	// Requires Connections > 0 to take effect.
	//
	// Default: 1
	Pipelining int

	// =======================================================================
	// Timeouts
	// =======================================================================

	// HeadersTimeout is the maximum time to wait for response headers after
	// the request has been written. Zero means no limit.
	//
	// Default: 30s
	HeadersTimeout time.Duration

	// BodyTimeout is the maximum time a single body read may stall waiting
	// for bytes from the network. It bounds inter-chunk gaps, not total
	// download time, so slow consumers of large bodies are unaffected.
	// Zero means no limit.
	//
	// Default: 30s
	BodyTimeout time.Duration

	// =======================================================================
	// TLS Settings
	// =======================================================================

	// RejectUnauthorized controls whether the TLS handshake fails on
	// certificate validation errors. Setting it to false skips verification
	// entirely; never do that in production.
	//
	// Default: true
	RejectUnauthorized bool

	// ServerName overrides the SNI hostname sent during the TLS handshake.
	// Empty means the hostname from the request URL is used.
	//
	// Default: "" (no override)
	ServerName string
}

// DefaultAgentConfig returns a balanced configuration suitable for most
// use cases.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Connections:               100,
		KeepAliveTimeout:          90 * time.Second,
		KeepAliveTimeoutThreshold: 1 * time.Second,
		KeepAliveMaxTimeout:       10 * time.Minute,
		Pipelining:                1,

		HeadersTimeout: 30 * time.Second,
		BodyTimeout:    30 * time.Second,

		RejectUnauthorized: true,
	}
}

// HighThroughputAgentConfig returns a configuration for bulk-download
// workloads with many concurrent streams against few origins.
//
// Key differences from DefaultAgentConfig:
//   - Unlimited connections per origin for burst handling
//   - Longer keep-alive to hold sockets across request waves
//   - Generous body timeout for large payloads on congested links
func HighThroughputAgentConfig() AgentConfig {
	return AgentConfig{
		Connections:               0, // Unlimited
		KeepAliveTimeout:          120 * time.Second,
		KeepAliveTimeoutThreshold: 1 * time.Second,
		KeepAliveMaxTimeout:       10 * time.Minute,
		Pipelining:                1,

		HeadersTimeout: 30 * time.Second,
		BodyTimeout:    2 * time.Minute,

		RejectUnauthorized: true,
	}
}

// ConservativeAgentConfig returns a resource-conscious configuration for
// constrained environments such as serverless functions or sidecars.
func ConservativeAgentConfig() AgentConfig {
	return AgentConfig{
		Connections:               20,
		KeepAliveTimeout:          30 * time.Second,
		KeepAliveTimeoutThreshold: 1 * time.Second,
		KeepAliveMaxTimeout:       5 * time.Minute,
		Pipelining:                1,

		HeadersTimeout: 10 * time.Second,
		BodyTimeout:    10 * time.Second,

		RejectUnauthorized: true,
	}
}

// =============================================================================
// Internal Configuration
// =============================================================================

// agentConfig holds all configuration including pool and OTel settings.
type agentConfig struct {
	// pool holds the caller-facing transport-tuning options.
	pool AgentConfig

	// === OpenTelemetry Configuration ===

	// TracerProvider is the tracer provider to use.
	// If not set, uses the global provider via otel.GetTracerProvider().
	TracerProvider trace.TracerProvider

	// MeterProvider is the meter provider to use.
	// If not set, uses the global provider via otel.GetMeterProvider().
	MeterProvider metric.MeterProvider

	// Tracer is the tracer instance created from TracerProvider.
	Tracer trace.Tracer

	// Meter is the meter instance created from MeterProvider.
	Meter metric.Meter

	// Metrics holds the metric instruments.
	Metrics *metrics

	// === Service Identification ===

	// ServiceName identifies this agent for tracing and debug logging.
	ServiceName string

	// === Network Tracing ===

	// EnableNetworkTrace enables httptrace integration for detailed
	// network timing (DNS, TLS, Connect). Default: true
	EnableNetworkTrace bool

	// === Advanced Settings ===

	// TLSConfig specifies a full TLS configuration. When set, the
	// RejectUnauthorized and ServerName pool options are applied on top
	// of a clone of it.
	TLSConfig *tls.Config

	// ProxyURL specifies a proxy URL for requests.
	// If nil and ProxyFromEnvironment is true, uses environment variables.
	ProxyURL *url.URL

	// ProxyFromEnvironment uses HTTP_PROXY, HTTPS_PROXY and NO_PROXY
	// environment variables. Default: true
	ProxyFromEnvironment bool

	// Propagators configures the context propagators.
	// Default: TraceContext + Baggage (W3C standard)
	Propagators propagation.TextMapPropagator

	// Debug enables per-request zerolog output.
	Debug bool
}

// newAgentConfig creates a new internal config with defaults and applies options.
func newAgentConfig(opts ...AgentOption) *agentConfig {
	cfg := &agentConfig{
		pool:           DefaultAgentConfig(),
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),

		// Defaults
		EnableNetworkTrace:   true,
		ProxyFromEnvironment: true,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	// Initialize tracer and meter after options are applied
	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// Initialize metrics (ignore errors, will just be nil if fails)
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

// buildTransport creates an http.Transport from the configuration.
func (cfg *agentConfig) buildTransport() *http.Transport {
	pc := cfg.pool

	dialer := &net.Dialer{
		Timeout:       5 * time.Second,
		KeepAlive:     30 * time.Second,
		FallbackDelay: 300 * time.Millisecond,
	}

	tlsCfg := &tls.Config{}
	if cfg.TLSConfig != nil {
		tlsCfg = cfg.TLSConfig.Clone()
	}
	if !pc.RejectUnauthorized {
		tlsCfg.InsecureSkipVerify = true
	}
	if pc.ServerName != "" {
		tlsCfg.ServerName = pc.ServerName
	}

	// Idle sockets live KeepAliveTimeout plus the grace threshold.
	idleTimeout := pc.KeepAliveTimeout
	if idleTimeout > 0 {
		idleTimeout += pc.KeepAliveTimeoutThreshold
	}

	idlePerHost := pc.Connections
	if idlePerHost <= 0 {
		idlePerHost = 20
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       pc.Connections,
		MaxIdleConnsPerHost:   idlePerHost,
		MaxIdleConns:          idlePerHost * 2,
		IdleConnTimeout:       idleTimeout,
		ResponseHeaderTimeout: pc.HeadersTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       tlsCfg,
		WriteBufferSize:       64 * 1024,
		ReadBufferSize:        64 * 1024,

		// The body is decompressed by sniffing on top of the transport,
		// so the transport itself must hand over raw bytes.
		DisableCompression: true,
	}

	// Configure proxy
	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	} else if cfg.ProxyFromEnvironment {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return transport
}

// baseAttributes returns common attributes for all spans and metrics.
func (cfg *agentConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if cfg.ServiceName != "" {
		attrs = append(attrs, attribute.String("http.client.name", cfg.ServiceName))
	}
	return attrs
}

// =============================================================================
// Options - Functional Options for Agent Configuration
// =============================================================================

// AgentOption configures an Agent.
type AgentOption func(*agentConfig)

// WithAgentConfig sets the connection pool configuration.
// Use DefaultAgentConfig(), HighThroughputAgentConfig(), or
// ConservativeAgentConfig() as a starting point, then customize as needed.
func WithAgentConfig(c AgentConfig) AgentOption {
	return func(cfg *agentConfig) {
		cfg.pool = c
	}
}

// WithServiceName sets an identifier for this agent in traces and debug
// logs. Added as the "http.client.name" attribute on all spans.
func WithServiceName(name string) AgentOption {
	return func(cfg *agentConfig) {
		cfg.ServiceName = name
	}
}

// WithTracerProvider sets a custom OpenTelemetry TracerProvider.
// If not called, the global provider from otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) AgentOption {
	return func(cfg *agentConfig) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) AgentOption {
	return func(cfg *agentConfig) {
		cfg.MeterProvider = mp
	}
}

// WithTLSConfig sets a full TLS configuration, for client certificates,
// custom roots, or version pinning. The RejectUnauthorized and ServerName
// pool options still apply on top of it.
func WithTLSConfig(tlsCfg *tls.Config) AgentOption {
	return func(cfg *agentConfig) {
		cfg.TLSConfig = tlsCfg
	}
}

// WithRejectUnauthorized controls TLS certificate verification.
// Equivalent to setting AgentConfig.RejectUnauthorized.
func WithRejectUnauthorized(reject bool) AgentOption {
	return func(cfg *agentConfig) {
		cfg.pool.RejectUnauthorized = reject
	}
}

// WithServerName overrides the SNI hostname sent during the TLS handshake.
// Equivalent to setting AgentConfig.ServerName.
func WithServerName(name string) AgentOption {
	return func(cfg *agentConfig) {
		cfg.pool.ServerName = name
	}
}

// WithProxyURL sets a specific proxy URL for all requests.
// When set, this takes precedence over environment variables.
func WithProxyURL(proxyURL *url.URL) AgentOption {
	return func(cfg *agentConfig) {
		cfg.ProxyURL = proxyURL
		cfg.ProxyFromEnvironment = false
	}
}

// WithProxyFromEnvironment enables or disables reading proxy settings
// from environment variables (HTTP_PROXY, HTTPS_PROXY, NO_PROXY).
//
// Default: true (environment variables are used)
func WithProxyFromEnvironment(enabled bool) AgentOption {
	return func(cfg *agentConfig) {
		cfg.ProxyFromEnvironment = enabled
	}
}

// WithDisableNetworkTrace disables the httptrace integration that provides
// detailed network-level timing (DNS lookup, TLS handshake, connection time).
func WithDisableNetworkTrace() AgentOption {
	return func(cfg *agentConfig) {
		cfg.EnableNetworkTrace = false
	}
}

// WithPropagators sets the context propagators injected into outbound
// request headers. Default: W3C TraceContext + Baggage.
func WithPropagators(p propagation.TextMapPropagator) AgentOption {
	return func(cfg *agentConfig) {
		cfg.Propagators = p
	}
}

// WithDebug enables per-request debug logging with zerolog: the request
// line on dispatch, and status, timing, detected framing, and byte counts
// on completion.
func WithDebug(enabled bool) AgentOption {
	return func(cfg *agentConfig) {
		cfg.Debug = enabled
	}
}

// =============================================================================
// Agent - Pooling Handle
// =============================================================================

// Agent is a reusable pooling handle. It owns one connection pool and the
// instrumentation wired around it, and is safe to share across many
// concurrent Get calls; that sharing is its purpose. The streams produced
// by concurrent requests are fully independent.
//
// An Agent holds network resources; call Close when it is no longer needed.
type Agent struct {
	cfg        *agentConfig
	httpClient *http.Client
	transport  *http.Transport

	// inflight bounds concurrent requests when Pipelining admission
	// control is active; nil means unbounded.
	inflight *semaphore.Weighted

	sweepStop chan struct{}
	closeOnce sync.Once
}

// NewAgent creates an Agent from the given options.
//
// Example:
//
//	agent := getclient.NewAgent(
//	    getclient.WithAgentConfig(getclient.ConservativeAgentConfig()),
//	    getclient.WithServiceName("feed-fetcher"),
//	)
//	defer agent.Close()
func NewAgent(opts ...AgentOption) *Agent {
	cfg := newAgentConfig(opts...)
	transport := cfg.buildTransport()
	instrumented := newOtelTransport(transport, cfg)

	a := &Agent{
		cfg:       cfg,
		transport: transport,
		httpClient: &http.Client{
			Transport: instrumented,

			// Redirects are not followed; the redirect response itself
			// streams to the caller.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		sweepStop: make(chan struct{}),
	}

	if n := int64(cfg.pool.Connections) * int64(cfg.pool.Pipelining); n > 0 {
		a.inflight = semaphore.NewWeighted(n)
	}

	if cfg.pool.KeepAliveMaxTimeout > 0 {
		go a.sweepIdle(cfg.pool.KeepAliveMaxTimeout)
	}

	return a
}

// sweepIdle enforces KeepAliveMaxTimeout by dropping idle connections on a
// fixed interval, independent of activity.
func (a *Agent) sweepIdle(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.transport.CloseIdleConnections()
		case <-a.sweepStop:
			return
		}
	}
}

// Close tears down the agent's connection pool. In-flight streams keep
// their connections until they terminate; idle sockets are closed now.
// Close is idempotent.
func (a *Agent) Close() error {
	a.closeOnce.Do(func() {
		close(a.sweepStop)
		a.transport.CloseIdleConnections()
	})
	return nil
}

// =============================================================================
// Pool Introspection
// =============================================================================

// PoolStats provides a snapshot of connection pool configuration,
// useful for debugging and verifying option mapping.
type PoolStats struct {
	// MaxConnsPerHost is the maximum total connections per origin.
	// Zero means unlimited.
	MaxConnsPerHost int

	// MaxIdleConnsPerHost is the maximum idle connections kept per origin.
	MaxIdleConnsPerHost int

	// MaxIdleConns is the maximum idle connections across all origins.
	MaxIdleConns int

	// IdleConnTimeout is how long idle connections are kept before closing,
	// including the keep-alive grace threshold.
	IdleConnTimeout time.Duration

	// ResponseHeaderTimeout is the header-arrival deadline.
	ResponseHeaderTimeout time.Duration
}

// PoolStats returns the current connection pool configuration.
func (a *Agent) PoolStats() PoolStats {
	t := unwrapTransport(a.httpClient.Transport)
	if t == nil {
		return PoolStats{}
	}

	return PoolStats{
		MaxConnsPerHost:       t.MaxConnsPerHost,
		MaxIdleConnsPerHost:   t.MaxIdleConnsPerHost,
		MaxIdleConns:          t.MaxIdleConns,
		IdleConnTimeout:       t.IdleConnTimeout,
		ResponseHeaderTimeout: t.ResponseHeaderTimeout,
	}
}

// unwrapTransport traverses the transport chain to find the base
// http.Transport, handling instrumentation wrappers.
func unwrapTransport(rt http.RoundTripper) *http.Transport {
	for {
		switch t := rt.(type) {
		case *http.Transport:
			return t
		case interface{ Unwrap() http.RoundTripper }:
			rt = t.Unwrap()
		default:
			return nil
		}
	}
}
