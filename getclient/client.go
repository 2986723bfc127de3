package getclient

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// defaultAcceptEncoding advertises every framing the transform can undo.
const defaultAcceptEncoding = "gzip, deflate, br, zstd"

// requestConfig holds per-request settings.
type requestConfig struct {
	header       http.Header
	noDecompress bool
}

// RequestOption configures a single Get call.
type RequestOption func(*requestConfig)

// WithHeader adds a header to the outbound request.
func WithHeader(key, value string) RequestOption {
	return func(rc *requestConfig) {
		rc.header.Add(key, value)
	}
}

// WithAcceptEncoding overrides the advertised Accept-Encoding. The body is
// still sniffed and decompressed based on what actually arrives, not on
// what was advertised.
func WithAcceptEncoding(encoding string) RequestOption {
	return func(rc *requestConfig) {
		rc.header.Set("Accept-Encoding", encoding)
	}
}

// WithoutDecompress disables the decompression transform for this request;
// the stream delivers the raw response body as received. Accept-Encoding
// is left unset so servers send uncompressed bodies unless asked otherwise.
func WithoutDecompress() RequestOption {
	return func(rc *requestConfig) {
		rc.noDecompress = true
	}
}

// Get issues a GET against url on this agent's connection pool and returns
// the output stream immediately, before the network round-trip begins or
// completes.
//
// Get never fails synchronously: every failure, including an unparseable
// URL, is delivered as the stream's terminal error. Cancelling ctx aborts
// the request and terminates the stream.
//
//	stream := agent.Get(ctx, "https://example.com/export.csv.gz")
//	defer stream.Close()
//
//	data, err := io.ReadAll(stream) // decompressed bytes
func (a *Agent) Get(ctx context.Context, url string, opts ...RequestOption) *Stream {
	rc := &requestConfig{header: make(http.Header)}
	for _, opt := range opts {
		opt(rc)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ctx:    ctx,
		cancel: cancel,
		agent:  a,
		url:    url,
		id:     newRequestID(),
		start:  time.Now(),
		ready:  make(chan struct{}),
	}

	a.cfg.Metrics.recordStreamStart(ctx, a.cfg.baseAttributes())
	go s.fetch(rc)
	return s
}

// defaultAgent is the process-wide agent used by the package-level Get,
// built lazily on first use with DefaultAgentConfig.
var defaultAgent = sync.OnceValue(func() *Agent {
	return NewAgent()
})

// Get issues a GET on a shared default agent. Requests made through it
// share one connection pool; use NewAgent for isolated or tuned pools.
func Get(ctx context.Context, url string, opts ...RequestOption) *Stream {
	return defaultAgent().Get(ctx, url, opts...)
}
