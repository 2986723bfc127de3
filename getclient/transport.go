package getclient

import (
	"net/http"
	"net/http/httptrace"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Compile-time interface check.
var _ http.RoundTripper = (*otelTransport)(nil)

// otelTransport wraps an http.RoundTripper with OpenTelemetry
// instrumentation. The span it opens stays alive until the response body
// has been fully consumed or closed, so span duration covers the whole
// streaming lifetime, not just the header round-trip.
type otelTransport struct {
	base       http.RoundTripper
	cfg        *agentConfig
	propagator propagation.TextMapPropagator
}

// newOtelTransport creates a new instrumented transport.
func newOtelTransport(base http.RoundTripper, cfg *agentConfig) *otelTransport {
	propagator := cfg.Propagators
	if propagator == nil {
		propagator = propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		)
	}
	return &otelTransport{
		base:       base,
		cfg:        cfg,
		propagator: propagator,
	}
}

// Unwrap exposes the base transport for pool introspection.
func (t *otelTransport) Unwrap() http.RoundTripper {
	return t.base
}

// RoundTrip implements http.RoundTripper with tracing and metrics.
func (t *otelTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	ctx := req.Context()

	ctx, span := t.cfg.Tracer.Start(ctx, "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.requestAttributes(req)...),
	)

	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	baseAttrs := t.cfg.baseAttributes()

	var nt *networkTrace
	if t.cfg.EnableNetworkTrace {
		nt = &networkTrace{}
		ctx = httptrace.WithClientTrace(ctx, createClientTrace(nt))
	}

	req = req.WithContext(ctx)
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if nt != nil {
		nt.addTraceEvents(span)
		nt.recordTimingMetrics(ctx, t.cfg.Metrics, baseAttrs)
	}

	if err != nil {
		errorKind := classifyError(err)
		setSpanError(span, err, errorKind)
		t.cfg.Metrics.recordRequestDuration(ctx, duration, t.errorAttributes(req, errorKind))
		span.End()
		return nil, err
	}

	span.SetAttributes(t.responseAttributes(resp)...)
	t.cfg.Metrics.recordRequestDuration(ctx, duration, t.metricsAttributes(req, resp))

	// The span now follows the body: it ends when the stream is drained
	// or closed, and downloaded (pre-decompression) bytes are counted as
	// they come off the wire.
	resp.Body = newTrackedBody(span, resp.Body, func(bytesRead int64) {
		t.cfg.Metrics.recordDownloadedBytes(ctx, bytesRead, baseAttrs)
	})

	return resp, nil
}

// requestAttributes returns span attributes for the request.
func (t *otelTransport) requestAttributes(req *http.Request) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 8)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))

	if req.URL != nil {
		attrs = append(attrs, attribute.String("url.full", req.URL.String()))
		attrs = append(attrs, attribute.String("url.scheme", req.URL.Scheme))

		if host := req.URL.Hostname(); host != "" {
			attrs = append(attrs, attribute.String("server.address", host))
		}
		if port := req.URL.Port(); port != "" {
			if p, err := strconv.Atoi(port); err == nil {
				attrs = append(attrs, attribute.Int("server.port", p))
			}
		}
	}

	return attrs
}

// responseAttributes returns span attributes for the response.
func (t *otelTransport) responseAttributes(resp *http.Response) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	attrs = append(attrs, attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.response.body.size", resp.ContentLength))
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" {
		attrs = append(attrs, attribute.String("http.response.header.content-encoding", enc))
	}

	return attrs
}

// metricsAttributes returns attributes for duration metrics.
func (t *otelTransport) metricsAttributes(req *http.Request, resp *http.Response) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))
	attrs = append(attrs, attribute.Int("http.response.status_code", resp.StatusCode))
	if req.URL != nil {
		attrs = append(attrs, attribute.String("server.address", req.URL.Hostname()))
	}
	return attrs
}

// errorAttributes returns attributes for duration metrics on failed requests.
func (t *otelTransport) errorAttributes(req *http.Request, errorKind string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))
	attrs = append(attrs, attribute.String("error.type", errorKind))
	if req.URL != nil {
		attrs = append(attrs, attribute.String("server.address", req.URL.Hostname()))
	}
	return attrs
}
