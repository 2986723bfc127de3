package getclient

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the metric instruments for streaming GET operations.
type metrics struct {
	// requestDuration measures the header round-trip duration in seconds.
	requestDuration metric.Float64Histogram

	// activeStreams tracks streams that have been created and not yet
	// terminated.
	activeStreams metric.Int64UpDownCounter

	// downloadedBytes counts raw response bytes off the wire, before
	// decompression.
	downloadedBytes metric.Int64Counter

	// decompressedBytes counts bytes delivered to callers after
	// decompression.
	decompressedBytes metric.Int64Counter

	// streamErrors counts terminal stream errors by error kind.
	streamErrors metric.Int64Counter

	// dnsDuration measures DNS lookup time in seconds.
	dnsDuration metric.Float64Histogram

	// connectionDuration measures time to establish a connection.
	connectionDuration metric.Float64Histogram

	// tlsDuration measures TLS handshake time in seconds.
	tlsDuration metric.Float64Histogram

	// ttfb measures Time To First Byte in seconds.
	ttfb metric.Float64Histogram
}

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.requestDuration, err = meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("Duration of HTTP GET requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
		),
	)
	if err != nil {
		return nil, err
	}

	m.activeStreams, err = meter.Int64UpDownCounter(
		"http.client.active_streams",
		metric.WithDescription("Number of open response streams"),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		return nil, err
	}

	m.downloadedBytes, err = meter.Int64Counter(
		"http.client.downloaded.bytes",
		metric.WithDescription("Raw response bytes received before decompression"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	m.decompressedBytes, err = meter.Int64Counter(
		"http.client.decompressed.bytes",
		metric.WithDescription("Response bytes delivered after decompression"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	m.streamErrors, err = meter.Int64Counter(
		"http.client.stream.error",
		metric.WithDescription("Number of streams terminated by an error"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	m.dnsDuration, err = meter.Float64Histogram(
		"http.client.dns.duration",
		metric.WithDescription("DNS lookup duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
		),
	)
	if err != nil {
		return nil, err
	}

	m.connectionDuration, err = meter.Float64Histogram(
		"http.client.connection.duration",
		metric.WithDescription("Time to establish HTTP connection in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
		),
	)
	if err != nil {
		return nil, err
	}

	m.tlsDuration, err = meter.Float64Histogram(
		"http.client.tls.duration",
		metric.WithDescription("TLS handshake duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
		),
	)
	if err != nil {
		return nil, err
	}

	m.ttfb, err = meter.Float64Histogram(
		"http.client.ttfb",
		metric.WithDescription("Time to first response byte in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5,
		),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// recordRequestDuration records the header round-trip duration.
func (m *metrics) recordRequestDuration(
	ctx context.Context,
	duration time.Duration,
	attrs []attribute.KeyValue,
) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// recordStreamStart increments the active stream gauge.
func (m *metrics) recordStreamStart(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeStreams == nil {
		return
	}
	m.activeStreams.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// recordStreamEnd decrements the active stream gauge.
func (m *metrics) recordStreamEnd(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeStreams == nil {
		return
	}
	m.activeStreams.Add(ctx, -1, metric.WithAttributes(attrs...))
}

// recordDownloadedBytes records raw bytes received off the wire.
func (m *metrics) recordDownloadedBytes(ctx context.Context, n int64, attrs []attribute.KeyValue) {
	if m == nil || m.downloadedBytes == nil {
		return
	}
	m.downloadedBytes.Add(ctx, n, metric.WithAttributes(attrs...))
}

// recordDecompressedBytes records bytes delivered to the caller.
func (m *metrics) recordDecompressedBytes(ctx context.Context, n int64, attrs []attribute.KeyValue) {
	if m == nil || m.decompressedBytes == nil {
		return
	}
	m.decompressedBytes.Add(ctx, n, metric.WithAttributes(attrs...))
}

// recordError counts a terminal stream error by kind.
func (m *metrics) recordError(ctx context.Context, errorKind string, attrs []attribute.KeyValue) {
	if m == nil || m.streamErrors == nil {
		return
	}
	attrs = append(attrs, attribute.String("error.type", errorKind))
	m.streamErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// recordDNSDuration records DNS lookup time.
func (m *metrics) recordDNSDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.dnsDuration == nil {
		return
	}
	m.dnsDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// recordConnectionDuration records time to establish a connection.
func (m *metrics) recordConnectionDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.connectionDuration == nil {
		return
	}
	m.connectionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// recordTLSDuration records TLS handshake time.
func (m *metrics) recordTLSDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.tlsDuration == nil {
		return
	}
	m.tlsDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// recordTTFB records time to first response byte.
func (m *metrics) recordTTFB(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.ttfb == nil {
		return
	}
	m.ttfb.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}
