package getclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOtelTransport_SpanPerRequest(t *testing.T) {
	type args struct {
		serverStatus int
	}

	tests := []struct {
		name string
		args args
	}{
		{
			name: "given 200 response, then span ends clean after body drain",
			args: args{serverStatus: http.StatusOK},
		},
		{
			name: "given 404 response, then span still records and body streams",
			args: args{serverStatus: http.StatusNotFound},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := tracetest.NewInMemoryExporter()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
			defer tp.Shutdown(context.Background())

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.args.serverStatus)
				_, _ = io.WriteString(w, "response body")
			}))
			defer server.Close()

			agent := NewAgent(
				WithTracerProvider(tp),
				WithServiceName("span-test"),
			)
			defer agent.Close()

			stream := agent.Get(context.Background(), server.URL)
			_, err := io.ReadAll(stream)
			require.NoError(t, err)
			require.NoError(t, stream.Close())

			spans := exporter.GetSpans()
			require.Len(t, spans, 1, "span must end once the body is drained")

			span := spans[0]
			assert.Equal(t, "HTTP GET", span.Name)

			attrs := span.Attributes
			assert.Contains(t, attrs, attribute.String("http.client.name", "span-test"))
			assert.Contains(t, attrs, attribute.String("http.request.method", http.MethodGet))
			assert.Contains(t, attrs, attribute.Int("http.response.status_code", tt.args.serverStatus))
		})
	}
}

func TestOtelTransport_SpanRecordsTransportError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	server := httptest.NewServer(http.NotFoundHandler())
	deadURL := server.URL
	server.Close()

	agent := NewAgent(WithTracerProvider(tp))
	defer agent.Close()

	stream := agent.Get(context.Background(), deadURL)
	defer stream.Close()

	_, err := io.ReadAll(stream)
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.NotEmpty(t, spans[0].Events, "error must be recorded on the span")
}

func TestMetrics_StreamCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	server := fixtureServer(t, "gzip")
	defer server.Close()

	agent := NewAgent(
		WithMeterProvider(mp),
		WithServiceName("metrics-test"),
	)
	defer agent.Close()

	stream := agent.Get(context.Background(), server.URL)
	body, err := stream.Bytes()
	require.NoError(t, err)
	require.Equal(t, htmlFixture, string(body))
	require.NoError(t, stream.Close())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}

	assert.True(t, names["http.client.request.duration"])
	assert.True(t, names["http.client.active_streams"])
	assert.True(t, names["http.client.downloaded.bytes"])
	assert.True(t, names["http.client.decompressed.bytes"])
}

func TestGenerateCurlCommand(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://example.com/data?page=1", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("X-Trace", "abc")

	curl := generateCurlCommand(req)

	assert.Equal(t,
		"curl 'https://example.com/data?page=1' -H 'Accept-Encoding: gzip' -H 'X-Trace: abc'",
		curl,
	)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "given context canceled, then cancelled",
			err:  context.Canceled,
			want: ErrorKindCancelled,
		},
		{
			name: "given stream closed, then cancelled",
			err:  ErrStreamClosed,
			want: ErrorKindCancelled,
		},
		{
			name: "given deadline exceeded, then timeout",
			err:  context.DeadlineExceeded,
			want: ErrorKindTimeout,
		},
		{
			name: "given unclassifiable error, then unknown",
			err:  &TransportError{URL: "http://x", Err: io.ErrUnexpectedEOF},
			want: ErrorKindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}
