package getclient

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kroma-labs/streamget-go/decompress"
)

// htmlFixture is the known payload served by the test servers.
var htmlFixture = strings.Repeat("<html><body><p>fixture paragraph</p></body></html>\n", 200)

// fixtureServer serves htmlFixture with the given encoding applied.
func fixtureServer(t *testing.T, encoding string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch encoding {
		case "gzip":
			w.Header().Set("Content-Encoding", "gzip")
			gw := gzip.NewWriter(w)
			_, _ = io.WriteString(gw, htmlFixture)
			_ = gw.Close()
		case "deflate":
			w.Header().Set("Content-Encoding", "deflate")
			zw := zlib.NewWriter(w)
			_, _ = io.WriteString(zw, htmlFixture)
			_ = zw.Close()
		case "zstd":
			w.Header().Set("Content-Encoding", "zstd")
			zw, err := zstd.NewWriter(w)
			require.NoError(t, err)
			_, _ = io.WriteString(zw, htmlFixture)
			_ = zw.Close()
		case "br":
			w.Header().Set("Content-Encoding", "br")
			bw := brotli.NewWriter(w)
			_, _ = io.WriteString(bw, htmlFixture)
			_ = bw.Close()
		default:
			_, _ = io.WriteString(w, htmlFixture)
		}
	}))
}

func TestGet_DecompressesAnyFraming(t *testing.T) {
	tests := []struct {
		name       string
		encoding   string
		wantFormat decompress.Format
	}{
		{
			name:       "given uncompressed fixture, then streams it verbatim",
			encoding:   "identity",
			wantFormat: decompress.FormatPassthrough,
		},
		{
			name:       "given gzip fixture, then round-trips to the original",
			encoding:   "gzip",
			wantFormat: decompress.FormatGzip,
		},
		{
			name:       "given deflate fixture, then round-trips to the original",
			encoding:   "deflate",
			wantFormat: decompress.FormatDeflate,
		},
		{
			name:       "given zstd fixture, then round-trips to the original",
			encoding:   "zstd",
			wantFormat: decompress.FormatZstd,
		},
		{
			name:       "given brotli fixture, then round-trips to the original",
			encoding:   "br",
			wantFormat: decompress.FormatBrotli,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := fixtureServer(t, tt.encoding)
			defer server.Close()

			agent := NewAgent()
			defer agent.Close()

			stream := agent.Get(context.Background(), server.URL)
			defer stream.Close()

			body, err := stream.String()
			require.NoError(t, err)
			assert.Equal(t, htmlFixture, body)
			assert.Equal(t, http.StatusOK, stream.Status())
			assert.Equal(t, tt.wantFormat, stream.Format())
		})
	}
}

func TestGet_SniffingIgnoresLyingHeaders(t *testing.T) {
	// Content-Encoding claims gzip but the body is plain text; sniffing
	// must fall back to passthrough instead of failing the decode.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = io.WriteString(w, htmlFixture)
	}))
	defer server.Close()

	agent := NewAgent()
	defer agent.Close()

	stream := agent.Get(context.Background(), server.URL)
	defer stream.Close()

	body, err := stream.String()
	require.NoError(t, err)
	assert.Equal(t, htmlFixture, body)
	assert.Equal(t, decompress.FormatPassthrough, stream.Format())
}

func TestGet_NonSuccessStatusStreamsBody(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		compressed bool
	}{
		{
			name:   "given plain 404, then body streams without error",
			status: http.StatusNotFound,
			body:   "Not Found",
		},
		{
			name:       "given gzip 500, then body decompresses without error",
			status:     http.StatusInternalServerError,
			body:       `{"error":"boom"}`,
			compressed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.compressed {
					w.Header().Set("Content-Encoding", "gzip")
					w.WriteHeader(tt.status)
					gw := gzip.NewWriter(w)
					_, _ = io.WriteString(gw, tt.body)
					_ = gw.Close()
					return
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			agent := NewAgent()
			defer agent.Close()

			stream := agent.Get(context.Background(), server.URL)
			defer stream.Close()

			body, err := stream.String()
			require.NoError(t, err, "status code alone must not error the stream")
			assert.Equal(t, tt.body, body)
			assert.Equal(t, tt.status, stream.Status())
		})
	}
}

func TestGet_ReturnsBeforeRoundTripCompletes(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = io.WriteString(w, htmlFixture)
	}))
	defer server.Close()

	agent := NewAgent()
	defer agent.Close()

	start := time.Now()
	stream := agent.Get(context.Background(), server.URL)
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"Get must hand back the stream before the server responds")

	close(release)
	defer stream.Close()

	body, err := stream.String()
	require.NoError(t, err)
	assert.Equal(t, htmlFixture, body)
}

func TestGet_ConcurrentStreamsAreIndependent(t *testing.T) {
	server := fixtureServer(t, "gzip")
	defer server.Close()

	agent := NewAgent()
	defer agent.Close()

	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			stream := agent.Get(context.Background(), server.URL)
			defer stream.Close()

			body, err := stream.String()
			if err != nil {
				return err
			}
			if body != htmlFixture {
				return errors.New("stream content interleaved or truncated")
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())
}

func TestGet_TransportFailures(t *testing.T) {
	tests := []struct {
		name string
		url  func(t *testing.T) string
	}{
		{
			name: "given unparseable URL, then transport error on read",
			url:  func(t *testing.T) string { return "://not-a-url" },
		},
		{
			name: "given connection refused, then transport error on read",
			url: func(t *testing.T) string {
				server := httptest.NewServer(http.NotFoundHandler())
				url := server.URL
				server.Close()
				return url
			},
		},
		{
			name: "given unresolvable host, then transport error on read",
			url:  func(t *testing.T) string { return "http://host.invalid./" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := NewAgent()
			defer agent.Close()

			stream := agent.Get(context.Background(), tt.url(t))
			defer stream.Close()

			_, err := io.ReadAll(stream)
			require.Error(t, err)

			var transportErr *TransportError
			require.ErrorAs(t, err, &transportErr)

			var decodeErr *decompress.DecodeError
			assert.False(t, errors.As(err, &decodeErr))

			assert.Equal(t, 0, stream.Status())

			// Terminal state is reported consistently on later reads.
			_, again := stream.Read(make([]byte, 1))
			assert.Error(t, again)
		})
	}
}

func TestGet_MalformedCompressedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(append([]byte{0x1f, 0x8b}, []byte("garbage, not a deflate stream")...))
	}))
	defer server.Close()

	agent := NewAgent()
	defer agent.Close()

	stream := agent.Get(context.Background(), server.URL)
	defer stream.Close()

	_, err := io.ReadAll(stream)
	require.Error(t, err, "corrupt payload must never end as a clean stream")

	var decodeErr *decompress.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, decompress.FormatGzip, decodeErr.Format)

	var transportErr *TransportError
	assert.False(t, errors.As(err, &transportErr))
}

func TestGet_RedirectsAreNotFollowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moved" {
			http.Redirect(w, r, "/target", http.StatusFound)
			return
		}
		_, _ = io.WriteString(w, "target body")
	}))
	defer server.Close()

	agent := NewAgent()
	defer agent.Close()

	stream := agent.Get(context.Background(), server.URL+"/moved")
	defer stream.Close()

	_, err := stream.Bytes()
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, stream.Status())
	assert.Equal(t, "/target", stream.Header().Get("Location"))
}

func TestGet_WithoutDecompress(t *testing.T) {
	server := fixtureServer(t, "gzip")
	defer server.Close()

	agent := NewAgent()
	defer agent.Close()

	stream := agent.Get(context.Background(), server.URL, WithoutDecompress())
	defer stream.Close()

	raw, err := stream.Bytes()
	require.NoError(t, err)
	assert.Equal(t, decompress.FormatPassthrough, stream.Format())

	// The raw bytes are the gzip frame itself.
	gr, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	inflated, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Equal(t, htmlFixture, string(inflated))
}

func TestGet_RequestOptions(t *testing.T) {
	var gotHeader http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	agent := NewAgent()
	defer agent.Close()

	stream := agent.Get(context.Background(), server.URL,
		WithHeader("X-Request-Source", "unit-test"),
		WithAcceptEncoding("gzip"),
	)
	defer stream.Close()

	_, err := stream.Bytes()
	require.NoError(t, err)

	assert.Equal(t, "unit-test", gotHeader.Get("X-Request-Source"))
	assert.Equal(t, "gzip", gotHeader.Get("Accept-Encoding"))

	assert.Contains(t, stream.CurlCommand(), "curl")
	assert.Contains(t, stream.CurlCommand(), server.URL)
	assert.Contains(t, stream.CurlCommand(), "X-Request-Source: unit-test")
}

func TestGet_DefaultAcceptEncoding(t *testing.T) {
	var gotEncoding string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Accept-Encoding")
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	agent := NewAgent()
	defer agent.Close()

	stream := agent.Get(context.Background(), server.URL)
	defer stream.Close()

	_, err := stream.Bytes()
	require.NoError(t, err)
	assert.Equal(t, defaultAcceptEncoding, gotEncoding)
}

func TestGet_PackageLevelSharedAgent(t *testing.T) {
	server := fixtureServer(t, "gzip")
	defer server.Close()

	stream := Get(context.Background(), server.URL)
	defer stream.Close()

	body, err := stream.String()
	require.NoError(t, err)
	assert.Equal(t, htmlFixture, body)
}

func TestGet_ContextCancellationAbortsStream(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	agent := NewAgent()
	defer agent.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream := agent.Get(ctx, server.URL)
	defer stream.Close()

	<-started
	cancel()

	_, err := io.ReadAll(stream)
	require.Error(t, err)

	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestGet_InflightAdmissionBound(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-release
	}))
	defer server.Close()

	cfg := DefaultAgentConfig()
	cfg.Connections = 1
	cfg.Pipelining = 1
	cfg.BodyTimeout = 0

	agent := NewAgent(WithAgentConfig(cfg))
	defer agent.Close()

	// First stream occupies the single admission slot.
	first := agent.Get(context.Background(), server.URL)
	require.Equal(t, http.StatusOK, first.Status())

	// Second request cannot be admitted until the first terminates.
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	second := agent.Get(ctx, server.URL)
	_, err := io.ReadAll(second)
	require.Error(t, err)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Releasing the first slot admits new requests again.
	close(release)
	require.NoError(t, first.Close())

	third := agent.Get(context.Background(), server.URL)
	defer third.Close()
	assert.Equal(t, http.StatusOK, third.Status())
}

func TestGet_BodyTimeoutBoundsStalledReads(t *testing.T) {
	stall := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "partial ")
		w.(http.Flusher).Flush()
		select {
		case <-stall:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(stall)

	cfg := DefaultAgentConfig()
	cfg.BodyTimeout = 100 * time.Millisecond

	agent := NewAgent(WithAgentConfig(cfg))
	defer agent.Close()

	stream := agent.Get(context.Background(), server.URL)
	defer stream.Close()

	_, err := io.ReadAll(stream)
	require.Error(t, err, "a stalled body must not hang past BodyTimeout")

	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestStream_CloseAbortsInFlightTransfer(t *testing.T) {
	handlerDone := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(handlerDone)
		_, _ = io.WriteString(w, "head of body ")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	agent := NewAgent()
	defer agent.Close()

	stream := agent.Get(context.Background(), server.URL)
	require.Equal(t, http.StatusOK, stream.Status())
	require.NoError(t, stream.Close())

	// The abort must propagate to the server side.
	select {
	case <-handlerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("server handler not released after stream close")
	}

	_, err := stream.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrStreamClosed)

	// Close stays idempotent.
	require.NoError(t, stream.Close())
}

func TestStream_JSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		_, _ = io.WriteString(gw, `{"name":"fixture","count":3}`)
		_ = gw.Close()
	}))
	defer server.Close()

	agent := NewAgent()
	defer agent.Close()

	stream := agent.Get(context.Background(), server.URL)
	defer stream.Close()

	var payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, stream.JSON(&payload))
	assert.Equal(t, "fixture", payload.Name)
	assert.Equal(t, 3, payload.Count)
}
