package getclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/kroma-labs/streamget-go/decompress"
)

// Stream is the caller-facing output of a Get call.
//
// A Stream is created synchronously, before the network round-trip begins,
// and starts producing decompressed bytes as soon as the response arrives.
// It terminates with exactly one of io.EOF (successful end) or an error;
// the two are mutually exclusive and sticky.
//
// Exactly one Stream exists per request and it is exclusively owned by the
// caller. Read is not safe for concurrent use, but Close may be called from
// another goroutine to abort a blocked Read.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	agent  *Agent
	url    string
	id     string
	start  time.Time

	// ready is closed once response headers arrived or setup failed.
	ready chan struct{}

	// Fields below are written by the fetch goroutine before ready closes,
	// then only touched by the reader under readMu.
	resp    *http.Response
	raw     io.ReadCloser      // deadline-wrapped network body
	sniffer *decompress.Reader // nil when decompression is disabled
	out     io.Reader          // what Read consumes
	curl    string
	err     error // terminal state
	bytes   int64

	closed   atomic.Bool
	readMu   sync.Mutex
	doneOnce sync.Once
	release  func() // in-flight admission release, may be nil

	cached    []byte
	cachedSet bool
}

// Compile-time interface check.
var _ io.ReadCloser = (*Stream)(nil)

// fetch performs the GET on the agent's pool and wires the response body
// into the decompression transform. It runs in its own goroutine; the
// Stream was already handed to the caller.
func (s *Stream) fetch(rc *requestConfig) {
	defer close(s.ready)
	a := s.agent

	if a.inflight != nil {
		if err := a.inflight.Acquire(s.ctx, 1); err != nil {
			s.fail(err)
			return
		}
		s.release = func() { a.inflight.Release(1) }
	}

	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.url, nil)
	if err != nil {
		s.fail(err)
		return
	}

	for k, vs := range rc.header {
		req.Header[k] = vs
	}
	if !rc.noDecompress && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", defaultAcceptEncoding)
	}

	s.curl = generateCurlCommand(req)
	a.cfg.logDispatch(s.id, s.url)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		s.fail(err)
		return
	}

	s.resp = resp
	s.raw = newDeadlineBody(resp.Body, a.cfg.pool.BodyTimeout, s.cancel)

	switch {
	case rc.noDecompress:
		s.out = s.raw
	case hasBrotliEncoding(resp.Header):
		// Brotli has no magic bytes to sniff; trust the header for it.
		s.sniffer = decompress.NewReaderFormat(s.raw, decompress.FormatBrotli)
		s.out = s.sniffer
	default:
		s.sniffer = decompress.NewReader(s.raw)
		s.out = s.sniffer
	}
}

// fail records a setup failure as the terminal state. Runs before ready
// closes, so no Read has observed the stream yet.
func (s *Stream) fail(err error) {
	s.err = &TransportError{URL: s.url, Err: err}
	s.finish(s.err)
}

// Read implements io.Reader. It blocks until response headers have arrived,
// then delivers decompressed bytes in network arrival order. The upstream
// connection is read only as fast as the caller consumes.
func (s *Stream) Read(p []byte) (int, error) {
	<-s.ready
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.err != nil {
		return 0, s.err
	}
	if s.closed.Load() {
		return 0, ErrStreamClosed
	}

	n, err := s.out.Read(p)
	s.bytes += int64(n)
	if err == nil {
		return n, nil
	}

	if err == io.EOF {
		s.err = io.EOF
		s.finish(nil)
		return n, io.EOF
	}

	if s.closed.Load() {
		err = ErrStreamClosed
	} else if !isDecodeError(err) {
		err = &TransportError{URL: s.url, Err: err}
	}
	s.err = err
	s.finish(err)
	return n, err
}

// Close aborts the request. If the body is not yet drained, the in-flight
// network transfer is cancelled and its connection released; a fully
// consumed stream just frees its decoder resources. Close is idempotent
// and safe to call concurrently with a blocked Read.
func (s *Stream) Close() error {
	s.cancel()
	<-s.ready

	if s.closed.Swap(true) {
		return nil
	}

	// Closing the network body unblocks a concurrent Read; net/http
	// explicitly allows Close during Read.
	if s.raw != nil {
		s.raw.Close()
	}

	s.readMu.Lock()
	s.finish(ErrStreamClosed)
	s.readMu.Unlock()
	return nil
}

// finish settles the terminal state exactly once: decoder and connection
// resources are released, admission capacity is returned, and metrics and
// debug output are emitted.
func (s *Stream) finish(terminal error) {
	s.doneOnce.Do(func() {
		if s.sniffer != nil {
			s.sniffer.Close()
		}
		if s.raw != nil {
			s.raw.Close()
		}
		s.cancel()
		if s.release != nil {
			s.release()
		}

		cfg := s.agent.cfg
		attrs := cfg.baseAttributes()
		ctx := context.Background()
		cfg.Metrics.recordStreamEnd(ctx, attrs)
		cfg.Metrics.recordDecompressedBytes(ctx, s.bytes, attrs)
		if terminal != nil {
			cfg.Metrics.recordError(ctx, classifyError(terminal), attrs)
		}

		status := 0
		format := decompress.FormatUnknown
		if s.resp != nil {
			status = s.resp.StatusCode
		}
		if s.sniffer != nil {
			format = s.sniffer.Format()
		}
		cfg.logComplete(s.id, status, format.String(), s.bytes, time.Since(s.start), terminal)
	})
}

// Status returns the response status code. It blocks until response
// headers arrive and returns 0 if the request failed before a response.
// A non-2xx status is not an error; the body streams regardless.
func (s *Stream) Status() int {
	<-s.ready
	if s.resp == nil {
		return 0
	}
	return s.resp.StatusCode
}

// Header returns the response headers, blocking until they arrive.
// Returns nil if the request failed before a response.
func (s *Stream) Header() http.Header {
	<-s.ready
	if s.resp == nil {
		return nil
	}
	return s.resp.Header
}

// Format reports the compression framing detected on the body. Blocks
// until headers arrive; before the first body read of a sniffing stream it
// reports decompress.FormatUnknown.
func (s *Stream) Format() decompress.Format {
	<-s.ready
	if s.sniffer == nil {
		return decompress.FormatPassthrough
	}
	return s.sniffer.Format()
}

// CurlCommand returns a cURL equivalent of the issued request, for
// reproducing it from the command line. Blocks until the request has been
// dispatched.
func (s *Stream) CurlCommand() string {
	<-s.ready
	return s.curl
}

// Bytes drains the stream and returns the full decompressed body.
// The result is cached; subsequent calls return the same slice.
func (s *Stream) Bytes() ([]byte, error) {
	if s.cachedSet {
		return s.cached, nil
	}

	data, err := io.ReadAll(s)
	if err != nil {
		return nil, err
	}

	s.cached = data
	s.cachedSet = true
	return data, nil
}

// JSON drains the stream and decodes the decompressed body into v.
// Decoding happens regardless of status code; check Status first when the
// error payload has a different shape.
func (s *Stream) JSON(v any) error {
	data, err := s.Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// String drains the stream and returns the decompressed body as a string.
func (s *Stream) String() (string, error) {
	data, err := s.Bytes()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// isDecodeError reports whether err is a malformed-payload error from the
// decompression transform, which must not be wrapped as a transport failure.
func isDecodeError(err error) bool {
	var decodeErr *decompress.DecodeError
	return errors.As(err, &decodeErr)
}

// hasBrotliEncoding reports whether Content-Encoding names brotli.
func hasBrotliEncoding(h http.Header) bool {
	return strings.EqualFold(strings.TrimSpace(h.Get("Content-Encoding")), "br")
}

// deadlineBody bounds the time a single network read may stall. The timer
// runs only while a read is in flight, so a slow consumer is never
// penalized for leaving the body idle.
type deadlineBody struct {
	rc     io.ReadCloser
	d      time.Duration
	timer  *time.Timer
	cancel context.CancelFunc
}

// newDeadlineBody wraps rc so any single Read blocked longer than d
// cancels the request. d <= 0 disables the bound.
func newDeadlineBody(rc io.ReadCloser, d time.Duration, cancel context.CancelFunc) io.ReadCloser {
	if d <= 0 {
		return rc
	}
	b := &deadlineBody{rc: rc, d: d, cancel: cancel}
	b.timer = time.AfterFunc(d, cancel)
	b.timer.Stop()
	return b
}

func (b *deadlineBody) Read(p []byte) (int, error) {
	b.timer.Reset(b.d)
	n, err := b.rc.Read(p)
	b.timer.Stop()
	return n, err
}

func (b *deadlineBody) Close() error {
	b.timer.Stop()
	return b.rc.Close()
}
