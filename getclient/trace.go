package getclient

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http/httptrace"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/streamget-go/decompress"
)

// Error kind classifications for the error.type attribute and debug logs.
const (
	ErrorKindTimeout           = "timeout"
	ErrorKindConnectionRefused = "connection_refused"
	ErrorKindDNSError          = "dns_error"
	ErrorKindTLSError          = "tls_error"
	ErrorKindCancelled         = "cancelled"
	ErrorKindConnectionReset   = "connection_reset"
	ErrorKindDecode            = "decode_error"
	ErrorKindUnknown           = "unknown"
)

// networkTrace holds timing data collected from httptrace.ClientTrace.
type networkTrace struct {
	// DNS timing
	dnsStart time.Time
	dnsDone  time.Time

	// Connection timing
	connectStart time.Time
	connectDone  time.Time

	// TLS timing
	tlsStart time.Time
	tlsDone  time.Time

	// Request/Response timing
	gotConnTime       time.Time
	wroteRequestTime  time.Time
	firstResponseTime time.Time

	// Connection info
	connReused  bool
	connIdle    bool
	connRemote  string
	protocolVer string
}

// createClientTrace creates an httptrace.ClientTrace that populates nt.
func createClientTrace(nt *networkTrace) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			nt.gotConnTime = time.Now()
			nt.connReused = info.Reused
			nt.connIdle = info.WasIdle
			if info.Conn != nil {
				if addr := info.Conn.RemoteAddr(); addr != nil {
					nt.connRemote = addr.String()
				}
			}
		},
		DNSStart: func(_ httptrace.DNSStartInfo) {
			nt.dnsStart = time.Now()
		},
		DNSDone: func(_ httptrace.DNSDoneInfo) {
			nt.dnsDone = time.Now()
		},
		ConnectStart: func(_, _ string) {
			nt.connectStart = time.Now()
		},
		ConnectDone: func(_, _ string, _ error) {
			nt.connectDone = time.Now()
		},
		TLSHandshakeStart: func() {
			nt.tlsStart = time.Now()
		},
		TLSHandshakeDone: func(state tls.ConnectionState, _ error) {
			nt.tlsDone = time.Now()
			nt.protocolVer = state.NegotiatedProtocol
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			nt.wroteRequestTime = time.Now()
		},
		GotFirstResponseByte: func() {
			nt.firstResponseTime = time.Now()
		},
	}
}

// addTraceEvents adds span events for network timing.
func (nt *networkTrace) addTraceEvents(span trace.Span) {
	if !nt.dnsStart.IsZero() && !nt.dnsDone.IsZero() {
		span.AddEvent("dns.done", trace.WithTimestamp(nt.dnsDone),
			trace.WithAttributes(
				attribute.Float64(
					"dns.duration_ms",
					float64(nt.dnsDone.Sub(nt.dnsStart).Milliseconds()),
				),
			))
	}

	if !nt.connectStart.IsZero() && !nt.connectDone.IsZero() {
		span.AddEvent("connect.done", trace.WithTimestamp(nt.connectDone),
			trace.WithAttributes(
				attribute.Float64(
					"connect.duration_ms",
					float64(nt.connectDone.Sub(nt.connectStart).Milliseconds()),
				),
			))
	}

	if !nt.tlsStart.IsZero() && !nt.tlsDone.IsZero() {
		span.AddEvent("tls.done", trace.WithTimestamp(nt.tlsDone),
			trace.WithAttributes(
				attribute.Float64(
					"tls.duration_ms",
					float64(nt.tlsDone.Sub(nt.tlsStart).Milliseconds()),
				),
				attribute.String("tls.protocol", nt.protocolVer),
			))
	}

	if !nt.gotConnTime.IsZero() {
		span.AddEvent("got_conn", trace.WithTimestamp(nt.gotConnTime),
			trace.WithAttributes(
				attribute.Bool("connection.reused", nt.connReused),
				attribute.Bool("connection.was_idle", nt.connIdle),
				attribute.String("network.peer.address", nt.connRemote),
			))
	}

	if !nt.firstResponseTime.IsZero() {
		var ttfbMs float64
		if !nt.wroteRequestTime.IsZero() {
			ttfbMs = float64(nt.firstResponseTime.Sub(nt.wroteRequestTime).Milliseconds())
		}
		span.AddEvent("got_first_response_byte", trace.WithTimestamp(nt.firstResponseTime),
			trace.WithAttributes(
				attribute.Float64("ttfb_ms", ttfbMs),
			))
	}
}

// recordTimingMetrics records network timing metrics.
func (nt *networkTrace) recordTimingMetrics(
	ctx context.Context,
	m *metrics,
	attrs []attribute.KeyValue,
) {
	if m == nil {
		return
	}

	if !nt.dnsStart.IsZero() && !nt.dnsDone.IsZero() {
		m.recordDNSDuration(ctx, nt.dnsDone.Sub(nt.dnsStart), attrs)
	}

	if !nt.connectStart.IsZero() && !nt.connectDone.IsZero() {
		m.recordConnectionDuration(ctx, nt.connectDone.Sub(nt.connectStart), attrs)
	}

	if !nt.tlsStart.IsZero() && !nt.tlsDone.IsZero() {
		m.recordTLSDuration(ctx, nt.tlsDone.Sub(nt.tlsStart), attrs)
	}

	if !nt.wroteRequestTime.IsZero() && !nt.firstResponseTime.IsZero() {
		m.recordTTFB(ctx, nt.firstResponseTime.Sub(nt.wroteRequestTime), attrs)
	}
}

// classifyError returns an error kind for the given terminal error.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	var decodeErr *decompress.DecodeError
	if errors.As(err, &decodeErr) {
		return ErrorKindDecode
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrStreamClosed) {
		return ErrorKindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorKindDNSError
	}

	var tlsRecordErr *tls.RecordHeaderError
	if errors.As(err, &tlsRecordErr) {
		return ErrorKindTLSError
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return ErrorKindTLSError
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrorKindConnectionRefused
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return ErrorKindConnectionReset
	}

	// Fallback for wrapped errors from third-party layers.
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		return ErrorKindTimeout
	case strings.Contains(errStr, "connection refused"):
		return ErrorKindConnectionRefused
	case strings.Contains(errStr, "connection reset"):
		return ErrorKindConnectionReset
	case strings.Contains(errStr, "no such host"):
		return ErrorKindDNSError
	case strings.Contains(errStr, "tls"), strings.Contains(errStr, "x509"):
		return ErrorKindTLSError
	}

	return ErrorKindUnknown
}

// setSpanError records an error on the span with proper status and attributes.
func setSpanError(span trace.Span, err error, errorKind string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errorKind != "" {
		span.SetAttributes(attribute.String("error.type", errorKind))
	}
}
