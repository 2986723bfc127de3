package getclient

import (
	"io"
	"sync/atomic"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// trackedBody wraps an http.Response.Body to:
// 1. Count the raw (pre-decompression) bytes coming off the wire
// 2. Record read errors on the request span
// 3. End the span when the body is closed or EOF is reached
//
// The decompressing reader sits above this wrapper, so span lifetime and
// the downloaded-bytes count reflect the network stream, not its
// decompressed expansion.
type trackedBody struct {
	span   trace.Span
	body   io.ReadCloser
	read   atomic.Int64
	closed atomic.Bool

	// onClose is called with total bytes read when body is closed
	onClose func(bytesRead int64)
}

// newTrackedBody creates a wrapped body that ends the span on close/EOF.
func newTrackedBody(
	span trace.Span,
	body io.ReadCloser,
	onClose func(bytesRead int64),
) io.ReadCloser {
	if body == nil {
		return nil
	}
	return &trackedBody{
		span:    span,
		body:    body,
		onClose: onClose,
	}
}

// Read reads from the underlying body, tracking bytes and errors.
func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	b.read.Add(int64(n))

	switch err {
	case nil:
		// Normal read, continue
	case io.EOF:
		// End of body reached, end span normally
		b.endSpan()
	default:
		b.span.RecordError(err)
		b.span.SetStatus(codes.Error, err.Error())
	}

	return n, err
}

// Close closes the underlying body and ends the span.
func (b *trackedBody) Close() error {
	b.endSpan()
	return b.body.Close()
}

// endSpan ends the span exactly once and calls the onClose callback.
// Close can be called after EOF, and aborts can race a final read.
func (b *trackedBody) endSpan() {
	if b.closed.CompareAndSwap(false, true) {
		if b.onClose != nil {
			b.onClose(b.read.Load())
		}
		b.span.End()
	}
}
