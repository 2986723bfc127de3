// Package getclient provides a single-shot streaming HTTP GET primitive with
// transparent response decompression, connection pooling, and OpenTelemetry
// instrumentation.
//
// # Features
//
//   - Streams response bytes to the caller as they arrive off the wire
//   - Sniffs gzip/deflate/zstd framing on the body and decompresses
//     transparently, regardless of what the headers claim
//   - Reusable Agent handle encapsulating a tuned connection pool
//   - OpenTelemetry tracing with network timing events (DNS, TLS, connect)
//   - Non-2xx responses stream their bodies like any other; status handling
//     stays with the caller
//
// # Quick Start
//
// The package-level Get issues the request on a shared default agent and
// returns the stream immediately, before the network round-trip begins:
//
//	stream := getclient.Get(ctx, "https://example.com/report.json")
//	defer stream.Close()
//
//	data, err := io.ReadAll(stream)
//
// Transport failures (DNS, connection refused, TLS, timeouts) and malformed
// compressed payloads both surface from Read, never from Get itself:
//
//	var transportErr *getclient.TransportError
//	var decodeErr *decompress.DecodeError
//	switch {
//	case errors.As(err, &transportErr):
//	    // the network failed
//	case errors.As(err, &decodeErr):
//	    // the payload was corrupt
//	}
//
// # Agents
//
// An Agent owns a connection pool and is safe to share across many
// concurrent requests; that sharing is its purpose. Build one with
// functional options and reuse it:
//
//	agent := getclient.NewAgent(
//	    getclient.WithAgentConfig(getclient.HighThroughputAgentConfig()),
//	    getclient.WithServiceName("crawler"),
//	)
//	defer agent.Close()
//
//	stream := agent.Get(ctx, url)
//
// AgentConfig exposes the recognized pooling and TLS knobs: connections per
// origin, keep-alive timeouts, in-flight request depth, header and body
// timeouts, certificate verification, and SNI override. See the field
// documentation for defaults and mapping details.
//
// # Streaming Semantics
//
// Get returns exactly one Stream per call. The Stream is exclusively owned
// by the caller, emits decompressed bytes in network arrival order, and
// terminates with either io.EOF or a single error, never both. Reading is
// pull-based: the upstream connection is only read as fast as the caller
// consumes, so memory stays bounded without explicit flow control.
//
// Closing a Stream before the body is drained aborts the request and
// releases the connection and decoder resources.
//
// # Response Metadata
//
// Status, headers, and the detected compression framing become available
// once response headers arrive:
//
//	stream := agent.Get(ctx, url)
//	defer stream.Close()
//
//	if stream.Status() == http.StatusNotFound {
//	    // the 404 body still streams and decompresses normally
//	}
//
// Convenience helpers collect the whole decompressed body:
//
//	var payload Report
//	err := stream.JSON(&payload)
package getclient
