package getclient

import (
	"errors"
	"fmt"
)

// ErrStreamClosed is returned from Read after the caller has closed the
// stream.
var ErrStreamClosed = errors.New("getclient: stream closed")

// TransportError reports a failure at the network layer: DNS resolution,
// connection establishment, TLS handshake, or a timeout while waiting for
// headers or body bytes.
//
// It is distinct from *decompress.DecodeError, which reports a malformed
// compressed payload from a server that was otherwise reachable. Separate
// the two with errors.As.
type TransportError struct {
	// URL is the request URL as given to Get.
	URL string

	// Err is the underlying network error.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("getclient: GET %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
