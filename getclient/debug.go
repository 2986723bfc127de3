package getclient

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// debugLogger is the package-level zerolog logger for debug output.
var debugLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// newRequestID returns a short identifier correlating the dispatch and
// completion log lines of one request.
func newRequestID() string {
	return uuid.NewString()[:8]
}

// logDispatch logs the outbound request line.
func (cfg *agentConfig) logDispatch(id, url string) {
	if !cfg.Debug {
		return
	}
	debugLogger.Debug().
		Str("request_id", id).
		Str("client", cfg.ServiceName).
		Str("method", http.MethodGet).
		Str("url", url).
		Msg("dispatching request")
}

// logComplete logs the terminal state of a stream: status, detected
// framing, byte count, duration, and the error (if any).
func (cfg *agentConfig) logComplete(
	id string,
	status int,
	format string,
	bytes int64,
	duration time.Duration,
	err error,
) {
	if !cfg.Debug {
		return
	}

	evt := debugLogger.Debug().
		Str("request_id", id).
		Str("client", cfg.ServiceName).
		Int("status", status).
		Str("content_framing", format).
		Int64("bytes_decompressed", bytes).
		Dur("duration", duration)

	if err != nil {
		evt = evt.Err(err).Str("error_kind", classifyError(err))
	}
	evt.Msg("stream terminated")
}

// generateCurlCommand creates a cURL command equivalent for the request,
// usable to reproduce it from the command line.
func generateCurlCommand(req *http.Request) string {
	parts := []string{"curl"}
	parts = append(parts, fmt.Sprintf("'%s'", req.URL.String()))

	// Headers (sorted for consistent output)
	headerKeys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)

	for _, k := range headerKeys {
		for _, v := range req.Header[k] {
			parts = append(parts, "-H", fmt.Sprintf("'%s: %s'", k, v))
		}
	}

	return strings.Join(parts, " ")
}
