package decompress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// DecodeError reports a malformed compressed payload.
//
// It is only returned after a compressed framing has been chosen for the
// stream; upstream read failures are never wrapped in a DecodeError, so
// errors.As cleanly separates corrupt data from transport problems.
type DecodeError struct {
	// Format is the framing that was being decoded when the payload
	// turned out to be malformed.
	Format Format

	// Err is the underlying codec error.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decompress: malformed %s stream: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Reader is a one-shot streaming transform that decompresses a byte stream
// whose framing is unknown in advance.
//
// Create one with NewReader or NewReaderFormat. Reader is not safe for
// concurrent use and cannot be restarted; wrap a fresh source for each
// stream.
type Reader struct {
	src    *sourceReader
	dec    io.Reader
	closer io.Closer
	format Format
	forced Format
	err    error
}

// Compile-time interface check.
var _ io.ReadCloser = (*Reader)(nil)

// NewReader returns a Reader that sniffs the framing of src on first Read
// and decompresses accordingly. Unrecognized input passes through unmodified.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: &sourceReader{r: src}}
}

// NewReaderFormat returns a Reader with the framing fixed to f, bypassing
// detection. This is the only way to select brotli, which has no magic
// sequence to sniff.
//
// FormatUnknown behaves exactly like NewReader.
func NewReaderFormat(src io.Reader, f Format) *Reader {
	return &Reader{src: &sourceReader{r: src}, forced: f}
}

// Format returns the framing in effect for the stream. Before the first
// Read of a sniffing Reader it returns FormatUnknown.
func (r *Reader) Format() Format {
	return r.format
}

// Read implements io.Reader. The first call performs detection, which may
// consume up to a few bytes from the source; those bytes are replayed
// through the chosen decoder, so output is identical regardless of how the
// input was chunked.
//
// Once Read returns a non-nil error the stream is terminal: every
// subsequent call returns the same error.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.dec == nil {
		if err := r.init(); err != nil {
			r.err = err
			return 0, err
		}
	}

	n, err := r.dec.Read(p)
	if err != nil && err != io.EOF {
		err = r.classify(err)
	}
	if err != nil {
		r.err = err
	}
	return n, err
}

// Close releases the decoder. It does not close the underlying source;
// ownership of the source stays with the caller.
func (r *Reader) Close() error {
	if r.err == nil {
		r.err = io.ErrClosedPipe
	}
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// init sniffs the source (unless a format was forced) and installs the
// decoder for the remainder of the stream.
func (r *Reader) init() error {
	f := r.forced
	var head io.Reader = r.src

	if f == FormatUnknown {
		prefix, err := r.sniff()
		f = DetectFormat(prefix)
		head = io.MultiReader(bytes.NewReader(prefix), r.src)
		if err != nil && len(prefix) == 0 {
			// Source failed before producing a single byte; report the
			// failure from Read rather than hiding it behind passthrough.
			r.format = FormatPassthrough
			r.dec = head
			return err
		}
	}

	r.format = f
	switch f {
	case FormatGzip:
		gz, err := gzip.NewReader(head)
		if err != nil {
			return r.classify(err)
		}
		r.dec = gz
		r.closer = gz
	case FormatDeflate:
		return r.initDeflate(head)
	case FormatBrotli:
		r.dec = brotli.NewReader(head)
	case FormatZstd:
		zr, err := zstd.NewReader(head)
		if err != nil {
			return r.classify(err)
		}
		rc := zr.IOReadCloser()
		r.dec = rc
		r.closer = rc
	default:
		r.format = FormatPassthrough
		r.dec = head
	}
	return nil
}

// initDeflate handles the "deflate" ambiguity: the token nominally means
// zlib-wrapped deflate (RFC 1950), but some servers send raw deflate
// (RFC 1951). Peek the header pair and pick whichever fits.
func (r *Reader) initDeflate(head io.Reader) error {
	hdr := make([]byte, 2)
	n, err := io.ReadFull(head, hdr)
	rest := io.MultiReader(bytes.NewReader(hdr[:n]), head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		r.dec = rest
		return nil
	}

	if n == 2 && isZlibHeader(hdr[0], hdr[1]) {
		zr, zerr := zlib.NewReader(rest)
		if zerr != nil {
			return r.classify(zerr)
		}
		r.dec = zr
		r.closer = zr
		return nil
	}

	fr := flate.NewReader(rest)
	r.dec = fr
	r.closer = fr
	return nil
}

// sniff reads up to sniffLen bytes from the source, tolerating arbitrarily
// small reads so a magic sequence split across chunks is still assembled.
// A short prefix is returned as-is when the source ends or fails first.
func (r *Reader) sniff() ([]byte, error) {
	prefix := make([]byte, 0, sniffLen)
	buf := make([]byte, sniffLen)
	for len(prefix) < sniffLen {
		n, err := r.src.Read(buf[:sniffLen-len(prefix)])
		prefix = append(prefix, buf[:n]...)
		if err != nil {
			if err == io.EOF {
				err = nil
			}
			return prefix, err
		}
	}
	return prefix, nil
}

// classify decides whether a decoder failure is really an upstream failure.
// Codec errors observed while the source itself errored are reported as the
// source error, verbatim; everything else is a malformed payload.
func (r *Reader) classify(err error) error {
	if srcErr := r.src.lastErr(); srcErr != nil {
		return srcErr
	}
	return &DecodeError{Format: r.format, Err: err}
}

// sourceReader records the last non-EOF error produced by the upstream
// reader so decoder failures can be attributed to their true cause.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

func (s *sourceReader) lastErr() error {
	return s.err
}
