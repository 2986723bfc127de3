package decompress

// Format identifies the compression framing of a byte stream.
type Format int

const (
	// FormatUnknown means detection has not run yet.
	FormatUnknown Format = iota

	// FormatPassthrough means no recognized framing; bytes pass unmodified.
	FormatPassthrough

	// FormatGzip is RFC 1952 gzip framing (magic bytes 1f 8b).
	FormatGzip

	// FormatDeflate is RFC 1950 zlib framing, or raw RFC 1951 deflate when
	// selected explicitly via NewReaderFormat.
	FormatDeflate

	// FormatBrotli is RFC 7932 brotli. It has no magic sequence and is never
	// detected by sniffing; select it explicitly.
	FormatBrotli

	// FormatZstd is RFC 8878 zstandard framing (magic bytes 28 b5 2f fd).
	FormatZstd
)

// String returns the canonical Content-Encoding token for the format.
func (f Format) String() string {
	switch f {
	case FormatPassthrough:
		return "identity"
	case FormatGzip:
		return "gzip"
	case FormatDeflate:
		return "deflate"
	case FormatBrotli:
		return "br"
	case FormatZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// sniffLen is the number of leading bytes needed to classify any supported
// framing. The zstd magic is the longest at four bytes.
const sniffLen = 4

// DetectFormat classifies the leading bytes of a stream.
//
// Signatures are checked most specific first: the four-byte zstd magic and
// two-byte gzip magic are unambiguous, while the zlib header is only a
// checksum-validated byte pair and is tried last. Anything unrecognized,
// including a prefix shorter than two bytes, is passthrough.
func DetectFormat(prefix []byte) Format {
	if len(prefix) >= 2 && prefix[0] == 0x1f && prefix[1] == 0x8b {
		return FormatGzip
	}
	if len(prefix) >= 4 &&
		prefix[0] == 0x28 && prefix[1] == 0xb5 && prefix[2] == 0x2f && prefix[3] == 0xfd {
		return FormatZstd
	}
	if len(prefix) >= 2 && isZlibHeader(prefix[0], prefix[1]) {
		return FormatDeflate
	}
	return FormatPassthrough
}

// isZlibHeader reports whether cmf/flg form a valid RFC 1950 header:
// compression method 8 (deflate), a window size within spec, and the
// FCHECK value making the pair a multiple of 31.
func isZlibHeader(cmf, flg byte) bool {
	if cmf&0x0f != 8 || cmf>>4 > 7 {
		return false
	}
	return (uint16(cmf)<<8|uint16(flg))%31 == 0
}
