// Package decompress provides a streaming reader that detects the compression
// framing of a byte stream and transparently decompresses it.
//
// # Overview
//
// HTTP servers do not always frame responses the way their headers claim:
// bodies arrive gzip-compressed without a Content-Encoding header, or marked
// "gzip" while carrying plain bytes. Rather than trusting metadata, this
// package sniffs the leading bytes of the stream itself and picks the decoder
// that matches:
//
//   - gzip (magic bytes 1f 8b)
//   - zstd (magic bytes 28 b5 2f fd)
//   - zlib/deflate (CMF/FLG header with a valid check value)
//   - anything else passes through unmodified
//
// Brotli carries no magic sequence and cannot be sniffed; select it
// explicitly with NewReaderFormat when a Content-Encoding header says "br".
//
// # Quick Start
//
// Wrap any io.Reader; detection happens lazily on the first Read:
//
//	r := decompress.NewReader(resp.Body)
//	defer r.Close()
//
//	data, err := io.ReadAll(r)
//
// After the first Read, Format() reports what was detected:
//
//	if r.Format() == decompress.FormatGzip {
//	    // body was gzip-framed
//	}
//
// # Streaming Semantics
//
// Reader is a pull-model transform: bytes are requested from the source only
// when the caller reads, so flow control propagates naturally to the upstream
// producer. Detection works even when the magic bytes straddle arbitrarily
// small upstream reads; if the stream ends before enough bytes arrive to
// decide, the bytes seen so far pass through unchanged.
//
// # Error Handling
//
// Two failure classes are kept apart:
//
//   - A malformed compressed payload surfaces as a *DecodeError.
//   - An error from the upstream reader propagates verbatim, never wrapped.
//
// Use errors.As to tell them apart:
//
//	var decodeErr *decompress.DecodeError
//	if errors.As(err, &decodeErr) {
//	    // payload was corrupt, not a network failure
//	}
package decompress
