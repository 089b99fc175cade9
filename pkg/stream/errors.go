package stream

import "fmt"

// CorruptError reports that a decoder rejected its input at a given compressed
// offset (spec §4.1 failure mode "Corrupt{offset}").
type CorruptError struct {
	Offset int64
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("stream: corrupt input at offset %d: %s", e.Offset, e.Reason)
}

// TruncatedError reports EOF before the expected end of a compressed member.
type TruncatedError struct {
	Offset int64
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("stream: truncated input at offset %d", e.Offset)
}

// UnsupportedError reports a feature of the compressed format this back-end
// cannot decode (spec §4.1: e.g. randomized bzip2 blocks, single-frame xz).
type UnsupportedError struct {
	Feature string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("stream: unsupported feature: %s", e.Feature)
}

// CrcMismatchError reports a checksum failure. Per spec §7, CRC failures are
// always surfaced but never fatal to the whole mount.
type CrcMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *CrcMismatchError) Error() string {
	return fmt.Sprintf("stream: crc mismatch: expected %08x, got %08x", e.Expected, e.Actual)
}

// ErrNonRandomAccess is the error for a back-end that cannot produce
// checkpoints for its input (spec §4.1: a back-end "is allowed to declare
// itself non-random-access"). None of the NewXxx constructors in this package
// returns it: bzip2 and zstd, which checkpoint only the stream start, open
// normally and decode again from offset 0 on a backward seek.
var ErrNonRandomAccess = &UnsupportedError{Feature: "random access (no checkpoints producible for this stream)"}
