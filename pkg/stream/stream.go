// Package stream implements the SeekableStream contract of spec §4.1: a uniform
// seek/read interface over possibly-compressed bytes, with pluggable back-ends
// (plain, gzip, bzip2, xz, zstd, s3) each able to opportunistically build the
// checkpoint index that makes seeking into the middle of a compressed stream
// cheap (spec §4.2's BlockIndex).
package stream

import "io"

// SeekableStream is the uniform interface every back-end implements. All
// offsets are byte offsets into the *decompressed* data (spec §4.1: "checkpoint
// bit offsets are a back-end implementation detail"). Reads past the end of the
// stream return a short read, not an error; seeks past the end are allowed and
// subsequent reads return 0 bytes.
type SeekableStream interface {
	io.Reader
	io.Seeker
	io.Closer

	// Size returns the total decompressed size, performing a one-time scan to
	// the end if it is not already known from a prior full traversal or a
	// footer/seek-table in the compressed format itself.
	Size() (int64, error)

	// Tell returns the current decompressed read position, equivalent to
	// Seek(0, io.SeekCurrent) but without the seek-table lookup that a real
	// seek would trigger.
	Tell() int64
}

// Backend names recorded in IndexMeta.BackendName, so a reused index can be
// rejected if it was built with a different decoder (spec §4.5).
const (
	BackendPlain = "plain"
	BackendGzip  = "gzip"
	BackendBzip2 = "bzip2"
	BackendXz    = "xz"
	BackendZstd  = "zstd"
)
