package stream

import (
	"fmt"
	"io"

	"github.com/ratarfs/ratarfs/pkg/blockindex"
)

// Open constructs the SeekableStream for backendName over raw, wiring a
// Checkpointer against store under streamID. size is only used by the plain
// back-end, which has no footer or end-of-stream marker of its own.
func Open(backendName string, raw io.ReadSeeker, size int64, store blockindex.Store, streamID string, checkpointSpacing int64) (SeekableStream, error) {
	checkpointer := NewCheckpointer(store, streamID, checkpointSpacing)
	switch backendName {
	case BackendPlain:
		ra, ok := raw.(io.ReaderAt)
		if !ok {
			return nil, fmt.Errorf("stream: plain backend requires an io.ReaderAt")
		}
		return NewPlain(ra, size), nil
	case BackendGzip:
		return NewGzip(raw, checkpointer)
	case BackendBzip2:
		return NewBzip2(raw, checkpointer)
	case BackendXz:
		return NewXz(raw, checkpointer)
	case BackendZstd:
		return NewZstd(raw, checkpointer)
	default:
		return nil, &UnsupportedError{Feature: fmt.Sprintf("backend %q", backendName)}
	}
}

// Detect inspects the first few bytes of raw (which it seeks back to the
// start of) to guess the compression back-end, per spec §4.1's "back-ends
// self-identify via magic bytes". Returns BackendPlain if nothing matches.
func Detect(raw io.ReadSeeker) (string, error) {
	var magic [6]byte
	n, err := io.ReadFull(raw, magic[:])
	if _, serr := raw.Seek(0, io.SeekStart); serr != nil {
		return "", serr
	}
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	b := magic[:n]
	switch {
	case n >= 2 && b[0] == 0x1f && b[1] == 0x8b:
		return BackendGzip, nil
	case n >= 3 && b[0] == 'B' && b[1] == 'Z' && b[2] == 'h':
		return BackendBzip2, nil
	case n >= 6 && b[0] == 0xfd && b[1] == '7' && b[2] == 'z' && b[3] == 'X' && b[4] == 'Z' && b[5] == 0x00:
		return BackendXz, nil
	case n >= 4 && b[0] == 0x28 && b[1] == 0xb5 && b[2] == 0x2f && b[3] == 0xfd:
		return BackendZstd, nil
	default:
		return BackendPlain, nil
	}
}
