package stream

import (
	"io"

	"github.com/ratarfs/ratarfs/pkg/blockindex"
	"github.com/ratarfs/ratarfs/pkg/model"
)

// countingReader tracks bytes read from an underlying io.Reader, used by the
// compressed back-ends to know the compressed byte offset their decoder has
// consumed so far without needing the decoder to expose it directly. Grounded
// on the teacher's pkg/clip/oci_indexer.go countingReader, used there for the
// same purpose while building a gzip decompression index.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// Checkpointer is the one seam every SeekableStream back-end plugs into to
// read and write checkpoints, per spec §4.2 ("opportunistically built... during
// the first pass"). It wraps a blockindex.Store and a stream identity.
type Checkpointer struct {
	store            blockindex.Store
	streamID         string
	spacing          int64
	lastCheckpointAt int64
}

// NewCheckpointer returns a Checkpointer for streamID backed by store, spacing
// checkpoints approximately every spacing decompressed bytes when recorded
// through MaybeObserve (the back-ends in this package ignore spacing and call
// Observe at their own restart points instead).
func NewCheckpointer(store blockindex.Store, streamID string, spacing int64) *Checkpointer {
	if spacing <= 0 {
		spacing = 16 << 20
	}
	return &Checkpointer{store: store, streamID: streamID, spacing: spacing}
}

// Observe unconditionally records a checkpoint (used at natural restart
// boundaries: gzip member starts, xz decoder starts, and the stream start for
// bzip2 and zstd, which record no block or frame checkpoints).
func (c *Checkpointer) Observe(decompOffset, compOffset int64, state []byte) error {
	c.lastCheckpointAt = decompOffset
	return c.store.Append(c.streamID, model.BlockCheckpoint{
		CompressedBitOffset: compOffset,
		DecompressedOffset:  decompOffset,
		DecoderState:        state,
	})
}

// MaybeObserve records a checkpoint only if at least spacing decompressed
// bytes have elapsed since the last one, for back-ends whose restart points
// can occur at arbitrary spacing (not used by the frame/block based back-ends,
// which always restart at their natural boundary via Observe).
func (c *Checkpointer) MaybeObserve(decompOffset, compOffset int64, state []byte) error {
	if decompOffset-c.lastCheckpointAt < c.spacing {
		return nil
	}
	return c.Observe(decompOffset, compOffset, state)
}

// Nearest returns the checkpoint at or before target, or the zero checkpoint
// and ok=false if none has been recorded yet (the caller should restart from
// the beginning of the stream in that case).
func (c *Checkpointer) Nearest(target int64) (model.BlockCheckpoint, bool, error) {
	return c.store.NearestAtOrBefore(c.streamID, target)
}
