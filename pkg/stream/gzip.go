package stream

import (
	"compress/gzip"
	"fmt"
	"io"
)

// GzipStream decodes a (possibly multi-member, RFC 1952 concatenated) gzip
// file as a SeekableStream. Grounded on SaveTheRbtz-zstd-seekable-format-go's
// reader.go: a single cached decoder plus a checkpoint lookup, generalized
// from zstd frames to gzip members.
//
// A real restart point requires the decoder's sliding window, which
// compress/flate does not expose, so a checkpoint can only be taken at a
// gzip member boundary, where the window is empty by construction. For an
// archive produced as one giant gzip member (the common case for plain
// `gzip file.tar`), this means the only checkpoint is the very start of the
// stream and a seek degrades to a full re-decode from offset 0. Tools that
// write independently-flushed members (pigz --independent, bgzip) get real
// random access for free. This mirrors the limitation ratarmount itself
// documents for plain gzip without a dedicated indexing pass.
type GzipStream struct {
	raw          io.ReadSeeker
	checkpointer *Checkpointer

	cr        *countingReader
	gz        *gzip.Reader
	decompPos int64
	size      int64
	sizeKnown bool
	atEOF     bool
}

// NewGzip opens raw (positioned anywhere; NewGzip seeks it to 0) as a gzip
// SeekableStream, recording member-boundary checkpoints through checkpointer.
func NewGzip(raw io.ReadSeeker, checkpointer *Checkpointer) (*GzipStream, error) {
	s := &GzipStream{raw: raw, checkpointer: checkpointer}
	if err := s.openAt(0, 0); err != nil {
		return nil, err
	}
	return s, nil
}

// openAt re-anchors decoding at the given compressed byte offset, which must
// be the start of a gzip member, and decompOffset is the decompressed offset
// that corresponds to it.
func (s *GzipStream) openAt(compOffset, decompOffset int64) error {
	if _, err := s.raw.Seek(compOffset, io.SeekStart); err != nil {
		return err
	}
	s.cr = &countingReader{r: s.raw}
	gz, err := gzip.NewReader(s.cr)
	if err != nil {
		if err == io.EOF {
			s.gz = nil
			s.atEOF = true
			s.decompPos = decompOffset
			s.size = decompOffset
			s.sizeKnown = true
			return nil
		}
		return &CorruptError{Offset: compOffset, Reason: err.Error()}
	}
	gz.Multistream(false)
	s.gz = gz
	s.decompPos = decompOffset
	s.atEOF = false
	if s.checkpointer != nil {
		if err := s.checkpointer.Observe(decompOffset, compOffset, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *GzipStream) Read(p []byte) (int, error) {
	if s.atEOF {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := s.gz.Read(p)
	s.decompPos += int64(n)
	if err == nil {
		return n, nil
	}
	if err != io.EOF {
		return n, &CorruptError{Offset: s.cr.n, Reason: err.Error()}
	}

	// Member exhausted: cr is now positioned exactly at the start of the next
	// member (or true end of file), which is the natural checkpoint boundary.
	memberEnd := s.cr.n
	nextGz, rerr := gzip.NewReader(s.cr)
	if rerr != nil {
		if rerr == io.EOF {
			s.gz = nil
			s.atEOF = true
			s.size = s.decompPos
			s.sizeKnown = true
			return n, io.EOF
		}
		return n, &CorruptError{Offset: memberEnd, Reason: rerr.Error()}
	}
	nextGz.Multistream(false)
	s.gz = nextGz
	if s.checkpointer != nil {
		if err := s.checkpointer.Observe(s.decompPos, memberEnd, nil); err != nil {
			return n, err
		}
	}
	if n > 0 {
		return n, nil
	}
	return s.Read(p)
}

func (s *GzipStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.decompPos + offset
	case io.SeekEnd:
		size, err := s.Size()
		if err != nil {
			return 0, err
		}
		target = size + offset
	default:
		return 0, fmt.Errorf("stream: invalid whence %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("stream: negative seek position %d", target)
	}
	if target == s.decompPos && !s.atEOF {
		return target, nil
	}

	cp, ok := s.Checkpointer().Nearest(target)
	compOffset, decompAnchor := int64(0), int64(0)
	if ok {
		compOffset, decompAnchor = cp.CompressedBitOffset, cp.DecompressedOffset
	}
	if err := s.openAt(compOffset, decompAnchor); err != nil {
		return 0, err
	}

	toDiscard := target - s.decompPos
	if toDiscard < 0 {
		return 0, fmt.Errorf("stream: checkpoint past target (bug): checkpoint=%d target=%d", s.decompPos, target)
	}
	buf := make([]byte, 64*1024)
	for toDiscard > 0 {
		n := int64(len(buf))
		if n > toDiscard {
			n = toDiscard
		}
		rn, err := s.Read(buf[:n])
		toDiscard -= int64(rn)
		if err != nil {
			if err == io.EOF && toDiscard == 0 {
				break
			}
			if err == io.EOF {
				// seek past end of stream: legal, subsequent reads return 0.
				break
			}
			return 0, err
		}
	}
	return s.decompPos, nil
}

// Checkpointer exposes the nearest-checkpoint lookup; it panics if this
// GzipStream was constructed without one, which is a programmer error.
func (s *GzipStream) Checkpointer() *Checkpointer {
	if s.checkpointer == nil {
		panic("stream: GzipStream used without a Checkpointer")
	}
	return s.checkpointer
}

func (s *GzipStream) Tell() int64 { return s.decompPos }

func (s *GzipStream) Size() (int64, error) {
	if s.sizeKnown {
		return s.size, nil
	}
	savedPos := s.decompPos
	buf := make([]byte, 256*1024)
	for {
		_, err := s.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	size := s.decompPos
	s.sizeKnown = true
	s.size = size
	if _, err := s.Seek(savedPos, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

func (s *GzipStream) Close() error {
	if s.gz != nil {
		_ = s.gz.Close()
	}
	if c, ok := s.raw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
