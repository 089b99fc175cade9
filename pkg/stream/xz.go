package stream

import (
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// XzStream decodes an xz stream as a SeekableStream, using ulikunitz/xz (the
// same dependency nabbar-golib and quay/claircore pull in for xz decoding;
// there is no xz support in the standard library). It records a checkpoint
// each time it opens a decoder: at the start of the input, and again if the
// decoder reports io.EOF before the input ends. ulikunitz/xz.Reader in its
// default configuration decodes concatenated xz streams as one and reports
// io.EOF only at the end of the input, so in practice only the start-of-input
// checkpoint is recorded and a backward seek decodes again from offset 0.
type XzStream struct {
	raw          io.ReadSeeker
	checkpointer *Checkpointer

	cr        *countingReader
	xz        *xz.Reader
	decompPos int64
	size      int64
	sizeKnown bool
	atEOF     bool
}

// NewXz opens raw as an xz SeekableStream.
func NewXz(raw io.ReadSeeker, checkpointer *Checkpointer) (*XzStream, error) {
	s := &XzStream{raw: raw, checkpointer: checkpointer}
	if err := s.openAt(0, 0); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *XzStream) openAt(compOffset, decompOffset int64) error {
	if _, err := s.raw.Seek(compOffset, io.SeekStart); err != nil {
		return err
	}
	s.cr = &countingReader{r: s.raw}
	r, err := xz.NewReader(s.cr)
	if err != nil {
		if err == io.EOF {
			s.xz = nil
			s.atEOF = true
			s.decompPos = decompOffset
			s.size = decompOffset
			s.sizeKnown = true
			return nil
		}
		return &CorruptError{Offset: compOffset, Reason: err.Error()}
	}
	s.xz = r
	s.decompPos = decompOffset
	s.atEOF = false
	if s.checkpointer != nil {
		if err := s.checkpointer.Observe(decompOffset, compOffset, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *XzStream) Read(p []byte) (int, error) {
	if s.atEOF {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := s.xz.Read(p)
	s.decompPos += int64(n)
	if err == nil {
		return n, nil
	}
	if err != io.EOF {
		return n, &CorruptError{Offset: s.cr.n, Reason: err.Error()}
	}

	streamEnd := s.cr.n
	nextR, rerr := xz.NewReader(s.cr)
	if rerr != nil {
		if rerr == io.EOF {
			s.xz = nil
			s.atEOF = true
			s.size = s.decompPos
			s.sizeKnown = true
			return n, io.EOF
		}
		return n, &CorruptError{Offset: streamEnd, Reason: rerr.Error()}
	}
	s.xz = nextR
	if s.checkpointer != nil {
		if err := s.checkpointer.Observe(s.decompPos, streamEnd, nil); err != nil {
			return n, err
		}
	}
	if n > 0 {
		return n, nil
	}
	return s.Read(p)
}

func (s *XzStream) Seek(offset int64, whence int) (int64, error) {
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

	cp, ok := s.checkpointer.Nearest(target)
	compOffset, decompAnchor := int64(0), int64(0)
	if ok {
		compOffset, decompAnchor = cp.CompressedBitOffset, cp.DecompressedOffset
	}
	if err := s.openAt(compOffset, decompAnchor); err != nil {
		return 0, err
	}

	toDiscard := target - s.decompPos
	buf := make([]byte, 64*1024)
	for toDiscard > 0 {
		n := int64(len(buf))
		if n > toDiscard {
			n = toDiscard
		}
		rn, err := s.Read(buf[:n])
		toDiscard -= int64(rn)
		if err != nil {
			if err == io.EOF {
				break
			}
			return 0, err
		}
	}
	return s.decompPos, nil
}

func (s *XzStream) Tell() int64 { return s.decompPos }

func (s *XzStream) Size() (int64, error) {
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

func (s *XzStream) Close() error {
	if c, ok := s.raw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
