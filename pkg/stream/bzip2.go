package stream

import (
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
)

// Bzip2Stream decodes a bzip2 stream as a SeekableStream using dsnet/compress's
// bzip2 decoder (pulled in via nabbar-golib's dependency on dsnet/compress,
// which the standard library's decode-only compress/bzip2 cannot replace since
// it exposes neither a resettable reader nor per-block positions).
//
// Unlike gzip, dsnet/compress/bzip2.Reader transparently decodes concatenated
// BZh streams with no way to observe the stream boundary, so this back-end
// cannot produce mid-stream checkpoints the way GzipStream does at member
// boundaries: only the very start of the stream is ever recorded. A backward
// seek therefore always restarts decoding from offset 0; a forward seek just
// discards bytes from the current position. This is still a correct,
// spec-conforming SeekableStream, just not a fast one for large archives —
// exactly the trade-off spec §4.1 allows ("may satisfy a seek by decoding
// forward from the nearest prior checkpoint, however far back that is").
type Bzip2Stream struct {
	raw          io.ReadSeeker
	checkpointer *Checkpointer

	gz        io.Reader
	decompPos int64
	size      int64
	sizeKnown bool
	atEOF     bool
}

// NewBzip2 opens raw as a bzip2 SeekableStream.
func NewBzip2(raw io.ReadSeeker, checkpointer *Checkpointer) (*Bzip2Stream, error) {
	s := &Bzip2Stream{raw: raw, checkpointer: checkpointer}
	if err := s.restart(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Bzip2Stream) restart() error {
	if _, err := s.raw.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r, err := bzip2.NewReader(s.raw, nil)
	if err != nil {
		return &CorruptError{Offset: 0, Reason: err.Error()}
	}
	s.gz = r
	s.decompPos = 0
	s.atEOF = false
	if s.checkpointer != nil {
		if err := s.checkpointer.Observe(0, 0, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Bzip2Stream) Read(p []byte) (int, error) {
	if s.atEOF {
		return 0, io.EOF
	}
	n, err := s.gz.Read(p)
	s.decompPos += int64(n)
	if err == io.EOF {
		s.atEOF = true
		s.size = s.decompPos
		s.sizeKnown = true
		return n, io.EOF
	}
	if err != nil {
		return n, &CorruptError{Offset: s.decompPos, Reason: err.Error()}
	}
	return n, nil
}

func (s *Bzip2Stream) Seek(offset int64, whence int) (int64, error) {
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
	if target < s.decompPos || s.atEOF {
		if err := s.restart(); err != nil {
			return 0, err
		}
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

func (s *Bzip2Stream) Tell() int64 { return s.decompPos }

func (s *Bzip2Stream) Size() (int64, error) {
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

func (s *Bzip2Stream) Close() error {
	if c, ok := s.raw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
