package stream

import (
	"fmt"
	"io"
)

// PlainStream wraps an io.ReaderAt (typically *os.File, or an s3backend.Reader)
// that is already uncompressed, so SeekableStream's offsets are simply the
// underlying reader's offsets. Grounded on pkg/storage/local.go's ReadAt-based
// local file reads in the teacher, generalized to any io.ReaderAt.
type PlainStream struct {
	r    io.ReaderAt
	pos  int64
	size int64
}

// NewPlain wraps r, which must be size bytes long.
func NewPlain(r io.ReaderAt, size int64) *PlainStream {
	return &PlainStream{r: r, size: size}
}

func (s *PlainStream) Read(p []byte) (int, error) {
	if s.pos >= s.size {
		return 0, io.EOF
	}
	max := s.size - s.pos
	if int64(len(p)) > max {
		p = p[:max]
	}
	n, err := s.r.ReadAt(p, s.pos)
	s.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (s *PlainStream) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = s.size + offset
	default:
		return 0, fmt.Errorf("stream: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("stream: negative seek position %d", newPos)
	}
	s.pos = newPos
	return s.pos, nil
}

func (s *PlainStream) Tell() int64 { return s.pos }

func (s *PlainStream) Size() (int64, error) { return s.size, nil }

func (s *PlainStream) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
