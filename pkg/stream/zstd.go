package stream

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdStream decodes a zstd stream as a SeekableStream using klauspost/compress
// (the zstd implementation already pulled in via ristretto's dependency
// chain). It targets plain concatenated-frame .zst files, not the custom
// seek-table container SaveTheRbtz-zstd-seekable-format-go defines — that
// repo's reader.go is where the single-slot cachedFrame pattern below is
// grounded, adapted from "cached decoded frame" to "cached decoder anchor".
//
// klauspost/compress/zstd.Decoder transparently decodes concatenated frames
// with no hook to observe a frame boundary mid-stream, so — like Bzip2Stream —
// this back-end can only checkpoint the very start of the stream: a backward
// seek restarts decoding from offset 0, a forward seek discards bytes from the
// current position. Still a correct SeekableStream, just not index-accelerated.
type ZstdStream struct {
	raw          io.ReadSeeker
	checkpointer *Checkpointer

	dec       *zstd.Decoder
	decompPos int64
	size      int64
	sizeKnown bool
	atEOF     bool
}

// NewZstd opens raw as a zstd SeekableStream.
func NewZstd(raw io.ReadSeeker, checkpointer *Checkpointer) (*ZstdStream, error) {
	s := &ZstdStream{raw: raw, checkpointer: checkpointer}
	if err := s.restart(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ZstdStream) restart() error {
	if s.dec != nil {
		s.dec.Close()
		s.dec = nil
	}
	if _, err := s.raw.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dec, err := zstd.NewReader(s.raw)
	if err != nil {
		return &CorruptError{Offset: 0, Reason: err.Error()}
	}
	s.dec = dec
	s.decompPos = 0
	s.atEOF = false
	if s.checkpointer != nil {
		if err := s.checkpointer.Observe(0, 0, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *ZstdStream) Read(p []byte) (int, error) {
	if s.atEOF {
		return 0, io.EOF
	}
	n, err := s.dec.Read(p)
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

func (s *ZstdStream) Seek(offset int64, whence int) (int64, error) {
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

func (s *ZstdStream) Tell() int64 { return s.decompPos }

func (s *ZstdStream) Size() (int64, error) {
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

func (s *ZstdStream) Close() error {
	if s.dec != nil {
		s.dec.Close()
	}
	if c, ok := s.raw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
