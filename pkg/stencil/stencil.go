// Package stencil implements StenciledFile: a virtual read-only file built from
// an ordered list of segments drawn from one or more backing streams, per spec
// §4.3. TarMountSource uses it for sparse files, without copying bytes;
// hardlinks are read through their target entry directly, and split archives
// are not assembled with it.
package stencil

import (
	"fmt"
	"io"
	"sort"
)

// Source is anything a segment can read bytes from at an absolute offset.
type Source interface {
	ReadAt(p []byte, off int64) (int, error)
}

// zeroSource is the sentinel Source used for sparse-file holes: it never
// allocates a real buffer, it just zero-fills whatever the caller asked for.
type zeroSource struct{}

func (zeroSource) ReadAt(p []byte, off int64) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// Zero is the shared zero-filling Source used for sparse holes.
var Zero Source = zeroSource{}

// Segment is one (source, offset, length) stencil slice.
type Segment struct {
	Source Source
	Offset int64 // offset within Source
	Length int64
}

// File is a StenciledFile: reads are served by binary-searching the segment
// list for the one containing the requested offset, then chaining into
// subsequent segments as needed (spec §4.3).
type File struct {
	segments []Segment
	starts   []int64 // starts[i] = cumulative length before segments[i]
	size     int64
}

// New builds a File from already-ordered segments. It is the caller's
// responsibility to pass segments in the order they should be concatenated;
// New computes the cumulative offsets.
func New(segments []Segment) *File {
	starts := make([]int64, len(segments))
	var total int64
	for i, s := range segments {
		starts[i] = total
		total += s.Length
	}
	return &File{segments: segments, starts: starts, size: total}
}

// Size returns the sum of segment lengths.
func (f *File) Size() int64 { return f.size }

// ReadAt reads len(p) bytes starting at the stenciled file's logical offset
// off, short-reading at EOF like io.ReaderAt requires when err == io.EOF.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("stencil: negative offset %d", off)
	}
	if off >= f.size || len(p) == 0 {
		if off >= f.size {
			return 0, io.EOF
		}
		return 0, nil
	}

	idx := f.segmentIndex(off)
	total := 0
	for total < len(p) && idx < len(f.segments) {
		seg := f.segments[idx]
		segStart := f.starts[idx]
		posInSeg := off + int64(total) - segStart
		remaining := seg.Length - posInSeg
		if remaining <= 0 {
			idx++
			continue
		}

		want := int64(len(p) - total)
		if want > remaining {
			want = remaining
		}

		n, err := seg.Source.ReadAt(p[total:int64(total)+want], seg.Offset+posInSeg)
		total += n
		if err != nil && err != io.EOF {
			return total, err
		}
		if int64(n) < want {
			// short read from the backing source; surface it rather than
			// looping forever (per spec §4.1 "reads past end return a short
			// read, not an error").
			if total == 0 {
				return 0, err
			}
			return total, nil
		}
		idx++
	}

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

// segmentIndex returns the index of the segment containing logical offset off,
// via binary search over the cumulative-length prefix (spec §4.3: "O(log n) in
// segment count").
func (f *File) segmentIndex(off int64) int {
	i := sort.Search(len(f.starts), func(i int) bool {
		next := f.size
		if i+1 < len(f.starts) {
			next = f.starts[i+1]
		}
		return next > off
	})
	if i >= len(f.segments) {
		return len(f.segments)
	}
	return i
}
