// Package blockindex implements the persistent, append-only sequence of
// decompression checkpoints described in spec §4.2: a compressed-offset ->
// decompressed-offset map that lets a SeekableStream binary-search its way to the
// nearest usable restart point in O(log n).
package blockindex

import (
	"fmt"
	"sync"

	"github.com/tidwall/btree"

	"github.com/ratarfs/ratarfs/pkg/model"
)

// Store persists BlockCheckpoints for a named stream. Implementations must
// preserve the spec §3 invariant that checkpoints are strictly increasing in
// both coordinates; Append enforces this and rejects out-of-order inserts.
type Store interface {
	// NearestAtOrBefore returns the checkpoint with the largest
	// DecompressedOffset <= target, or ok=false if the store has no
	// checkpoint for streamID yet.
	NearestAtOrBefore(streamID string, target int64) (cp model.BlockCheckpoint, ok bool, err error)

	// Append records a new checkpoint. It is a no-op (not an error) if an
	// equal-or-earlier checkpoint already covers the same decompressed
	// offset, since checkpoints are only ever extended, never rewritten
	// (spec §3 "Lifecycles").
	Append(streamID string, cp model.BlockCheckpoint) error

	// All returns every checkpoint recorded for streamID, ordered by
	// DecompressedOffset ascending.
	All(streamID string) ([]model.BlockCheckpoint, error)
}

// MemoryStore is an in-process Store backed by an ordered tidwall/btree set, the
// same ordered-map primitive the teacher repo uses for its path index. It gives
// the hot path (the stream currently being read) O(log n) lookups without a
// round-trip to SQLite; pkg/sqliteindex.BlockStore wraps a MemoryStore as an
// in-memory cache in front of the persisted table.
type MemoryStore struct {
	mu    sync.RWMutex
	trees map[string]*btree.BTreeG[model.BlockCheckpoint]
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trees: make(map[string]*btree.BTreeG[model.BlockCheckpoint])}
}

func less(a, b model.BlockCheckpoint) bool {
	return a.DecompressedOffset < b.DecompressedOffset
}

func (m *MemoryStore) treeFor(streamID string) *btree.BTreeG[model.BlockCheckpoint] {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trees[streamID]
	if !ok {
		t = btree.NewBTreeG(less)
		m.trees[streamID] = t
	}
	return t
}

func (m *MemoryStore) NearestAtOrBefore(streamID string, target int64) (model.BlockCheckpoint, bool, error) {
	t := m.treeFor(streamID)

	var found model.BlockCheckpoint
	ok := false
	pivot := model.BlockCheckpoint{DecompressedOffset: target}
	// Descend returns keys <= pivot in descending order; the first result is
	// the nearest checkpoint at or before target.
	t.Descend(pivot, func(item model.BlockCheckpoint) bool {
		found = item
		ok = true
		return false
	})
	return found, ok, nil
}

func (m *MemoryStore) Append(streamID string, cp model.BlockCheckpoint) error {
	t := m.treeFor(streamID)

	if _, ok := t.Get(cp); ok {
		return nil // already have this restart point; checkpoints are never rewritten
	}
	if prev, ok := t.Max(); ok {
		if cp.DecompressedOffset < prev.DecompressedOffset {
			return fmt.Errorf("blockindex: checkpoint at %d is behind last checkpoint %d for stream %q", cp.DecompressedOffset, prev.DecompressedOffset, streamID)
		}
		if cp.DecompressedOffset == prev.DecompressedOffset {
			return nil // already have this restart point; checkpoints are never rewritten
		}
		if cp.CompressedBitOffset <= prev.CompressedBitOffset {
			return fmt.Errorf("blockindex: checkpoint compressed offset %d is behind last %d for stream %q", cp.CompressedBitOffset, prev.CompressedBitOffset, streamID)
		}
	}
	t.Set(cp)
	return nil
}

func (m *MemoryStore) All(streamID string) ([]model.BlockCheckpoint, error) {
	t := m.treeFor(streamID)
	out := make([]model.BlockCheckpoint, 0, t.Len())
	t.Ascend(model.BlockCheckpoint{}, func(item model.BlockCheckpoint) bool {
		out = append(out, item)
		return true
	})
	return out, nil
}
