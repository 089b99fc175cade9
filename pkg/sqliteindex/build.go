package sqliteindex

import (
	"database/sql"
	"fmt"

	"github.com/gofrs/flock"

	"github.com/ratarfs/ratarfs/pkg/model"
)

// Builder accumulates FileEntry rows into files_staging and, on Finish,
// bulk-loads them into the final path-ordered files table in one INSERT...
// SELECT...ORDER BY pass (spec §4.5's staging-table strategy). It holds an
// exclusive gofrs/flock lock on path+".lock" for its entire lifetime, the
// same pattern the teacher pulls in gofrs/flock for even though the teacher
// itself never builds an index file this way — multiple ratarfs processes
// racing to index the same fresh archive must not corrupt each other's build.
type Builder struct {
	db   *sql.DB
	lock *flock.Flock
	path string
	tx   *sql.Tx
}

// NewBuilder creates (or truncates) the SQLite file at path and begins a
// staging transaction, having first acquired the build lock. It blocks until
// the lock is available; callers that would rather bail out and wait for a
// concurrent builder to finish should use TryNewBuilder instead.
func NewBuilder(path string) (*Builder, error) {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("sqliteindex: acquiring build lock for %s: %w", path, err)
	}
	return newBuilderLocked(path, lock)
}

// TryNewBuilder is like NewBuilder but returns ok=false immediately if
// another process already holds the build lock, instead of blocking.
func TryNewBuilder(path string) (b *Builder, ok bool, err error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("sqliteindex: acquiring build lock for %s: %w", path, err)
	}
	if !locked {
		return nil, false, nil
	}
	b, err = newBuilderLocked(path, lock)
	return b, err == nil, err
}

func newBuilderLocked(path string, lock *flock.Flock) (*Builder, error) {
	if err := Remove(path); err != nil {
		lock.Unlock()
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("sqliteindex: create %s: %w", path, err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("sqliteindex: create schema: %w", err)
	}
	tx, err := db.Begin()
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}
	return &Builder{db: db, lock: lock, path: path, tx: tx}, nil
}

// BlockStore returns a BlockStore backed by this Builder's still-open
// database, so a TarIndexer's Checkpointer can persist restart points in the
// same build pass that populates files_staging.
func (b *Builder) BlockStore() (*BlockStore, error) {
	return NewBlockStore(b.db)
}

// AddEntry stages one FileEntry and its sparsity runs, if any. Entries may be
// added in any order; Finish sorts them by path when flushing into files.
func (b *Builder) AddEntry(e model.FileEntry) error {
	var xattrs []byte
	if len(e.ExtendedAttrs) > 0 {
		xattrs = encodeXattrs(e.ExtendedAttrs)
	}
	_, err := b.tx.Exec(`
		INSERT INTO files_staging (path, name, offset_header, offset_data, size, mtime, mode, uid, gid, kind, linkname, is_nested_archive, version, extended_attrs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Path, e.Name, e.OffsetHeader, e.OffsetData, e.Size, e.Mtime.Unix(), e.Mode, e.Uid, e.Gid, int(e.Kind), e.Linkname, boolToInt(e.IsNestedArchive), e.Version, xattrs)
	if err != nil {
		return fmt.Errorf("sqliteindex: staging entry %s: %w", e.Path, err)
	}
	if len(e.SparsityMap) == 0 {
		return nil
	}
	var fileID int64
	row := b.tx.QueryRow(`SELECT rowid FROM files_staging ORDER BY rowid DESC LIMIT 1`)
	if err := row.Scan(&fileID); err != nil {
		return fmt.Errorf("sqliteindex: locating staged rowid for sparsity map of %s: %w", e.Path, err)
	}
	for seq, run := range e.SparsityMap {
		if _, err := b.tx.Exec(`INSERT INTO sparsity (file_id, seq, data_offset, data_length, hole_length) VALUES (?, ?, ?, ?, ?)`,
			fileID, seq, run.DataOffset, run.DataLength, run.HoleLength); err != nil {
			return fmt.Errorf("sqliteindex: staging sparsity run %d of %s: %w", seq, e.Path, err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Finish flushes files_staging into the path-ordered files table, writes the
// meta row, builds the path index, drops the staging table, commits, and
// releases the build lock. The Builder must not be used again afterward.
func (b *Builder) Finish(meta model.IndexMeta) error {
	if _, err := b.tx.Exec(flushStagingDML); err != nil {
		return b.abort(fmt.Errorf("sqliteindex: flushing staged entries: %w", err))
	}

	metaRows := map[string]string{
		metaKeyArchiveSize:       fmt.Sprintf("%d", meta.ArchiveSize),
		metaKeyArchiveMtime:      fmt.Sprintf("%d", meta.ArchiveMtime.Unix()),
		metaKeyBackendName:       meta.BackendName,
		metaKeyBackendVersion:    meta.BackendVersion,
		metaKeyIgnoreZeros:       fmt.Sprintf("%d", boolToInt(meta.IgnoreZeros)),
		metaKeyGNUIncremental:    fmt.Sprintf("%d", boolToInt(meta.GNUIncremental)),
		metaKeyCheckpointSpacing: fmt.Sprintf("%d", meta.CheckpointSpacing),
		metaKeySchemaVersion:     fmt.Sprintf("%d", SchemaVersion),
	}
	for k, v := range meta.Options {
		metaRows[k] = v
	}
	for k, v := range metaRows {
		if _, err := b.tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return b.abort(fmt.Errorf("sqliteindex: writing meta %s: %w", k, err))
		}
	}

	if _, err := b.tx.Exec(postBuildIndexDDL); err != nil {
		return b.abort(fmt.Errorf("sqliteindex: building final indexes: %w", err))
	}
	if err := b.tx.Commit(); err != nil {
		return b.abort(fmt.Errorf("sqliteindex: commit: %w", err))
	}
	_ = b.db.Close()
	return b.lock.Unlock()
}

func (b *Builder) abort(cause error) error {
	_ = b.tx.Rollback()
	_ = b.db.Close()
	_ = b.lock.Unlock()
	return cause
}

// Abort discards all staged work and releases the build lock without writing
// anything, used when the indexing pass itself fails partway through.
func (b *Builder) Abort() error {
	return b.abort(fmt.Errorf("sqliteindex: build aborted"))
}

func encodeXattrs(m map[string][]byte) []byte {
	// A small length-prefixed encoding is enough here: xattrs are read back
	// only by pkg/fuseadapter's listxattr/getxattr handlers, never queried by
	// SQL, so there is no benefit to a relational layout.
	var out []byte
	for k, v := range m {
		out = appendLP(out, []byte(k))
		out = appendLP(out, v)
	}
	return out
}

func decodeXattrs(b []byte) map[string][]byte {
	m := map[string][]byte{}
	for len(b) > 0 {
		var key, val []byte
		key, b = takeLP(b)
		val, b = takeLP(b)
		if key == nil {
			break
		}
		m[string(key)] = val
	}
	return m
}

func appendLP(dst, src []byte) []byte {
	n := len(src)
	dst = append(dst, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	return append(dst, src...)
}

func takeLP(b []byte) ([]byte, []byte) {
	if len(b) < 4 {
		return nil, nil
	}
	n := int(b[0]) | int(b[1])<<8 | int(b[2])<<16 | int(b[3])<<24
	b = b[4:]
	if len(b) < n {
		return nil, nil
	}
	return b[:n], b[n:]
}
