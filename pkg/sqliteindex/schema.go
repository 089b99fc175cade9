package sqliteindex

// SchemaVersion is bumped whenever the table layout below changes in a way
// that makes an old index file unreadable by a newer binary (spec §4.5:
// "a schema version mismatch triggers a full rebuild, never a silent
// best-effort read"). It is itself stored in the meta table so Validate can
// detect a stale file before touching any other table.
const SchemaVersion = 3

// schemaDDL creates every table fresh, as used both for an initial build and
// for a from-scratch rebuild after a mismatch is detected. The files table is
// deliberately NOT created with its final index yet — buildIndex populates a
// rowid-ordered staging table first and only then bulk-inserts into files
// ordered by path, so the on-disk B-tree backing the path index is built in
// one sequential pass instead of accreting leaf splits insert by insert
// (spec §4.5 "staging-table bulk insert for B-tree locality").
const schemaDDL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files_staging (
	path              TEXT NOT NULL,
	name              TEXT NOT NULL,
	offset_header     INTEGER NOT NULL,
	offset_data       INTEGER NOT NULL,
	size              INTEGER NOT NULL,
	mtime             INTEGER NOT NULL,
	mode              INTEGER NOT NULL,
	uid               INTEGER NOT NULL,
	gid               INTEGER NOT NULL,
	kind              INTEGER NOT NULL,
	linkname          TEXT NOT NULL DEFAULT '',
	is_nested_archive INTEGER NOT NULL DEFAULT 0,
	version           INTEGER NOT NULL DEFAULT 0,
	extended_attrs    BLOB
);

CREATE TABLE IF NOT EXISTS files (
	id                INTEGER PRIMARY KEY,
	path              TEXT NOT NULL,
	name              TEXT NOT NULL,
	offset_header     INTEGER NOT NULL,
	offset_data       INTEGER NOT NULL,
	size              INTEGER NOT NULL,
	mtime             INTEGER NOT NULL,
	mode              INTEGER NOT NULL,
	uid               INTEGER NOT NULL,
	gid               INTEGER NOT NULL,
	kind              INTEGER NOT NULL,
	linkname          TEXT NOT NULL DEFAULT '',
	is_nested_archive INTEGER NOT NULL DEFAULT 0,
	version           INTEGER NOT NULL DEFAULT 0,
	extended_attrs    BLOB
);

CREATE TABLE IF NOT EXISTS sparsity (
	file_id     INTEGER NOT NULL REFERENCES files(id),
	seq         INTEGER NOT NULL,
	data_offset INTEGER NOT NULL,
	data_length INTEGER NOT NULL,
	hole_length INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS block_index (
	stream_id             TEXT NOT NULL,
	decompressed_offset   INTEGER NOT NULL,
	compressed_bit_offset INTEGER NOT NULL,
	decoder_state         BLOB,
	PRIMARY KEY (stream_id, decompressed_offset)
);
`

// postBuildIndexDDL is run once after files_staging has been flushed into
// files, giving the path lookup its B-tree and dropping the now-unneeded
// staging table.
const postBuildIndexDDL = `
CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);
CREATE INDEX IF NOT EXISTS idx_files_dir ON files(path, name);
CREATE INDEX IF NOT EXISTS idx_sparsity_file ON sparsity(file_id, seq);
DROP TABLE IF EXISTS files_staging;
`

const flushStagingDML = `
INSERT INTO files (path, name, offset_header, offset_data, size, mtime, mode, uid, gid, kind, linkname, is_nested_archive, version, extended_attrs)
SELECT path, name, offset_header, offset_data, size, mtime, mode, uid, gid, kind, linkname, is_nested_archive, version, extended_attrs
FROM files_staging
ORDER BY path, version;
`

const (
	metaKeyArchiveSize       = "archive_size"
	metaKeyArchiveMtime      = "archive_mtime"
	metaKeyBackendName       = "backend_name"
	metaKeyBackendVersion    = "backend_version"
	metaKeyIgnoreZeros       = "ignore_zeros"
	metaKeyGNUIncremental    = "gnu_incremental"
	metaKeyCheckpointSpacing = "checkpoint_spacing"
	metaKeySchemaVersion     = "schema_version"
)
