/*-------------------------------------------------------------------------
 *
 * QPG - Local Catalog Store
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package catalog

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	qerrors "qpg/internal/errors"
	"qpg/internal/logging"
)

// schemaVersion tracks the catalog layout. Migrations require an explicit
// bump here together with migration statements in ensureSchema.
const schemaVersion = 1

const nowExpr = "strftime('%Y-%m-%dT%H:%M:%fZ', 'now')"

// Store wraps the single-file catalog database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the catalog at the given path, applies
// the pragmas, and ensures the schema is current.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, qerrors.Wrapf(qerrors.KindInternal, err, "failed to open catalog %s", path)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, qerrors.Wrapf(qerrors.KindInternal, err, "failed to apply %s", pragma)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for the index and query layers.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the catalog file path (used for the writer lock file).
func (s *Store) Path() string {
	return s.path
}

var ddl = []string{
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    dsn TEXT NOT NULL,
    include_schemas_json TEXT,
    skip_patterns_json TEXT,
    created_at TEXT NOT NULL DEFAULT (%[1]s),
    updated_at TEXT NOT NULL DEFAULT (%[1]s),
    last_indexed_at TEXT,
    last_error TEXT
)`, nowExpr),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS db_objects (
    id TEXT PRIMARY KEY,
    source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
    schema_name TEXT,
    object_name TEXT NOT NULL,
    object_type TEXT NOT NULL,
    fqname TEXT NOT NULL,
    parent_object_id TEXT REFERENCES db_objects(id) ON DELETE CASCADE,
    definition TEXT,
    comment TEXT,
    signature TEXT,
    owner TEXT,
    is_system INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL DEFAULT (%s),
    UNIQUE(source_id, object_type, fqname)
)`, nowExpr),

	`CREATE INDEX IF NOT EXISTS idx_db_objects_source_type ON db_objects(source_id, object_type)`,
	`CREATE INDEX IF NOT EXISTS idx_db_objects_fqname ON db_objects(fqname)`,
	`CREATE INDEX IF NOT EXISTS idx_db_objects_parent ON db_objects(parent_object_id)`,

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS columns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    object_id TEXT NOT NULL REFERENCES db_objects(id) ON DELETE CASCADE,
    column_name TEXT NOT NULL,
    data_type TEXT NOT NULL,
    is_nullable INTEGER NOT NULL,
    ordinal_position INTEGER NOT NULL,
    default_expr TEXT,
    comment TEXT,
    updated_at TEXT NOT NULL DEFAULT (%s),
    UNIQUE(object_id, column_name)
)`, nowExpr),

	`CREATE INDEX IF NOT EXISTS idx_columns_object_id ON columns(object_id)`,

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS constraints (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    object_id TEXT NOT NULL REFERENCES db_objects(id) ON DELETE CASCADE,
    constraint_name TEXT NOT NULL,
    constraint_type TEXT NOT NULL,
    definition TEXT,
    columns_json TEXT,
    updated_at TEXT NOT NULL DEFAULT (%s),
    UNIQUE(object_id, constraint_name)
)`, nowExpr),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS indexes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    object_id TEXT NOT NULL REFERENCES db_objects(id) ON DELETE CASCADE,
    index_name TEXT NOT NULL,
    definition TEXT,
    is_unique INTEGER NOT NULL DEFAULT 0,
    is_primary INTEGER NOT NULL DEFAULT 0,
    columns_json TEXT,
    updated_at TEXT NOT NULL DEFAULT (%s),
    UNIQUE(object_id, index_name)
)`, nowExpr),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS dependencies (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    object_id TEXT NOT NULL REFERENCES db_objects(id) ON DELETE CASCADE,
    depends_on_object_id TEXT REFERENCES db_objects(id) ON DELETE CASCADE,
    dependency_type TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (%s)
)`, nowExpr),

	`CREATE INDEX IF NOT EXISTS idx_dependencies_object_id ON dependencies(object_id)`,

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS contexts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    target_uri TEXT NOT NULL,
    body TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (%s),
    UNIQUE(target_uri, body)
)`, nowExpr),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS object_context_effective (
    object_id TEXT PRIMARY KEY REFERENCES db_objects(id) ON DELETE CASCADE,
    context_text TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (%s)
)`, nowExpr),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS lexical_docs (
    object_id TEXT PRIMARY KEY REFERENCES db_objects(id) ON DELETE CASCADE,
    source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
    name_col TEXT NOT NULL,
    comment_col TEXT NOT NULL,
    defs_col TEXT NOT NULL,
    context_col TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (%s)
)`, nowExpr),

	`CREATE VIRTUAL TABLE IF NOT EXISTS objects_fts USING fts5(
    object_id UNINDEXED,
    source_name UNINDEXED,
    schema_name UNINDEXED,
    kind UNINDEXED,
    name_col,
    comment_col,
    defs_col,
    context_col,
    tokenize = 'unicode61 remove_diacritics 2'
)`,

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS object_vectors (
    object_id TEXT PRIMARY KEY REFERENCES db_objects(id) ON DELETE CASCADE,
    embedding BLOB NOT NULL,
    model TEXT NOT NULL DEFAULT 'codebert-base-v1',
    source_text_hash TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL DEFAULT (%s)
)`, nowExpr),

	`CREATE INDEX IF NOT EXISTS idx_object_vectors_model ON object_vectors(model)`,

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS llm_cache (
    key TEXT PRIMARY KEY,
    value_json TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (%s),
    expires_at TEXT
)`, nowExpr),
}

func (s *Store) ensureSchema() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to read catalog schema version", err)
	}
	if version > schemaVersion {
		return qerrors.Newf(qerrors.KindInternal,
			"catalog schema version %d is newer than supported version %d", version, schemaVersion)
	}

	for _, statement := range ddl {
		if _, err := s.db.Exec(statement); err != nil {
			return qerrors.Wrap(qerrors.KindInternal, "failed to create catalog schema", err)
		}
	}

	if version < schemaVersion {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return qerrors.Wrap(qerrors.KindInternal, "failed to set catalog schema version", err)
		}
		logging.Debug("catalog schema initialized", "version", schemaVersion, "path", s.path)
	}
	return nil
}

// QuickCheck runs SQLite's integrity check, failing with an internal error
// if the catalog file is corrupt.
func (s *Store) QuickCheck() error {
	var result string
	if err := s.db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "catalog integrity check failed", err)
	}
	if result != "ok" {
		return qerrors.Newf(qerrors.KindInternal, "catalog integrity check failed: %s", result)
	}
	return nil
}

// Cleanup removes expired LLM cache rows and compacts the file.
func (s *Store) Cleanup() error {
	if _, err := s.db.Exec(
		"DELETE FROM llm_cache WHERE expires_at IS NOT NULL AND expires_at <= " + nowExpr,
	); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to purge llm cache", err)
	}
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "vacuum failed", err)
	}
	return nil
}
