/*-------------------------------------------------------------------------
 *
 * QPG - Source Registry
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package catalog

import (
	"database/sql"
	"encoding/json"
	"regexp"
	"strings"

	qerrors "qpg/internal/errors"
	"qpg/internal/guard"
	"qpg/internal/logging"
)

// Source is one registered PostgreSQL database.
type Source struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	DSN            string   `json:"-"`
	IncludeSchemas []string `json:"include_schemas,omitempty"`
	SkipPatterns   []string `json:"skip_patterns,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
	LastIndexedAt  string   `json:"last_indexed_at,omitempty"`
	LastError      string   `json:"last_error,omitempty"`
}

var sourceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateSourceName rejects names that cannot appear as a qpg:// host.
func ValidateSourceName(name string) error {
	if !sourceNamePattern.MatchString(name) {
		return qerrors.Newf(qerrors.KindConfigError,
			"invalid source name %q: use lowercase letters, digits, '-' and '_'", name)
	}
	return nil
}

func encodeStringList(values []string) any {
	if len(values) == 0 {
		return nil
	}
	encoded, _ := json.Marshal(values)
	return string(encoded)
}

func decodeStringList(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
		return nil
	}
	return values
}

// AddSource registers a new source. The stored DSN always carries the
// read-only session options, so every later connection is guarded even if
// the caller skipped normalization. Callers are responsible for never
// printing it unredacted.
func (s *Store) AddSource(name, dsn string, includeSchemas, skipPatterns []string) (*Source, error) {
	if err := ValidateSourceName(name); err != nil {
		return nil, err
	}
	_, err := s.db.Exec(
		`INSERT INTO sources (name, dsn, include_schemas_json, skip_patterns_json) VALUES (?, ?, ?, ?)`,
		name, guard.EnforceReadOnlyDSN(dsn), encodeStringList(includeSchemas), encodeStringList(skipPatterns),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, qerrors.Newf(qerrors.KindConfigError, "source %q already exists", name)
		}
		return nil, qerrors.Wrap(qerrors.KindInternal, "failed to add source", err)
	}
	logging.Info("source registered", "name", name)
	return s.GetSource(name)
}

func scanSource(row interface{ Scan(...any) error }) (*Source, error) {
	var src Source
	var includeJSON, skipJSON, lastIndexed, lastError sql.NullString
	err := row.Scan(&src.ID, &src.Name, &src.DSN, &includeJSON, &skipJSON,
		&src.CreatedAt, &src.UpdatedAt, &lastIndexed, &lastError)
	if err != nil {
		return nil, err
	}
	src.IncludeSchemas = decodeStringList(includeJSON)
	src.SkipPatterns = decodeStringList(skipJSON)
	src.LastIndexedAt = lastIndexed.String
	src.LastError = lastError.String
	return &src, nil
}

const sourceColumns = `id, name, dsn, include_schemas_json, skip_patterns_json,
    created_at, updated_at, last_indexed_at, last_error`

// GetSource looks one source up by name.
func (s *Store) GetSource(name string) (*Source, error) {
	row := s.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE name = ?`, name)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, qerrors.Newf(qerrors.KindNotFound, "source %q is not registered", name)
	}
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "failed to load source", err)
	}
	return src, nil
}

// ListSources returns all sources ordered by name.
func (s *Store) ListSources() ([]*Source, error) {
	rows, err := s.db.Query(`SELECT ` + sourceColumns + ` FROM sources ORDER BY name`)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "failed to list sources", err)
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.KindInternal, "failed to scan source", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// DeleteSource removes a source together with its indexed objects (by
// foreign key cascade) and its context notes (by target prefix).
func (s *Store) DeleteSource(name string) error {
	src, err := s.GetSource(name)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sources WHERE id = ?`, src.ID); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to delete source", err)
	}
	if _, err := tx.Exec(
		`DELETE FROM contexts WHERE target_uri = ? OR target_uri LIKE ? OR target_uri LIKE ?`,
		"qpg://"+name, "qpg://"+name+"/%", "qpg://"+name+"#%",
	); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to delete source contexts", err)
	}
	if _, err := tx.Exec(`DELETE FROM objects_fts WHERE source_name = ?`, name); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to delete source search rows", err)
	}

	if err := tx.Commit(); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to commit source delete", err)
	}
	logging.Info("source removed", "name", name)
	return nil
}

// RenameSource renames a source and rewrites its context targets. Object
// ids are derived from the source name, so the caller must reindex after
// a rename; last_indexed_at is cleared to make that visible.
func (s *Store) RenameSource(oldName, newName string) error {
	if err := ValidateSourceName(newName); err != nil {
		return err
	}
	src, err := s.GetSource(oldName)
	if err != nil {
		return err
	}
	if _, err := s.GetSource(newName); err == nil {
		return qerrors.Newf(qerrors.KindConfigError, "source %q already exists", newName)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE sources SET name = ?, last_indexed_at = NULL, updated_at = `+nowExpr+` WHERE id = ?`,
		newName, src.ID,
	); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to rename source", err)
	}

	oldPrefix := "qpg://" + oldName
	newPrefix := "qpg://" + newName
	if _, err := tx.Exec(
		`UPDATE contexts SET target_uri = ? || substr(target_uri, ?)
         WHERE target_uri = ? OR target_uri LIKE ? OR target_uri LIKE ?`,
		newPrefix, len(oldPrefix)+1, oldPrefix, oldPrefix+"/%", oldPrefix+"#%",
	); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to rewrite context targets", err)
	}

	if err := tx.Commit(); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to commit rename", err)
	}
	logging.Info("source renamed", "from", oldName, "to", newName)
	return nil
}

// MarkIndexed records a successful index build and clears any prior error.
func (s *Store) MarkIndexed(sourceID int64) error {
	_, err := s.db.Exec(
		`UPDATE sources SET last_indexed_at = `+nowExpr+`, last_error = NULL,
         updated_at = `+nowExpr+` WHERE id = ?`, sourceID,
	)
	if err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to mark source indexed", err)
	}
	return nil
}

// MarkError records a failed index build without touching last_indexed_at,
// so the previous good index remains visibly current.
func (s *Store) MarkError(sourceID int64, message string) error {
	_, err := s.db.Exec(
		`UPDATE sources SET last_error = ?, updated_at = `+nowExpr+` WHERE id = ?`,
		message, sourceID,
	)
	if err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to record source error", err)
	}
	return nil
}
