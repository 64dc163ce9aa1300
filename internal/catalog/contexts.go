/*-------------------------------------------------------------------------
 *
 * QPG - Context Note Storage
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package catalog

import (
	"strconv"
	"strings"

	"qpg/internal/contexts"
	qerrors "qpg/internal/errors"
)

// AddContext validates and stores one context note. The target's source
// must already be registered.
func (s *Store) AddContext(targetURI, body string) (*contexts.Record, error) {
	scope, err := contexts.ParseTarget(targetURI)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetSource(scope.Source); err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, qerrors.New(qerrors.KindConfigError, "context body must not be empty")
	}

	result, err := s.db.Exec(
		`INSERT INTO contexts (target_uri, body) VALUES (?, ?)
         ON CONFLICT(target_uri, body) DO NOTHING`,
		targetURI, body,
	)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "failed to store context", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, qerrors.Newf(qerrors.KindConfigError,
			"identical context already exists for %s", targetURI)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "failed to read context id", err)
	}
	record := &contexts.Record{ID: id, TargetURI: targetURI, Body: body}
	row := s.db.QueryRow(`SELECT created_at FROM contexts WHERE id = ?`, id)
	_ = row.Scan(&record.CreatedAt)
	return record, nil
}

// ListContexts returns stored notes, optionally restricted to targets
// under one source, ordered by insertion.
func (s *Store) ListContexts(sourceName string) ([]contexts.Record, error) {
	query := `SELECT id, target_uri, body, created_at FROM contexts`
	var args []any
	if sourceName != "" {
		query += ` WHERE target_uri = ? OR target_uri LIKE ? OR target_uri LIKE ?`
		args = append(args,
			"qpg://"+sourceName, "qpg://"+sourceName+"/%", "qpg://"+sourceName+"#%")
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "failed to list contexts", err)
	}
	defer rows.Close()

	var records []contexts.Record
	for rows.Next() {
		var record contexts.Record
		if err := rows.Scan(&record.ID, &record.TargetURI, &record.Body, &record.CreatedAt); err != nil {
			return nil, qerrors.Wrap(qerrors.KindInternal, "failed to scan context", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// RemoveContext deletes notes by numeric id or, when the reference parses
// as a target URI, every note stored for that exact target. Returns the
// number of removed notes.
func (s *Store) RemoveContext(ref string) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		result, err := s.db.Exec(`DELETE FROM contexts WHERE id = ?`, id)
		if err != nil {
			return 0, qerrors.Wrap(qerrors.KindInternal, "failed to remove context", err)
		}
		n, _ := result.RowsAffected()
		if n == 0 {
			return 0, qerrors.Newf(qerrors.KindNotFound, "no context with id %d", id)
		}
		return n, nil
	}

	if _, err := contexts.ParseTarget(ref); err != nil {
		return 0, qerrors.Newf(qerrors.KindConfigError,
			"context reference %q is neither an id nor a qpg:// target", ref)
	}
	result, err := s.db.Exec(`DELETE FROM contexts WHERE target_uri = ?`, ref)
	if err != nil {
		return 0, qerrors.Wrap(qerrors.KindInternal, "failed to remove context", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return 0, qerrors.Newf(qerrors.KindNotFound, "no context stored for %s", ref)
	}
	return n, nil
}
