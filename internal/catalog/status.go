/*-------------------------------------------------------------------------
 *
 * QPG - Catalog Status
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package catalog

import (
	qerrors "qpg/internal/errors"
	"qpg/internal/redact"
)

// SourceStatus is one source's row in the status report. The DSN is
// always redacted here; raw credentials never leave the sources table.
type SourceStatus struct {
	Name          string `json:"name"`
	DSN           string `json:"dsn"`
	ObjectCount   int64  `json:"object_count"`
	VectorCount   int64  `json:"vector_count"`
	LastIndexedAt string `json:"last_indexed_at,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

// StatusReport summarizes the catalog for `qpg status` and the MCP
// qpg_status tool.
type StatusReport struct {
	CatalogPath  string           `json:"catalog_path"`
	SourceCount  int64            `json:"source_count"`
	ObjectCount  int64            `json:"object_count"`
	VectorCount  int64            `json:"vector_count"`
	ContextCount int64            `json:"context_count"`
	ByKind       map[string]int64 `json:"by_kind"`
	Sources      []SourceStatus   `json:"sources"`
}

// Status assembles the catalog summary.
func (s *Store) Status() (*StatusReport, error) {
	report := &StatusReport{
		CatalogPath: s.path,
		ByKind:      map[string]int64{},
	}

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM sources`, &report.SourceCount},
		{`SELECT COUNT(*) FROM db_objects`, &report.ObjectCount},
		{`SELECT COUNT(*) FROM object_vectors`, &report.VectorCount},
		{`SELECT COUNT(*) FROM contexts`, &report.ContextCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, qerrors.Wrap(qerrors.KindInternal, "failed to count catalog rows", err)
		}
	}

	rows, err := s.db.Query(`SELECT object_type, COUNT(*) FROM db_objects GROUP BY object_type`)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "failed to count objects by kind", err)
	}
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			rows.Close()
			return nil, qerrors.Wrap(qerrors.KindInternal, "failed to scan kind count", err)
		}
		report.ByKind[kind] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "failed to count objects by kind", err)
	}

	rows, err = s.db.Query(
		`SELECT s.name, s.dsn, s.last_indexed_at, s.last_error,
            (SELECT COUNT(*) FROM db_objects o WHERE o.source_id = s.id),
            (SELECT COUNT(*) FROM object_vectors v
               JOIN db_objects o ON o.id = v.object_id WHERE o.source_id = s.id)
         FROM sources s ORDER BY s.name`)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "failed to load source status", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status SourceStatus
		var dsn string
		var lastIndexed, lastError *string
		if err := rows.Scan(&status.Name, &dsn, &lastIndexed, &lastError,
			&status.ObjectCount, &status.VectorCount); err != nil {
			return nil, qerrors.Wrap(qerrors.KindInternal, "failed to scan source status", err)
		}
		status.DSN = redact.DSN(dsn)
		if lastIndexed != nil {
			status.LastIndexedAt = *lastIndexed
		}
		if lastError != nil {
			status.LastError = *lastError
		}
		report.Sources = append(report.Sources, status)
	}
	return report, rows.Err()
}
