/*-------------------------------------------------------------------------
 *
 * QPG - Schema Outline
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package catalog

import (
	qerrors "qpg/internal/errors"
)

// ObjectSummary is one row of a schema outline.
type ObjectSummary struct {
	ObjectID string `json:"object_id"`
	FQName   string `json:"fqname"`
	Kind     string `json:"kind"`
	Schema   string `json:"schema,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// ListObjects returns indexed objects for browsing, ordered by fqname.
// Child objects (columns, constraints, indexes) are omitted unless the
// kind filter asks for them.
func (s *Store) ListObjects(sourceName, schema, kind string) ([]ObjectSummary, error) {
	query := `SELECT o.id, o.fqname, o.object_type, COALESCE(o.schema_name, ''),
	          COALESCE(o.comment, '')
	          FROM db_objects o
	          JOIN sources s ON s.id = o.source_id`
	conds := []string{}
	var args []any
	if sourceName != "" {
		conds = append(conds, `s.name = ?`)
		args = append(args, sourceName)
	}
	if schema != "" {
		conds = append(conds, `o.schema_name = ?`)
		args = append(args, schema)
	}
	if kind != "" {
		conds = append(conds, `o.object_type = ?`)
		args = append(args, kind)
	} else {
		conds = append(conds, `o.parent_object_id IS NULL`)
	}
	for i, cond := range conds {
		if i == 0 {
			query += ` WHERE ` + cond
		} else {
			query += ` AND ` + cond
		}
	}
	query += ` ORDER BY o.fqname`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "failed to list objects", err)
	}
	defer rows.Close()

	var summaries []ObjectSummary
	for rows.Next() {
		var sum ObjectSummary
		if err := rows.Scan(&sum.ObjectID, &sum.FQName, &sum.Kind, &sum.Schema,
			&sum.Comment); err != nil {
			return nil, qerrors.Wrap(qerrors.KindInternal, "failed to scan object", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}
