/*-------------------------------------------------------------------------
 *
 * QPG - Object Hydration
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
	"strings"

	qerrors "qpg/internal/errors"
)

// ObjectDetail is the full payload returned for one indexed object.
type ObjectDetail struct {
	ObjectID    string             `json:"object_id"`
	Source      string             `json:"source"`
	Schema      string             `json:"schema,omitempty"`
	Name        string             `json:"name"`
	Kind        string             `json:"kind"`
	FQName      string             `json:"fqname"`
	Definition  string             `json:"definition,omitempty"`
	Comment     string             `json:"comment,omitempty"`
	Signature   string             `json:"signature,omitempty"`
	Owner       string             `json:"owner,omitempty"`
	Columns     []ColumnDetail     `json:"columns,omitempty"`
	Constraints []ConstraintDetail `json:"constraints,omitempty"`
	Indexes     []IndexDetail      `json:"indexes,omitempty"`
	DependsOn   []DependencyEdge   `json:"depends_on,omitempty"`
	Dependents  []DependencyEdge   `json:"dependents,omitempty"`
	Context     string             `json:"context,omitempty"`
}

type ColumnDetail struct {
	Name        string `json:"name"`
	DataType    string `json:"data_type"`
	Nullable    bool   `json:"nullable"`
	Position    int    `json:"position"`
	DefaultExpr string `json:"default,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

type ConstraintDetail struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Definition string   `json:"definition,omitempty"`
	Columns    []string `json:"columns,omitempty"`
}

type IndexDetail struct {
	Name       string   `json:"name"`
	Definition string   `json:"definition,omitempty"`
	IsUnique   bool     `json:"unique"`
	IsPrimary  bool     `json:"primary"`
	Columns    []string `json:"columns,omitempty"`
}

type DependencyEdge struct {
	FQName string `json:"fqname"`
	Kind   string `json:"kind"`
	Type   string `json:"type"`
}

// GetObject resolves a reference to one object and hydrates it. The
// reference is either "#<object-id-prefix>" or an fqname; sourceName
// narrows the lookup and is required when the reference is ambiguous
// across sources.
func (s *Store) GetObject(ref, sourceName string) (*ObjectDetail, error) {
	query := `SELECT o.id, s.name, o.schema_name, o.object_name, o.object_type,
        o.fqname, o.definition, o.comment, o.signature, o.owner
        FROM db_objects o JOIN sources s ON s.id = o.source_id`
	var conditions []string
	var args []any

	if frag, ok := strings.CutPrefix(ref, "#"); ok {
		conditions = append(conditions, `o.id LIKE ?`)
		args = append(args, frag+"%")
	} else {
		conditions = append(conditions, `o.fqname = ?`)
		args = append(args, ref)
	}
	if sourceName != "" {
		conditions = append(conditions, `s.name = ?`)
		args = append(args, sourceName)
	}
	query += ` WHERE ` + strings.Join(conditions, ` AND `) + ` ORDER BY o.fqname LIMIT 2`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "object lookup failed", err)
	}
	defer rows.Close()

	var matches []*ObjectDetail
	for rows.Next() {
		var detail ObjectDetail
		var schema, definition, comment, signature, owner sql.NullString
		if err := rows.Scan(&detail.ObjectID, &detail.Source, &schema, &detail.Name,
			&detail.Kind, &detail.FQName, &definition, &comment, &signature, &owner); err != nil {
			return nil, qerrors.Wrap(qerrors.KindInternal, "failed to scan object", err)
		}
		detail.Schema = schema.String
		detail.Definition = definition.String
		detail.Comment = comment.String
		detail.Signature = signature.String
		detail.Owner = owner.String
		matches = append(matches, &detail)
	}
	if err := rows.Err(); err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "object lookup failed", err)
	}

	switch len(matches) {
	case 0:
		return nil, qerrors.Newf(qerrors.KindNotFound, "no indexed object matches %q", ref)
	case 1:
	default:
		return nil, qerrors.Newf(qerrors.KindNotFound,
			"%q matches multiple objects; narrow with --source or use #<object-id>", ref)
	}

	detail := matches[0]
	if err := s.hydrate(detail); err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *Store) hydrate(detail *ObjectDetail) error {
	rows, err := s.db.Query(
		`SELECT column_name, data_type, is_nullable, ordinal_position, default_expr, comment
         FROM columns WHERE object_id = ? ORDER BY ordinal_position`, detail.ObjectID)
	if err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to load columns", err)
	}
	for rows.Next() {
		var col ColumnDetail
		var defaultExpr, comment sql.NullString
		var nullable int
		if err := rows.Scan(&col.Name, &col.DataType, &nullable, &col.Position,
			&defaultExpr, &comment); err != nil {
			rows.Close()
			return qerrors.Wrap(qerrors.KindInternal, "failed to scan column", err)
		}
		col.Nullable = nullable != 0
		col.DefaultExpr = defaultExpr.String
		col.Comment = comment.String
		detail.Columns = append(detail.Columns, col)
	}
	rows.Close()

	rows, err = s.db.Query(
		`SELECT constraint_name, constraint_type, definition, columns_json
         FROM constraints WHERE object_id = ? ORDER BY constraint_name`, detail.ObjectID)
	if err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to load constraints", err)
	}
	for rows.Next() {
		var con ConstraintDetail
		var definition, columnsJSON sql.NullString
		if err := rows.Scan(&con.Name, &con.Type, &definition, &columnsJSON); err != nil {
			rows.Close()
			return qerrors.Wrap(qerrors.KindInternal, "failed to scan constraint", err)
		}
		con.Definition = definition.String
		con.Columns = decodeJSONList(columnsJSON)
		detail.Constraints = append(detail.Constraints, con)
	}
	rows.Close()

	rows, err = s.db.Query(
		`SELECT index_name, definition, is_unique, is_primary, columns_json
         FROM indexes WHERE object_id = ? ORDER BY index_name`, detail.ObjectID)
	if err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to load indexes", err)
	}
	for rows.Next() {
		var idx IndexDetail
		var definition, columnsJSON sql.NullString
		var isUnique, isPrimary int
		if err := rows.Scan(&idx.Name, &definition, &isUnique, &isPrimary, &columnsJSON); err != nil {
			rows.Close()
			return qerrors.Wrap(qerrors.KindInternal, "failed to scan index", err)
		}
		idx.Definition = definition.String
		idx.IsUnique = isUnique != 0
		idx.IsPrimary = isPrimary != 0
		idx.Columns = decodeJSONList(columnsJSON)
		detail.Indexes = append(detail.Indexes, idx)
	}
	rows.Close()

	detail.DependsOn, err = s.dependencyEdges(
		`SELECT t.fqname, t.object_type, d.dependency_type
         FROM dependencies d JOIN db_objects t ON t.id = d.depends_on_object_id
         WHERE d.object_id = ? ORDER BY t.fqname`, detail.ObjectID)
	if err != nil {
		return err
	}
	detail.Dependents, err = s.dependencyEdges(
		`SELECT o.fqname, o.object_type, d.dependency_type
         FROM dependencies d JOIN db_objects o ON o.id = d.object_id
         WHERE d.depends_on_object_id = ? ORDER BY o.fqname`, detail.ObjectID)
	if err != nil {
		return err
	}

	var contextText sql.NullString
	err = s.db.QueryRow(
		`SELECT context_text FROM object_context_effective WHERE object_id = ?`,
		detail.ObjectID).Scan(&contextText)
	if err != nil && err != sql.ErrNoRows {
		return qerrors.Wrap(qerrors.KindInternal, "failed to load context", err)
	}
	detail.Context = contextText.String
	return nil
}

func (s *Store) dependencyEdges(query, objectID string) ([]DependencyEdge, error) {
	rows, err := s.db.Query(query, objectID)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "failed to load dependencies", err)
	}
	defer rows.Close()

	var edges []DependencyEdge
	for rows.Next() {
		var edge DependencyEdge
		if err := rows.Scan(&edge.FQName, &edge.Kind, &edge.Type); err != nil {
			return nil, qerrors.Wrap(qerrors.KindInternal, "failed to scan dependency", err)
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

func decodeJSONList(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
		return nil
	}
	return values
}
