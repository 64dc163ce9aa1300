/*-------------------------------------------------------------------------
 *
 * QPG - Index Builder
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofrs/flock"

	"qpg/internal/catalog"
	"qpg/internal/contexts"
	"qpg/internal/embedding"
	qerrors "qpg/internal/errors"
	"qpg/internal/introspect"
	"qpg/internal/logging"
	"qpg/internal/normalize"
)

// UpdateStats summarizes one index build.
type UpdateStats struct {
	Objects      int `json:"objects"`
	Columns      int `json:"columns"`
	Constraints  int `json:"constraints"`
	Indexes      int `json:"indexes"`
	Dependencies int `json:"dependencies"`
	Vectors      int `json:"vectors"`
	Warnings     int `json:"warnings,omitempty"`
}

// stagedObject is one row ready for insertion: the canonical object plus
// its rendered definitions, inherited context, and embedding.
type stagedObject struct {
	normalize.Object
	ParentObjectID string
	Defs           string
	ContextText    string
	DenseText      string
	Vector         []float32
}

// BuildSource stages a full replacement index for one source, then swaps
// it in atomically: a file lock serializes writers and a single
// transaction replaces every row belonging to the source. Readers keep
// seeing the previous index until the commit.
func BuildSource(ctx context.Context, store *catalog.Store, src *catalog.Source,
	bundle *introspect.Bundle, provider embedding.Provider) (*UpdateStats, error) {

	staged, stats, err := stage(ctx, store, src, bundle, provider)
	if err != nil {
		return nil, err
	}

	lock := flock.New(store.Path() + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, qerrors.Wrap(qerrors.KindIndexBuildError, "failed to acquire index writer lock", err)
	}
	defer lock.Unlock()

	if err := swapIn(store, src, bundle, staged, provider); err != nil {
		_ = store.MarkError(src.ID, err.Error())
		return nil, err
	}
	if err := store.MarkIndexed(src.ID); err != nil {
		return nil, err
	}

	logging.Info("index updated", "source", src.Name,
		"objects", stats.Objects, "vectors", stats.Vectors)
	return stats, nil
}

func stage(ctx context.Context, store *catalog.Store, src *catalog.Source,
	bundle *introspect.Bundle, provider embedding.Provider) ([]stagedObject, *UpdateStats, error) {

	stats := &UpdateStats{
		Columns:      len(bundle.Columns),
		Constraints:  len(bundle.Constraints),
		Indexes:      len(bundle.Indexes),
		Dependencies: len(bundle.Dependencies),
		Warnings:     len(bundle.Warnings),
	}

	columnsByParent := map[string][]introspect.Column{}
	for _, col := range bundle.Columns {
		columnsByParent[col.ParentFQName] = append(columnsByParent[col.ParentFQName], col)
	}
	constraintsByParent := map[string][]introspect.Constraint{}
	for _, con := range bundle.Constraints {
		constraintsByParent[con.ParentFQName] = append(constraintsByParent[con.ParentFQName], con)
	}
	indexesByParent := map[string][]introspect.Index{}
	for _, idx := range bundle.Indexes {
		indexesByParent[idx.ParentFQName] = append(indexesByParent[idx.ParentFQName], idx)
	}

	records, err := store.ListContexts(src.Name)
	if err != nil {
		return nil, nil, err
	}

	var staged []stagedObject
	seen := map[string]string{}

	add := func(obj normalize.Object, parentID, defs string) error {
		if prior, dup := seen[obj.ObjectID]; dup {
			return qerrors.Newf(qerrors.KindSchemaConflict,
				"object id collision between %s and %s", prior, obj.FQName)
		}
		seen[obj.ObjectID] = obj.FQName

		contextText := contexts.ResolveEffective(records, contexts.ObjectRef{
			Source:     src.Name,
			Schema:     obj.SchemaName,
			ObjectName: obj.ObjectName,
			ObjectID:   obj.ObjectID,
		})
		denseText := strings.Join([]string{obj.FQName, obj.Comment, defs, contextText}, "\n")

		entry := stagedObject{
			Object:         obj,
			ParentObjectID: parentID,
			Defs:           defs,
			ContextText:    contextText,
			DenseText:      denseText,
		}
		if provider != nil {
			vector, err := provider.Embed(ctx, denseText)
			if err != nil {
				return qerrors.Wrapf(qerrors.KindIndexBuildError, err,
					"failed to embed %s", obj.FQName)
			}
			entry.Vector = vector
			stats.Vectors++
		}
		staged = append(staged, entry)
		return nil
	}

	for _, raw := range bundle.Objects {
		obj := normalize.NormalizeObject(src.Name, raw.SchemaName, raw.ObjectName,
			raw.ObjectType, raw.Definition, raw.Comment, raw.Signature, raw.Owner, raw.IsSystem)
		defs := renderDefs(columnsByParent[obj.FQName],
			constraintsByParent[obj.FQName], indexesByParent[obj.FQName])
		if err := add(obj, "", defs); err != nil {
			return nil, nil, err
		}
		stats.Objects++

		// Columns, constraints, and indexes become addressable child
		// objects named "<parent>.<member>".
		for _, col := range columnsByParent[obj.FQName] {
			child := normalize.NormalizeObject(src.Name, obj.SchemaName,
				obj.ObjectName+"."+col.ColumnName, "column",
				"", col.Comment, "in "+obj.FQName, obj.Owner, obj.IsSystem)
			if err := add(child, obj.ObjectID, renderColumnDef(col)); err != nil {
				return nil, nil, err
			}
			stats.Objects++
		}
		for _, con := range constraintsByParent[obj.FQName] {
			child := normalize.NormalizeObject(src.Name, obj.SchemaName,
				obj.ObjectName+"."+con.ConstraintName, "constraint",
				con.Definition, "", "in "+obj.FQName, obj.Owner, obj.IsSystem)
			if err := add(child, obj.ObjectID, renderConstraintDef(con)); err != nil {
				return nil, nil, err
			}
			stats.Objects++
		}
		for _, idx := range indexesByParent[obj.FQName] {
			child := normalize.NormalizeObject(src.Name, obj.SchemaName,
				obj.ObjectName+"."+idx.IndexName, "index",
				idx.Definition, "", "in "+obj.FQName, obj.Owner, obj.IsSystem)
			if err := add(child, obj.ObjectID, renderIndexDef(idx)); err != nil {
				return nil, nil, err
			}
			stats.Objects++
		}
	}
	return staged, stats, nil
}

func renderColumnDef(col introspect.Column) string {
	line := fmt.Sprintf("column %s %s", col.ColumnName, col.DataType)
	if !col.IsNullable {
		line += " not null"
	}
	if col.DefaultExpr != "" {
		line += " default=" + col.DefaultExpr
	}
	return line
}

func renderConstraintDef(con introspect.Constraint) string {
	return strings.TrimSpace(
		fmt.Sprintf("constraint %s %s", con.ConstraintName, con.Definition))
}

func renderIndexDef(idx introspect.Index) string {
	return strings.TrimSpace(
		fmt.Sprintf("index %s %s", idx.IndexName, idx.Definition))
}

func renderDefs(cols []introspect.Column, cons []introspect.Constraint,
	idxs []introspect.Index) string {

	var lines []string
	for _, col := range cols {
		lines = append(lines, renderColumnDef(col))
	}
	for _, con := range cons {
		lines = append(lines, renderConstraintDef(con))
	}
	for _, idx := range idxs {
		lines = append(lines, renderIndexDef(idx))
	}
	return strings.Join(lines, "\n")
}

// swapIn replaces every catalog row belonging to the source in one
// transaction. Child tables cascade from db_objects; the FTS table has no
// foreign keys and is cleared explicitly.
func swapIn(store *catalog.Store, src *catalog.Source, bundle *introspect.Bundle,
	staged []stagedObject, provider embedding.Provider) error {

	tx, err := store.DB().Begin()
	if err != nil {
		return qerrors.Wrap(qerrors.KindIndexBuildError, "failed to begin index transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM db_objects WHERE source_id = ?`, src.ID); err != nil {
		return qerrors.Wrap(qerrors.KindIndexBuildError, "failed to clear previous index", err)
	}
	if _, err := tx.Exec(`DELETE FROM objects_fts WHERE source_name = ?`, src.Name); err != nil {
		return qerrors.Wrap(qerrors.KindIndexBuildError, "failed to clear previous search rows", err)
	}

	idByFQName := map[string]string{}
	for _, entry := range staged {
		idByFQName[entry.FQName] = entry.ObjectID
	}

	for _, entry := range staged {
		var parentID any
		if entry.ParentObjectID != "" {
			parentID = entry.ParentObjectID
		}
		if _, err := tx.Exec(
			`INSERT INTO db_objects (id, source_id, schema_name, object_name, object_type,
             fqname, parent_object_id, definition, comment, signature, owner, is_system)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ObjectID, src.ID, nullIfEmpty(entry.SchemaName), entry.ObjectName,
			entry.ObjectType, entry.FQName, parentID, nullIfEmpty(entry.Definition),
			nullIfEmpty(entry.Comment), nullIfEmpty(entry.Signature),
			nullIfEmpty(entry.Owner), boolToInt(entry.IsSystem),
		); err != nil {
			return qerrors.Wrapf(qerrors.KindIndexBuildError, err,
				"failed to insert object %s", entry.FQName)
		}

		if _, err := tx.Exec(
			`INSERT INTO lexical_docs (object_id, source_id, name_col, comment_col, defs_col, context_col)
             VALUES (?, ?, ?, ?, ?, ?)`,
			entry.ObjectID, src.ID, entry.FQName, entry.Comment, entry.Defs, entry.ContextText,
		); err != nil {
			return qerrors.Wrap(qerrors.KindIndexBuildError, "failed to insert lexical doc", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO objects_fts (object_id, source_name, schema_name, kind,
             name_col, comment_col, defs_col, context_col)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ObjectID, src.Name, entry.SchemaName, entry.ObjectType,
			entry.FQName, entry.Comment, entry.Defs, entry.ContextText,
		); err != nil {
			return qerrors.Wrap(qerrors.KindIndexBuildError, "failed to insert search row", err)
		}

		if entry.ContextText != "" {
			if _, err := tx.Exec(
				`INSERT INTO object_context_effective (object_id, context_text) VALUES (?, ?)`,
				entry.ObjectID, entry.ContextText,
			); err != nil {
				return qerrors.Wrap(qerrors.KindIndexBuildError, "failed to insert context", err)
			}
		}

		if entry.Vector != nil {
			if _, err := tx.Exec(
				`INSERT INTO object_vectors (object_id, embedding, model, source_text_hash)
                 VALUES (?, ?, ?, ?)`,
				entry.ObjectID, EncodeVector(entry.Vector), provider.ModelName(),
				ContentHash(entry.DenseText),
			); err != nil {
				return qerrors.Wrap(qerrors.KindIndexBuildError, "failed to insert vector", err)
			}
		}
	}

	for _, col := range bundle.Columns {
		parentID, ok := idByFQName[col.ParentFQName]
		if !ok {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO columns (object_id, column_name, data_type, is_nullable,
             ordinal_position, default_expr, comment)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			parentID, col.ColumnName, col.DataType, boolToInt(col.IsNullable),
			col.Ordinal, nullIfEmpty(col.DefaultExpr), nullIfEmpty(col.Comment),
		); err != nil {
			return qerrors.Wrap(qerrors.KindIndexBuildError, "failed to insert column", err)
		}
	}
	for _, con := range bundle.Constraints {
		parentID, ok := idByFQName[con.ParentFQName]
		if !ok {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO constraints (object_id, constraint_name, constraint_type, definition, columns_json)
             VALUES (?, ?, ?, ?, ?)`,
			parentID, con.ConstraintName, con.ConstraintType,
			nullIfEmpty(con.Definition), encodeJSONList(con.Columns),
		); err != nil {
			return qerrors.Wrap(qerrors.KindIndexBuildError, "failed to insert constraint", err)
		}
	}
	for _, idx := range bundle.Indexes {
		parentID, ok := idByFQName[idx.ParentFQName]
		if !ok {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO indexes (object_id, index_name, definition, is_unique, is_primary, columns_json)
             VALUES (?, ?, ?, ?, ?, ?)`,
			parentID, idx.IndexName, nullIfEmpty(idx.Definition),
			boolToInt(idx.IsUnique), boolToInt(idx.IsPrimary), encodeJSONList(idx.Columns),
		); err != nil {
			return qerrors.Wrap(qerrors.KindIndexBuildError, "failed to insert index", err)
		}
	}

	for _, dep := range bundle.Dependencies {
		fromID, okFrom := idByFQName[dep.FromFQName]
		toID, okTo := idByFQName[dep.ToFQName]
		if !okFrom || !okTo {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO dependencies (object_id, depends_on_object_id, dependency_type)
             VALUES (?, ?, ?)`, fromID, toID, dep.DependencyType,
		); err != nil {
			return qerrors.Wrap(qerrors.KindIndexBuildError, "failed to insert dependency", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return qerrors.Wrap(qerrors.KindIndexBuildError, "failed to commit index", err)
	}
	return nil
}

func encodeJSONList(values []string) any {
	if len(values) == 0 {
		return nil
	}
	encoded, _ := json.Marshal(values)
	return string(encoded)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ContentHash returns the sha256 hex digest of a staged dense text, used
// to detect unchanged documents across rebuilds.
func ContentHash(text string) string {
	digest := sha256.Sum256([]byte(text))
	return hex.EncodeToString(digest[:])
}
