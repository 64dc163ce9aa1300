/*-------------------------------------------------------------------------
 *
 * QPG - Context Refresh
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package index

import (
	"context"
	"database/sql"
	"strings"

	"github.com/gofrs/flock"

	"qpg/internal/catalog"
	"qpg/internal/contexts"
	"qpg/internal/embedding"
	qerrors "qpg/internal/errors"
	"qpg/internal/logging"
)

type refreshRow struct {
	objectID string
	schema   string
	name     string
	fqname   string
	comment  string
	defs     string
}

// RefreshContexts recomputes effective contexts for one source from the
// stored notes and pushes them into the search rows and vectors, without
// touching PostgreSQL. Runs after context mutations so they take effect
// immediately. A nil provider skips re-embedding.
func RefreshContexts(ctx context.Context, store *catalog.Store, sourceName string,
	provider embedding.Provider) error {

	src, err := store.GetSource(sourceName)
	if err != nil {
		return err
	}
	records, err := store.ListContexts(sourceName)
	if err != nil {
		return err
	}

	rows, err := store.DB().Query(
		`SELECT o.id, COALESCE(o.schema_name, ''), o.object_name, o.fqname,
            COALESCE(o.comment, ''), COALESCE(d.defs_col, '')
         FROM db_objects o
         LEFT JOIN lexical_docs d ON d.object_id = o.id
         WHERE o.source_id = ?`, src.ID)
	if err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to load objects for refresh", err)
	}
	var objects []refreshRow
	for rows.Next() {
		var row refreshRow
		if err := rows.Scan(&row.objectID, &row.schema, &row.name, &row.fqname,
			&row.comment, &row.defs); err != nil {
			rows.Close()
			return qerrors.Wrap(qerrors.KindInternal, "failed to scan object for refresh", err)
		}
		objects = append(objects, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to load objects for refresh", err)
	}

	lock := flock.New(store.Path() + ".lock")
	if err := lock.Lock(); err != nil {
		return qerrors.Wrap(qerrors.KindIndexBuildError, "failed to acquire index writer lock", err)
	}
	defer lock.Unlock()

	tx, err := store.DB().Begin()
	if err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to begin context refresh", err)
	}
	defer tx.Rollback()

	for _, row := range objects {
		contextText := contexts.ResolveEffective(records, contexts.ObjectRef{
			Source:     sourceName,
			Schema:     row.schema,
			ObjectName: row.name,
			ObjectID:   row.objectID,
		})
		if err := applyContext(ctx, tx, row, contextText, provider); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to commit context refresh", err)
	}
	logging.Debug("contexts refreshed", "source", sourceName, "objects", len(objects))
	return nil
}

func applyContext(ctx context.Context, tx *sql.Tx, row refreshRow,
	contextText string, provider embedding.Provider) error {

	if contextText == "" {
		if _, err := tx.Exec(
			`DELETE FROM object_context_effective WHERE object_id = ?`, row.objectID); err != nil {
			return qerrors.Wrap(qerrors.KindInternal, "failed to clear context", err)
		}
	} else {
		if _, err := tx.Exec(
			`INSERT INTO object_context_effective (object_id, context_text) VALUES (?, ?)
             ON CONFLICT(object_id) DO UPDATE SET context_text = excluded.context_text`,
			row.objectID, contextText); err != nil {
			return qerrors.Wrap(qerrors.KindInternal, "failed to store context", err)
		}
	}

	if _, err := tx.Exec(
		`UPDATE lexical_docs SET context_col = ? WHERE object_id = ?`,
		contextText, row.objectID); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to update lexical doc", err)
	}
	if _, err := tx.Exec(
		`UPDATE objects_fts SET context_col = ? WHERE object_id = ?`,
		contextText, row.objectID); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to update search row", err)
	}

	if provider == nil {
		return nil
	}
	denseText := strings.Join([]string{row.fqname, row.comment, row.defs, contextText}, "\n")
	hash := ContentHash(denseText)

	// Unchanged dense text keeps its stored vector.
	var storedHash string
	err := tx.QueryRow(
		`SELECT source_text_hash FROM object_vectors WHERE object_id = ?`,
		row.objectID).Scan(&storedHash)
	if err == nil && storedHash == hash {
		return nil
	}
	if err != nil && err != sql.ErrNoRows {
		return qerrors.Wrap(qerrors.KindInternal, "failed to read stored vector hash", err)
	}

	vector, err := provider.Embed(ctx, denseText)
	if err != nil {
		return qerrors.Wrapf(qerrors.KindIndexBuildError, err, "failed to embed %s", row.fqname)
	}
	if _, err := tx.Exec(
		`INSERT INTO object_vectors (object_id, embedding, model, source_text_hash)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(object_id) DO UPDATE SET embedding = excluded.embedding,
         model = excluded.model, source_text_hash = excluded.source_text_hash`,
		row.objectID, EncodeVector(vector), provider.ModelName(), hash); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to update vector", err)
	}
	return nil
}
