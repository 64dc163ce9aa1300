/*-------------------------------------------------------------------------
 *
 * QPG - Lexical Search
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package index

import (
	"database/sql"
	"regexp"
	"strings"

	qerrors "qpg/internal/errors"
)

// Result is one scored hit from either retrieval channel.
type Result struct {
	ObjectID       string  `json:"object_id"`
	FQName         string  `json:"fqname"`
	Kind           string  `json:"kind"`
	Schema         string  `json:"schema,omitempty"`
	Source         string  `json:"source"`
	Score          float64 `json:"score"`
	NameSnippet    string  `json:"name_snippet,omitempty"`
	ContextSnippet string  `json:"context_snippet,omitempty"`
}

// Filters narrows retrieval before fusion.
type Filters struct {
	Source string
	Schema string
	Kind   string
}

// bm25Weights pins the per-column relevance weights. FTS5 takes one weight
// per declared column, so the four UNINDEXED columns carry zeros; the
// indexed columns weight name matches highest, then context, then
// comments, then raw definitions.
const bm25Weights = "0, 0, 0, 0, 3.5, 1.5, 1.1, 5.0"

var matchTokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// MakeMatchQuery converts free text into a safe FTS5 MATCH expression:
// every identifier-ish token, quoted, OR-joined. Everything else in the
// input is ignored, so user text can never inject FTS syntax.
func MakeMatchQuery(query string) string {
	tokens := matchTokenPattern.FindAllString(query, -1)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, token := range tokens {
		quoted[i] = `"` + token + `"`
	}
	return strings.Join(quoted, " OR ")
}

// SearchLexical runs one BM25 query over the FTS index. Scores are mapped
// to (0, 1] via 1/(1+bm25) since SQLite reports bm25 as a rank where
// smaller is better.
func SearchLexical(db *sql.DB, query string, filters Filters, limit int) ([]Result, error) {
	match := MakeMatchQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	sqlQuery := `SELECT object_id, source_name, schema_name, kind, name_col,
        bm25(objects_fts, ` + bm25Weights + `) AS rank,
        snippet(objects_fts, 4, '', '', '…', 12),
        snippet(objects_fts, 7, '', '', '…', 16)
        FROM objects_fts WHERE objects_fts MATCH ?`
	args := []any{match}

	if filters.Source != "" {
		sqlQuery += ` AND source_name = ?`
		args = append(args, filters.Source)
	}
	if filters.Schema != "" {
		sqlQuery += ` AND schema_name = ?`
		args = append(args, filters.Schema)
	}
	if filters.Kind != "" {
		sqlQuery += ` AND kind = ?`
		args = append(args, filters.Kind)
	}
	sqlQuery += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(sqlQuery, args...)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "lexical search failed", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rank float64
		if err := rows.Scan(&r.ObjectID, &r.Source, &r.Schema, &r.Kind, &r.FQName,
			&rank, &r.NameSnippet, &r.ContextSnippet); err != nil {
			return nil, qerrors.Wrap(qerrors.KindInternal, "failed to scan lexical hit", err)
		}
		if rank < 0 {
			rank = 0
		}
		r.Score = 1.0 / (1.0 + rank)
		results = append(results, r)
	}
	return results, rows.Err()
}

// RebuildFTS drops and reinserts the search rows from lexical_docs, for
// one source or for all of them. Used by `qpg repair`.
func RebuildFTS(db *sql.DB, sourceName string) error {
	tx, err := db.Begin()
	if err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to begin fts rebuild", err)
	}
	defer tx.Rollback()

	deleteQuery := `DELETE FROM objects_fts`
	insertQuery := `INSERT INTO objects_fts (object_id, source_name, schema_name, kind,
        name_col, comment_col, defs_col, context_col)
        SELECT d.object_id, s.name, COALESCE(o.schema_name, ''), o.object_type,
        d.name_col, d.comment_col, d.defs_col, d.context_col
        FROM lexical_docs d
        JOIN db_objects o ON o.id = d.object_id
        JOIN sources s ON s.id = d.source_id`
	var args []any
	if sourceName != "" {
		deleteQuery += ` WHERE source_name = ?`
		insertQuery += ` WHERE s.name = ?`
		args = append(args, sourceName)
	}

	if _, err := tx.Exec(deleteQuery, args...); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to clear search rows", err)
	}
	if _, err := tx.Exec(insertQuery, args...); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to reinsert search rows", err)
	}
	if err := tx.Commit(); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to commit fts rebuild", err)
	}
	return nil
}
