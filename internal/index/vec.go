/*-------------------------------------------------------------------------
 *
 * QPG - Vector Search
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package index

import (
	"database/sql"
	"encoding/json"
	"math"
	"sort"
	"strings"

	qerrors "qpg/internal/errors"
	"qpg/internal/logging"
)

// EncodeVector serializes an embedding as a JSON array rounded to 8
// decimals, the interchange format both the native sqlite-vec path and
// the in-process fallback read.
func EncodeVector(vector []float32) string {
	rounded := make([]float64, len(vector))
	for i, v := range vector {
		rounded[i] = math.Round(float64(v)*1e8) / 1e8
	}
	encoded, _ := json.Marshal(rounded)
	return string(encoded)
}

// DecodeVector parses the stored JSON embedding.
func DecodeVector(blob []byte) ([]float32, error) {
	var values []float64
	if err := json.Unmarshal(blob, &values); err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "failed to decode stored vector", err)
	}
	vector := make([]float32, len(values))
	for i, v := range values {
		vector[i] = float32(v)
	}
	return vector, nil
}

// hasVecFuncs probes for a loaded sqlite-vec extension. The pure-Go
// driver ships without it, so the in-process fallback is the common path.
func hasVecFuncs(db *sql.DB) bool {
	var out []byte
	err := db.QueryRow(`SELECT vec_f32('[0.0, 1.0]')`).Scan(&out)
	return err == nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// VectorSearch ranks indexed objects by cosine similarity to the query
// vector. With sqlite-vec loaded the distance runs inside SQLite;
// otherwise every candidate vector is scored in process, which stays
// cheap at schema-catalog scale.
func VectorSearch(db *sql.DB, queryVector []float32, model string,
	filters Filters, limit int) ([]Result, error) {

	if limit <= 0 {
		limit = 50
	}

	if hasVecFuncs(db) {
		return vectorSearchNative(db, queryVector, model, filters, limit)
	}
	return vectorSearchFallback(db, queryVector, model, filters, limit)
}

func vectorScanQuery(filters Filters) (string, []any) {
	query := `SELECT v.embedding, o.id, o.fqname, o.object_type,
        COALESCE(o.schema_name, ''), s.name
        FROM object_vectors v
        JOIN db_objects o ON o.id = v.object_id
        JOIN sources s ON s.id = o.source_id
        WHERE v.model = ?`
	args := []any{}

	var conditions []string
	if filters.Source != "" {
		conditions = append(conditions, `s.name = ?`)
		args = append(args, filters.Source)
	}
	if filters.Schema != "" {
		conditions = append(conditions, `o.schema_name = ?`)
		args = append(args, filters.Schema)
	}
	if filters.Kind != "" {
		conditions = append(conditions, `o.object_type = ?`)
		args = append(args, filters.Kind)
	}
	if len(conditions) > 0 {
		query += ` AND ` + strings.Join(conditions, ` AND `)
	}
	return query, args
}

func vectorSearchNative(db *sql.DB, queryVector []float32, model string,
	filters Filters, limit int) ([]Result, error) {

	query, filterArgs := vectorScanQuery(filters)
	query = strings.Replace(query, "SELECT v.embedding,",
		"SELECT 1.0 - vec_distance_cosine(vec_f32(v.embedding), vec_f32(?)) AS sim,", 1)
	// Tie-break on object id so both backends order identically.
	query += ` ORDER BY sim DESC, o.id ASC LIMIT ?`

	args := append([]any{EncodeVector(queryVector), model}, filterArgs...)
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		logging.Warn("native vector search failed, falling back", "error", err.Error())
		return vectorSearchFallback(db, queryVector, model, filters, limit)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Score, &r.ObjectID, &r.FQName, &r.Kind, &r.Schema, &r.Source); err != nil {
			return nil, qerrors.Wrap(qerrors.KindInternal, "failed to scan vector hit", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func vectorSearchFallback(db *sql.DB, queryVector []float32, model string,
	filters Filters, limit int) ([]Result, error) {

	query, filterArgs := vectorScanQuery(filters)
	args := append([]any{model}, filterArgs...)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "vector search failed", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var blob []byte
		var r Result
		if err := rows.Scan(&blob, &r.ObjectID, &r.FQName, &r.Kind, &r.Schema, &r.Source); err != nil {
			return nil, qerrors.Wrap(qerrors.KindInternal, "failed to scan vector row", err)
		}
		stored, err := DecodeVector(blob)
		if err != nil {
			return nil, err
		}
		r.Score = cosineSimilarity(queryVector, stored)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "vector search failed", err)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ObjectID < results[j].ObjectID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
