/*-------------------------------------------------------------------------
 *
 * QPG - Context Generation
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package llm

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"qpg/internal/catalog"
	qerrors "qpg/internal/errors"
	"qpg/internal/logging"
)

const cacheTTL = "+30 days"

// Candidate is one table eligible for generated context.
type Candidate struct {
	ObjectID string `json:"object_id"`
	FQName   string `json:"fqname"`
}

// ListTableCandidates returns tables in a source (optionally one schema)
// that have no effective context yet. With overwrite, tables with
// existing context are included too.
func ListTableCandidates(store *catalog.Store, sourceName, schema string,
	limit int, overwrite bool) ([]Candidate, error) {

	query := `SELECT o.id, o.fqname
        FROM db_objects o
        JOIN sources s ON s.id = o.source_id
        LEFT JOIN object_context_effective e ON e.object_id = o.id
        WHERE s.name = ? AND o.object_type = 'table'`
	args := []any{sourceName}

	if !overwrite {
		query += ` AND e.object_id IS NULL`
	}
	if schema != "" {
		query += ` AND o.schema_name = ?`
		args = append(args, schema)
	}
	query += ` ORDER BY o.fqname`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := store.DB().Query(query, args...)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, "failed to list context candidates", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ObjectID, &c.FQName); err != nil {
			return nil, qerrors.Wrap(qerrors.KindInternal, "failed to scan candidate", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// boilerplateColumns are names that carry no business meaning on their
// own. A table whose columns are all boilerplate gives the model nothing
// to describe.
var boilerplateColumns = map[string]bool{
	"id":         true,
	"uuid":       true,
	"created_at": true,
	"updated_at": true,
	"deleted_at": true,
	"created":    true,
	"updated":    true,
}

// HasReasonableSignal reports whether a table's shape carries enough
// information for generated context to say anything useful.
func HasReasonableSignal(detail *catalog.ObjectDetail) bool {
	if detail.Comment != "" {
		return true
	}
	informative := 0
	for _, col := range detail.Columns {
		if !boilerplateColumns[strings.ToLower(col.Name)] {
			informative++
		}
	}
	return informative >= 2
}

// BuildPrompt renders the generation prompt for one table.
func BuildPrompt(detail *catalog.ObjectDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Describe the business purpose of the PostgreSQL table %s in 1-3 sentences.\n", detail.FQName)
	b.WriteString("Base the description only on the structure below. ")
	b.WriteString("Write plain prose, no markdown, no column-by-column listing.\n\n")

	if detail.Comment != "" {
		fmt.Fprintf(&b, "Table comment: %s\n", detail.Comment)
	}
	b.WriteString("Columns:\n")
	for _, col := range detail.Columns {
		fmt.Fprintf(&b, "  %s %s", col.Name, col.DataType)
		if col.Comment != "" {
			fmt.Fprintf(&b, " -- %s", col.Comment)
		}
		b.WriteString("\n")
	}
	for _, con := range detail.Constraints {
		fmt.Fprintf(&b, "Constraint: %s\n", con.Definition)
	}
	for _, dep := range detail.DependsOn {
		fmt.Fprintf(&b, "References: %s\n", dep.FQName)
	}
	return b.String()
}

func cacheKey(model, prompt string) string {
	digest := sha256.Sum256([]byte(model + "\n" + prompt))
	return "context-gen:" + hex.EncodeToString(digest[:])
}

func cacheGet(db *sql.DB, key string) (string, bool) {
	var valueJSON string
	err := db.QueryRow(
		`SELECT value_json FROM llm_cache WHERE key = ?
         AND (expires_at IS NULL OR expires_at > strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))`,
		key).Scan(&valueJSON)
	if err != nil {
		return "", false
	}
	var value string
	if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
		return "", false
	}
	return value, true
}

func cachePut(db *sql.DB, key, value string) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return
	}
	if _, err := db.Exec(
		`INSERT INTO llm_cache (key, value_json, expires_at)
         VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now', ?))
         ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json,
         expires_at = excluded.expires_at`,
		key, string(encoded), cacheTTL); err != nil {
		logging.Warn("failed to store llm cache entry", "error", err.Error())
	}
}

// GenerateTableContext produces (or fetches from cache) the generated
// context body for one table. The bool reports a cache hit.
func GenerateTableContext(ctx context.Context, client *Client,
	store *catalog.Store, detail *catalog.ObjectDetail) (string, bool, error) {

	prompt := BuildPrompt(detail)
	key := cacheKey(client.Model(), prompt)
	if cached, ok := cacheGet(store.DB(), key); ok {
		return cached, true, nil
	}

	body, err := client.ChatCompletion(ctx, prompt)
	if err != nil {
		return "", false, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", false, qerrors.New(qerrors.KindInternal, "LLM returned an empty description")
	}
	cachePut(store.DB(), key, body)
	return body, false, nil
}
