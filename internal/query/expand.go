/*-------------------------------------------------------------------------
 *
 * QPG - Query Expansion
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package query

import (
	"regexp"
	"sort"
	"strings"
)

// synonyms maps common business vocabulary onto the identifiers schemas
// actually use. Deliberately small; expansion only needs to bridge the
// most frequent wording gaps, recall does the rest.
var synonyms = map[string][]string{
	"payment":      {"charge", "transaction"},
	"refund":       {"chargeback", "reversal"},
	"subscription": {"plan", "recurring"},
	"status":       {"state"},
	"order":        {"purchase"},
}

var expandTokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)
var expandCamelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// Expand produces the query variants fed to lexical retrieval: the
// original text plus, when it differs, one variant holding the sorted
// union of lowered tokens, camelCase/snake_case parts, singular/plural
// forms, and synonyms.
func Expand(query string) []string {
	seen := map[string]bool{}
	addToken := func(token string) {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" || seen[token] {
			return
		}
		seen[token] = true

		// Singular/plural bridging, only for words long enough that the
		// trailing s is a plausible plural.
		if len(token) > 3 {
			if trimmed, ok := strings.CutSuffix(token, "s"); ok && len(trimmed) > 3 {
				seen[trimmed] = true
			} else if !ok {
				seen[token+"s"] = true
			}
		}
		for _, syn := range synonyms[token] {
			seen[syn] = true
		}
	}

	for _, raw := range expandTokenPattern.FindAllString(query, -1) {
		addToken(raw)
		split := expandCamelBoundary.ReplaceAllString(raw, "$1 $2")
		split = strings.ReplaceAll(split, "_", " ")
		for _, part := range strings.Fields(split) {
			addToken(part)
		}
	}

	tokens := make([]string, 0, len(seen))
	for token := range seen {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	expanded := strings.Join(tokens, " ")
	if expanded == "" || expanded == strings.ToLower(strings.TrimSpace(query)) {
		return []string{query}
	}
	return []string{query, expanded}
}
