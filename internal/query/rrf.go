/*-------------------------------------------------------------------------
 *
 * QPG - Reciprocal Rank Fusion
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package query

import (
	"sort"

	"qpg/internal/index"
)

// rrfK is the standard RRF dampening constant.
const rrfK = 60

// topRankBonus breaks the tie between an object ranked first by one
// channel and one that is merely near the top of several: a rank-1 hit
// gets one extra reciprocal unit.
const topRankBonus = 1.0 / rrfK

// Fused is one merged result carrying the fusion score and which
// channels produced it.
type Fused struct {
	index.Result
	RRFScore float64  `json:"rrf_score"`
	Channels []string `json:"channels,omitempty"`
}

// Fuse merges per-channel rankings with reciprocal rank fusion. Each
// channel contributes 1/(k+rank) per hit, rank counting from 1, plus the
// top-rank bonus for its first hit. Ties order by object id so fused
// output is fully deterministic.
func Fuse(channels map[string][]index.Result) []Fused {
	merged := map[string]*Fused{}

	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for rank, result := range channels[name] {
			entry, ok := merged[result.ObjectID]
			if !ok {
				entry = &Fused{Result: result}
				merged[result.ObjectID] = entry
			}
			// Keep the richer metadata: lexical hits carry snippets.
			if entry.NameSnippet == "" && result.NameSnippet != "" {
				entry.NameSnippet = result.NameSnippet
				entry.ContextSnippet = result.ContextSnippet
			}
			if result.Score > entry.Score {
				entry.Score = result.Score
			}

			entry.RRFScore += 1.0 / float64(rrfK+rank+1)
			if rank == 0 {
				entry.RRFScore += topRankBonus
			}
			entry.Channels = appendUnique(entry.Channels, name)
		}
	}

	fused := make([]Fused, 0, len(merged))
	for _, entry := range merged {
		fused = append(fused, *entry)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].RRFScore != fused[j].RRFScore {
			return fused[i].RRFScore > fused[j].RRFScore
		}
		return fused[i].ObjectID < fused[j].ObjectID
	})
	return fused
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}
