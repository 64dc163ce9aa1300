/*-------------------------------------------------------------------------
 *
 * QPG - Hybrid Search Planner
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package query

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"qpg/internal/catalog"
	"qpg/internal/embedding"
	qerrors "qpg/internal/errors"
	"qpg/internal/index"
	"qpg/internal/logging"
)

// candidateDepth is how many hits each channel contributes before fusion.
const candidateDepth = 50

// Options narrows and shapes one search.
type Options struct {
	Limit    int
	Filters  index.Filters
	MinScore float64
	Deep     bool
}

// Planner runs hybrid retrieval over the catalog: BM25 over the expanded
// query variants plus vector similarity, merged with reciprocal rank
// fusion. Deep search additionally pipes candidates through the external
// rerank hook.
type Planner struct {
	Store    *catalog.Store
	Provider embedding.Provider
}

// Search executes one query. A hook failure during deep search degrades
// to the fused order; the hook error is returned alongside the results so
// the caller can surface a warning.
func (p *Planner) Search(ctx context.Context, queryText string, opts Options) ([]Fused, error) {
	if queryText == "" {
		return nil, qerrors.New(qerrors.KindConfigError, "query must not be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	expansions := Expand(queryText)
	channels := make(map[string][]index.Result, len(expansions)+1)
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	for i, variant := range expansions {
		variant := variant
		name := fmt.Sprintf("lexical:%d", i)
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return qerrors.Wrap(qerrors.KindCancelled, "search cancelled", err)
			}
			results, err := index.SearchLexical(p.Store.DB(), variant, opts.Filters, candidateDepth)
			if err != nil {
				return err
			}
			mu.Lock()
			channels[name] = results
			mu.Unlock()
			return nil
		})
	}

	if p.Provider != nil {
		group.Go(func() error {
			vector, err := p.Provider.Embed(groupCtx, queryText)
			if err != nil {
				return qerrors.Wrap(qerrors.KindInternal, "failed to embed query", err)
			}
			results, err := index.VectorSearch(p.Store.DB(), vector,
				p.Provider.ModelName(), opts.Filters, candidateDepth)
			if err != nil {
				return err
			}
			mu.Lock()
			channels["vector"] = results
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	fused := Fuse(channels)
	if opts.MinScore > 0 {
		filtered := fused[:0]
		for _, entry := range fused {
			if entry.RRFScore >= opts.MinScore {
				filtered = append(filtered, entry)
			}
		}
		fused = filtered
	}

	var hookErr error
	if opts.Deep {
		fused, hookErr = Rerank(ctx, queryText, fused)
		if hookErr != nil {
			logging.Warn("rerank degraded to fused order", "error", hookErr.Error())
		}
	}

	if len(fused) > opts.Limit {
		fused = fused[:opts.Limit]
	}
	return fused, hookErr
}
