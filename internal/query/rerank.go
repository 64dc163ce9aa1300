/*-------------------------------------------------------------------------
 *
 * QPG - External Rerank Hook
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package query

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"time"

	qerrors "qpg/internal/errors"
	"qpg/internal/logging"
)

// RerankHookEnv names the executable invoked for deep search reordering.
const RerankHookEnv = "QPG_RERANK_HOOK"

const rerankTimeout = 5 * time.Second

type rerankInput struct {
	Query   string            `json:"query"`
	Results []rerankCandidate `json:"results"`
}

type rerankCandidate struct {
	ObjectID string  `json:"object_id"`
	FQName   string  `json:"fqname"`
	Kind     string  `json:"kind"`
	Score    float64 `json:"score"`
}

// Rerank pipes the fused candidates through the external hook, expecting
// back a JSON array that is an exact permutation of the candidate ids.
// On any failure it returns the fused order unchanged together with a
// hook error, so callers degrade instead of losing results.
func Rerank(ctx context.Context, queryText string, candidates []Fused) ([]Fused, error) {
	hook := os.Getenv(RerankHookEnv)
	if hook == "" || len(candidates) == 0 {
		return candidates, nil
	}

	input := rerankInput{Query: queryText}
	for _, candidate := range candidates {
		input.Results = append(input.Results, rerankCandidate{
			ObjectID: candidate.ObjectID,
			FQName:   candidate.FQName,
			Kind:     candidate.Kind,
			Score:    candidate.RRFScore,
		})
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return candidates, qerrors.Wrap(qerrors.KindHookError, "failed to encode rerank input", err)
	}

	hookCtx, cancel := context.WithTimeout(ctx, rerankTimeout)
	defer cancel()

	cmd := exec.CommandContext(hookCtx, hook)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if hookCtx.Err() == context.DeadlineExceeded {
			return candidates, qerrors.New(qerrors.KindHookError, "rerank hook timed out")
		}
		logging.Warn("rerank hook failed", "hook", hook, "stderr", stderr.String())
		return candidates, qerrors.Wrap(qerrors.KindHookError, "rerank hook failed", err)
	}

	var order []string
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &order); err != nil {
		return candidates, qerrors.Wrap(qerrors.KindHookError, "rerank hook emitted invalid JSON", err)
	}

	byID := make(map[string]Fused, len(candidates))
	for _, candidate := range candidates {
		byID[candidate.ObjectID] = candidate
	}
	if len(order) != len(candidates) {
		return candidates, qerrors.Newf(qerrors.KindHookError,
			"rerank hook returned %d ids for %d candidates", len(order), len(candidates))
	}

	reordered := make([]Fused, 0, len(order))
	seen := map[string]bool{}
	for _, id := range order {
		candidate, ok := byID[id]
		if !ok {
			return candidates, qerrors.Newf(qerrors.KindHookError,
				"rerank hook returned unknown object id %q", id)
		}
		if seen[id] {
			return candidates, qerrors.Newf(qerrors.KindHookError,
				"rerank hook returned duplicate object id %q", id)
		}
		seen[id] = true
		reordered = append(reordered, candidate)
	}
	return reordered, nil
}
