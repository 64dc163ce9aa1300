/*-------------------------------------------------------------------------
 *
 * QPG - Embedding Provider Interface
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package embedding

import "context"

// Provider produces dense vectors for schema documents and queries. All
// implementations must be deterministic: the same text always yields the
// same vector for a given model.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	ModelName() string
}
