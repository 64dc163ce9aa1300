/*-------------------------------------------------------------------------
 *
 * QPG - Local Deterministic Embedder
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package embedding

import (
	"context"
	"crypto/sha256"
	"math"
	"regexp"
	"strings"
)

const (
	// vectorDimensions matches the codebert-base hidden size so stored
	// vectors keep their shape if a transformer runtime replaces this
	// embedder later.
	vectorDimensions = 768
	maxTokens        = 256
	featuresPerToken = 16
)

// LocalEmbedder is a dependency-free feature-hashing embedder. Each token
// contributes a sparse set of hashed buckets; token vectors are mean-pooled
// and L2-normalized. It is fully deterministic and needs no model weights,
// only the tokenizer assets fetched by `qpg init`.
type LocalEmbedder struct {
	model string
}

// NewLocalEmbedder returns the embedder tagged with the given model name.
func NewLocalEmbedder(model string) *LocalEmbedder {
	return &LocalEmbedder{model: model}
}

func (e *LocalEmbedder) Dimensions() int {
	return vectorDimensions
}

func (e *LocalEmbedder) ModelName() string {
	return e.model
}

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)
var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// Tokenize splits text into lowercase identifier tokens, breaking
// camelCase and snake_case compounds into their parts as well as keeping
// the compound itself.
func Tokenize(text string) []string {
	var tokens []string
	for _, raw := range tokenPattern.FindAllString(text, -1) {
		lowered := strings.ToLower(raw)
		tokens = append(tokens, lowered)
		split := camelBoundary.ReplaceAllString(raw, "$1 $2")
		split = strings.ReplaceAll(split, "_", " ")
		for _, part := range strings.Fields(split) {
			part = strings.ToLower(part)
			if part != lowered {
				tokens = append(tokens, part)
			}
		}
		if len(tokens) >= maxTokens {
			return tokens[:maxTokens]
		}
	}
	return tokens
}

// Embed hashes each token into featuresPerToken signed buckets, mean-pools
// the token vectors, and L2-normalizes the result. Empty text yields the
// zero vector.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vector := make([]float32, vectorDimensions)
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return vector, nil
	}

	for _, token := range tokens {
		digest := sha256.Sum256([]byte(token))
		for i := 0; i < featuresPerToken; i++ {
			hi, lo := digest[2*i], digest[2*i+1]
			bucket := (uint32(hi&0x7f)<<8 | uint32(lo)) % vectorDimensions
			if hi&0x80 == 0 {
				vector[bucket]++
			} else {
				vector[bucket]--
			}
		}
	}

	scale := 1.0 / float32(len(tokens))
	var norm float64
	for i := range vector {
		vector[i] *= scale
		norm += float64(vector[i]) * float64(vector[i])
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= inv
		}
	}
	return vector, nil
}
