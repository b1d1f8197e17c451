// Package scorer defines the relevance-scoring collaborators consumed
// by the ranking pipeline: a local cross-encoder and a judge-model
// fallback. Both are capability interfaces; the pipeline selects
// between them by its state machine, never by type inspection.
package scorer

import "context"

// CrossEncoder scores (query, text) pairs jointly. Implementations
// must score all pairs for one request in a single batched call and
// return one raw score per input text, order-preserving. Raw score
// range is scorer-specific; the caller owns normalization.
type CrossEncoder interface {
	ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error)

	// MaxInputWords is the longest text, in words, the scorer accepts.
	// Longer texts must be truncated by the caller, not dropped.
	MaxInputWords() int
}

// Judge is the fallback scorer: higher latency and cost, invoked only
// when the cross-encoder is unavailable or its scores are unreliable.
// Scores are already on the 0-10 scale, order-preserving.
type Judge interface {
	Judge(ctx context.Context, query string, texts []string) ([]float64, error)
}
