// Package rank implements the retrieval-ranking pipeline: score
// normalization, diversity-aware selection (MMR), multi-stage reranking
// with a judge-model fallback, and theme-based score adjustment.
//
// Every score that crosses a component boundary inside this package is
// a normalized similarity on a single 0-10, higher-is-better scale.
// Raw retrieval scores (distances, cosine similarities, cross-encoder
// logits) are converted immediately on entry and never used afterwards.
package rank

// ScaleMax is the upper bound of the common similarity scale. No
// candidate score, boosted or not, may exceed it.
const ScaleMax = 10.0

// Metric identifies how the vector store scored a raw retrieval hit.
type Metric string

const (
	// MetricDistance means raw scores are distances: lower is better.
	MetricDistance Metric = "distance"

	// MetricSimilarity means raw scores are similarities in [0, 1]:
	// higher is better (cosine similarity from Qdrant, for example).
	MetricSimilarity Metric = "similarity"
)

// Candidate is a chunk scored against one query. It lives only for the
// duration of that query's ranking.
type Candidate struct {
	// ChunkID references the persisted chunk.
	ChunkID string

	// Text is a snapshot of the chunk text at retrieval time.
	Text string

	// Vector is the chunk's embedding, when the store returned it.
	// Used for pairwise similarity during MMR; may be nil.
	Vector []float32

	// Metadata carries the chunk's stored metadata (genre, filename...).
	Metadata map[string]string

	// RawScore is the source-defined retrieval score. Its sign and
	// scale depend on RawMetric and it must not be compared across
	// candidates from different sources.
	RawScore float64

	// RawMetric says how to interpret RawScore.
	RawMetric Metric

	// Rank is the candidate's 0-based position in the original
	// retrieval ordering. Used for stable tie-breaks.
	Rank int

	// Normalized is the retrieval score on the common 0-10 scale.
	Normalized float64

	// CrossEncoderScore is set when the local scorer ran (0-10).
	CrossEncoderScore float64

	// JudgeScore is set when the judge fallback ran (0-10).
	JudgeScore float64

	// ThemeBoost is the additive adjustment from theme matching.
	ThemeBoost float64

	// Final is the score the candidate is ultimately ordered by.
	// Exactly one of {cross-encoder, judge, normalized} is its base;
	// ThemeBoost is added on top, capped at ScaleMax.
	Final float64
}

// Genre values recognized by the genre-aware policies. Anything else is
// treated as general content.
const (
	GenreFiction   = "fiction"
	GenreNarrative = "narrative"
)

// IsNarrative reports whether a genre hint indicates narrative prose,
// which scores systematically lower on generic relevance scorers and
// is fragmented by diversity pressure.
func IsNarrative(genre string) bool {
	return genre == GenreFiction || genre == GenreNarrative
}

// Request is the per-query configuration bundle for one ranking run.
type Request struct {
	// Query is the natural-language query text.
	Query string

	// TopN is the final fan-in: at most TopN candidates come back.
	TopN int

	// Genre is the candidate pool's genre hint; empty when unknown.
	Genre string

	// EnableThemes toggles theme detection and boosting.
	EnableThemes bool

	// EnableMMR toggles diversity-aware selection. Ignored for
	// narrative genres, which always use relevance-only ordering.
	EnableMMR bool

	// Lambda is the MMR relevance/diversity trade-off in [0, 1].
	// A negative value selects the configured default. 0 and 1 are
	// valid extremes: pure diversity and pure relevance.
	Lambda float64
}
