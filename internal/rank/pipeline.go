package rank

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/yagisawa/fictionrag/internal/scorer"
	"github.com/yagisawa/fictionrag/internal/theme"
)

// Stage is a phase of the per-request ranking state machine:
//
//	raw -> normalized -> (cross_encoder_scored | judge_scored)
//	    -> theme_adjusted -> (diversified | relevance_only) -> truncated
type Stage string

const (
	StageRaw                = Stage("raw")
	StageNormalized         = Stage("normalized")
	StageCrossEncoderScored = Stage("cross_encoder_scored")
	StageJudgeScored        = Stage("judge_scored")
	StageThemeAdjusted      = Stage("theme_adjusted")
	StageDiversified        = Stage("diversified")
	StageRelevanceOnly      = Stage("relevance_only")
	StageTruncated          = Stage("truncated")
)

// Config holds the pipeline's tuned thresholds and boost weights.
// All of them are empirically tuned values without a derivation from
// first principles, which is exactly why they are configuration
// inputs with validated ranges instead of constants.
type Config struct {
	// ScoreShift and ScoreScale map raw cross-encoder output onto the
	// 0-10 scale: (raw+shift)*scale, clamped.
	ScoreShift float64
	ScoreScale float64

	// FallbackThreshold is the mean normalized cross-encoder score
	// below which the batch is considered unreliable and the judge
	// takes over. NarrativeFallbackThreshold replaces it when the
	// pool's genre hint is narrative, since narrative prose scores
	// systematically lower on generic relevance scorers.
	FallbackThreshold          float64
	NarrativeFallbackThreshold float64

	// MaxPairs caps how many (query, text) pairs go to the
	// cross-encoder in one request.
	MaxPairs int

	// MatchBoost, KeywordBoost and NarrativeBoost are the additive
	// theme adjustments: per shared theme, per shared trigger keyword
	// within a shared theme, and per shared narrative element.
	// NarrativeKeywordBoost replaces KeywordBoost when the pool's genre
	// hint is narrative, where shared vocabulary is a stronger
	// relevance signal than generic scorers credit.
	MatchBoost            float64
	KeywordBoost          float64
	NarrativeKeywordBoost float64
	NarrativeBoost        float64

	// MMRLambda is the default relevance/diversity trade-off used
	// when the request does not supply one.
	MMRLambda float64

	// ScorerTimeout and JudgeTimeout bound the two external scoring
	// calls. A timeout is treated identically to a scoring error.
	ScorerTimeout time.Duration
	JudgeTimeout  time.Duration
}

// DefaultConfig returns the tuned defaults from the reference corpus
// evaluation. Validate them against your own corpus before trusting
// them.
func DefaultConfig() Config {
	return Config{
		ScoreShift:                 5.0,
		ScoreScale:                 1.0,
		FallbackThreshold:          3.5,
		NarrativeFallbackThreshold: 3.0,
		MaxPairs:                   100,
		MatchBoost:                 0.2,
		KeywordBoost:               0.15,
		NarrativeKeywordBoost:      0.3,
		NarrativeBoost:             0.5,
		MMRLambda:                  0.5,
		ScorerTimeout:              30 * time.Second,
		JudgeTimeout:               60 * time.Second,
	}
}

// Validate checks every threshold and weight against its valid range.
// A violation is fatal at startup; the pipeline never re-validates at
// request time.
func (c Config) Validate() error {
	checks := []struct {
		field string
		value float64
		ok    bool
		why   string
	}{
		{"score_scale", c.ScoreScale, c.ScoreScale > 0, "must be positive"},
		{"fallback_threshold", c.FallbackThreshold, c.FallbackThreshold >= 0 && c.FallbackThreshold <= ScaleMax, "must be within the 0-10 scale"},
		{"narrative_fallback_threshold", c.NarrativeFallbackThreshold, c.NarrativeFallbackThreshold >= 0 && c.NarrativeFallbackThreshold <= c.FallbackThreshold, "must be in [0, fallback_threshold]"},
		{"max_pairs", float64(c.MaxPairs), c.MaxPairs > 0, "must be positive"},
		{"match_boost", c.MatchBoost, c.MatchBoost >= 0 && c.MatchBoost <= ScaleMax, "must be within the 0-10 scale"},
		{"keyword_boost", c.KeywordBoost, c.KeywordBoost >= 0 && c.KeywordBoost <= ScaleMax, "must be within the 0-10 scale"},
		{"narrative_keyword_boost", c.NarrativeKeywordBoost, c.NarrativeKeywordBoost >= 0 && c.NarrativeKeywordBoost <= ScaleMax, "must be within the 0-10 scale"},
		{"narrative_boost", c.NarrativeBoost, c.NarrativeBoost >= 0 && c.NarrativeBoost <= ScaleMax, "must be within the 0-10 scale"},
		{"mmr_lambda", c.MMRLambda, c.MMRLambda >= 0 && c.MMRLambda <= 1, "must be in [0, 1]"},
		{"scorer_timeout", c.ScorerTimeout.Seconds(), c.ScorerTimeout > 0, "must be positive"},
		{"judge_timeout", c.JudgeTimeout.Seconds(), c.JudgeTimeout > 0, "must be positive"},
	}
	for _, ch := range checks {
		if !ch.ok {
			return &ConfigurationError{Field: ch.field, Value: ch.value, Reason: ch.why}
		}
	}
	return nil
}

// Result is the outcome of one ranking run.
type Result struct {
	// Candidates are the final top-N, ordered by Final descending,
	// ties broken by original retrieval rank.
	Candidates []*Candidate

	// ScoredBy records which scorer's output is authoritative for the
	// final ordering: StageCrossEncoderScored, StageJudgeScored, or
	// StageNormalized when both scorers were unavailable.
	ScoredBy Stage

	// Selection records the branch taken: StageDiversified or
	// StageRelevanceOnly.
	Selection Stage

	// Degraded is set when reranking was unavailable and the result
	// is the normalized-only ordering. Reason wraps
	// ErrRerankingUnavailable with the underlying causes.
	Degraded bool
	Reason   error

	// Dropped counts malformed or duplicate candidates excluded from
	// the batch.
	Dropped int
}

// Pipeline orchestrates one query's ranking. It holds no per-request
// state: the theme table and scorer handles are read-only, so
// independent requests can run concurrently on one Pipeline.
type Pipeline struct {
	cfg          Config
	crossEncoder scorer.CrossEncoder
	judge        scorer.Judge
	tagger       *theme.Tagger
	pairwiseSim  PairwiseSim
	logger       *slog.Logger
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithCrossEncoder sets the local relevance scorer.
func WithCrossEncoder(ce scorer.CrossEncoder) Option {
	return func(p *Pipeline) { p.crossEncoder = ce }
}

// WithJudge sets the judge-model fallback scorer.
func WithJudge(j scorer.Judge) Option {
	return func(p *Pipeline) { p.judge = j }
}

// WithTagger sets the theme tagger used for boost adjustment.
func WithTagger(t *theme.Tagger) Option {
	return func(p *Pipeline) { p.tagger = t }
}

// WithPairwiseSim overrides the candidate similarity used by MMR.
func WithPairwiseSim(sim PairwiseSim) Option {
	return func(p *Pipeline) { p.pairwiseSim = sim }
}

// WithLogger sets the pipeline's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a ranking pipeline. cfg must already be
// validated.
func NewPipeline(cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:         cfg,
		pairwiseSim: DefaultPairwiseSim,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Rerank runs the full state machine over one query's candidates and
// returns the final top-N. Scoring failures never fail the request:
// the result degrades stage by stage down to the normalized-only
// ordering. The only request-time errors are malformed requests.
func (p *Pipeline) Rerank(ctx context.Context, req Request, cands []*Candidate) (*Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrMalformedRequest)
	}
	if req.TopN <= 0 {
		return nil, fmt.Errorf("%w: top_n must be positive, got %d", ErrMalformedRequest, req.TopN)
	}

	res := &Result{ScoredBy: StageNormalized, Selection: StageRelevanceOnly}

	// raw -> normalized
	pool := p.sanitize(cands, res)
	for _, c := range pool {
		c.Normalized = NormalizeRetrieval(c.RawScore, c.RawMetric)
	}
	if len(pool) == 0 {
		return res, nil
	}

	genre := p.poolGenre(req, pool)

	// normalized -> cross_encoder_scored | judge_scored
	pool = p.score(ctx, req, genre, pool, res)

	// -> theme_adjusted
	if req.EnableThemes && p.tagger != nil {
		p.applyThemeBoost(req.Query, genre, pool)
	}
	for _, c := range pool {
		c.Final = clampScale(p.baseScore(c, res.ScoredBy) + c.ThemeBoost)
	}

	// -> diversified | relevance_only
	lambda := req.Lambda
	if lambda < 0 {
		lambda = p.cfg.MMRLambda
	}
	if req.EnableMMR && !IsNarrative(genre) {
		pool = SelectMMR(pool, req.TopN, lambda, func(c *Candidate) float64 { return c.Final }, p.pairwiseSim)
		res.Selection = StageDiversified
	}

	// -> truncated
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Final != pool[j].Final {
			return pool[i].Final > pool[j].Final
		}
		return pool[i].Rank < pool[j].Rank
	})
	if len(pool) > req.TopN {
		pool = pool[:req.TopN]
	}
	res.Candidates = pool

	return res, nil
}

// sanitize drops malformed candidates (missing text or chunk id) and
// deduplicates by chunk id, keeping the highest-ranked occurrence.
// Retrieval ranks are assigned here from the original ordering.
func (p *Pipeline) sanitize(cands []*Candidate, res *Result) []*Candidate {
	seen := make(map[string]struct{}, len(cands))
	pool := make([]*Candidate, 0, len(cands))
	for i, c := range cands {
		if c == nil || strings.TrimSpace(c.Text) == "" || c.ChunkID == "" {
			p.logger.Warn("dropping malformed candidate", "index", i, "error", ErrMalformedCandidate)
			res.Dropped++
			continue
		}
		if _, dup := seen[c.ChunkID]; dup {
			res.Dropped++
			continue
		}
		seen[c.ChunkID] = struct{}{}
		c.Rank = len(pool)
		pool = append(pool, c)
	}
	return pool
}

// poolGenre resolves the effective genre hint: the request's hint when
// present, otherwise the genre shared by the majority of candidates.
func (p *Pipeline) poolGenre(req Request, pool []*Candidate) string {
	if req.Genre != "" {
		return req.Genre
	}
	narrative := 0
	for _, c := range pool {
		if IsNarrative(c.Metadata["genre"]) {
			narrative++
		}
	}
	if narrative*2 > len(pool) {
		return GenreFiction
	}
	return ""
}

// score runs the cross-encoder stage with the judge fallback. It
// mutates res.ScoredBy/Degraded/Reason and may shrink the pool to the
// configured pair cap.
func (p *Pipeline) score(ctx context.Context, req Request, genre string, pool []*Candidate, res *Result) []*Candidate {
	var ceErr error

	if p.crossEncoder != nil {
		if len(pool) > p.cfg.MaxPairs {
			p.logger.Warn("limiting cross-encoder pairs", "from", len(pool), "to", p.cfg.MaxPairs)
			pool = pool[:p.cfg.MaxPairs]
		}

		scores, err := p.scoreCrossEncoder(ctx, req.Query, pool)
		if err == nil {
			mean := 0.0
			for i, c := range pool {
				c.CrossEncoderScore = scores[i]
				mean += scores[i]
			}
			mean /= float64(len(pool))

			threshold := p.cfg.FallbackThreshold
			if IsNarrative(genre) {
				threshold = p.cfg.NarrativeFallbackThreshold
			}

			if mean >= threshold {
				res.ScoredBy = StageCrossEncoderScored
				return pool
			}
			ceErr = fmt.Errorf("mean cross-encoder score %.2f below threshold %.2f", mean, threshold)
			p.logger.Info("cross-encoder scores unreliable, falling back to judge",
				"mean", mean, "threshold", threshold)
		} else {
			ceErr = fmt.Errorf("%w: %w", ErrScorerUnavailable, err)
			p.logger.Warn("cross-encoder failed, falling back to judge", "error", err)
		}
	} else {
		ceErr = fmt.Errorf("%w: no cross-encoder configured", ErrScorerUnavailable)
	}

	if p.judge != nil {
		jctx, cancel := context.WithTimeout(ctx, p.cfg.JudgeTimeout)
		defer cancel()

		texts := make([]string, len(pool))
		for i, c := range pool {
			texts[i] = c.Text
		}

		scores, err := p.judge.Judge(jctx, req.Query, texts)
		if err == nil && len(scores) == len(pool) {
			for i, c := range pool {
				c.JudgeScore = scores[i]
			}
			res.ScoredBy = StageJudgeScored
			return pool
		}
		if err == nil {
			err = fmt.Errorf("judge score count mismatch: got %d for %d candidates", len(scores), len(pool))
		}
		res.Degraded = true
		res.Reason = fmt.Errorf("%w: %w (after %v)", ErrRerankingUnavailable,
			fmt.Errorf("%w: %w", ErrJudgeUnavailable, err), ceErr)
	} else {
		res.Degraded = true
		res.Reason = fmt.Errorf("%w: no judge configured (after %v)", ErrRerankingUnavailable, ceErr)
	}

	p.logger.Error("reranking unavailable, returning normalized-only ordering", "error", res.Reason)
	res.ScoredBy = StageNormalized
	return pool
}

// scoreCrossEncoder batches all pairs into one scoring call, truncates
// over-long texts to the scorer's input limit, normalizes the output
// onto the common scale, and enforces the bounded timeout.
func (p *Pipeline) scoreCrossEncoder(ctx context.Context, query string, pool []*Candidate) ([]float64, error) {
	sctx, cancel := context.WithTimeout(ctx, p.cfg.ScorerTimeout)
	defer cancel()

	limit := p.crossEncoder.MaxInputWords()
	texts := make([]string, len(pool))
	for i, c := range pool {
		texts[i] = truncateWords(c.Text, limit)
	}

	raw, err := p.crossEncoder.ScoreBatch(sctx, query, texts)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(pool) {
		return nil, fmt.Errorf("score count mismatch: got %d for %d candidates", len(raw), len(pool))
	}

	scores := make([]float64, len(raw))
	for i, r := range raw {
		scores[i] = NormalizeCrossEncoder(r, p.cfg.ScoreShift, p.cfg.ScoreScale)
	}
	return scores, nil
}

// baseScore returns the single authoritative base score for a
// candidate given which scorer produced the final ordering. Scores
// from different stages are never summed.
func (p *Pipeline) baseScore(c *Candidate, scoredBy Stage) float64 {
	switch scoredBy {
	case StageCrossEncoderScored:
		return c.CrossEncoderScore
	case StageJudgeScored:
		return c.JudgeScore
	default:
		return c.Normalized
	}
}

// applyThemeBoost computes the query's theme context once and applies
// additive boosts per candidate: one match boost per shared theme,
// one keyword boost per shared trigger keyword inside shared themes,
// one narrative boost per shared narrative element. Narrative genres
// use the stronger keyword boost. The cap to the scale maximum is
// applied when Final is assembled.
func (p *Pipeline) applyThemeBoost(query, genre string, pool []*Candidate) {
	qa := p.tagger.AnalyzeQuery(query)
	if len(qa.Themes) == 0 && len(qa.Elements) == 0 {
		return
	}

	keywordBoost := p.cfg.KeywordBoost
	if IsNarrative(genre) {
		keywordBoost = p.cfg.NarrativeKeywordBoost
	}

	qElems := make(map[string]struct{}, len(qa.Elements))
	for _, e := range qa.Elements {
		qElems[e] = struct{}{}
	}

	for _, c := range pool {
		boost := 0.0

		cThemes := p.tagger.TagThemes(c.Text)
		for name, qKeywords := range qa.Themes {
			cKeywords, shared := cThemes[name]
			if !shared {
				continue
			}
			w := p.tagger.Weight(name)
			boost += p.cfg.MatchBoost * w

			ck := make(map[string]struct{}, len(cKeywords))
			for _, kw := range cKeywords {
				ck[kw] = struct{}{}
			}
			for _, kw := range qKeywords {
				if _, ok := ck[kw]; ok {
					boost += keywordBoost * w
				}
			}
		}

		for _, e := range p.tagger.NarrativeElements(c.Text) {
			if _, ok := qElems[e]; ok {
				boost += p.cfg.NarrativeBoost
			}
		}

		c.ThemeBoost = boost
	}
}

// truncateWords limits text to at most n words. Truncation keeps the
// candidate in the batch; over-long passages are never dropped.
func truncateWords(text string, n int) string {
	if n <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ")
}
