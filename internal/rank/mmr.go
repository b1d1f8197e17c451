package rank

import (
	"math"
	"strings"
)

// PairwiseSim computes the similarity between two candidates in [0, 1].
// It is called at most once per ordered pair; the selector caches the
// result across iterations.
type PairwiseSim func(a, b *Candidate) float64

// SelectMMR picks up to k candidates by Maximal Marginal Relevance:
// each iteration takes the candidate maximizing
//
//	lambda*relevance(c) - (1-lambda)*max(sim(c, s) for s in selected)
//
// where relevance is the candidate's normalized score scaled to [0, 1]
// and max-similarity is 0 for the first pick. lambda=1 degenerates to
// pure relevance ranking, lambda=0 to pure diversity after the first
// pick. Ties are broken by original retrieval rank, never by slice
// order. Candidates must already carry comparable scores in score();
// the input slice is not modified.
func SelectMMR(cands []*Candidate, k int, lambda float64, score func(*Candidate) float64, sim PairwiseSim) []*Candidate {
	if k <= 0 || len(cands) == 0 {
		return nil
	}
	if k > len(cands) {
		k = len(cands)
	}
	if lambda < 0 {
		lambda = 0
	} else if lambda > 1 {
		lambda = 1
	}
	if sim == nil {
		sim = DefaultPairwiseSim
	}

	selected := make([]*Candidate, 0, k)
	picked := make([]bool, len(cands))

	// maxSim[i] is the highest similarity between candidate i and any
	// already-selected candidate; updated incrementally so each pair
	// is evaluated exactly once.
	maxSim := make([]float64, len(cands))

	for len(selected) < k {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for i, c := range cands {
			if picked[i] {
				continue
			}

			rel := score(c) / ScaleMax
			mmr := lambda*rel - (1-lambda)*maxSim[i]

			if mmr > bestScore || (mmr == bestScore && bestIdx >= 0 && c.Rank < cands[bestIdx].Rank) {
				bestScore = mmr
				bestIdx = i
			}
		}

		if bestIdx < 0 {
			break
		}

		picked[bestIdx] = true
		selected = append(selected, cands[bestIdx])

		for i, c := range cands {
			if picked[i] {
				continue
			}
			if s := sim(c, cands[bestIdx]); s > maxSim[i] {
				maxSim[i] = s
			}
		}
	}

	return selected
}

// DefaultPairwiseSim compares candidates by cosine similarity of their
// embedding vectors when both are available, falling back to Jaccard
// similarity over word sets otherwise.
func DefaultPairwiseSim(a, b *Candidate) float64 {
	if len(a.Vector) > 0 && len(a.Vector) == len(b.Vector) {
		return cosineSimilarity(a.Vector, b.Vector)
	}
	return jaccardSimilarity(wordSet(a.Text), wordSet(b.Text))
}

// cosineSimilarity is clamped to [0, 1]: the pipeline's vectors come
// from embedding models whose negative cosine values carry no useful
// redundancy signal.
func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if cos < 0 {
		return 0
	}
	if cos > 1 {
		return 1
	}
	return cos
}

// wordSet converts text into a set of lowercase words for similarity
// comparison, trimming punctuation and skipping very short tokens.
func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()[]{}=<>")
		if len(w) > 2 {
			set[w] = struct{}{}
		}
	}
	return set
}

// jaccardSimilarity computes |a∩b| / |a∪b| over two word sets.
func jaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
