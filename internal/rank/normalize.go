package rank

// Score normalization. These are total, stateless conversions: any
// well-formed float in produces a well-formed float out. Each is
// strictly monotonic with respect to its own raw input (clamping at
// the scale bounds aside), so normalization can never reorder two
// candidates scored by the same source.

// DistanceToSimilarity converts a vector-space distance into a
// similarity in (0, 1]. Negative distances are treated as zero.
//
//	d=0.0 -> 1.0, d=1.0 -> 0.5, d->inf -> 0
func DistanceToSimilarity(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1.0 / (1.0 + distance)
}

// SimilarityToScale lifts a similarity in [0, 1] onto the pipeline's
// common 0-10 scale.
func SimilarityToScale(similarity float64) float64 {
	return clampScale(similarity * ScaleMax)
}

// NormalizeRetrieval converts a raw retrieval score to the common
// scale according to the source's metric. Unknown metrics are treated
// as distances, the conservative reading: a mislabelled similarity
// stays monotonic either way, a mislabelled distance would flip order.
func NormalizeRetrieval(raw float64, metric Metric) float64 {
	if metric == MetricSimilarity {
		if raw < 0 {
			raw = 0
		}
		if raw > 1 {
			raw = 1
		}
		return SimilarityToScale(raw)
	}
	return SimilarityToScale(DistanceToSimilarity(raw))
}

// NormalizeCrossEncoder maps a raw cross-encoder score onto the 0-10
// scale via (raw+shift)*scale, clamped. Shift and scale are
// configuration constants owned by the caller: BGE-style rerankers emit
// logits in roughly [-5, 5], for which shift=5 and scale=1 span the
// full scale. A scorer with a different raw range needs different
// constants; the conversion itself makes no assumption beyond
// monotonicity.
func NormalizeCrossEncoder(raw, shift, scale float64) float64 {
	return clampScale((raw + shift) * scale)
}

func clampScale(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > ScaleMax {
		return ScaleMax
	}
	return v
}
