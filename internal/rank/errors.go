package rank

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ranking pipeline's failure taxonomy.
//
// ScorerUnavailable and JudgeUnavailable are recoverable: the pipeline
// degrades to the next stage instead of failing the request.
// RerankingUnavailable marks a fully degraded result (both scorers
// down); the caller still receives the normalized-only ordering.
var (
	ErrScorerUnavailable    = errors.New("cross-encoder scorer unavailable")
	ErrJudgeUnavailable     = errors.New("judge model unavailable")
	ErrRerankingUnavailable = errors.New("reranking unavailable")
	ErrMalformedCandidate   = errors.New("malformed candidate")
	ErrMalformedRequest     = errors.New("malformed request")
)

// ConfigurationError reports a threshold or weight outside its valid
// range. It is fatal at startup and must never surface at request time.
type ConfigurationError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s=%v: %s", e.Field, e.Value, e.Reason)
}
