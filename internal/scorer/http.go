package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultRerankURL is the default endpoint of the reranker
	// service (text-embeddings-inference compatible).
	DefaultRerankURL = "http://localhost:8081/rerank"

	// DefaultMaxInputWords is a safe per-text limit for BGE-style
	// rerankers with a 512-token window.
	DefaultMaxInputWords = 512

	// DefaultHTTPTimeout bounds a single scoring call.
	DefaultHTTPTimeout = 30 * time.Second
)

// HTTPCrossEncoder scores query-document pairs against a hosted
// cross-encoder service speaking the text-embeddings-inference rerank
// protocol: POST {"query": q, "texts": [...]} returning
// [{"index": i, "score": s}, ...].
type HTTPCrossEncoder struct {
	url           string
	maxInputWords int
	client        *http.Client
}

// HTTPOption is a functional option for configuring HTTPCrossEncoder.
type HTTPOption func(*HTTPCrossEncoder)

// WithRerankURL sets the rerank endpoint URL.
func WithRerankURL(url string) HTTPOption {
	return func(s *HTTPCrossEncoder) {
		s.url = strings.TrimSuffix(url, "/")
	}
}

// WithMaxInputWords sets the per-text word limit advertised to callers.
func WithMaxInputWords(n int) HTTPOption {
	return func(s *HTTPCrossEncoder) {
		s.maxInputWords = n
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPCrossEncoder) {
		s.client = client
	}
}

// NewHTTPCrossEncoder creates a cross-encoder client with the given
// options.
func NewHTTPCrossEncoder(opts ...HTTPOption) *HTTPCrossEncoder {
	s := &HTTPCrossEncoder{
		url:           DefaultRerankURL,
		maxInputWords: DefaultMaxInputWords,
		client:        &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// ScoreBatch scores every (query, text) pair in one call. The result
// slice matches the input order and length; a length mismatch or a
// missing index is reported as an error so the caller can fall back.
func (s *HTTPCrossEncoder) ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank service error (status %d): %s", resp.StatusCode, string(b))
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}
	if len(results) != len(texts) {
		return nil, fmt.Errorf("rerank score count mismatch: got %d scores for %d texts", len(results), len(texts))
	}

	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(texts) {
			return nil, fmt.Errorf("rerank result index %d out of range", r.Index)
		}
		scores[r.Index] = r.Score
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response missing score for text %d", i)
		}
	}

	return scores, nil
}

// MaxInputWords returns the per-text word limit.
func (s *HTTPCrossEncoder) MaxInputWords() int {
	return s.maxInputWords
}

// Ensure HTTPCrossEncoder implements CrossEncoder.
var _ CrossEncoder = (*HTTPCrossEncoder)(nil)
