package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yagisawa/fictionrag/internal/embedder"
	"github.com/yagisawa/fictionrag/internal/llm"
	"github.com/yagisawa/fictionrag/internal/memory"
	"github.com/yagisawa/fictionrag/internal/rank"
	"github.com/yagisawa/fictionrag/internal/vectorstore"
)

const defaultSystemPrompt = `You are a careful literary assistant. Answer questions using only the
provided passages. When the passages do not contain the answer, say so
rather than inventing one. Cite passages by their [Doc N] labels.`

// RetrieveRequest asks for ranked passages without answer generation.
type RetrieveRequest struct {
	Query        string  `json:"query"`
	TopN         int     `json:"top_n"`
	Genre        string  `json:"genre"`
	EnableThemes bool    `json:"enable_themes"`
	EnableMMR    bool    `json:"enable_mmr"`
	Lambda       float64 `json:"lambda"`
}

// RetrievedChunk is one ranked passage in an API response.
type RetrievedChunk struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Score      float64           `json:"score"`
	ThemeBoost float64           `json:"theme_boost,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RetrieveResponse carries ranked passages plus ranking provenance.
type RetrieveResponse struct {
	Chunks          []RetrievedChunk `json:"chunks"`
	ScoredBy        string           `json:"scored_by"`
	Selection       string           `json:"selection"`
	Degraded        bool             `json:"degraded"`
	DegradedReason  string           `json:"degraded_reason,omitempty"`
	Deduplicated    int              `json:"deduplicated"`
	RetrievalTimeMs int64            `json:"retrieval_time_ms"`
}

// AskRequest asks for a generated answer grounded in retrieved passages.
type AskRequest struct {
	Query        string  `json:"query"`
	SessionID    string  `json:"session_id"`
	TopN         int     `json:"top_n"`
	Genre        string  `json:"genre"`
	EnableThemes bool    `json:"enable_themes"`
	EnableMMR    bool    `json:"enable_mmr"`
	Lambda       float64 `json:"lambda"`
}

// AskResponse is a generated answer with its supporting passages.
type AskResponse struct {
	Answer           string           `json:"answer"`
	Sources          []RetrievedChunk `json:"sources"`
	Degraded         bool             `json:"degraded"`
	RetrievalTimeMs  int64            `json:"retrieval_time_ms"`
	GenerationTimeMs int64            `json:"generation_time_ms"`
}

// RAGService answers questions over the indexed corpus: embed, search,
// deduplicate, rerank, and optionally generate.
type RAGService struct {
	embedder  embedder.Embedder
	vectorDB  vectorstore.VectorStore
	ranker    *rank.Pipeline
	llmClient llm.LLM
	memory    *memory.Store
	logger    *slog.Logger

	topK          int
	topN          int
	dedupOverlap  float64
	searchTimeout time.Duration
	llmModel      string
}

// RAGOption is a functional option for configuring RAGService.
type RAGOption func(*RAGService)

// WithRetrievalTopK sets how many candidates the vector search returns
// before reranking.
func WithRetrievalTopK(k int) RAGOption {
	return func(s *RAGService) {
		s.topK = k
	}
}

// WithRerankTopN sets the default result count after reranking.
func WithRerankTopN(n int) RAGOption {
	return func(s *RAGService) {
		s.topN = n
	}
}

// WithDedupOverlap sets the Jaccard threshold above which two
// retrieved chunks count as duplicates.
func WithDedupOverlap(threshold float64) RAGOption {
	return func(s *RAGService) {
		s.dedupOverlap = threshold
	}
}

// WithSearchTimeout bounds the query embedding and vector search calls
// of one retrieve request.
func WithSearchTimeout(d time.Duration) RAGOption {
	return func(s *RAGService) {
		if d > 0 {
			s.searchTimeout = d
		}
	}
}

// WithLLMModel sets the generation model for Ask.
func WithLLMModel(model string) RAGOption {
	return func(s *RAGService) {
		s.llmModel = model
	}
}

// WithMemory sets the conversation store used for session history.
func WithMemory(store *memory.Store) RAGOption {
	return func(s *RAGService) {
		s.memory = store
	}
}

// NewRAGService creates a new RAGService.
func NewRAGService(
	emb embedder.Embedder,
	vectorDB vectorstore.VectorStore,
	ranker *rank.Pipeline,
	llmClient llm.LLM,
	logger *slog.Logger,
	opts ...RAGOption,
) *RAGService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RAGService{
		embedder:     emb,
		vectorDB:     vectorDB,
		ranker:       ranker,
		llmClient:    llmClient,
		logger:       logger,
		topK:          50,
		topN:          15,
		dedupOverlap:  0.85,
		searchTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.memory == nil {
		s.memory = memory.DefaultStore()
	}

	return s
}

// Retrieve runs the full retrieval path: embed the query, vector
// search, near-duplicate removal, and the reranking pipeline. A
// degraded response still carries usable results ordered by the
// normalized retrieval score.
func (s *RAGService) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResponse, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", rank.ErrMalformedRequest)
	}

	// Embedding and vector search are external calls; bound them so a
	// stalled backend cannot hang the request.
	sctx, cancel := context.WithTimeout(ctx, s.searchTimeout)
	defer cancel()

	queryVector, err := s.embedder.Embed(sctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	searchResults, err := s.vectorDB.Search(sctx, queryVector, s.topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	deduped := deduplicateResults(searchResults, s.dedupOverlap)
	removed := len(searchResults) - len(deduped)

	cands := make([]*rank.Candidate, len(deduped))
	for i, result := range deduped {
		cands[i] = &rank.Candidate{
			ChunkID:   result.ID,
			Text:      result.Content,
			Vector:    result.Vector,
			Metadata:  result.Metadata,
			RawScore:  float64(result.Score),
			RawMetric: rank.MetricSimilarity,
		}
	}

	topN := req.TopN
	if topN <= 0 {
		topN = s.topN
	}

	ranked, err := s.ranker.Rerank(ctx, rank.Request{
		Query:        req.Query,
		TopN:         topN,
		Genre:        req.Genre,
		EnableThemes: req.EnableThemes,
		EnableMMR:    req.EnableMMR,
		Lambda:       req.Lambda,
	}, cands)
	if err != nil {
		return nil, fmt.Errorf("reranking failed: %w", err)
	}

	resp := &RetrieveResponse{
		Chunks:          make([]RetrievedChunk, len(ranked.Candidates)),
		ScoredBy:        string(ranked.ScoredBy),
		Selection:       string(ranked.Selection),
		Degraded:        ranked.Degraded,
		Deduplicated:    removed,
		RetrievalTimeMs: time.Since(start).Milliseconds(),
	}
	if ranked.Reason != nil {
		resp.DegradedReason = ranked.Reason.Error()
	}

	for i, c := range ranked.Candidates {
		resp.Chunks[i] = RetrievedChunk{
			ChunkID:    c.ChunkID,
			DocumentID: c.Metadata["document_id"],
			Content:    c.Text,
			Score:      c.Final,
			ThemeBoost: c.ThemeBoost,
			Metadata:   c.Metadata,
		}
	}

	if ranked.Degraded {
		s.logger.Warn("retrieval degraded",
			"query_len", len(req.Query),
			"reason", resp.DegradedReason)
	}

	return resp, nil
}

// Ask retrieves passages and generates an answer grounded in them.
// Session history, when a session ID is supplied, is folded into the
// prompt and updated with both sides of the exchange.
func (s *RAGService) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	retrieved, err := s.Retrieve(ctx, RetrieveRequest{
		Query:        req.Query,
		TopN:         req.TopN,
		Genre:        req.Genre,
		EnableThemes: req.EnableThemes,
		EnableMMR:    req.EnableMMR,
		Lambda:       req.Lambda,
	})
	if err != nil {
		return nil, err
	}

	var history []memory.Message
	if req.SessionID != "" {
		history = s.memory.RecentHistory(req.SessionID, 10)
		s.memory.Append(req.SessionID, memory.RoleUser, req.Query)
	}

	generationStart := time.Now()
	prompt := buildAnswerPrompt(retrieved.Chunks, req.Query, history)

	answer, err := s.llmClient.Generate(ctx, prompt, llm.GenerateOptions{
		Model:        s.llmModel,
		SystemPrompt: defaultSystemPrompt,
		Temperature:  0.3,
		MaxTokens:    2048,
	})
	if err != nil {
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	if req.SessionID != "" {
		s.memory.Append(req.SessionID, memory.RoleAssistant, answer)
	}

	return &AskResponse{
		Answer:           answer,
		Sources:          retrieved.Chunks,
		Degraded:         retrieved.Degraded,
		RetrievalTimeMs:  retrieved.RetrievalTimeMs,
		GenerationTimeMs: time.Since(generationStart).Milliseconds(),
	}, nil
}

// buildAnswerPrompt assembles history, passages, and the question.
// Relevance scores stay out of the prompt so they cannot bias the
// model.
func buildAnswerPrompt(chunks []RetrievedChunk, query string, history []memory.Message) string {
	var sb strings.Builder

	if len(history) > 0 {
		sb.WriteString("## Conversation History\n\n")
		sb.WriteString(memory.FormatForPrompt(history))
		sb.WriteString("\n")
	}

	sb.WriteString("## Passages\n\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&sb, "[Doc %d]", i+1)
		if title := chunk.Metadata["title"]; title != "" {
			fmt.Fprintf(&sb, " (%s)", title)
		}
		sb.WriteString("\n")
		sb.WriteString(chunk.Content)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Question\n")
	sb.WriteString(query)
	sb.WriteString("\n\n## Answer (be brief and direct)\n")

	return sb.String()
}

// deduplicateResults removes chunks whose word sets overlap at or
// above the threshold, keeping the earlier (higher ranked) of each
// pair. Retrieval order is preserved.
func deduplicateResults(results []vectorstore.SearchResult, threshold float64) []vectorstore.SearchResult {
	if len(results) <= 1 || threshold >= 1.0 {
		return results
	}

	wordSets := make([]map[string]struct{}, len(results))
	for i, result := range results {
		wordSets[i] = tokenize(result.Content)
	}

	keep := make([]bool, len(results))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(results); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(results); j++ {
			if !keep[j] {
				continue
			}
			if jaccardSimilarity(wordSets[i], wordSets[j]) >= threshold {
				keep[j] = false
			}
		}
	}

	deduplicated := make([]vectorstore.SearchResult, 0, len(results))
	for i, result := range results {
		if keep[i] {
			deduplicated = append(deduplicated, result)
		}
	}

	return deduplicated
}

// tokenize converts content into a set of lowercase words for
// similarity comparison.
func tokenize(content string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(content))
	wordSet := make(map[string]struct{}, len(words))
	for _, word := range words {
		word = strings.Trim(word, ".,!?;:\"'()[]{}=<>")
		if len(word) > 2 {
			wordSet[word] = struct{}{}
		}
	}
	return wordSet
}

// jaccardSimilarity computes the Jaccard similarity between two word
// sets. Returns a value between 0 (no overlap) and 1 (identical).
func jaccardSimilarity(set1, set2 map[string]struct{}) float64 {
	if len(set1) == 0 && len(set2) == 0 {
		return 1.0
	}
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for word := range set1 {
		if _, exists := set2[word]; exists {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection

	return float64(intersection) / float64(union)
}
