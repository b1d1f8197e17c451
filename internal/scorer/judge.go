package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yagisawa/fictionrag/internal/llm"
)

const (
	// defaultJudgeModel is used when no model is configured.
	defaultJudgeModel = "llama3.2"

	// judgeSnippetChars bounds how much of each passage goes into the
	// judge prompt.
	judgeSnippetChars = 1000
)

// LLMJudge implements the judge-model fallback by asking an LLM to
// score each passage's relevance to the query on a 0-10 scale. It is
// the safety net behind the cross-encoder: slower and costlier, used
// only when the local scorer failed or produced unreliable scores.
type LLMJudge struct {
	client llm.LLM
	model  string
}

// JudgeOption is a functional option for configuring LLMJudge.
type JudgeOption func(*LLMJudge)

// WithJudgeModel sets the model used for judging.
func WithJudgeModel(model string) JudgeOption {
	return func(j *LLMJudge) {
		j.model = model
	}
}

// NewLLMJudge creates a judge backed by the given LLM client.
func NewLLMJudge(client llm.LLM, opts ...JudgeOption) *LLMJudge {
	j := &LLMJudge{
		client: client,
		model:  defaultJudgeModel,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

type judgeScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float64 `json:"score"`
}

type judgeResponse struct {
	Scores []judgeScore `json:"scores"`
}

// Judge scores all passages in a single generation call and returns
// one 0-10 score per passage, order-preserving. Passages the model
// failed to score receive a neutral 5.0 rather than dropping out of
// the batch.
func (j *LLMJudge) Judge(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	prompt := j.buildPrompt(query, texts)

	response, err := j.client.Generate(ctx, prompt, llm.GenerateOptions{
		Model:       j.model,
		Temperature: 0.0, // deterministic scoring
		MaxTokens:   1024,
		Format:      "json",
	})
	if err != nil {
		return nil, fmt.Errorf("judge generation failed: %w", err)
	}

	scores, err := parseJudgeResponse(response, len(texts))
	if err != nil {
		return nil, fmt.Errorf("judge response unusable: %w", err)
	}

	return scores, nil
}

func (j *LLMJudge) buildPrompt(query string, texts []string) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score each passage's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nPassages to score:\n")

	for i, text := range texts {
		if len(text) > judgeSnippetChars {
			text = text[:judgeSnippetChars] + "..."
		}
		fmt.Fprintf(&sb, "[Doc %d]: %s\n\n", i, text)
	}

	sb.WriteString(`Score each passage from 0 to 10 for relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 9.0}, {"doc_index": 1, "score": 2.5}, ...]}

Be strict: irrelevant passages score below 3, somewhat relevant 3-7, highly relevant above 7.
Output only JSON, no explanation:`)

	return sb.String()
}

// parseJudgeResponse extracts per-passage scores, tolerating markdown
// code fences around the JSON. Scores are clamped to [0, 10].
func parseJudgeResponse(response string, n int) ([]float64, error) {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}
	response = strings.TrimSpace(response)

	var parsed judgeResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("parsing judge response: %w", err)
	}
	if len(parsed.Scores) == 0 {
		return nil, fmt.Errorf("judge response contained no scores")
	}

	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 5.0 // neutral default for missing entries
	}
	for _, s := range parsed.Scores {
		if s.DocIndex < 0 || s.DocIndex >= n {
			continue
		}
		score := s.Score
		if score < 0 {
			score = 0
		}
		if score > 10 {
			score = 10
		}
		scores[s.DocIndex] = score
	}

	return scores, nil
}

// Ensure LLMJudge implements Judge.
var _ Judge = (*LLMJudge)(nil)
