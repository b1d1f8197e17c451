// Package ingestion handles document processing: sentence-aligned
// chunking and ingestion pipeline orchestration.
package ingestion

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/yagisawa/fictionrag/internal/repository"
)

// Chunk is one bounded passage of a source document. Chunks are
// created once at ingestion and immutable afterwards; persistence is
// the caller's responsibility.
type Chunk struct {
	// Text is the passage text. It never spans a partial sentence at
	// either boundary, except for hard-split oversized sentences
	// (marked with the "split" metadata key) and document start/end.
	Text string

	// Ordinal is the chunk's 0-based position in document order.
	Ordinal int

	// TokenCount approximates the passage length in tokens.
	TokenCount int

	// OverlapTokens counts how many leading tokens repeat the tail of
	// the previous chunk. 0 for the first chunk.
	OverlapTokens int

	Metadata map[string]string
}

// Chunker splits raw document text into overlapping, sentence-aligned
// passages with bounded token length.
type Chunker struct {
	config repository.ChunkerConfig
}

// NewChunker creates a Chunker, applying defaults for unset fields.
func NewChunker(config repository.ChunkerConfig) *Chunker {
	if config.MaxTokens <= 0 {
		config.MaxTokens = 700
	}
	if config.OverlapTokens < 0 {
		config.OverlapTokens = 100
	}
	if config.OverlapTokens >= config.MaxTokens {
		config.OverlapTokens = config.MaxTokens / 7
	}
	return &Chunker{config: config}
}

// countTokens approximates token count from text. Word count is a
// reasonable proxy for prose and keeps the chunker free of any
// model-specific tokenizer.
func countTokens(text string) int {
	return len(strings.Fields(text))
}

// Chunk splits content into ordered, overlapping passages. Sentences
// are accumulated greedily until the next one would exceed MaxTokens;
// each new chunk re-includes the trailing OverlapTokens worth of whole
// sentences from the previous chunk to preserve narrative continuity
// across boundaries. Output order matches document order and ordinals
// are sequential from 0.
func (c *Chunker) Chunk(content string) []Chunk {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	currentTokens := 0
	overlapTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, c.newChunk(current, len(chunks), overlapTokens, false))
		current, overlapTokens = c.sentenceOverlap(current)
		currentTokens = 0
		for _, s := range current {
			currentTokens += countTokens(s)
		}
	}

	for _, sentence := range sentences {
		tokens := countTokens(sentence)

		// A sentence that alone exceeds the budget is hard-split at a
		// token boundary. Sentence alignment is lost for those chunks
		// only; they carry the "split" metadata marker.
		if tokens > c.config.MaxTokens {
			flush()
			current, overlapTokens, currentTokens = nil, 0, 0
			chunks = append(chunks, c.splitOversized(sentence, len(chunks))...)
			continue
		}

		if currentTokens+tokens > c.config.MaxTokens && len(current) > 0 {
			flush()
		}

		// After a flush current holds only carried overlap, which can
		// itself be too large to fit the new sentence under the budget.
		// Shed leading overlap sentences until it fits; the budget wins
		// over overlap continuity.
		for len(current) > 0 && currentTokens+tokens > c.config.MaxTokens {
			shed := countTokens(current[0])
			current = current[1:]
			currentTokens -= shed
			overlapTokens -= shed
		}
		if overlapTokens < 0 {
			overlapTokens = 0
		}

		current = append(current, sentence)
		currentTokens += tokens
	}

	// Flush the remainder unless it is nothing but carried overlap.
	if len(current) > 0 && currentTokens > overlapTokens {
		chunks = append(chunks, c.newChunk(current, len(chunks), overlapTokens, false))
	}

	return chunks
}

func (c *Chunker) newChunk(sentences []string, ordinal, overlapTokens int, split bool) Chunk {
	text := strings.TrimSpace(strings.Join(sentences, " "))
	meta := map[string]string{
		"sentence_count": strconv.Itoa(len(sentences)),
	}
	if split {
		meta["split"] = "true"
	}
	return Chunk{
		Text:          text,
		Ordinal:       ordinal,
		TokenCount:    countTokens(text),
		OverlapTokens: overlapTokens,
		Metadata:      meta,
	}
}

// sentenceOverlap collects whole trailing sentences worth at least
// OverlapTokens tokens, working backwards from the end of the chunk.
// It never carries the entire chunk forward.
func (c *Chunker) sentenceOverlap(sentences []string) ([]string, int) {
	if c.config.OverlapTokens <= 0 || len(sentences) <= 1 {
		return nil, 0
	}

	var overlap []string
	tokens := 0
	for i := len(sentences) - 1; i > 0 && tokens < c.config.OverlapTokens; i-- {
		overlap = append([]string{sentences[i]}, overlap...)
		tokens += countTokens(sentences[i])
	}
	return overlap, tokens
}

// splitOversized hard-splits a single sentence longer than MaxTokens
// into word-bounded chunks with OverlapTokens of word overlap.
func (c *Chunker) splitOversized(sentence string, startOrdinal int) []Chunk {
	words := strings.Fields(sentence)
	var chunks []Chunk

	step := c.config.MaxTokens - c.config.OverlapTokens
	if step <= 0 {
		step = c.config.MaxTokens/2 + 1
	}

	for i := 0; i < len(words); i += step {
		end := i + c.config.MaxTokens
		if end > len(words) {
			end = len(words)
		}

		overlap := 0
		if i > 0 {
			overlap = c.config.OverlapTokens
		}
		chunks = append(chunks, c.newChunk([]string{strings.Join(words[i:end], " ")}, startOrdinal+len(chunks), overlap, true))

		if end >= len(words) {
			break
		}
	}

	return chunks
}

// splitSentences splits text into sentences on . ! ? boundaries. This
// is a best-effort heuristic, not a grammar: it avoids splitting on
// common abbreviations and on decimal numbers, and treats everything
// else followed by whitespace as a boundary.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r != '.' && r != '!' && r != '?' {
			continue
		}

		// A period between digits is a decimal point, not a boundary.
		if r == '.' && i > 0 && i+1 < len(runes) &&
			unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
			continue
		}

		// Boundary only when followed by whitespace or end of text.
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}

		sentence := strings.TrimSpace(current.String())
		if sentence != "" && !endsWithAbbreviation(sentence) {
			sentences = append(sentences, sentence)
			current.Reset()
		}
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}

// endsWithAbbreviation checks whether text ends with a common
// abbreviation that should not terminate a sentence.
func endsWithAbbreviation(text string) bool {
	abbreviations := []string{
		"mr.", "mrs.", "ms.", "dr.", "prof.",
		"inc.", "ltd.", "corp.",
		"etc.", "e.g.", "i.e.",
		"vs.", "v.",
		"st.", "ave.", "blvd.",
		"no.", "vol.", "pg.",
	}

	lower := strings.ToLower(text)
	for _, abbr := range abbreviations {
		if strings.HasSuffix(lower, abbr) {
			return true
		}
	}
	return false
}
