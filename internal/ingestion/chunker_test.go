package ingestion

import (
	"fmt"
	"strings"
	"testing"

	"github.com/yagisawa/fictionrag/internal/repository"
)

func TestChunker_Empty(t *testing.T) {
	c := NewChunker(repository.ChunkerConfig{MaxTokens: 50, OverlapTokens: 10})

	for _, content := range []string{"", "   ", "\n\t\n"} {
		if got := c.Chunk(content); got != nil {
			t.Errorf("Chunk(%q) = %d chunks, want none", content, len(got))
		}
	}
}

func TestChunker_SingleSentence(t *testing.T) {
	c := NewChunker(repository.ChunkerConfig{MaxTokens: 50, OverlapTokens: 10})

	chunks := c.Chunk("The quick brown fox jumps over the lazy dog.")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Ordinal != 0 {
		t.Errorf("Ordinal = %d, want 0", chunks[0].Ordinal)
	}
	if chunks[0].TokenCount != 9 {
		t.Errorf("TokenCount = %d, want 9", chunks[0].TokenCount)
	}
	if chunks[0].OverlapTokens != 0 {
		t.Errorf("OverlapTokens = %d, want 0 for first chunk", chunks[0].OverlapTokens)
	}
}

// Ten sentences of five words each, a budget that fits three sentences,
// and overlap worth one sentence: every chunk after the first must
// begin with the last sentence of the chunk before it.
func TestChunker_SentenceOverlap(t *testing.T) {
	var sentences []string
	for i := 1; i <= 10; i++ {
		sentences = append(sentences, fmt.Sprintf("Sentence number %d has words.", i))
	}
	content := strings.Join(sentences, " ")

	c := NewChunker(repository.ChunkerConfig{MaxTokens: 15, OverlapTokens: 5})
	chunks := c.Chunk(content)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev := splitSentences(chunks[i-1].Text)
		last := prev[len(prev)-1]
		if !strings.HasPrefix(chunks[i].Text, last) {
			t.Errorf("chunk %d does not begin with last sentence of chunk %d:\n  want prefix %q\n  got %q",
				i, i-1, last, chunks[i].Text)
		}
		if chunks[i].OverlapTokens == 0 {
			t.Errorf("chunk %d OverlapTokens = 0, want positive", i)
		}
	}
}

func TestChunker_OrdinalsSequential(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "This is sentence number %d of the test document. ", i)
	}

	c := NewChunker(repository.ChunkerConfig{MaxTokens: 30, OverlapTokens: 8})
	chunks := c.Chunk(b.String())

	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Ordinal != i {
			t.Errorf("chunk %d Ordinal = %d", i, chunk.Ordinal)
		}
		if chunk.TokenCount > 30 {
			t.Errorf("chunk %d TokenCount = %d, exceeds budget 30", i, chunk.TokenCount)
		}
	}
}

// Carried overlap plus an in-budget sentence must never push a chunk
// over the budget: the chunker sheds overlap sentences instead.
func TestChunker_BudgetNeverExceeded(t *testing.T) {
	content := "One two three. Four five six. Seven eight nine. " +
		"Ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen."

	c := NewChunker(repository.ChunkerConfig{MaxTokens: 10, OverlapTokens: 4})
	chunks := c.Chunk(content)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, chunk := range chunks {
		if chunk.TokenCount > 10 {
			t.Errorf("chunk %d TokenCount = %d, exceeds budget 10", chunk.Ordinal, chunk.TokenCount)
		}
	}

	joined := strings.Join(chunkTexts(chunks), " ")
	for _, w := range []string{"One", "Seven", "eighteen."} {
		if !strings.Contains(joined, w) {
			t.Errorf("word %q lost during chunking", w)
		}
	}
}

func TestChunker_BudgetHoldsAcrossConfigs(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "Sentence %d has a number of words that varies %s. ",
			i, strings.Repeat("somewhat ", i%7))
	}
	content := b.String()

	configs := []repository.ChunkerConfig{
		{MaxTokens: 10, OverlapTokens: 4},
		{MaxTokens: 15, OverlapTokens: 9},
		{MaxTokens: 25, OverlapTokens: 12},
		{MaxTokens: 40, OverlapTokens: 30},
	}
	for _, cfg := range configs {
		chunks := NewChunker(cfg).Chunk(content)
		for _, chunk := range chunks {
			if chunk.TokenCount > cfg.MaxTokens {
				t.Errorf("config %+v: chunk %d TokenCount = %d, exceeds budget",
					cfg, chunk.Ordinal, chunk.TokenCount)
			}
		}
	}
}

func TestChunker_OversizedSentence(t *testing.T) {
	words := make([]string, 120)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	content := "Short lead sentence. " + strings.Join(words, " ") + ". Short tail sentence."

	c := NewChunker(repository.ChunkerConfig{MaxTokens: 50, OverlapTokens: 10})
	chunks := c.Chunk(content)

	split := 0
	for _, chunk := range chunks {
		if chunk.TokenCount > 50 {
			t.Errorf("chunk %d TokenCount = %d, exceeds budget", chunk.Ordinal, chunk.TokenCount)
		}
		if chunk.Metadata["split"] == "true" {
			split++
		}
	}
	if split < 2 {
		t.Errorf("expected oversized sentence to hard-split into multiple marked chunks, got %d", split)
	}

	// All source words must survive the split.
	joined := strings.Join(chunkTexts(chunks), " ")
	for _, w := range []string{"word0", "word60", "word119", "lead", "tail"} {
		if !strings.Contains(joined, w) {
			t.Errorf("word %q lost during chunking", w)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "plain",
			input: "First sentence. Second sentence. Third sentence.",
			want:  []string{"First sentence.", "Second sentence.", "Third sentence."},
		},
		{
			name:  "mixed terminators",
			input: "Is it done? It is done! Good.",
			want:  []string{"Is it done?", "It is done!", "Good."},
		},
		{
			name:  "abbreviation",
			input: "Dr. Watson arrived late. Mr. Holmes was waiting.",
			want:  []string{"Dr. Watson arrived late.", "Mr. Holmes was waiting."},
		},
		{
			name:  "decimal number",
			input: "The ratio was 3.14 exactly. Nobody objected.",
			want:  []string{"The ratio was 3.14 exactly.", "Nobody objected."},
		},
		{
			name:  "no trailing terminator",
			input: "First sentence. Then a fragment",
			want:  []string{"First sentence.", "Then a fragment"},
		},
		{
			name:  "empty",
			input: "   ",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitSentences(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d sentences %v, want %d %v", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sentence %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNewChunker_Defaults(t *testing.T) {
	c := NewChunker(repository.ChunkerConfig{})
	if c.config.MaxTokens != 700 {
		t.Errorf("MaxTokens = %d, want 700", c.config.MaxTokens)
	}
	if c.config.OverlapTokens != 100 {
		t.Errorf("OverlapTokens = %d, want 100", c.config.OverlapTokens)
	}

	// Overlap must stay strictly below the budget.
	c = NewChunker(repository.ChunkerConfig{MaxTokens: 20, OverlapTokens: 30})
	if c.config.OverlapTokens >= c.config.MaxTokens {
		t.Errorf("OverlapTokens = %d not below MaxTokens = %d", c.config.OverlapTokens, c.config.MaxTokens)
	}
}

func chunkTexts(chunks []Chunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}
