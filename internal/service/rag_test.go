package service

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/yagisawa/fictionrag/internal/llm"
	"github.com/yagisawa/fictionrag/internal/memory"
	"github.com/yagisawa/fictionrag/internal/rank"
	"github.com/yagisawa/fictionrag/internal/vectorstore"
)

type fakeEmbedder struct {
	vector []float32
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vector, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return len(f.vector) }
func (f *fakeEmbedder) ModelName() string { return "fake-embed" }

type fakeVectorStore struct {
	results []vectorstore.SearchResult
}

func (f *fakeVectorStore) EnsureCollection(context.Context, int) error { return nil }
func (f *fakeVectorStore) Upsert(context.Context, []vectorstore.Chunk) error {
	return nil
}
func (f *fakeVectorStore) Search(context.Context, []float32, int) ([]vectorstore.SearchResult, error) {
	return f.results, nil
}
func (f *fakeVectorStore) DeleteByDocument(context.Context, string) error { return nil }
func (f *fakeVectorStore) DeleteByIDs(context.Context, []string) error    { return nil }
func (f *fakeVectorStore) Reset(context.Context, int) error               { return nil }
func (f *fakeVectorStore) Count(context.Context) (uint64, error)          { return 0, nil }

type fakeLLM struct {
	response   string
	lastPrompt string
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	f.lastPrompt = prompt
	return f.response, nil
}

type stubScorer struct {
	scores []float64
}

func (s *stubScorer) ScoreBatch(_ context.Context, _ string, texts []string) ([]float64, error) {
	out := make([]float64, len(texts))
	copy(out, s.scores)
	return out, nil
}

func (s *stubScorer) MaxInputWords() int { return 512 }

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func searchHit(id, content string, score float32) vectorstore.SearchResult {
	return vectorstore.SearchResult{
		ID:       id,
		Content:  content,
		Score:    score,
		Metadata: map[string]string{"document_id": "doc-" + id},
	}
}

func TestRetrieve_RanksWithCrossEncoder(t *testing.T) {
	store := &fakeVectorStore{results: []vectorstore.SearchResult{
		searchHit("a", "the wedding ceremony in the old chapel", 0.9),
		searchHit("b", "a long march through the frozen mountains", 0.8),
		searchHit("c", "the detective examined the evidence carefully", 0.7),
	}}
	// Strong scores keep the cross-encoder path active.
	ranker := rank.NewPipeline(rank.DefaultConfig(),
		rank.WithCrossEncoder(&stubScorer{scores: []float64{1.0, 4.0, 2.0}}))

	svc := NewRAGService(&fakeEmbedder{vector: []float32{1, 0}}, store, ranker, &fakeLLM{}, quietLogger())

	resp, err := svc.Retrieve(context.Background(), RetrieveRequest{Query: "mountain journey", TopN: 2})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}

	if len(resp.Chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(resp.Chunks))
	}
	if resp.Chunks[0].ChunkID != "b" {
		t.Errorf("top chunk = %s, want b", resp.Chunks[0].ChunkID)
	}
	if resp.Degraded {
		t.Error("unexpected degraded response")
	}
	if resp.Chunks[0].DocumentID != "doc-b" {
		t.Errorf("DocumentID = %s, want doc-b", resp.Chunks[0].DocumentID)
	}
}

func TestRetrieve_DegradedWithoutScorers(t *testing.T) {
	store := &fakeVectorStore{results: []vectorstore.SearchResult{
		searchHit("a", "first passage about one thing", 0.9),
		searchHit("b", "second passage about another thing", 0.5),
	}}
	ranker := rank.NewPipeline(rank.DefaultConfig())

	svc := NewRAGService(&fakeEmbedder{vector: []float32{1, 0}}, store, ranker, &fakeLLM{}, quietLogger())

	resp, err := svc.Retrieve(context.Background(), RetrieveRequest{Query: "anything"})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}

	if !resp.Degraded {
		t.Error("expected degraded response when no scorers are configured")
	}
	if len(resp.Chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(resp.Chunks))
	}
	// Normalized retrieval order must hold.
	if resp.Chunks[0].ChunkID != "a" {
		t.Errorf("top chunk = %s, want a", resp.Chunks[0].ChunkID)
	}
}

// deadlineVectorStore records whether the search context carried a
// deadline.
type deadlineVectorStore struct {
	fakeVectorStore
	hadDeadline bool
}

func (f *deadlineVectorStore) Search(ctx context.Context, _ []float32, _ int) ([]vectorstore.SearchResult, error) {
	_, f.hadDeadline = ctx.Deadline()
	return f.results, nil
}

// stallingVectorStore hangs until the context is cancelled.
type stallingVectorStore struct {
	fakeVectorStore
}

func (f *stallingVectorStore) Search(ctx context.Context, _ []float32, _ int) ([]vectorstore.SearchResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRetrieve_SearchIsBounded(t *testing.T) {
	store := &deadlineVectorStore{fakeVectorStore: fakeVectorStore{
		results: []vectorstore.SearchResult{searchHit("a", "some passage text", 0.9)},
	}}
	svc := NewRAGService(&fakeEmbedder{vector: []float32{1, 0}}, store,
		rank.NewPipeline(rank.DefaultConfig()), &fakeLLM{}, quietLogger())

	if _, err := svc.Retrieve(context.Background(), RetrieveRequest{Query: "anything"}); err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if !store.hadDeadline {
		t.Error("vector search ran without a deadline")
	}
}

func TestRetrieve_StalledSearchTimesOut(t *testing.T) {
	svc := NewRAGService(&fakeEmbedder{vector: []float32{1, 0}}, &stallingVectorStore{},
		rank.NewPipeline(rank.DefaultConfig()), &fakeLLM{}, quietLogger(),
		WithSearchTimeout(10*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Retrieve(context.Background(), RetrieveRequest{Query: "anything"})
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error from stalled vector search")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Retrieve did not return after search timeout")
	}
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	svc := NewRAGService(&fakeEmbedder{vector: []float32{1}}, &fakeVectorStore{},
		rank.NewPipeline(rank.DefaultConfig()), &fakeLLM{}, quietLogger())

	if _, err := svc.Retrieve(context.Background(), RetrieveRequest{Query: "   "}); err == nil {
		t.Fatal("expected error for blank query")
	}
}

func TestAsk_UsesRetrievedPassagesAndMemory(t *testing.T) {
	store := &fakeVectorStore{results: []vectorstore.SearchResult{
		searchHit("a", "the bride walked to the chapel", 0.9),
	}}
	generator := &fakeLLM{response: "She walked to the chapel."}
	ranker := rank.NewPipeline(rank.DefaultConfig(),
		rank.WithCrossEncoder(&stubScorer{scores: []float64{3.0}}))
	mem := memory.NewStore(10, time.Hour)
	defer mem.Close()

	svc := NewRAGService(&fakeEmbedder{vector: []float32{1, 0}}, store, ranker, generator,
		quietLogger(), WithMemory(mem))

	resp, err := svc.Ask(context.Background(), AskRequest{Query: "where did the bride go?", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}

	if resp.Answer != "She walked to the chapel." {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(resp.Sources))
	}
	if !strings.Contains(generator.lastPrompt, "the bride walked to the chapel") {
		t.Error("prompt missing retrieved passage")
	}

	history := mem.History("s1")
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != memory.RoleUser || history[1].Role != memory.RoleAssistant {
		t.Errorf("unexpected roles: %v, %v", history[0].Role, history[1].Role)
	}
}

func TestDeduplicateResults(t *testing.T) {
	results := []vectorstore.SearchResult{
		searchHit("a", "the quick brown fox jumps over the lazy sleeping dog", 0.9),
		searchHit("b", "the quick brown fox jumps over the lazy sleeping dog today", 0.8),
		searchHit("c", "completely different content about sailing ships at sea", 0.7),
	}

	deduped := deduplicateResults(results, 0.7)
	if len(deduped) != 2 {
		t.Fatalf("got %d results, want 2", len(deduped))
	}
	if deduped[0].ID != "a" || deduped[1].ID != "c" {
		t.Errorf("kept %s and %s, want a and c", deduped[0].ID, deduped[1].ID)
	}

	// Threshold 1.0 disables deduplication.
	if got := deduplicateResults(results, 1.0); len(got) != 3 {
		t.Errorf("threshold 1.0 removed results: got %d, want 3", len(got))
	}
}

func TestJaccardSimilarity(t *testing.T) {
	a := tokenize("the quick brown fox")
	b := tokenize("the quick brown fox")
	if sim := jaccardSimilarity(a, b); sim != 1.0 {
		t.Errorf("identical sets sim = %v, want 1.0", sim)
	}

	c := tokenize("entirely unrelated words here")
	if sim := jaccardSimilarity(a, c); sim != 0.0 {
		t.Errorf("disjoint sets sim = %v, want 0.0", sim)
	}

	if sim := jaccardSimilarity(map[string]struct{}{}, map[string]struct{}{}); sim != 1.0 {
		t.Errorf("empty sets sim = %v, want 1.0", sim)
	}
}
