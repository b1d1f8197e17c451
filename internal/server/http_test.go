package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/yagisawa/fictionrag/internal/llm"
	"github.com/yagisawa/fictionrag/internal/rank"
	"github.com/yagisawa/fictionrag/internal/repository"
	"github.com/yagisawa/fictionrag/internal/service"
	"github.com/yagisawa/fictionrag/internal/vectorstore"
)

type memDocRepo struct {
	docs   map[uuid.UUID]*repository.Document
	chunks map[uuid.UUID][]*repository.DocumentChunk
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{
		docs:   make(map[uuid.UUID]*repository.Document),
		chunks: make(map[uuid.UUID][]*repository.DocumentChunk),
	}
}

func (m *memDocRepo) Create(_ context.Context, doc *repository.Document) error {
	m.docs[doc.ID] = doc
	return nil
}

func (m *memDocRepo) GetByID(_ context.Context, id uuid.UUID) (*repository.Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return doc, nil
}

func (m *memDocRepo) GetByHash(_ context.Context, hash string) (*repository.Document, error) {
	for _, doc := range m.docs {
		if doc.ContentHash == hash {
			return doc, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memDocRepo) List(_ context.Context, status string, _, _ int) ([]*repository.Document, int, error) {
	var docs []*repository.Document
	for _, doc := range m.docs {
		if status == "" || doc.Status == status {
			docs = append(docs, doc)
		}
	}
	return docs, len(docs), nil
}

func (m *memDocRepo) Update(_ context.Context, doc *repository.Document) error {
	if _, ok := m.docs[doc.ID]; !ok {
		return repository.ErrNotFound
	}
	m.docs[doc.ID] = doc
	return nil
}

func (m *memDocRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.docs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *memDocRepo) DeleteAll(context.Context) error {
	m.docs = make(map[uuid.UUID]*repository.Document)
	m.chunks = make(map[uuid.UUID][]*repository.DocumentChunk)
	return nil
}

func (m *memDocRepo) CreateChunks(_ context.Context, chunks []*repository.DocumentChunk) error {
	for _, chunk := range chunks {
		m.chunks[chunk.DocumentID] = append(m.chunks[chunk.DocumentID], chunk)
	}
	return nil
}

func (m *memDocRepo) GetChunks(_ context.Context, documentID uuid.UUID, _, _ int) ([]*repository.DocumentChunk, error) {
	return m.chunks[documentID], nil
}

func (m *memDocRepo) DeleteChunks(_ context.Context, documentID uuid.UUID) error {
	delete(m.chunks, documentID)
	return nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (stubEmbedder) Dimension() int    { return 3 }
func (stubEmbedder) ModelName() string { return "stub" }

type stubVectorStore struct {
	results []vectorstore.SearchResult
}

func (s *stubVectorStore) EnsureCollection(context.Context, int) error     { return nil }
func (s *stubVectorStore) Upsert(context.Context, []vectorstore.Chunk) error { return nil }
func (s *stubVectorStore) Search(context.Context, []float32, int) ([]vectorstore.SearchResult, error) {
	return s.results, nil
}
func (s *stubVectorStore) DeleteByDocument(context.Context, string) error { return nil }
func (s *stubVectorStore) DeleteByIDs(context.Context, []string) error    { return nil }
func (s *stubVectorStore) Reset(context.Context, int) error               { return nil }
func (s *stubVectorStore) Count(context.Context) (uint64, error)          { return 0, nil }

type stubLLM struct{}

func (stubLLM) Generate(context.Context, string, llm.GenerateOptions) (string, error) {
	return "an answer", nil
}

func newTestServer(t *testing.T) (*HTTPServer, *memDocRepo) {
	t.Helper()

	repo := newMemDocRepo()
	store := &stubVectorStore{results: []vectorstore.SearchResult{
		{
			ID:       uuid.NewString(),
			Content:  "a passage about the storm at sea",
			Score:    0.9,
			Metadata: map[string]string{"document_id": "d1"},
		},
	}}
	logger := slog.New(slog.DiscardHandler)

	docs := service.NewDocumentService(repo, stubEmbedder{}, store,
		repository.ChunkerConfig{MaxTokens: 100, OverlapTokens: 10}, logger)
	rag := service.NewRAGService(stubEmbedder{}, store,
		rank.NewPipeline(rank.DefaultConfig()), stubLLM{}, logger)

	return NewHTTPServer(HTTPServerConfig{
		Port:      0,
		Logger:    logger,
		Documents: docs,
		RAG:       rag,
	}), repo
}

func doJSON(t *testing.T, srv *HTTPServer, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleIngest(t *testing.T) {
	srv, repo := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/ingest", map[string]string{
		"content": "It was a dark and stormy night. The captain held the wheel.",
		"title":   "Storm",
		"genre":   "fiction",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var result service.IngestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.Status != repository.StatusIndexed {
		t.Errorf("Status = %s, want %s", result.Status, repository.StatusIndexed)
	}
	if result.ChunkCount == 0 {
		t.Error("ChunkCount = 0, want chunks")
	}
	if len(repo.docs) != 1 {
		t.Errorf("stored %d documents, want 1", len(repo.docs))
	}

	// Same content again is reported as a duplicate, not re-indexed.
	rec = doJSON(t, srv, http.MethodPost, "/v1/ingest", map[string]string{
		"content": "It was a dark and stormy night. The captain held the wheel.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", rec.Code)
	}
	if len(repo.docs) != 1 {
		t.Errorf("stored %d documents after duplicate, want 1", len(repo.docs))
	}
}

func TestHandleIngest_EmptyContent(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/ingest", map[string]string{"content": ""})
	if rec.Code != http.StatusInternalServerError && rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want error status", rec.Code)
	}
}

func TestHandleRetrieve(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/retrieve", map[string]any{
		"query": "what happened at sea?",
		"top_n": 5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp service.RetrieveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(resp.Chunks))
	}
	// No scorers wired in the test server, so the pipeline degrades.
	if !resp.Degraded {
		t.Error("expected degraded result without scorers")
	}
}

func TestHandleRetrieve_BadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/retrieve", map[string]string{"query": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAsk(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/ask", map[string]string{
		"query": "what happened at sea?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp service.AskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Answer != "an answer" {
		t.Errorf("Answer = %q", resp.Answer)
	}
}

func TestHandleDocumentNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/v1/documents/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/v1/documents/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleReset(t *testing.T) {
	srv, repo := newTestServer(t)

	doJSON(t, srv, http.MethodPost, "/v1/ingest", map[string]string{
		"content": "Some document content to index for the reset test.",
	})
	if len(repo.docs) != 1 {
		t.Fatalf("setup: stored %d documents", len(repo.docs))
	}

	rec := doJSON(t, srv, http.MethodPost, "/v1/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(repo.docs) != 0 {
		t.Errorf("documents remain after reset: %d", len(repo.docs))
	}
}
