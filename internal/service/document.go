// Package service implements the application services: document
// ingestion and retrieval-augmented question answering.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/yagisawa/fictionrag/internal/embedder"
	"github.com/yagisawa/fictionrag/internal/ingestion"
	"github.com/yagisawa/fictionrag/internal/repository"
	"github.com/yagisawa/fictionrag/internal/vectorstore"
)

// IngestRequest describes one document to ingest.
type IngestRequest struct {
	Content  string            `json:"content"`
	Title    string            `json:"title"`
	Source   string            `json:"source"`
	Genre    string            `json:"genre"`
	Metadata map[string]string `json:"metadata"`
}

// IngestResult reports what ingestion did with a document.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	Duplicate  bool   `json:"duplicate"`
}

// DocumentService ingests documents: chunk, embed, persist, index.
type DocumentService struct {
	docRepo  repository.DocumentRepository
	embedder embedder.Embedder
	vectorDB vectorstore.VectorStore
	chunker  repository.ChunkerConfig
	logger   *slog.Logger
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(
	docRepo repository.DocumentRepository,
	embedder embedder.Embedder,
	vectorDB vectorstore.VectorStore,
	chunker repository.ChunkerConfig,
	logger *slog.Logger,
) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		docRepo:  docRepo,
		embedder: embedder,
		vectorDB: vectorDB,
		chunker:  chunker,
		logger:   logger,
	}
}

// Ingest processes a document synchronously: duplicate check by
// content hash, chunking, persistence, embedding, and vector indexing.
// Re-ingesting identical content returns the existing document rather
// than indexing it twice.
func (s *DocumentService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if req.Content == "" {
		return nil, fmt.Errorf("content is required")
	}

	contentHash := ingestion.HashContent(req.Content)

	existing, err := s.docRepo.GetByHash(ctx, contentHash)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("duplicate check failed: %w", err)
	}
	if existing != nil {
		s.logger.Info("duplicate document skipped",
			"document_id", existing.ID,
			"hash", contentHash[:16])
		return &IngestResult{
			DocumentID: existing.ID.String(),
			Status:     repository.StatusDuplicate,
			ChunkCount: existing.ChunkCount,
			Duplicate:  true,
		}, nil
	}

	pipeline := ingestion.NewPipeline(ingestion.PipelineConfig{
		Chunker: s.chunker,
		DefaultMetadata: map[string]string{
			"source": req.Source,
			"title":  req.Title,
			"genre":  req.Genre,
		},
	})

	result, err := pipeline.Process(ctx, req.Content, req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("chunking failed: %w", err)
	}

	now := time.Now()
	doc := &repository.Document{
		ID:          result.DocumentID,
		Source:      req.Source,
		Title:       req.Title,
		Genre:       req.Genre,
		ContentHash: contentHash,
		ChunkCount:  len(result.Chunks),
		Status:      repository.StatusPending,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if doc.Title == "" {
		doc.Title = "Untitled Document"
	}
	if doc.Source == "" {
		doc.Source = "direct-upload"
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	docChunks := ingestion.ChunksToDocumentChunks(result.Chunks, doc.ID)
	if err := s.docRepo.CreateChunks(ctx, docChunks); err != nil {
		s.markFailed(ctx, doc, fmt.Sprintf("failed to store chunks: %v", err))
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}

	texts := make([]string, len(result.Chunks))
	for i, chunk := range result.Chunks {
		texts[i] = chunk.Text
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		s.markFailed(ctx, doc, fmt.Sprintf("embedding failed: %v", err))
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	vectorChunks := make([]vectorstore.Chunk, len(docChunks))
	for i, chunk := range docChunks {
		metadata := make(map[string]string, len(chunk.Metadata)+2)
		for k, v := range chunk.Metadata {
			metadata[k] = v
		}
		metadata["title"] = doc.Title
		metadata["source"] = doc.Source

		vectorChunks[i] = vectorstore.Chunk{
			ID:         chunk.ID.String(),
			DocumentID: doc.ID.String(),
			Content:    chunk.Content,
			Vector:     embeddings[i],
			Metadata:   metadata,
		}
	}

	if err := s.vectorDB.Upsert(ctx, vectorChunks); err != nil {
		s.markFailed(ctx, doc, fmt.Sprintf("vector storage failed: %v", err))
		return nil, fmt.Errorf("vector storage failed: %w", err)
	}

	doc.Status = repository.StatusIndexed
	doc.UpdatedAt = time.Now()
	if err := s.docRepo.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to finalize document: %w", err)
	}

	s.logger.Info("document ingested",
		"document_id", doc.ID,
		"title", doc.Title,
		"genre", doc.Genre,
		"chunks", len(docChunks),
		"avg_chunk_tokens", result.Stats.AvgChunkTokens)

	return &IngestResult{
		DocumentID: doc.ID.String(),
		Status:     doc.Status,
		ChunkCount: len(docChunks),
	}, nil
}

// Get returns a document by ID.
func (s *DocumentService) Get(ctx context.Context, id uuid.UUID) (*repository.Document, error) {
	return s.docRepo.GetByID(ctx, id)
}

// List returns documents with pagination.
func (s *DocumentService) List(ctx context.Context, status string, limit, offset int) ([]*repository.Document, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.docRepo.List(ctx, status, limit, offset)
}

// Delete removes a document, its chunks, and its vectors.
func (s *DocumentService) Delete(ctx context.Context, id uuid.UUID) error {
	doc, err := s.docRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.vectorDB.DeleteByDocument(ctx, doc.ID.String()); err != nil {
		s.logger.Warn("vector deletion failed", "document_id", doc.ID, "error", err)
	}
	if err := s.docRepo.DeleteChunks(ctx, id); err != nil {
		s.logger.Warn("chunk deletion failed", "document_id", doc.ID, "error", err)
	}
	return s.docRepo.Delete(ctx, id)
}

// Reset drops the entire corpus: all documents, chunks, and vectors.
func (s *DocumentService) Reset(ctx context.Context) error {
	if err := s.vectorDB.Reset(ctx, s.embedder.Dimension()); err != nil {
		return fmt.Errorf("vector reset failed: %w", err)
	}
	if err := s.docRepo.DeleteAll(ctx); err != nil {
		return fmt.Errorf("repository reset failed: %w", err)
	}
	s.logger.Info("corpus reset")
	return nil
}

func (s *DocumentService) markFailed(ctx context.Context, doc *repository.Document, msg string) {
	doc.Status = repository.StatusFailed
	doc.ErrorMessage = msg
	doc.UpdatedAt = time.Now()
	if err := s.docRepo.Update(ctx, doc); err != nil {
		s.logger.Error("failed to mark document failed", "document_id", doc.ID, "error", err)
	}
}
