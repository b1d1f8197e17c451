package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yagisawa/fictionrag/internal/repository"
)

// PipelineConfig holds configuration for the ingestion pipeline.
type PipelineConfig struct {
	Chunker repository.ChunkerConfig

	// DefaultMetadata is merged into every chunk's metadata without
	// overriding keys set by the chunker or the caller.
	DefaultMetadata map[string]string
}

// PipelineResult holds the outcome of processing one document.
type PipelineResult struct {
	DocumentID uuid.UUID

	// ContentHash is the SHA-256 of the trimmed content, used for
	// duplicate detection at ingestion time.
	ContentHash string

	Chunks []Chunk
	Stats  PipelineStats
}

// PipelineStats describes what chunking did to a document.
type PipelineStats struct {
	OriginalLength    int
	OriginalWordCount int
	ChunkCount        int

	// TotalChunkTokens includes overlap, so it can exceed the
	// original word count.
	TotalChunkTokens int
	AvgChunkTokens   int
	ProcessingTime   time.Duration
}

// Pipeline turns raw document text into persistable, retrievable
// chunks: trim, hash, chunk, stamp metadata.
type Pipeline struct {
	config  PipelineConfig
	chunker *Chunker
}

func NewPipeline(config PipelineConfig) *Pipeline {
	return &Pipeline{
		config:  config,
		chunker: NewChunker(config.Chunker),
	}
}

// Process chunks content and stamps each chunk with the document ID,
// content hash, and merged metadata. Caller-provided metadata wins
// over pipeline defaults; chunker-assigned keys win over both.
func (p *Pipeline) Process(ctx context.Context, content string, metadata map[string]string) (*PipelineResult, error) {
	startTime := time.Now()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("content cannot be empty")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	documentID := uuid.New()
	contentHash := HashContent(content)

	chunks := p.chunker.Chunk(content)

	for i := range chunks {
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = make(map[string]string)
		}
		for k, v := range p.config.DefaultMetadata {
			if _, exists := chunks[i].Metadata[k]; !exists {
				chunks[i].Metadata[k] = v
			}
		}
		for k, v := range metadata {
			if _, exists := chunks[i].Metadata[k]; !exists {
				chunks[i].Metadata[k] = v
			}
		}
		chunks[i].Metadata["document_id"] = documentID.String()
	}

	return &PipelineResult{
		DocumentID:  documentID,
		ContentHash: contentHash,
		Chunks:      chunks,
		Stats:       calculateStats(content, chunks, time.Since(startTime)),
	}, nil
}

func calculateStats(content string, chunks []Chunk, processingTime time.Duration) PipelineStats {
	totalTokens := 0
	for _, chunk := range chunks {
		totalTokens += chunk.TokenCount
	}

	avgTokens := 0
	if len(chunks) > 0 {
		avgTokens = totalTokens / len(chunks)
	}

	return PipelineStats{
		OriginalLength:    len(content),
		OriginalWordCount: countTokens(content),
		ChunkCount:        len(chunks),
		TotalChunkTokens:  totalTokens,
		AvgChunkTokens:    avgTokens,
		ProcessingTime:    processingTime,
	}
}

// HashContent returns the hex SHA-256 of content. Two ingests of the
// same text always produce the same hash.
func HashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// ChunksToDocumentChunks converts pipeline chunks into storage rows.
func ChunksToDocumentChunks(chunks []Chunk, documentID uuid.UUID) []*repository.DocumentChunk {
	docChunks := make([]*repository.DocumentChunk, len(chunks))
	now := time.Now()

	for i, chunk := range chunks {
		docChunks[i] = &repository.DocumentChunk{
			ID:         uuid.New(),
			DocumentID: documentID,
			Ordinal:    chunk.Ordinal,
			Content:    chunk.Text,
			TokenCount: chunk.TokenCount,
			Metadata:   chunk.Metadata,
			CreatedAt:  now,
		}
	}

	return docChunks
}
