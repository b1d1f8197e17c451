// Package repository defines domain models and data access interfaces
// for documents and their chunks.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Document statuses.
const (
	StatusPending   = "pending"
	StatusIndexed   = "indexed"
	StatusFailed    = "failed"
	StatusDuplicate = "duplicate"
)

// ChunkerConfig holds chunking configuration
type ChunkerConfig struct {
	MaxTokens     int `json:"max_tokens"`     // token budget per chunk
	OverlapTokens int `json:"overlap_tokens"` // tokens carried between adjacent chunks
}

// Document represents an ingested document
type Document struct {
	ID           uuid.UUID
	Source       string
	Title        string
	Genre        string
	ContentHash  string
	ChunkCount   int
	Status       string
	ErrorMessage string
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DocumentChunk represents a chunk of a document
type DocumentChunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Ordinal    int
	Content    string
	TokenCount int
	Metadata   map[string]string
	CreatedAt  time.Time
}

// DocumentRepository defines operations for document persistence
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	GetByHash(ctx context.Context, hash string) (*Document, error)
	List(ctx context.Context, status string, limit, offset int) ([]*Document, int, error)
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteAll(ctx context.Context) error

	// Chunk operations
	CreateChunks(ctx context.Context, chunks []*DocumentChunk) error
	GetChunks(ctx context.Context, documentID uuid.UUID, limit, offset int) ([]*DocumentChunk, error)
	DeleteChunks(ctx context.Context, documentID uuid.UUID) error
}
