// Package vectorstore provides interfaces and implementations for vector similarity search.
package vectorstore

import (
	"context"
)

// Chunk represents a document chunk with its embedding
type Chunk struct {
	ID         string
	DocumentID string
	Content    string
	Vector     []float32
	Metadata   map[string]string
}

// SearchResult represents a search result from the vector store.
// Score is a cosine similarity, higher is better.
type SearchResult struct {
	ID         string
	DocumentID string
	Content    string
	Score      float32
	Vector     []float32
	Metadata   map[string]string
}

// VectorStore defines the interface for vector storage operations
type VectorStore interface {
	// EnsureCollection creates the corpus collection if it does not exist
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert inserts or updates chunks in the vector store
	Upsert(ctx context.Context, chunks []Chunk) error

	// Search performs cosine similarity search, returning stored
	// vectors alongside payloads so callers can compute pairwise
	// similarities without re-embedding
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)

	// DeleteByDocument removes all chunks belonging to a document
	DeleteByDocument(ctx context.Context, documentID string) error

	// DeleteByIDs removes specific chunks by their IDs
	DeleteByIDs(ctx context.Context, ids []string) error

	// Reset drops and recreates the corpus collection
	Reset(ctx context.Context, dimension int) error

	// Count returns the number of stored chunks
	Count(ctx context.Context) (uint64, error)
}
