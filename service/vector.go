package service

import (
	"context"

	"github.com/Sarthak2477/Legal-Document-Processor/model"
)

// ScoredClause is a clause returned from a similarity search together
// with its cosine similarity score against the query vector.
type ScoredClause struct {
	Clause model.Clause
	Score  float64
}

// VectorIndex stores clause embeddings keyed by contract and supports
// similarity search scoped to a single contract. Implementations must
// be safe for concurrent use; entries for one contract are only ever
// written by that contract's single active pipeline run.
type VectorIndex interface {
	// Init prepares the backing storage (tables, extensions).
	Init(ctx context.Context) error
	// Upsert replaces the indexed clauses of the contract.
	Upsert(ctx context.Context, contractID string, clauses []model.Clause, vectors [][]float32) error
	// Search returns the topK most similar clauses of the contract,
	// ordered by score descending, ties broken by document position
	// ascending.
	Search(ctx context.Context, contractID string, vector []float32, topK int) ([]ScoredClause, error)
	// DeleteContract removes every indexed clause of the contract.
	DeleteContract(ctx context.Context, contractID string) error
}
