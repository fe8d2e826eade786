package service

import (
	"context"
	"fmt"

	"github.com/Sarthak2477/Legal-Document-Processor/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgvectorIndex stores clause embeddings in Postgres with the pgvector
// extension. Similarity search uses the cosine distance operator, so
// the reported score is 1 - distance.
type PgvectorIndex struct {
	pool      *pgxpool.Pool
	dimension int
}

func NewPgvectorIndex(ctx context.Context, connStr string, dimension int) (*PgvectorIndex, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PgvectorIndex{pool: pool, dimension: dimension}, nil
}

// Init creates the vector extension and the clause table.
func (p *PgvectorIndex) Init(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS contract_clauses (
		id UUID PRIMARY KEY,
		contract_id TEXT NOT NULL,
		position INT NOT NULL,
		heading TEXT,
		content TEXT NOT NULL,
		embedding vector(%d)
	);

	CREATE INDEX IF NOT EXISTS idx_contract_clauses_contract_id ON contract_clauses(contract_id);

	CREATE INDEX IF NOT EXISTS idx_contract_clauses_embedding ON contract_clauses
	USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
	`, p.dimension)

	_, err := p.pool.Exec(ctx, query)
	return err
}

// Upsert replaces the contract's rows in a single transaction so a
// reader never observes a mix of old and new clauses.
func (p *PgvectorIndex) Upsert(ctx context.Context, contractID string, clauses []model.Clause, vectors [][]float32) error {
	if len(clauses) != len(vectors) {
		return model.NewValidationError("clauses and vectors length mismatch: %d != %d", len(clauses), len(vectors))
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM contract_clauses WHERE contract_id = $1`, contractID); err != nil {
		return fmt.Errorf("failed to delete old clauses: %w", err)
	}

	const insert = `
	INSERT INTO contract_clauses (id, contract_id, position, heading, content, embedding)
	VALUES ($1, $2, $3, $4, $5, $6)`

	for i, clause := range clauses {
		_, err := tx.Exec(ctx, insert,
			clause.EmbeddingRef, contractID, clause.Position, clause.Heading, clause.Text,
			pgvector.NewVector(vectors[i]),
		)
		if err != nil {
			return fmt.Errorf("failed to insert clause %d: %w", clause.Position, err)
		}
	}

	return tx.Commit(ctx)
}

func (p *PgvectorIndex) Search(ctx context.Context, contractID string, vector []float32, topK int) ([]ScoredClause, error) {
	if topK <= 0 {
		topK = 5
	}

	const query = `
	SELECT id, position, heading, content, 1 - (embedding <=> $2) AS score
	FROM contract_clauses
	WHERE contract_id = $1 AND embedding IS NOT NULL
	ORDER BY embedding <=> $2, position
	LIMIT $3`

	rows, err := p.pool.Query(ctx, query, contractID, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search clauses: %w", err)
	}
	defer rows.Close()

	var results []ScoredClause
	for rows.Next() {
		var sc ScoredClause
		sc.Clause.ContractID = contractID
		if err := rows.Scan(&sc.Clause.EmbeddingRef, &sc.Clause.Position, &sc.Clause.Heading, &sc.Clause.Text, &sc.Score); err != nil {
			return nil, fmt.Errorf("failed to scan clause row: %w", err)
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

func (p *PgvectorIndex) DeleteContract(ctx context.Context, contractID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM contract_clauses WHERE contract_id = $1`, contractID)
	return err
}

// Close closes the connection pool.
func (p *PgvectorIndex) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}
