package service

import (
	"context"
	"sort"
	"sync"

	"github.com/Sarthak2477/Legal-Document-Processor/model"
)

// MemoryIndex is a brute-force cosine similarity index kept in memory.
// Vectors are assumed L2-normalized, so the dot product is the cosine
// similarity. Suitable for development and tests; production should
// use the pgvector driver.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string][]memoryEntry
}

type memoryEntry struct {
	clause model.Clause
	vector []float32
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		entries: make(map[string][]memoryEntry),
	}
}

func (m *MemoryIndex) Init(ctx context.Context) error {
	return nil
}

func (m *MemoryIndex) Upsert(ctx context.Context, contractID string, clauses []model.Clause, vectors [][]float32) error {
	if len(clauses) != len(vectors) {
		return model.NewValidationError("clauses and vectors length mismatch: %d != %d", len(clauses), len(vectors))
	}

	entries := make([]memoryEntry, len(clauses))
	for i := range clauses {
		vec := append([]float32(nil), vectors[i]...)
		entries[i] = memoryEntry{clause: clauses[i], vector: vec}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[contractID] = entries
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, contractID string, vector []float32, topK int) ([]ScoredClause, error) {
	if topK <= 0 {
		topK = 5
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.entries[contractID]
	results := make([]ScoredClause, 0, len(entries))
	for _, e := range entries {
		results = append(results, ScoredClause{
			Clause: e.clause,
			Score:  dot(e.vector, vector),
		})
	}

	// Score descending, position ascending on ties so results are
	// deterministic.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Clause.Position < results[j].Clause.Position
	})

	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryIndex) DeleteContract(ctx context.Context, contractID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, contractID)
	return nil
}

// Count returns the number of indexed clauses for the contract.
func (m *MemoryIndex) Count(contractID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[contractID])
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
