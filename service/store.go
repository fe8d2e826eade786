package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Sarthak2477/Legal-Document-Processor/config"
	"github.com/Sarthak2477/Legal-Document-Processor/model"
)

// ContractStore is an in-memory store for contracts and their pipeline
// state. All state-machine transitions go through it, so a stage is
// only considered started once the store accepted the transition, and
// a stage's output is only considered complete once the store holds it.
// In production, this should be replaced with a database.
type ContractStore struct {
	contracts    map[string]*model.Contract
	mu           sync.RWMutex
	maxContracts int // Maximum contracts to keep, 0 = unlimited
}

var (
	globalStore *ContractStore
	storeOnce   sync.Once
)

// InitContractStore initializes the global contract store with configuration
func InitContractStore(cfg *config.StoreConfig) {
	storeOnce.Do(func() {
		maxContracts := cfg.MaxContracts
		if maxContracts < 0 {
			maxContracts = 0
		}
		globalStore = &ContractStore{
			contracts:    make(map[string]*model.Contract),
			maxContracts: maxContracts,
		}
		slog.Info("contract store initialized", "max_contracts", maxContracts)
	})
}

// GetContractStore returns the global contract store
func GetContractStore() *ContractStore {
	if globalStore == nil {
		// Fallback initialization with default settings
		globalStore = &ContractStore{
			contracts:    make(map[string]*model.Contract),
			maxContracts: 100, // Default: keep 100 contracts
		}
	}
	return globalStore
}

// NewContractStore creates an isolated store, used by tests.
func NewContractStore(maxContracts int) *ContractStore {
	return &ContractStore{
		contracts:    make(map[string]*model.Contract),
		maxContracts: maxContracts,
	}
}

func (s *ContractStore) Save(contract *model.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract.UpdatedAt = time.Now()
	s.contracts[contract.ID] = contract

	// Cleanup if exceeds max
	s.cleanupIfNeeded()
}

// Get returns a snapshot of the contract. Callers never share memory
// with the pipeline goroutine that mutates the stored record.
func (s *ContractStore) Get(id string) *model.Contract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[id]
	if !ok {
		return nil
	}
	return snapshot(c)
}

func (s *ContractStore) GetByTenant(tenant string) []*model.Contract {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Contract
	for _, c := range s.contracts {
		if c.Tenant == tenant {
			result = append(result, snapshot(c))
		}
	}
	return result
}

func (s *ContractStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contracts, id)
}

// SetStage moves the contract into the given stage's in-flight status.
// The transition is validated against the state machine; an illegal
// move is rejected and the stored record is left untouched.
func (s *ContractStore) SetStage(id, stage string) error {
	status := model.StageStatus(stage)
	if status == "" {
		return fmt.Errorf("unknown stage %q", stage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return model.ErrContractNotFound
	}
	if !model.ValidTransition(c.Status, status) {
		return fmt.Errorf("invalid transition %s -> %s for contract %s", c.Status, status, id)
	}
	c.Status = status
	c.CurrentStage = stage
	c.Error = nil
	c.UpdatedAt = time.Now()
	return nil
}

// SetReady marks the contract as fully processed and queryable.
func (s *ContractStore) SetReady(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return model.ErrContractNotFound
	}
	if !model.ValidTransition(c.Status, model.StatusReady) {
		return fmt.Errorf("invalid transition %s -> %s for contract %s", c.Status, model.StatusReady, id)
	}
	c.Status = model.StatusReady
	c.CurrentStage = ""
	c.Error = nil
	c.UpdatedAt = time.Now()
	return nil
}

// SetFailed marks the run as failed with a structured failure.
func (s *ContractStore) SetFailed(id string, failure *model.StageFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return model.ErrContractNotFound
	}
	if !model.ValidTransition(c.Status, model.StatusFailed) {
		return fmt.Errorf("invalid transition %s -> %s for contract %s", c.Status, model.StatusFailed, id)
	}
	c.Status = model.StatusFailed
	c.Error = failure
	c.UpdatedAt = time.Now()
	return nil
}

// SetCancelled marks the run as cancelled.
func (s *ContractStore) SetCancelled(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return model.ErrContractNotFound
	}
	if !model.ValidTransition(c.Status, model.StatusCancelled) {
		return fmt.Errorf("invalid transition %s -> %s for contract %s", c.Status, model.StatusCancelled, id)
	}
	c.Status = model.StatusCancelled
	c.UpdatedAt = time.Now()
	return nil
}

// ResetForReprocess puts a terminal FAILED or CANCELLED contract back
// at the start of the pipeline, clearing the previous run's artifacts.
func (s *ContractStore) ResetForReprocess(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return model.ErrContractNotFound
	}
	if !model.ValidTransition(c.Status, model.StatusExtracting) {
		return fmt.Errorf("cannot reprocess contract %s in status %s", id, c.Status)
	}
	c.Status = model.StatusExtracting
	c.CurrentStage = model.StageExtraction
	c.Error = nil
	c.RawText = ""
	c.Clauses = nil
	c.ClauseCount = 0
	c.StageOutputs = nil
	c.UpdatedAt = time.Now()
	return nil
}

// SaveRawText persists the extraction stage's output.
func (s *ContractStore) SaveRawText(id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return model.ErrContractNotFound
	}
	c.RawText = text
	c.UpdatedAt = time.Now()
	return nil
}

// SaveClauses persists the current clause set. Called by the
// segmentation, normalization and embedding stages as each refines the
// clauses.
func (s *ContractStore) SaveClauses(id string, clauses []model.Clause) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return model.ErrContractNotFound
	}
	c.Clauses = append([]model.Clause(nil), clauses...)
	c.ClauseCount = len(clauses)
	c.UpdatedAt = time.Now()
	return nil
}

// AppendStageOutput records that a stage's output is durably stored.
// The next stage only starts after this call returns.
func (s *ContractStore) AppendStageOutput(id string, out model.StageOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return model.ErrContractNotFound
	}
	c.StageOutputs = append(c.StageOutputs, out)
	c.UpdatedAt = time.Now()
	return nil
}

// cleanupIfNeeded removes oldest contracts if store exceeds maxContracts.
// Only contracts in a terminal state are eviction candidates; a contract
// with an active pipeline run must stay resolvable until the run ends.
// Must be called with lock held
func (s *ContractStore) cleanupIfNeeded() {
	if s.maxContracts <= 0 {
		return // Unlimited
	}

	if len(s.contracts) <= s.maxContracts {
		return
	}

	// Sort evictable contracts by creation time
	contracts := make([]*model.Contract, 0, len(s.contracts))
	for _, c := range s.contracts {
		if model.IsTerminal(c.Status) {
			contracts = append(contracts, c)
		}
	}
	sort.Slice(contracts, func(i, j int) bool {
		return contracts[i].CreatedAt.Before(contracts[j].CreatedAt)
	})

	// Remove oldest contracts
	removeCount := len(s.contracts) - s.maxContracts
	if removeCount > len(contracts) {
		removeCount = len(contracts)
	}
	for i := 0; i < removeCount; i++ {
		slog.Info("auto-cleaning old contract",
			"contract_id", contracts[i].ID,
			"created_at", contracts[i].CreatedAt,
		)
		delete(s.contracts, contracts[i].ID)
	}
}

// Count returns the number of contracts in the store
func (s *ContractStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contracts)
}

func snapshot(c *model.Contract) *model.Contract {
	cp := *c
	if c.Clauses != nil {
		cp.Clauses = append([]model.Clause(nil), c.Clauses...)
	}
	if c.StageOutputs != nil {
		cp.StageOutputs = append([]model.StageOutput(nil), c.StageOutputs...)
	}
	if c.Error != nil {
		e := *c.Error
		cp.Error = &e
	}
	return &cp
}
