package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/asset360/internal/domain"
)

type memoryRepository struct {
	mu     sync.RWMutex
	chains map[uuid.UUID]domain.ChangeChain
	stages map[uuid.UUID][]domain.StoredStage
	now    func() time.Time
}

// NewMemoryChangeStageRepository returns a ChangeStageRepository kept in
// process memory. It backs the server when no database is configured.
func NewMemoryChangeStageRepository() ChangeStageRepository {
	return &memoryRepository{
		chains: map[uuid.UUID]domain.ChangeChain{},
		stages: map[uuid.UUID][]domain.StoredStage{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *memoryRepository) CreateChain(_ context.Context, chain domain.ChangeChain) (domain.ChangeChain, error) {
	if chain.ClassID == "" {
		return domain.ChangeChain{}, fmt.Errorf("create change chain: class id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if chain.ID == uuid.Nil {
		chain.ID = uuid.New()
	}
	if _, exists := r.chains[chain.ID]; exists {
		return domain.ChangeChain{}, fmt.Errorf("create change chain: %s already exists", chain.ID)
	}
	chain.CreatedAt = r.now()
	chain.StageCount = 0
	r.chains[chain.ID] = chain
	return chain, nil
}

func (r *memoryRepository) GetChain(_ context.Context, id uuid.UUID) (domain.ChangeChain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chainLocked(id)
}

func (r *memoryRepository) chainLocked(id uuid.UUID) (domain.ChangeChain, error) {
	chain, ok := r.chains[id]
	if !ok {
		return domain.ChangeChain{}, fmt.Errorf("get change chain %s: %w", id, ErrNotFound)
	}
	chain.StageCount = len(r.stages[id])
	return chain, nil
}

func (r *memoryRepository) ListChains(_ context.Context, limit int, offset int) ([]domain.ChangeChain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	chains := make([]domain.ChangeChain, 0, len(r.chains))
	for id := range r.chains {
		chain, _ := r.chainLocked(id)
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool {
		if !chains[i].CreatedAt.Equal(chains[j].CreatedAt) {
			return chains[i].CreatedAt.Before(chains[j].CreatedAt)
		}
		return chains[i].ID.String() < chains[j].ID.String()
	})
	if offset >= len(chains) {
		return []domain.ChangeChain{}, nil
	}
	chains = chains[offset:]
	if len(chains) > limit {
		chains = chains[:limit]
	}
	return chains, nil
}

func (r *memoryRepository) AppendStage(_ context.Context, chainID uuid.UUID, changeID uint64, payload json.RawMessage) (domain.StoredStage, error) {
	if _, err := changeIDToColumn(changeID); err != nil {
		return domain.StoredStage{}, err
	}
	if !json.Valid(payload) {
		return domain.StoredStage{}, fmt.Errorf("append stage to chain %s: payload is not valid JSON", chainID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chains[chainID]; !ok {
		return domain.StoredStage{}, fmt.Errorf("append stage to chain %s: %w", chainID, ErrNotFound)
	}
	stage := domain.StoredStage{
		ChainID:   chainID,
		Ordinal:   len(r.stages[chainID]),
		ChangeID:  changeID,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: r.now(),
	}
	r.stages[chainID] = append(r.stages[chainID], stage)
	return stage, nil
}

func (r *memoryRepository) ListStages(_ context.Context, chainID uuid.UUID) ([]domain.StoredStage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.chains[chainID]; !ok {
		return nil, fmt.Errorf("list stages of chain %s: %w", chainID, ErrNotFound)
	}
	return append([]domain.StoredStage{}, r.stages[chainID]...), nil
}

func (r *memoryRepository) ReplaceStages(_ context.Context, chainID uuid.UUID, stages []StageInput) ([]domain.StoredStage, error) {
	for i, input := range stages {
		if _, err := changeIDToColumn(input.ChangeID); err != nil {
			return nil, err
		}
		if !json.Valid(input.Payload) {
			return nil, fmt.Errorf("replace stages of chain %s: stage %d payload is not valid JSON", chainID, i)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chains[chainID]; !ok {
		return nil, fmt.Errorf("replace stages of chain %s: %w", chainID, ErrNotFound)
	}
	now := r.now()
	stored := make([]domain.StoredStage, len(stages))
	for i, input := range stages {
		stored[i] = domain.StoredStage{
			ChainID:   chainID,
			Ordinal:   i,
			ChangeID:  input.ChangeID,
			Payload:   append(json.RawMessage(nil), input.Payload...),
			CreatedAt: now,
		}
	}
	r.stages[chainID] = stored
	return append([]domain.StoredStage{}, stored...), nil
}
