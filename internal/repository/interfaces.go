package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/rpattn/asset360/internal/domain"
)

// ErrNotFound is returned when a chain does not exist.
var ErrNotFound = errors.New("not found")

// ChangeStageRepository persists change chains and their ordered stage
// payloads.
type ChangeStageRepository interface {
	CreateChain(ctx context.Context, chain domain.ChangeChain) (domain.ChangeChain, error)
	GetChain(ctx context.Context, id uuid.UUID) (domain.ChangeChain, error)
	ListChains(ctx context.Context, limit int, offset int) ([]domain.ChangeChain, error)
	AppendStage(ctx context.Context, chainID uuid.UUID, changeID uint64, payload json.RawMessage) (domain.StoredStage, error)
	ListStages(ctx context.Context, chainID uuid.UUID) ([]domain.StoredStage, error)
	ReplaceStages(ctx context.Context, chainID uuid.UUID, stages []StageInput) ([]domain.StoredStage, error)
}

// StageInput is a stage payload waiting to be stored.
type StageInput struct {
	ChangeID uint64
	Payload  json.RawMessage
}
