package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/asset360/internal/db"
	"github.com/rpattn/asset360/internal/domain"
)

// Store is the subset of *pgxpool.Pool the repository needs.
type Store interface {
	db.DBTX
	db.TxBeginner
}

type changeStageRepository struct {
	store Store
}

// NewChangeStageRepository creates a pgx-backed ChangeStageRepository.
func NewChangeStageRepository(store Store) ChangeStageRepository {
	return &changeStageRepository{store: store}
}

const chainColumns = `c.id, c.class_id, c.label, c.created_at,
	(SELECT COUNT(*) FROM change_stages s WHERE s.chain_id = c.id)`

func (r *changeStageRepository) CreateChain(ctx context.Context, chain domain.ChangeChain) (domain.ChangeChain, error) {
	if chain.ClassID == "" {
		return domain.ChangeChain{}, fmt.Errorf("create change chain: class id is required")
	}
	if chain.ID == uuid.Nil {
		chain.ID = uuid.New()
	}
	row := r.store.QueryRow(ctx,
		`INSERT INTO change_chains (id, class_id, label) VALUES ($1, $2, $3) RETURNING created_at`,
		chain.ID, chain.ClassID, chain.Label,
	)
	if err := row.Scan(&chain.CreatedAt); err != nil {
		return domain.ChangeChain{}, fmt.Errorf("create change chain: %w", err)
	}
	chain.StageCount = 0
	return chain, nil
}

func (r *changeStageRepository) GetChain(ctx context.Context, id uuid.UUID) (domain.ChangeChain, error) {
	row := r.store.QueryRow(ctx, `SELECT `+chainColumns+` FROM change_chains c WHERE c.id = $1`, id)
	chain, err := scanChain(row)
	if err != nil {
		return domain.ChangeChain{}, fmt.Errorf("get change chain %s: %w", id, err)
	}
	return chain, nil
}

func (r *changeStageRepository) ListChains(ctx context.Context, limit int, offset int) ([]domain.ChangeChain, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.store.Query(ctx,
		`SELECT `+chainColumns+` FROM change_chains c ORDER BY c.created_at, c.id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list change chains: %w", err)
	}
	defer rows.Close()

	chains := []domain.ChangeChain{}
	for rows.Next() {
		chain, err := scanChain(rows)
		if err != nil {
			return nil, fmt.Errorf("list change chains: %w", err)
		}
		chains = append(chains, chain)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list change chains: %w", err)
	}
	return chains, nil
}

func (r *changeStageRepository) AppendStage(ctx context.Context, chainID uuid.UUID, changeID uint64, payload json.RawMessage) (domain.StoredStage, error) {
	storedID, err := changeIDToColumn(changeID)
	if err != nil {
		return domain.StoredStage{}, err
	}

	var stage domain.StoredStage
	err = db.WithTx(ctx, r.store, func(tx pgx.Tx) error {
		if err := lockChain(ctx, tx, chainID); err != nil {
			return err
		}
		var next int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(ordinal) + 1, 0) FROM change_stages WHERE chain_id = $1`, chainID,
		).Scan(&next); err != nil {
			return fmt.Errorf("next stage ordinal: %w", err)
		}
		inserted, err := insertStage(ctx, tx, chainID, next, storedID, payload)
		if err != nil {
			return err
		}
		stage = inserted
		return nil
	})
	if err != nil {
		return domain.StoredStage{}, fmt.Errorf("append stage to chain %s: %w", chainID, err)
	}
	return stage, nil
}

func (r *changeStageRepository) ListStages(ctx context.Context, chainID uuid.UUID) ([]domain.StoredStage, error) {
	if _, err := r.GetChain(ctx, chainID); err != nil {
		return nil, err
	}
	rows, err := r.store.Query(ctx,
		`SELECT chain_id, ordinal, change_id, payload, created_at
		   FROM change_stages WHERE chain_id = $1 ORDER BY ordinal`,
		chainID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stages of chain %s: %w", chainID, err)
	}
	defer rows.Close()

	stages := []domain.StoredStage{}
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("list stages of chain %s: %w", chainID, err)
		}
		stages = append(stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stages of chain %s: %w", chainID, err)
	}
	return stages, nil
}

// ReplaceStages swaps the whole stage list of a chain, renumbering from 0.
func (r *changeStageRepository) ReplaceStages(ctx context.Context, chainID uuid.UUID, stages []StageInput) ([]domain.StoredStage, error) {
	ids := make([]int64, len(stages))
	for i, input := range stages {
		id, err := changeIDToColumn(input.ChangeID)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	stored := make([]domain.StoredStage, 0, len(stages))
	err := db.WithTx(ctx, r.store, func(tx pgx.Tx) error {
		if err := lockChain(ctx, tx, chainID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM change_stages WHERE chain_id = $1`, chainID); err != nil {
			return fmt.Errorf("clear stages: %w", err)
		}
		for i, input := range stages {
			stage, err := insertStage(ctx, tx, chainID, i, ids[i], input.Payload)
			if err != nil {
				return err
			}
			stored = append(stored, stage)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replace stages of chain %s: %w", chainID, err)
	}
	return stored, nil
}

func lockChain(ctx context.Context, tx pgx.Tx, chainID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM change_chains WHERE id = $1 FOR UPDATE`, chainID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock chain: %w", err)
	}
	return nil
}

func insertStage(ctx context.Context, tx pgx.Tx, chainID uuid.UUID, ordinal int, changeID int64, payload json.RawMessage) (domain.StoredStage, error) {
	if !json.Valid(payload) {
		return domain.StoredStage{}, fmt.Errorf("stage %d payload is not valid JSON", ordinal)
	}
	row := tx.QueryRow(ctx,
		`INSERT INTO change_stages (chain_id, ordinal, change_id, payload)
		 VALUES ($1, $2, $3, $4)
		 RETURNING chain_id, ordinal, change_id, payload, created_at`,
		chainID, ordinal, changeID, []byte(payload),
	)
	stage, err := scanStage(row)
	if err != nil {
		return domain.StoredStage{}, fmt.Errorf("insert stage %d: %w", ordinal, err)
	}
	return stage, nil
}

func scanChain(row pgx.Row) (domain.ChangeChain, error) {
	var (
		id        uuid.UUID
		classID   string
		label     string
		createdAt time.Time
		count     int64
	)
	if err := row.Scan(&id, &classID, &label, &createdAt, &count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ChangeChain{}, ErrNotFound
		}
		return domain.ChangeChain{}, err
	}
	return domain.ChangeChain{
		ID:         id,
		ClassID:    classID,
		Label:      label,
		CreatedAt:  createdAt,
		StageCount: int(count),
	}, nil
}

func scanStage(row pgx.Row) (domain.StoredStage, error) {
	var (
		chainID   uuid.UUID
		ordinal   int32
		changeID  int64
		payload   []byte
		createdAt time.Time
	)
	if err := row.Scan(&chainID, &ordinal, &changeID, &payload, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StoredStage{}, ErrNotFound
		}
		return domain.StoredStage{}, err
	}
	if changeID < 0 {
		return domain.StoredStage{}, fmt.Errorf("stored change id %d is negative", changeID)
	}
	return domain.StoredStage{
		ChainID:   chainID,
		Ordinal:   int(ordinal),
		ChangeID:  uint64(changeID),
		Payload:   json.RawMessage(payload),
		CreatedAt: createdAt,
	}, nil
}

func changeIDToColumn(changeID uint64) (int64, error) {
	if changeID > math.MaxInt64 {
		return 0, fmt.Errorf("change id %d does not fit a BIGINT column", changeID)
	}
	return int64(changeID), nil
}
