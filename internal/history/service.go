// Package history runs blame and history reconstruction over stage chains,
// either supplied directly or persisted through a ChangeStageRepository.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/rpattn/asset360/internal/blame"
	"github.com/rpattn/asset360/internal/ctxlog"
	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/domain"
	"github.com/rpattn/asset360/internal/instance"
	"github.com/rpattn/asset360/internal/report"
	"github.com/rpattn/asset360/internal/repository"
	"github.com/rpattn/asset360/internal/schema"
)

var (
	// ErrInvalidStage is returned when a stage payload cannot be decoded.
	ErrInvalidStage = errors.New("invalid stage")
	// ErrClassMismatch is returned when a stage does not belong to its chain.
	ErrClassMismatch = errors.New("stage class does not match chain")
)

// Service ties the schema view, the blame engine and stage persistence
// together.
type Service struct {
	schemas *schema.SchemaView
	repo    repository.ChangeStageRepository
}

// NewService creates a Service. repo may be nil when only the stateless
// operations are used.
func NewService(schemas *schema.SchemaView, repo repository.ChangeStageRepository) *Service {
	return &Service{schemas: schemas, repo: repo}
}

// Schemas returns the schema view stages are decoded against.
func (s *Service) Schemas() *schema.SchemaView {
	return s.schemas
}

// BlameReport is the outcome of applying a chain onto its base.
type BlameReport struct {
	Stages   []blame.ChangeStage
	Result   blame.ApplyResult
	Entries  []blame.PathMeta
	Text     string
	Warnings []string
}

// Blame applies stages[1:] onto the value of stages[0].
func (s *Service) Blame(ctx context.Context, stages []blame.ChangeStage) (BlameReport, error) {
	if len(stages) == 0 {
		return BlameReport{}, blame.ErrNoStages
	}
	result, err := blame.ApplyDeltas(stages[0].Value, stages[1:])
	if err != nil {
		return BlameReport{}, fmt.Errorf("failed to apply stages: %w", err)
	}

	logger := ctxlog.FromContext(ctx)
	rejected := 0
	for i, paths := range result.Rejected {
		if len(paths) > 0 {
			rejected += len(paths)
			logger.Debug("stage deltas rejected", "change_id", stages[i+1].Meta.ChangeID, "count", len(paths))
		}
	}
	logger.Info("blame computed", "stages", len(stages), "blamed_nodes", len(result.Blame), "rejected", rejected)

	return BlameReport{
		Stages:  stages,
		Result:  result,
		Entries: blame.BlameMapToPathStageMap(result.Value, result.Blame),
		Text:    blame.FormatBlameMap(result.Value, result.Blame),
	}, nil
}

// BlamePayloads decodes a JSON array of stage payloads and blames it.
func (s *Service) BlamePayloads(ctx context.Context, data []byte) (BlameReport, error) {
	stages, warnings, err := s.decodeArray(data)
	if err != nil {
		return BlameReport{}, err
	}
	out, err := s.Blame(ctx, stages)
	if err != nil {
		return BlameReport{}, err
	}
	out.Warnings = warnings
	return out, nil
}

// History recomputes the deltas of a chain of snapshots.
func (s *Service) History(ctx context.Context, stages []blame.ChangeStage) ([]blame.ChangeStage, error) {
	_, history, err := blame.ComputeHistory(stages)
	if err != nil {
		return nil, fmt.Errorf("failed to compute history: %w", err)
	}
	ctxlog.FromContext(ctx).Info("history computed", "stages", len(history))
	return history, nil
}

// HistoryPayloads decodes a JSON array of stage payloads and recomputes
// their deltas.
func (s *Service) HistoryPayloads(ctx context.Context, data []byte) ([]blame.ChangeStage, error) {
	stages, _, err := s.decodeArray(data)
	if err != nil {
		return nil, err
	}
	return s.History(ctx, stages)
}

// DecodeStages decodes a JSON array of stage payloads without applying
// them.
func (s *Service) DecodeStages(data []byte) ([]blame.ChangeStage, error) {
	stages, _, err := s.decodeArray(data)
	return stages, err
}

// CreateChain registers an empty chain for a class the schema knows.
func (s *Service) CreateChain(ctx context.Context, classID, label string) (domain.ChangeChain, error) {
	cv, ok := s.schemas.GetClassView(classID)
	if !ok {
		return domain.ChangeChain{}, fmt.Errorf("%w: %s", instance.ErrUnresolvedClass, classID)
	}
	chain, err := s.repo.CreateChain(ctx, domain.ChangeChain{ClassID: cv.ID(), Label: label})
	if err != nil {
		return domain.ChangeChain{}, fmt.Errorf("failed to create chain: %w", err)
	}
	ctxlog.FromContext(ctx).Info("chain created", "chain_id", chain.ID, "class_id", chain.ClassID)
	return chain, nil
}

// GetChain returns a stored chain.
func (s *Service) GetChain(ctx context.Context, id uuid.UUID) (domain.ChangeChain, error) {
	return s.repo.GetChain(ctx, id)
}

// ListChains pages through stored chains.
func (s *Service) ListChains(ctx context.Context, limit, offset int) ([]domain.ChangeChain, error) {
	return s.repo.ListChains(ctx, limit, offset)
}

// AppendStage validates a stage payload and stores it at the end of the
// chain. The stored payload is the re-encoded stage, so numbers and key
// order are normalised.
func (s *Service) AppendStage(ctx context.Context, chainID uuid.UUID, payload []byte) (domain.StoredStage, []string, error) {
	chain, err := s.repo.GetChain(ctx, chainID)
	if err != nil {
		return domain.StoredStage{}, nil, err
	}
	stage, issues, err := s.decodeOne(payload)
	if err != nil {
		return domain.StoredStage{}, nil, err
	}
	if !s.belongsTo(stage.Value.Class(), chain.ClassID) {
		return domain.StoredStage{}, nil, fmt.Errorf("%w: %s is not %s", ErrClassMismatch, stage.Value.Class().ID(), chain.ClassID)
	}
	encoded, err := stage.MarshalPayload()
	if err != nil {
		return domain.StoredStage{}, nil, err
	}
	stored, err := s.repo.AppendStage(ctx, chainID, stage.Meta.ChangeID, encoded)
	if err != nil {
		return domain.StoredStage{}, nil, fmt.Errorf("failed to store stage: %w", err)
	}
	ctxlog.FromContext(ctx).Info("stage appended", "chain_id", chainID, "ordinal", stored.Ordinal, "change_id", stored.ChangeID, "issues", len(issues))
	return stored, issues, nil
}

// ChainStages loads and decodes every stage of a chain in order.
func (s *Service) ChainStages(ctx context.Context, chainID uuid.UUID) ([]blame.ChangeStage, error) {
	stored, err := s.repo.ListStages(ctx, chainID)
	if err != nil {
		return nil, err
	}
	stages := make([]blame.ChangeStage, 0, len(stored))
	for _, row := range stored {
		stage, _, err := s.decodeOne(row.Payload)
		if err != nil {
			return nil, fmt.Errorf("stage %d of chain %s: %w", row.Ordinal, chainID, err)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// ChainBlame blames the stored stages of a chain.
func (s *Service) ChainBlame(ctx context.Context, chainID uuid.UUID) (BlameReport, error) {
	stages, err := s.ChainStages(ctx, chainID)
	if err != nil {
		return BlameReport{}, err
	}
	return s.Blame(ctx, stages)
}

// RebuildChain replaces the stored deltas of a chain with the ones
// recomputed from its snapshots.
func (s *Service) RebuildChain(ctx context.Context, chainID uuid.UUID) ([]blame.ChangeStage, error) {
	stages, err := s.ChainStages(ctx, chainID)
	if err != nil {
		return nil, err
	}
	history, err := s.History(ctx, stages)
	if err != nil {
		return nil, err
	}
	inputs := make([]repository.StageInput, len(history))
	for i, stage := range history {
		encoded, err := stage.MarshalPayload()
		if err != nil {
			return nil, err
		}
		inputs[i] = repository.StageInput{ChangeID: stage.Meta.ChangeID, Payload: encoded}
	}
	if _, err := s.repo.ReplaceStages(ctx, chainID, inputs); err != nil {
		return nil, fmt.Errorf("failed to store rebuilt chain: %w", err)
	}
	ctxlog.FromContext(ctx).Info("chain rebuilt", "chain_id", chainID, "stages", len(history))
	return history, nil
}

// ErrStageOutOfRange is returned when a diff names a stage the chain
// does not have.
var ErrStageOutOfRange = errors.New("stage out of range")

// StageDiff renders a canonical line diff between the snapshot values of
// two stages. A stage without a snapshot value diffs as empty.
func StageDiff(stages []blame.ChangeStage, from, to int) (string, error) {
	for _, idx := range []int{from, to} {
		if idx < 0 || idx >= len(stages) {
			return "", fmt.Errorf("%w: %d of %d", ErrStageOutOfRange, idx, len(stages))
		}
	}
	return report.UnifiedDiff(
		stageLabel(from, stages[from]), stages[from].Value,
		stageLabel(to, stages[to]), stages[to].Value,
	), nil
}

func stageLabel(idx int, stage blame.ChangeStage) string {
	return fmt.Sprintf("stage %d (change %d by %s)", idx, stage.Meta.ChangeID, stage.Meta.Author)
}

// ExportXLSX writes the blame workbook of a report.
func ExportXLSX(w io.Writer, out BlameReport) error {
	var applied []blame.ChangeStage
	if len(out.Stages) > 0 {
		applied = out.Stages[1:]
	}
	return report.WriteXLSX(w,
		report.Rows(out.Result.Value, out.Result.Blame),
		report.Rejections(applied, out.Result.Rejected),
	)
}

// RejectedByStage pairs each applied stage's change id with its rejected
// paths, skipping stages without conflicts.
func RejectedByStage(out BlameReport) map[uint64][]delta.Path {
	rejected := map[uint64][]delta.Path{}
	for i, paths := range out.Result.Rejected {
		if len(paths) == 0 || i+1 >= len(out.Stages) {
			continue
		}
		id := out.Stages[i+1].Meta.ChangeID
		rejected[id] = append(rejected[id], paths...)
	}
	return rejected
}

// belongsTo accepts the chain class itself and any subclass a type
// designator may have selected.
func (s *Service) belongsTo(cv *schema.ClassView, chainClassID string) bool {
	if cv == nil {
		return false
	}
	if cv.ID() == chainClassID {
		return true
	}
	chainClass, ok := s.schemas.GetClassView(chainClassID)
	return ok && s.schemas.IsDescendant(cv.Name(), chainClass.Name())
}

func (s *Service) decodeOne(payload []byte) (blame.ChangeStage, []string, error) {
	var raw map[string]any
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return blame.ChangeStage{}, nil, fmt.Errorf("%w: %w", ErrInvalidStage, err)
	}
	stage, issues, err := blame.DecodeStage(s.schemas, raw)
	if err != nil {
		return blame.ChangeStage{}, nil, fmt.Errorf("%w: %w", ErrInvalidStage, err)
	}
	return stage, issues, nil
}

func (s *Service) decodeArray(data []byte) ([]blame.ChangeStage, []string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, nil, fmt.Errorf("%w: expected a list of stages: %w", ErrInvalidStage, err)
	}
	stages := make([]blame.ChangeStage, 0, len(items))
	var warnings []string
	for i, item := range items {
		stage, issues, err := s.decodeOne(item)
		if err != nil {
			return nil, nil, fmt.Errorf("stage %d: %w", i, err)
		}
		for _, issue := range issues {
			warnings = append(warnings, fmt.Sprintf("stage %d: %s", i, issue))
		}
		stages = append(stages, stage)
	}
	return stages, warnings, nil
}
