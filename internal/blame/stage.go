package blame

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/instance"
	"github.com/rpattn/asset360/internal/schema"
)

// Presence records how an optional list key appeared in a persisted stage.
type Presence int

const (
	// PresenceAbsent omits the key.
	PresenceAbsent Presence = iota
	// PresenceNull writes an explicit null.
	PresenceNull
	// PresenceList writes the list, empty or not.
	PresenceList
)

// ChangeStage is one authored change: its metadata, the full value after
// the change and the deltas that produced it from the previous stage.
// RejectedPaths lists deltas that could not be applied. DeltasPresence and
// Rejected keep the absent, null or list form of their keys so a decoded
// payload encodes back unchanged.
type ChangeStage struct {
	Meta           ChangeMeta
	Value          *instance.Instance
	Deltas         []delta.Delta
	DeltasPresence Presence
	RejectedPaths  []delta.Path
	Rejected       Presence
}

// NewStage builds a stage that always writes its deltas and writes its
// rejected paths only when there are some.
func NewStage(meta ChangeMeta, value *instance.Instance, deltas []delta.Delta, rejected []delta.Path) ChangeStage {
	stage := ChangeStage{Meta: meta, Value: value, Deltas: deltas, DeltasPresence: PresenceList, RejectedPaths: rejected}
	if len(rejected) > 0 {
		stage.Rejected = PresenceList
	}
	return stage
}

// ToJSON returns the persisted payload as a generic JSON object.
func (s ChangeStage) ToJSON() map[string]any {
	payload := map[string]any{
		"meta": s.Meta.ToDict(),
	}
	switch {
	case s.DeltasPresence == PresenceNull:
		payload["deltas"] = nil
	case s.DeltasPresence == PresenceList || len(s.Deltas) > 0:
		deltas := make([]any, len(s.Deltas))
		for i, d := range s.Deltas {
			deltas[i] = d.ToGeneric()
		}
		payload["deltas"] = deltas
	}
	if s.Value != nil {
		payload["value"] = s.Value.ToJSON()
		if cv := s.Value.Class(); cv != nil {
			payload["class_id"] = cv.ID()
		}
	} else {
		payload["value"] = nil
	}
	switch {
	case s.Rejected == PresenceNull:
		payload["rejected_paths"] = nil
	case s.Rejected == PresenceList || len(s.RejectedPaths) > 0:
		paths := make([]any, len(s.RejectedPaths))
		for i, p := range s.RejectedPaths {
			paths[i] = delta.PathToGeneric(p)
		}
		payload["rejected_paths"] = paths
	}
	return payload
}

// MarshalPayload encodes ToJSON.
func (s ChangeStage) MarshalPayload() ([]byte, error) {
	data, err := json.Marshal(s.ToJSON())
	if err != nil {
		return nil, fmt.Errorf("failed to encode stage %d: %w", s.Meta.ChangeID, err)
	}
	return data, nil
}

// FromJSON rebuilds a stage from its generic payload. Validation issues in
// the value are tolerated; use DecodeStage to inspect them.
func FromJSON(sv *schema.SchemaView, payload map[string]any) (ChangeStage, error) {
	stage, _, err := DecodeStage(sv, payload)
	return stage, err
}

// UnmarshalPayload decodes payload bytes and rebuilds the stage.
func UnmarshalPayload(sv *schema.SchemaView, data []byte) (ChangeStage, error) {
	payload, err := decodeObject(data)
	if err != nil {
		return ChangeStage{}, err
	}
	return FromJSON(sv, payload)
}

// DecodeStage rebuilds a stage and returns the issues found while
// validating its value.
func DecodeStage(sv *schema.SchemaView, payload map[string]any) (ChangeStage, []string, error) {
	if sv == nil {
		return ChangeStage{}, nil, fmt.Errorf("failed to decode stage: %w", instance.ErrUnresolvedClass)
	}
	classID, ok := payload["class_id"].(string)
	if !ok {
		return ChangeStage{}, nil, fmt.Errorf("failed to decode stage: missing class_id")
	}
	cv, ok := sv.GetClassView(classID)
	if !ok {
		return ChangeStage{}, nil, fmt.Errorf("failed to decode stage: %w: %s", instance.ErrUnresolvedClass, classID)
	}

	rawMeta, ok := payload["meta"].(map[string]any)
	if !ok {
		return ChangeStage{}, nil, fmt.Errorf("failed to decode stage: missing meta")
	}
	meta, err := MetaFromDict(rawMeta)
	if err != nil {
		return ChangeStage{}, nil, fmt.Errorf("failed to decode stage meta: %w", err)
	}

	value, issues, err := instance.FromValue(payload["value"], sv, cv)
	if err != nil {
		return ChangeStage{}, nil, fmt.Errorf("failed to decode stage %d value: %w", meta.ChangeID, err)
	}

	stage := ChangeStage{Meta: meta, Value: value}
	if rawDeltas, present := payload["deltas"]; present && rawDeltas == nil {
		stage.DeltasPresence = PresenceNull
	} else if present {
		items, ok := rawDeltas.([]any)
		if !ok {
			return ChangeStage{}, nil, fmt.Errorf("failed to decode stage %d: deltas must be a list", meta.ChangeID)
		}
		stage.DeltasPresence = PresenceList
		stage.Deltas = make([]delta.Delta, 0, len(items))
		for i, item := range items {
			object, ok := item.(map[string]any)
			if !ok {
				return ChangeStage{}, nil, fmt.Errorf("failed to decode stage %d: delta %d must be an object", meta.ChangeID, i)
			}
			d, err := delta.FromGeneric(object)
			if err != nil {
				return ChangeStage{}, nil, fmt.Errorf("failed to decode stage %d delta %d: %w", meta.ChangeID, i, err)
			}
			stage.Deltas = append(stage.Deltas, d)
		}
	}

	if rawRejected, present := payload["rejected_paths"]; present {
		if rawRejected == nil {
			stage.Rejected = PresenceNull
		} else {
			items, ok := rawRejected.([]any)
			if !ok {
				return ChangeStage{}, nil, fmt.Errorf("failed to decode stage %d: rejected_paths must be a list", meta.ChangeID)
			}
			stage.Rejected = PresenceList
			stage.RejectedPaths = make([]delta.Path, 0, len(items))
			for i, item := range items {
				p, err := delta.PathFromGeneric(item)
				if err != nil {
					return ChangeStage{}, nil, fmt.Errorf("failed to decode stage %d rejected path %d: %w", meta.ChangeID, i, err)
				}
				stage.RejectedPaths = append(stage.RejectedPaths, p)
			}
		}
	}
	return stage, issues, nil
}

// DecodeStages reads a JSON array of stage payloads.
func DecodeStages(sv *schema.SchemaView, data []byte) ([]ChangeStage, error) {
	raw, err := decodeGeneric(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stages: %w", err)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("failed to parse stages: expected a list, got %T", raw)
	}
	stages := make([]ChangeStage, 0, len(items))
	for i, item := range items {
		payload, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("failed to parse stage %d: expected an object", i)
		}
		stage, err := FromJSON(sv, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stage %d: %w", i, err)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// EncodeStages writes stages as a JSON array of payloads.
func EncodeStages(stages []ChangeStage) ([]byte, error) {
	payloads := make([]any, len(stages))
	for i, stage := range stages {
		payloads[i] = stage.ToJSON()
	}
	data, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stages: %w", err)
	}
	return data, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	raw, err := decodeGeneric(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stage payload: %w", err)
	}
	payload, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("failed to parse stage payload: expected an object, got %T", raw)
	}
	return payload, nil
}

func decodeGeneric(data []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
