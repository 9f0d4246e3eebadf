package blame

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMetaDirectEncoding is returned when ChangeMeta is handed to a generic
// encoder instead of being converted with ToDict.
var ErrMetaDirectEncoding = errors.New("blame.ChangeMeta cannot be encoded directly; convert it with ChangeMeta.ToDict()")

// ChangeMeta describes who made a change and where it came from. ChangeID
// orders and identifies a stage; ICSID correlates it with the external
// change system.
type ChangeMeta struct {
	Author    string
	Timestamp string
	Source    string
	ChangeID  uint64
	ICSID     uint64
}

// MarshalJSON always fails; use ToDict.
func (m ChangeMeta) MarshalJSON() ([]byte, error) {
	return nil, ErrMetaDirectEncoding
}

// MarshalYAML always fails; use ToDict.
func (m ChangeMeta) MarshalYAML() (any, error) {
	return nil, ErrMetaDirectEncoding
}

// ToDict converts the metadata into its generic form. Ids are json.Number
// so the dict round-trips through JSON unchanged.
func (m ChangeMeta) ToDict() map[string]any {
	return map[string]any{
		"author":    m.Author,
		"timestamp": m.Timestamp,
		"source":    m.Source,
		"change_id": json.Number(strconv.FormatUint(m.ChangeID, 10)),
		"ics_id":    json.Number(strconv.FormatUint(m.ICSID, 10)),
	}
}

// MetaFromDict reads metadata from its generic form. Every key is required.
func MetaFromDict(raw map[string]any) (ChangeMeta, error) {
	var meta ChangeMeta
	var err error
	if meta.Author, err = requireString(raw, "author"); err != nil {
		return ChangeMeta{}, err
	}
	if meta.Timestamp, err = requireString(raw, "timestamp"); err != nil {
		return ChangeMeta{}, err
	}
	if meta.Source, err = requireString(raw, "source"); err != nil {
		return ChangeMeta{}, err
	}
	if meta.ChangeID, err = requireUint(raw, "change_id"); err != nil {
		return ChangeMeta{}, err
	}
	if meta.ICSID, err = requireUint(raw, "ics_id"); err != nil {
		return ChangeMeta{}, err
	}
	return meta, nil
}

func requireString(raw map[string]any, key string) (string, error) {
	value, ok := raw[key]
	if !ok {
		return "", fmt.Errorf("missing '%s' in metadata", key)
	}
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("metadata '%s' must be a string, got %T", key, value)
	}
	return text, nil
}

func requireUint(raw map[string]any, key string) (uint64, error) {
	value, ok := raw[key]
	if !ok {
		return 0, fmt.Errorf("missing '%s' in metadata", key)
	}
	switch typed := value.(type) {
	case json.Number:
		parsed, err := strconv.ParseUint(typed.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("metadata '%s' must be a non-negative integer: %w", key, err)
		}
		return parsed, nil
	case float64:
		if typed < 0 || typed != float64(uint64(typed)) {
			return 0, fmt.Errorf("metadata '%s' must be a non-negative integer, got %v", key, typed)
		}
		return uint64(typed), nil
	case int:
		if typed < 0 {
			return 0, fmt.Errorf("metadata '%s' must be a non-negative integer, got %d", key, typed)
		}
		return uint64(typed), nil
	case int64:
		if typed < 0 {
			return 0, fmt.Errorf("metadata '%s' must be a non-negative integer, got %d", key, typed)
		}
		return uint64(typed), nil
	case uint64:
		return typed, nil
	default:
		return 0, fmt.Errorf("metadata '%s' must be an integer, got %T", key, value)
	}
}
