package delta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Op is the kind of edit a delta performs.
type Op string

const (
	OpSet    Op = "set"
	OpAdd    Op = "add"
	OpRemove Op = "remove"
)

// ParseOp validates an operation name.
func ParseOp(raw string) (Op, error) {
	switch Op(raw) {
	case OpSet, OpAdd, OpRemove:
		return Op(raw), nil
	default:
		return "", fmt.Errorf("unknown delta op %q", raw)
	}
}

// Value is an optional JSON value. The zero Value is absent, which is
// distinct from an explicit null (Some(nil)).
type Value struct {
	v   any
	set bool
}

// Some wraps a generic JSON value (string, json.Number, float64, bool, nil,
// []any, map[string]any).
func Some(v any) Value { return Value{v: v, set: true} }

// None is the absent value.
func None() Value { return Value{} }

// IsSet reports whether the value was provided, null included.
func (v Value) IsSet() bool { return v.set }

// IsNull reports an explicit null.
func (v Value) IsNull() bool { return v.set && v.v == nil }

// Get returns the wrapped value; nil when absent.
func (v Value) Get() any { return v.v }

// Delta is a single path-addressed edit. Old and New are snapshots of the
// value before and after; Old, when present, is checked against the live
// value before the edit is applied.
type Delta struct {
	Path Path
	Op   Op
	Old  Value
	New  Value
}

// Set builds a set delta.
func Set(path Path, old, updated any) Delta {
	return Delta{Path: path, Op: OpSet, Old: Some(old), New: Some(updated)}
}

// Add builds an add delta without a precondition.
func Add(path Path, added any) Delta {
	return Delta{Path: path, Op: OpAdd, New: Some(added)}
}

// Remove builds a remove delta carrying the removed value.
func Remove(path Path, old any) Delta {
	return Delta{Path: path, Op: OpRemove, Old: Some(old)}
}

func (d Delta) String() string {
	return fmt.Sprintf("%s %s", d.Op, d.Path)
}

type wireDelta struct {
	Path Path            `json:"path"`
	Op   Op              `json:"op"`
	Old  json.RawMessage `json:"old,omitempty"`
	New  json.RawMessage `json:"new,omitempty"`
}

// MarshalJSON keeps absent old/new out of the output and writes explicit
// nulls as null.
func (d Delta) MarshalJSON() ([]byte, error) {
	wire := wireDelta{Path: d.Path, Op: d.Op}
	if wire.Path == nil {
		wire.Path = Path{}
	}
	if d.Old.IsSet() {
		raw, err := json.Marshal(d.Old.Get())
		if err != nil {
			return nil, fmt.Errorf("failed to encode old value at %s: %w", d.Path, err)
		}
		wire.Old = raw
	}
	if d.New.IsSet() {
		raw, err := json.Marshal(d.New.Get())
		if err != nil {
			return nil, fmt.Errorf("failed to encode new value at %s: %w", d.Path, err)
		}
		wire.New = raw
	}
	return json.Marshal(wire)
}

func (d *Delta) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("failed to decode delta: %w", err)
	}
	generic := make(map[string]any, len(fields))
	for key, raw := range fields {
		value, err := decodeGeneric(raw)
		if err != nil {
			return fmt.Errorf("failed to decode delta field %s: %w", key, err)
		}
		generic[key] = value
	}
	parsed, err := FromGeneric(generic)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ToGeneric renders the delta as a generic JSON object.
func (d Delta) ToGeneric() map[string]any {
	out := map[string]any{
		"path": PathToGeneric(d.Path),
		"op":   string(d.Op),
	}
	if d.Old.IsSet() {
		out["old"] = d.Old.Get()
	}
	if d.New.IsSet() {
		out["new"] = d.New.Get()
	}
	return out
}

// FromGeneric reads a delta from a generic JSON object. Key presence decides
// whether old/new are set, so `"old": null` and a missing old differ.
func FromGeneric(raw map[string]any) (Delta, error) {
	rawPath, ok := raw["path"]
	if !ok {
		return Delta{}, errors.New("delta is missing path")
	}
	path, err := PathFromGeneric(rawPath)
	if err != nil {
		return Delta{}, err
	}
	rawOp, ok := raw["op"].(string)
	if !ok {
		return Delta{}, fmt.Errorf("delta at %s is missing op", path)
	}
	op, err := ParseOp(rawOp)
	if err != nil {
		return Delta{}, err
	}
	d := Delta{Path: path, Op: op}
	if old, ok := raw["old"]; ok {
		d.Old = Some(old)
	}
	if updated, ok := raw["new"]; ok {
		d.New = Some(updated)
	}
	return d, nil
}

// PathFromGeneric reads a path from a generic JSON array. Numeric segments
// are accepted and rendered as decimal strings.
func PathFromGeneric(raw any) (Path, error) {
	items, ok := raw.([]any)
	if !ok {
		if typed, ok := raw.([]string); ok {
			return Path(typed).Clone(), nil
		}
		return nil, fmt.Errorf("path must be an array, got %T", raw)
	}
	path := make(Path, 0, len(items))
	for i, item := range items {
		switch typed := item.(type) {
		case string:
			path = append(path, typed)
		case json.Number:
			index, err := typed.Int64()
			if err != nil || index < 0 {
				return nil, fmt.Errorf("path segment %d is not a valid index: %s", i, typed)
			}
			path = append(path, strconv.FormatInt(index, 10))
		case float64:
			if typed < 0 || typed != float64(int64(typed)) {
				return nil, fmt.Errorf("path segment %d is not a valid index: %v", i, typed)
			}
			path = append(path, strconv.FormatInt(int64(typed), 10))
		default:
			return nil, fmt.Errorf("path segment %d has unsupported type %T", i, item)
		}
	}
	return path, nil
}

// PathToGeneric renders a path as a generic JSON array.
func PathToGeneric(p Path) []any {
	out := make([]any, len(p))
	for i, segment := range p {
		out[i] = segment
	}
	return out
}

func (p *Path) UnmarshalJSON(data []byte) error {
	raw, err := decodeGeneric(data)
	if err != nil {
		return err
	}
	parsed, err := PathFromGeneric(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
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
