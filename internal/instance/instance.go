package instance

import (
	"encoding/json"
	"reflect"
	"strconv"

	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/schema"
)

// Kind is the variant of a node.
type Kind int

const (
	KindObject Kind = iota
	KindList
	KindScalar
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindList:
		return "list"
	case KindScalar:
		return "scalar"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// Instance is an immutable node of a schema-typed tree. Objects hold their
// present slots in declaration order, lists hold the values of a
// multivalued slot, scalars and enums hold a leaf value.
type Instance struct {
	kind   Kind
	id     NodeID
	key    string
	class  *schema.ClassView
	slot   *schema.SlotView
	fields []field
	items  []*Instance
	value  any
}

type field struct {
	name  string
	value *Instance
}

func (n *Instance) shallowCopy() *Instance {
	out := *n
	if n.fields != nil {
		out.fields = make([]field, len(n.fields))
		copy(out.fields, n.fields)
	}
	if n.items != nil {
		out.items = make([]*Instance, len(n.items))
		copy(out.items, n.items)
	}
	return &out
}

// unkeyed returns a copy that identify will re-stamp.
func (n *Instance) unkeyed() *Instance {
	out := n.shallowCopy()
	out.key = ""
	out.id = NilNodeID
	return out
}

func (n *Instance) Kind() Kind { return n.kind }

// ID returns the stable node identity.
func (n *Instance) ID() NodeID { return n.id }

// IdentityKey returns the canonical key the NodeID is derived from.
func (n *Instance) IdentityKey() string { return n.key }

// Class returns the class of an object node, nil otherwise.
func (n *Instance) Class() *schema.ClassView { return n.class }

// Slot returns the slot definition the node is held by; nil for the root.
func (n *Instance) Slot() *schema.SlotView { return n.slot }

// Value returns the leaf value of a scalar or enum node: string, int64,
// float64, bool, nil, or a generic JSON value for untyped slots.
func (n *Instance) Value() any { return n.value }

// IsNull reports a null scalar.
func (n *Instance) IsNull() bool { return n.kind == KindScalar && n.value == nil }

// SlotNames returns the present slots of an object in declaration order.
func (n *Instance) SlotNames() []string {
	names := make([]string, len(n.fields))
	for i, f := range n.fields {
		names[i] = f.name
	}
	return names
}

// Get returns the value of a present slot.
func (n *Instance) Get(name string) (*Instance, bool) {
	for _, f := range n.fields {
		if f.name == name {
			return f.value, true
		}
	}
	return nil, false
}

// Len returns the number of list items or present object slots.
func (n *Instance) Len() int {
	if n.kind == KindList {
		return len(n.items)
	}
	return len(n.fields)
}

// Item returns the list element at index.
func (n *Instance) Item(index int) (*Instance, bool) {
	if n.kind != KindList || index < 0 || index >= len(n.items) {
		return nil, false
	}
	return n.items[index], true
}

// Items returns the list elements.
func (n *Instance) Items() []*Instance {
	out := make([]*Instance, len(n.items))
	copy(out, n.items)
	return out
}

// Resolve follows path from n.
func (n *Instance) Resolve(path delta.Path) (*Instance, bool) {
	current := n
	for _, segment := range path {
		var ok bool
		switch current.kind {
		case KindObject:
			current, ok = current.Get(segment)
		case KindList:
			index, err := strconv.Atoi(segment)
			if err != nil || !delta.IsIndex(segment) {
				return nil, false
			}
			current, ok = current.Item(index)
		default:
			return nil, false
		}
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Walk visits n and its descendants depth-first, object slots in
// declaration order, list items in order. Returning false from fn skips
// the node's children.
func (n *Instance) Walk(fn func(path delta.Path, node *Instance) bool) {
	n.walk(delta.Path{}, fn)
}

func (n *Instance) walk(path delta.Path, fn func(delta.Path, *Instance) bool) {
	if !fn(path, n) {
		return
	}
	switch n.kind {
	case KindObject:
		for _, f := range n.fields {
			f.value.walk(path.Child(f.name), fn)
		}
	case KindList:
		for i, item := range n.items {
			item.walk(path.ChildIndex(i), fn)
		}
	}
}

// ToJSON renders the node as a generic JSON value. Numbers are emitted as
// json.Number so the result survives an encode/decode cycle unchanged.
func (n *Instance) ToJSON() any {
	switch n.kind {
	case KindObject:
		out := make(map[string]any, len(n.fields))
		for _, f := range n.fields {
			out[f.name] = f.value.ToJSON()
		}
		return out
	case KindList:
		out := make([]any, len(n.items))
		for i, item := range n.items {
			out[i] = item.ToJSON()
		}
		return out
	default:
		return leafJSON(n.value)
	}
}

// MarshalJSON encodes the generic form.
func (n *Instance) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.ToJSON())
}

func leafJSON(value any) any {
	switch typed := value.(type) {
	case int64:
		return json.Number(strconv.FormatInt(typed, 10))
	case float64:
		return floatNumber(typed)
	default:
		return typed
	}
}

func floatNumber(f float64) json.Number {
	raw, err := json.Marshal(f)
	if err != nil {
		return json.Number(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return json.Number(raw)
}

// Equals compares two trees structurally: kind, class, present slots, list
// order and leaf values. Node identity is ignored.
func (n *Instance) Equals(other *Instance) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.kind != other.kind {
		return false
	}
	switch n.kind {
	case KindObject:
		if classID(n.class) != classID(other.class) || len(n.fields) != len(other.fields) {
			return false
		}
		for i := range n.fields {
			if n.fields[i].name != other.fields[i].name || !n.fields[i].value.Equals(other.fields[i].value) {
				return false
			}
		}
		return true
	case KindList:
		if len(n.items) != len(other.items) {
			return false
		}
		for i := range n.items {
			if !n.items[i].Equals(other.items[i]) {
				return false
			}
		}
		return true
	default:
		return leafEqual(n.value, other.value)
	}
}

func classID(cv *schema.ClassView) string {
	if cv == nil {
		return ""
	}
	return cv.ID()
}

func leafEqual(a, b any) bool {
	switch a.(type) {
	case nil:
		return b == nil
	case string, bool, int64, float64:
		return a == b
	default:
		return JSONEqual(a, b)
	}
}

// JSONEqual compares two generic JSON values, treating numbers by value so
// json.Number("1.0") and float64(1) match.
func JSONEqual(a, b any) bool {
	if an, ok := numberOf(a); ok {
		bn, ok := numberOf(b)
		return ok && an.equal(bn)
	}
	switch ta := a.(type) {
	case nil:
		return b == nil
	case string:
		tb, ok := b.(string)
		return ok && ta == tb
	case bool:
		tb, ok := b.(bool)
		return ok && ta == tb
	case []any:
		tb, ok := b.([]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !JSONEqual(ta[i], tb[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		tb, ok := b.(map[string]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for key, value := range ta {
			other, ok := tb[key]
			if !ok || !JSONEqual(value, other) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

type number struct {
	i     int64
	f     float64
	exact bool
}

func (n number) equal(other number) bool {
	if n.exact && other.exact {
		return n.i == other.i
	}
	return n.f == other.f
}

func numberOf(value any) (number, bool) {
	switch typed := value.(type) {
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return number{i: i, f: float64(i), exact: true}, true
		}
		f, err := typed.Float64()
		if err != nil {
			return number{}, false
		}
		return number{f: f}, true
	case int64:
		return number{i: typed, f: float64(typed), exact: true}, true
	case int:
		return number{i: int64(typed), f: float64(typed), exact: true}, true
	case float64:
		return number{f: typed}, true
	default:
		return number{}, false
	}
}
