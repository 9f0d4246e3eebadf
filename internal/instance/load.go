package instance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/schema"
)

var (
	// ErrInvalidDocument is returned when the input text cannot be parsed.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrUnresolvedClass is returned when no class view is available.
	ErrUnresolvedClass = errors.New("unresolved class")
)

// Load parses JSON text and validates it against cv. Data-shape problems
// are returned as issues alongside a best-effort tree; only unparsable text
// and a missing class are errors.
func Load(jsonText []byte, sv *schema.SchemaView, cv *schema.ClassView) (*Instance, []string, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonText))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("failed to parse document: %w: %v", ErrInvalidDocument, err)
	}
	if decoder.More() {
		return nil, nil, fmt.Errorf("failed to parse document: %w: trailing data", ErrInvalidDocument)
	}
	return FromValue(raw, sv, cv)
}

// LoadYAML is Load over YAML text.
func LoadYAML(yamlText []byte, sv *schema.SchemaView, cv *schema.ClassView) (*Instance, []string, error) {
	var raw any
	if err := yaml.Unmarshal(yamlText, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to parse document: %w: %v", ErrInvalidDocument, err)
	}
	return FromValue(raw, sv, cv)
}

// FromValue validates an already decoded generic value against cv.
func FromValue(raw any, sv *schema.SchemaView, cv *schema.ClassView) (*Instance, []string, error) {
	if cv == nil {
		return nil, nil, ErrUnresolvedClass
	}
	if sv != nil && cv.SchemaView() != nil && cv.SchemaView() != sv {
		resolved, ok := sv.GetClassView(cv.ID())
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnresolvedClass, cv.ID())
		}
		cv = resolved
	}
	normalized, err := normalizeGeneric(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read document: %w: %v", ErrInvalidDocument, err)
	}
	l := &loader{}
	root := l.object(normalized, cv, nil, delta.Path{})
	root = identify(root, rootKey(root))
	return root, l.issues, nil
}

type loader struct {
	issues []string
	// rootDesignatorFailed is set when the root names a type outside its
	// base class.
	rootDesignatorFailed bool
}

func (l *loader) flag(path delta.Path, format string, args ...any) {
	l.issues = append(l.issues, path.String()+": "+fmt.Sprintf(format, args...))
}

// object builds an object node of class cv, switching to a subclass when
// the class carries a type designator naming one.
func (l *loader) object(raw any, cv *schema.ClassView, slot *schema.SlotView, path delta.Path) *Instance {
	node := &Instance{kind: KindObject, class: cv, slot: slot}
	values, ok := raw.(map[string]any)
	if !ok {
		l.flag(path, "expected object of class %s, got %s", cv.Name(), describe(raw))
		return node
	}
	cv = l.designatedClass(values, cv, path)
	node.class = cv

	for _, def := range cv.Slots() {
		value, present := values[def.Name()]
		if !present {
			if def.Required() {
				l.flag(path, "missing required slot '%s'", def.Name())
			}
			continue
		}
		node.fields = append(node.fields, field{name: def.Name(), value: l.slotValue(value, def, path.Child(def.Name()))})
	}

	var unknown []string
	for key := range values {
		if _, ok := cv.Slot(key); !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		l.flag(path, "unknown slot '%s' for class %s", key, cv.Name())
	}
	return node
}

func (l *loader) designatedClass(values map[string]any, cv *schema.ClassView, path delta.Path) *schema.ClassView {
	designator, ok := cv.TypeDesignatorSlot()
	if !ok {
		return cv
	}
	raw, present := values[designator.Name()]
	if !present || raw == nil {
		return cv
	}
	text, ok := raw.(string)
	if !ok {
		return cv
	}
	sv := cv.SchemaView()
	if sv == nil {
		return cv
	}
	resolved, ok := sv.ResolveTypeDesignator(cv, text)
	if !ok {
		l.flag(path.Child(designator.Name()), "type designator '%s' does not name %s or a subclass", text, cv.Name())
		if path.IsRoot() {
			l.rootDesignatorFailed = true
		}
		return cv
	}
	return resolved
}

// slotValue builds the value of slot, a list container when multivalued.
func (l *loader) slotValue(raw any, slot *schema.SlotView, path delta.Path) *Instance {
	if raw == nil {
		return &Instance{kind: KindScalar, slot: slot}
	}
	if !slot.Multivalued() {
		return l.element(raw, slot, path)
	}
	items, ok := raw.([]any)
	if !ok {
		if keyed, isMap := raw.(map[string]any); isMap && l.keyedCollection(keyed, slot) {
			items = l.expandKeyed(keyed, slot)
		} else {
			l.flag(path, "expected a list for multivalued slot '%s', got %s", slot.Name(), describe(raw))
			items = []any{raw}
		}
	}
	list := &Instance{kind: KindList, slot: slot, items: make([]*Instance, 0, len(items))}
	seen := map[string]bool{}
	for i, item := range items {
		element := l.element(item, slot, path.ChildIndex(i))
		if id, identified := identifierValue(element); identified {
			if seen[id] {
				l.flag(path.ChildIndex(i), "duplicate identifier '%s' in slot '%s'", id, slot.Name())
			}
			seen[id] = true
		}
		list.items = append(list.items, element)
	}
	return list
}

// keyedCollection reports a multivalued inlined class slot given as a map
// of identifier to object.
func (l *loader) keyedCollection(values map[string]any, slot *schema.SlotView) bool {
	cv, ok := slot.RangeClass()
	if !ok {
		return false
	}
	_, ok = cv.IdentifierSlot()
	return ok && len(values) > 0
}

func (l *loader) expandKeyed(values map[string]any, slot *schema.SlotView) []any {
	cv, _ := slot.RangeClass()
	idSlot, _ := cv.IdentifierSlot()
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, key := range keys {
		body, ok := values[key].(map[string]any)
		if !ok {
			body = map[string]any{}
		} else {
			copied := make(map[string]any, len(body)+1)
			for k, v := range body {
				copied[k] = v
			}
			body = copied
		}
		if _, present := body[idSlot.Name()]; !present {
			body[idSlot.Name()] = key
		}
		out = append(out, body)
	}
	return out
}

// element builds a single value against the range of slot.
func (l *loader) element(raw any, slot *schema.SlotView, path delta.Path) *Instance {
	if raw == nil {
		return &Instance{kind: KindScalar, slot: slot}
	}
	switch slot.RangeKind() {
	case schema.RangeClass:
		cv, ok := slot.RangeClass()
		if !ok {
			l.flag(path, "range class %s of slot '%s' cannot be resolved", slot.Range(), slot.Name())
			return &Instance{kind: KindScalar, slot: slot, value: raw}
		}
		if _, isObject := raw.(map[string]any); isObject {
			return l.object(raw, cv, slot, path)
		}
		if idSlot, ok := cv.IdentifierSlot(); ok {
			if reference, ok := l.reference(raw, idSlot); ok {
				return &Instance{kind: KindScalar, slot: slot, value: reference}
			}
		}
		l.flag(path, "expected object of class %s, got %s", cv.Name(), describe(raw))
		return &Instance{kind: KindScalar, slot: slot, value: fallback(raw)}
	case schema.RangeEnum:
		return l.enum(raw, slot, path)
	case schema.RangeAny:
		return &Instance{kind: KindScalar, slot: slot, value: raw}
	default:
		value, ok := coerce(raw, slot.Primitive())
		if !ok {
			l.flag(path, "expected %s, got %s", slot.Primitive(), describe(raw))
		}
		return &Instance{kind: KindScalar, slot: slot, value: value}
	}
}

func (l *loader) reference(raw any, idSlot *schema.SlotView) (any, bool) {
	switch raw.(type) {
	case string, json.Number:
		return coerce(raw, idSlot.Primitive())
	default:
		return nil, false
	}
}

func (l *loader) enum(raw any, slot *schema.SlotView, path delta.Path) *Instance {
	text, ok := raw.(string)
	if !ok {
		l.flag(path, "expected enum value of %s, got %s", slot.Range(), describe(raw))
		return &Instance{kind: KindScalar, slot: slot, value: fallback(raw)}
	}
	if ev, ok := slot.RangeEnum(); ok && !ev.Permits(text) {
		l.flag(path, "'%s' is not a permissible value of %s", text, ev.Name())
	}
	return &Instance{kind: KindEnum, slot: slot, value: text}
}

// coerce converts a generic value to the Go representation of primitive.
// When the conversion is ambiguous the value is returned in its closest
// leaf form together with false.
func coerce(raw any, primitive schema.Primitive) (any, bool) {
	switch primitive {
	case schema.PrimitiveInteger:
		switch typed := raw.(type) {
		case json.Number:
			if i, err := typed.Int64(); err == nil {
				return i, true
			}
			if f, err := typed.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<63 {
				return int64(f), true
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
				return i, true
			}
		}
	case schema.PrimitiveFloat:
		switch typed := raw.(type) {
		case json.Number:
			if f, err := typed.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
				return f, true
			}
		}
	case schema.PrimitiveBoolean:
		switch typed := raw.(type) {
		case bool:
			return typed, true
		case string:
			switch typed {
			case "true":
				return true, true
			case "false":
				return false, true
			}
		}
	default:
		switch typed := raw.(type) {
		case string:
			return typed, true
		case json.Number:
			return typed.String(), true
		}
	}
	return fallback(raw), false
}

// fallback keeps a value that failed coercion in leaf form.
func fallback(raw any) any {
	typed, ok := raw.(json.Number)
	if !ok {
		return raw
	}
	if i, err := typed.Int64(); err == nil {
		return i
	}
	if f, err := typed.Float64(); err == nil {
		return f
	}
	return typed.String()
}

func describe(raw any) string {
	switch typed := raw.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(typed)
	case json.Number:
		return "number " + typed.String()
	case bool:
		return "boolean " + strconv.FormatBool(typed)
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", raw)
	}
}

// normalizeGeneric rewrites decoded values into the shapes the loader
// understands: json.Number for numbers, map[string]any for objects.
func normalizeGeneric(raw any) (any, error) {
	switch typed := raw.(type) {
	case nil, string, bool, json.Number:
		return typed, nil
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return nil, fmt.Errorf("non-finite number %v", typed)
		}
		return floatNumber(typed), nil
	case float32:
		return normalizeGeneric(float64(typed))
	case time.Time:
		return typed.Format(time.RFC3339Nano), nil
	case int:
		return json.Number(strconv.Itoa(typed)), nil
	case int64:
		return json.Number(strconv.FormatInt(typed, 10)), nil
	case uint64:
		return json.Number(strconv.FormatUint(typed, 10)), nil
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			value, err := normalizeGeneric(item)
			if err != nil {
				return nil, err
			}
			out[i] = value
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			value, err := normalizeGeneric(item)
			if err != nil {
				return nil, err
			}
			out[key] = value
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			value, err := normalizeGeneric(item)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(key)] = value
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", raw)
	}
}
