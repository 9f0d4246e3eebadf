package schema

import (
	"github.com/rpattn/asset360/internal/domain"
)

// RangeKind classifies what a slot may hold.
type RangeKind int

const (
	RangeScalar RangeKind = iota
	RangeEnum
	RangeClass
	RangeAny
)

func (k RangeKind) String() string {
	switch k {
	case RangeScalar:
		return "scalar"
	case RangeEnum:
		return "enum"
	case RangeClass:
		return "class"
	case RangeAny:
		return "any"
	default:
		return "unknown"
	}
}

// Primitive is the JSON-level kind a scalar range coerces to.
type Primitive int

const (
	PrimitiveString Primitive = iota
	PrimitiveInteger
	PrimitiveFloat
	PrimitiveBoolean
)

func (p Primitive) String() string {
	switch p {
	case PrimitiveInteger:
		return "integer"
	case PrimitiveFloat:
		return "float"
	case PrimitiveBoolean:
		return "boolean"
	default:
		return "string"
	}
}

var builtinTypes = map[string]Primitive{
	"string":           PrimitiveString,
	"str":              PrimitiveString,
	"integer":          PrimitiveInteger,
	"int":              PrimitiveInteger,
	"float":            PrimitiveFloat,
	"double":           PrimitiveFloat,
	"decimal":          PrimitiveFloat,
	"boolean":          PrimitiveBoolean,
	"bool":             PrimitiveBoolean,
	"date":             PrimitiveString,
	"datetime":         PrimitiveString,
	"time":             PrimitiveString,
	"date_or_datetime": PrimitiveString,
	"uri":              PrimitiveString,
	"uriorcurie":       PrimitiveString,
	"curie":            PrimitiveString,
	"ncname":           PrimitiveString,
	"objectidentifier": PrimitiveString,
	"nodeidentifier":   PrimitiveString,
	"jsonpointer":      PrimitiveString,
	"jsonpath":         PrimitiveString,
	"sparqlpath":       PrimitiveString,
}

// ClassView is the induced view of a class: its own slots plus everything
// inherited, with slot_usage applied. It is immutable.
type ClassView struct {
	sv         *SchemaView
	name       string
	uri        string
	curie      string
	def        domain.ClassDefinition
	slots      []*SlotView
	index      map[string]int
	identifier *SlotView
	designator *SlotView
}

// ID returns the class URI. It always resolves back through GetClassView.
func (cv *ClassView) ID() string { return cv.uri }

// Name returns the class name as declared.
func (cv *ClassView) Name() string { return cv.name }

// CURIE returns the compact form of the class URI, or "" when the schema has
// no usable default prefix.
func (cv *ClassView) CURIE() string { return cv.curie }

// Definition returns the declared (not induced) class definition.
func (cv *ClassView) Definition() domain.ClassDefinition { return cv.def }

// SchemaView returns the view this class was resolved from.
func (cv *ClassView) SchemaView() *SchemaView { return cv.sv }

// Slots returns the induced slots in declaration order.
func (cv *ClassView) Slots() []*SlotView {
	out := make([]*SlotView, len(cv.slots))
	copy(out, cv.slots)
	return out
}

// SlotNames returns the induced slot names in declaration order.
func (cv *ClassView) SlotNames() []string {
	names := make([]string, len(cv.slots))
	for i, slot := range cv.slots {
		names[i] = slot.name
	}
	return names
}

// Slot looks up a slot by name.
func (cv *ClassView) Slot(name string) (*SlotView, bool) {
	idx, ok := cv.index[name]
	if !ok {
		return nil, false
	}
	return cv.slots[idx], true
}

// SlotIndex returns the declaration position of a slot, or -1.
func (cv *ClassView) SlotIndex(name string) int {
	idx, ok := cv.index[name]
	if !ok {
		return -1
	}
	return idx
}

// IdentifierSlot returns the slot flagged as identifier, if any.
func (cv *ClassView) IdentifierSlot() (*SlotView, bool) {
	return cv.identifier, cv.identifier != nil
}

// TypeDesignatorSlot returns the slot flagged designates_type, if any.
func (cv *ClassView) TypeDesignatorSlot() (*SlotView, bool) {
	return cv.designator, cv.designator != nil
}

// Managed reports whether the class carries a truthy managed annotation.
func (cv *ClassView) Managed() bool {
	return cv.def.Annotations.Truthy(ManagedAnnotation)
}

// SlotView is a slot as induced on a particular class.
type SlotView struct {
	sv             *SchemaView
	name           string
	def            domain.SlotDefinition
	rangeName      string
	kind           RangeKind
	primitive      Primitive
	baseType       string
	multivalued    bool
	identifier     bool
	required       bool
	designatesType bool
}

func (s *SlotView) Name() string { return s.name }
func (s *SlotView) Range() string { return s.rangeName }
func (s *SlotView) RangeKind() RangeKind { return s.kind }
func (s *SlotView) Primitive() Primitive { return s.primitive }
func (s *SlotView) BaseType() string { return s.baseType }
func (s *SlotView) Multivalued() bool { return s.multivalued }
func (s *SlotView) Identifier() bool { return s.identifier }
func (s *SlotView) Required() bool { return s.required }
func (s *SlotView) DesignatesType() bool { return s.designatesType }
func (s *SlotView) Definition() domain.SlotDefinition { return s.def }

// RangeClass resolves the class view of a class-ranged slot.
func (s *SlotView) RangeClass() (*ClassView, bool) {
	if s.kind != RangeClass {
		return nil, false
	}
	return s.sv.GetClassView(s.rangeName)
}

// RangeEnum resolves the enum view of an enum-ranged slot.
func (s *SlotView) RangeEnum() (*EnumView, bool) {
	if s.kind != RangeEnum {
		return nil, false
	}
	return s.sv.GetEnumView(s.rangeName)
}

// EnumView exposes the permissible values of an enum.
type EnumView struct {
	name   string
	values []string
	set    map[string]struct{}
}

func newEnumView(def domain.EnumDefinition) *EnumView {
	view := &EnumView{
		name:   def.Name,
		values: def.PermissibleValues.Keys(),
		set:    make(map[string]struct{}, def.PermissibleValues.Len()),
	}
	for _, value := range view.values {
		view.set[value] = struct{}{}
	}
	return view
}

func (e *EnumView) Name() string { return e.name }

// Values returns the permissible values in declaration order.
func (e *EnumView) Values() []string {
	out := make([]string, len(e.values))
	copy(out, e.values)
	return out
}

// Permits reports whether value is a member of the enum.
func (e *EnumView) Permits(value string) bool {
	_, ok := e.set[value]
	return ok
}
