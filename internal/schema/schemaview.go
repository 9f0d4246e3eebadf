package schema

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rpattn/asset360/internal/domain"
)

// ManagedAnnotation marks classes that asset360 registers as managed assets.
const ManagedAnnotation = "data.infrabel.be/asset360/managed"

// ErrDuplicateSchema is returned when a schema id is added twice.
var ErrDuplicateSchema = errors.New("schema already loaded")

// SchemaView resolves classes, slots and enums across every schema added
// to it. Lookups are safe for concurrent use; AddSchema takes a write lock
// and drops cached class views.
type SchemaView struct {
	mu      sync.RWMutex
	schemas []*domain.SchemaDefinition

	classes  map[string]classEntry
	slots    map[string]domain.SlotDefinition
	enums    map[string]enumEntry
	types    map[string]domain.TypeDefinition
	prefixes map[string]string

	viewCache map[string]*ClassView
}

type classEntry struct {
	def    domain.ClassDefinition
	schema *domain.SchemaDefinition
}

type enumEntry struct {
	def    domain.EnumDefinition
	schema *domain.SchemaDefinition
}

// NewSchemaView returns an empty view.
func NewSchemaView() *SchemaView {
	return &SchemaView{
		classes:   map[string]classEntry{},
		slots:     map[string]domain.SlotDefinition{},
		enums:     map[string]enumEntry{},
		types:     map[string]domain.TypeDefinition{},
		prefixes:  map[string]string{},
		viewCache: map[string]*ClassView{},
	}
}

// AddSchemaFromPath reads a YAML schema document from disk and adds it.
func (sv *SchemaView) AddSchemaFromPath(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	schema, err := domain.ParseSchemaDefinition(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return sv.AddSchema(schema)
}

// AddSchema registers a parsed schema. Definitions from later schemas
// replace earlier ones with the same name.
func (sv *SchemaView) AddSchema(schema domain.SchemaDefinition) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	for _, existing := range sv.schemas {
		if schema.ID != "" && existing.ID == schema.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateSchema, schema.ID)
		}
	}
	schema.Normalize()
	owner := &schema
	sv.schemas = append(sv.schemas, owner)

	for prefix, ref := range schema.Prefixes {
		sv.prefixes[prefix] = ref
	}
	for _, name := range schema.Types.Keys() {
		def, _ := schema.Types.Get(name)
		sv.types[name] = def
	}
	for _, name := range schema.Enums.Keys() {
		def, _ := schema.Enums.Get(name)
		sv.enums[name] = enumEntry{def: def, schema: owner}
	}
	for _, name := range schema.Slots.Keys() {
		def, _ := schema.Slots.Get(name)
		sv.slots[name] = def
	}
	for _, name := range schema.Classes.Keys() {
		def, _ := schema.Classes.Get(name)
		sv.classes[name] = classEntry{def: def, schema: owner}
	}
	sv.viewCache = map[string]*ClassView{}
	return nil
}

// Schemas returns the loaded schema documents in load order.
func (sv *SchemaView) Schemas() []domain.SchemaDefinition {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	out := make([]domain.SchemaDefinition, len(sv.schemas))
	for i, s := range sv.schemas {
		out[i] = *s
	}
	return out
}

// ClassNames lists every class name in load and declaration order.
func (sv *SchemaView) ClassNames() []string {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	seen := map[string]struct{}{}
	var names []string
	for _, s := range sv.schemas {
		for _, name := range s.Classes.Keys() {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// GetClassView resolves a class by name, CURIE or URI.
func (sv *SchemaView) GetClassView(classID string) (*ClassView, bool) {
	sv.mu.RLock()
	if view, ok := sv.viewCache[classID]; ok {
		sv.mu.RUnlock()
		return view, true
	}
	name, ok := sv.resolveClassNameLocked(classID)
	if !ok {
		sv.mu.RUnlock()
		return nil, false
	}
	if view, ok := sv.viewCache[name]; ok {
		sv.mu.RUnlock()
		return view, true
	}
	view := sv.buildClassViewLocked(name)
	sv.mu.RUnlock()

	sv.mu.Lock()
	if cached, ok := sv.viewCache[name]; ok {
		view = cached
	} else {
		sv.viewCache[name] = view
	}
	sv.viewCache[classID] = view
	sv.mu.Unlock()
	return view, true
}

// GetEnumView resolves an enum by name.
func (sv *SchemaView) GetEnumView(name string) (*EnumView, bool) {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	entry, ok := sv.enums[name]
	if !ok {
		return nil, false
	}
	return newEnumView(entry.def), true
}

// ExpandCURIE expands `prefix:local` using the known prefixes. Values that
// are already URIs or use an unknown prefix are returned unchanged.
func (sv *SchemaView) ExpandCURIE(curie string) string {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return sv.expandLocked(curie)
}

func (sv *SchemaView) expandLocked(curie string) string {
	if strings.Contains(curie, "://") {
		return curie
	}
	prefix, local, ok := strings.Cut(curie, ":")
	if !ok {
		return curie
	}
	if ref, known := sv.prefixes[prefix]; known {
		return ref + local
	}
	return curie
}

func (sv *SchemaView) resolveClassNameLocked(classID string) (string, bool) {
	if _, ok := sv.classes[classID]; ok {
		return classID, true
	}
	expanded := sv.expandLocked(classID)
	for name, entry := range sv.classes {
		if sv.classURILocked(entry) == expanded {
			return name, true
		}
	}
	if _, local, ok := strings.Cut(classID, ":"); ok && !strings.Contains(classID, "://") {
		if _, exists := sv.classes[local]; exists {
			return local, true
		}
	}
	return "", false
}

func (sv *SchemaView) classURILocked(entry classEntry) string {
	if entry.def.ClassURI != "" {
		return sv.expandLocked(entry.def.ClassURI)
	}
	return sv.namespaceLocked(entry.schema) + entry.def.Name
}

func (sv *SchemaView) classCURIELocked(entry classEntry) string {
	if entry.def.ClassURI != "" && !strings.Contains(entry.def.ClassURI, "://") {
		return entry.def.ClassURI
	}
	if entry.schema != nil && entry.schema.DefaultPrefix != "" {
		if _, ok := sv.prefixes[entry.schema.DefaultPrefix]; ok {
			return entry.schema.DefaultPrefix + ":" + entry.def.Name
		}
	}
	return ""
}

// namespaceLocked returns the URI base of a schema's default prefix.
func (sv *SchemaView) namespaceLocked(schema *domain.SchemaDefinition) string {
	if schema == nil {
		return ""
	}
	if ref, ok := sv.prefixes[schema.DefaultPrefix]; ok {
		return ref
	}
	if strings.Contains(schema.DefaultPrefix, "://") {
		return schema.DefaultPrefix
	}
	if schema.ID != "" {
		return strings.TrimSuffix(schema.ID, "/") + "/"
	}
	return ""
}

// ancestorsLocked returns the class followed by its is_a chain and mixins,
// most general first.
func (sv *SchemaView) ancestorsLocked(name string, seen map[string]bool) []classEntry {
	if seen[name] {
		return nil
	}
	seen[name] = true
	entry, ok := sv.classes[name]
	if !ok {
		return nil
	}
	var out []classEntry
	if entry.def.IsA != "" {
		out = append(out, sv.ancestorsLocked(entry.def.IsA, seen)...)
	}
	for _, mixin := range entry.def.Mixins {
		out = append(out, sv.ancestorsLocked(mixin, seen)...)
	}
	return append(out, entry)
}

func (sv *SchemaView) buildClassViewLocked(name string) *ClassView {
	entry := sv.classes[name]
	lineage := sv.ancestorsLocked(name, map[string]bool{})

	defaultRange := "string"
	if entry.schema != nil && entry.schema.DefaultRange != "" {
		defaultRange = entry.schema.DefaultRange
	}

	var order []string
	defs := map[string]domain.SlotDefinition{}
	add := func(slotName string, def domain.SlotDefinition) {
		if _, exists := defs[slotName]; !exists {
			order = append(order, slotName)
			defs[slotName] = def
			return
		}
		defs[slotName] = defs[slotName].Merge(def)
	}
	for _, ancestor := range lineage {
		for _, slotName := range ancestor.def.Slots {
			base, ok := sv.slots[slotName]
			if !ok {
				base = domain.SlotDefinition{Name: slotName}
			}
			add(slotName, base)
		}
		for _, attr := range ancestor.def.Attributes.Keys() {
			def, _ := ancestor.def.Attributes.Get(attr)
			add(attr, def)
		}
	}
	for _, ancestor := range lineage {
		for _, usage := range ancestor.def.SlotUsage.Keys() {
			override, _ := ancestor.def.SlotUsage.Get(usage)
			if current, ok := defs[usage]; ok {
				defs[usage] = current.Merge(override)
			}
		}
	}

	view := &ClassView{
		sv:    sv,
		name:  name,
		uri:   sv.classURILocked(entry),
		curie: sv.classCURIELocked(entry),
		def:   entry.def,
		index: make(map[string]int, len(order)),
	}
	for _, slotName := range order {
		def := defs[slotName]
		if def.Name == "" {
			def.Name = slotName
		}
		slot := sv.newSlotViewLocked(def, defaultRange)
		view.index[slotName] = len(view.slots)
		view.slots = append(view.slots, slot)
		if slot.identifier && view.identifier == nil {
			view.identifier = slot
		}
		if slot.designatesType && view.designator == nil {
			view.designator = slot
		}
	}
	return view
}

func (sv *SchemaView) newSlotViewLocked(def domain.SlotDefinition, defaultRange string) *SlotView {
	rangeName := def.Range
	if rangeName == "" {
		rangeName = defaultRange
	}
	slot := &SlotView{
		sv:             sv,
		name:           def.Name,
		def:            def,
		rangeName:      rangeName,
		multivalued:    domain.Flag(def.Multivalued),
		identifier:     domain.Flag(def.Identifier),
		required:       domain.Flag(def.Required) || domain.Flag(def.Identifier),
		designatesType: domain.Flag(def.DesignatesType),
	}
	switch {
	case isAnyRange(rangeName):
		slot.kind = RangeAny
	case sv.hasClassLocked(rangeName):
		slot.kind = RangeClass
	case sv.hasEnumLocked(rangeName):
		slot.kind = RangeEnum
	default:
		slot.kind = RangeScalar
		slot.primitive, slot.baseType = sv.resolvePrimitiveLocked(rangeName)
	}
	return slot
}

func (sv *SchemaView) hasClassLocked(name string) bool {
	_, ok := sv.classes[name]
	return ok
}

func (sv *SchemaView) hasEnumLocked(name string) bool {
	_, ok := sv.enums[name]
	return ok
}

func isAnyRange(name string) bool {
	return name == "Any" || name == "linkml:Any"
}

// resolvePrimitiveLocked follows custom type typeof chains down to a
// builtin type.
func (sv *SchemaView) resolvePrimitiveLocked(name string) (Primitive, string) {
	seen := map[string]bool{}
	current := name
	for !seen[current] {
		seen[current] = true
		if primitive, ok := builtinTypes[current]; ok {
			return primitive, current
		}
		def, ok := sv.types[current]
		if !ok || def.TypeOf == "" {
			break
		}
		current = def.TypeOf
	}
	return PrimitiveString, current
}

// KnownRange reports whether a range name resolves to a class, enum, type
// or builtin.
func (sv *SchemaView) KnownRange(name string) bool {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	if isAnyRange(name) || sv.hasClassLocked(name) || sv.hasEnumLocked(name) {
		return true
	}
	if _, ok := builtinTypes[name]; ok {
		return true
	}
	_, ok := sv.types[name]
	return ok
}
