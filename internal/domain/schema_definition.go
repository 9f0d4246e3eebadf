package domain

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaDefinition is a LinkML-style schema document as read from YAML.
type SchemaDefinition struct {
	ID            string                   `yaml:"id"`
	Name          string                   `yaml:"name"`
	Description   string                   `yaml:"description,omitempty"`
	DefaultPrefix string                   `yaml:"default_prefix,omitempty"`
	DefaultRange  string                   `yaml:"default_range,omitempty"`
	Prefixes      Prefixes                 `yaml:"prefixes,omitempty"`
	Imports       []string                 `yaml:"imports,omitempty"`
	Types         Ordered[TypeDefinition]  `yaml:"types,omitempty"`
	Enums         Ordered[EnumDefinition]  `yaml:"enums,omitempty"`
	Slots         Ordered[SlotDefinition]  `yaml:"slots,omitempty"`
	Classes       Ordered[ClassDefinition] `yaml:"classes,omitempty"`
	Annotations   Annotations              `yaml:"annotations,omitempty"`
}

// ClassDefinition describes a class and the slots it declares.
type ClassDefinition struct {
	Name        string                  `yaml:"-"`
	Description string                  `yaml:"description,omitempty"`
	ClassURI    string                  `yaml:"class_uri,omitempty"`
	IsA         string                  `yaml:"is_a,omitempty"`
	Mixins      []string                `yaml:"mixins,omitempty"`
	Abstract    bool                    `yaml:"abstract,omitempty"`
	Mixin       bool                    `yaml:"mixin,omitempty"`
	TreeRoot    bool                    `yaml:"tree_root,omitempty"`
	Slots       []string                `yaml:"slots,omitempty"`
	Attributes  Ordered[SlotDefinition] `yaml:"attributes,omitempty"`
	SlotUsage   Ordered[SlotDefinition] `yaml:"slot_usage,omitempty"`
	Annotations Annotations             `yaml:"annotations,omitempty"`
}

// SlotDefinition describes a slot. Pointer flags distinguish "not stated"
// from false so slot_usage can override only what it mentions.
type SlotDefinition struct {
	Name           string      `yaml:"-"`
	Description    string      `yaml:"description,omitempty"`
	SlotURI        string      `yaml:"slot_uri,omitempty"`
	Range          string      `yaml:"range,omitempty"`
	Multivalued    *bool       `yaml:"multivalued,omitempty"`
	Identifier     *bool       `yaml:"identifier,omitempty"`
	Required       *bool       `yaml:"required,omitempty"`
	DesignatesType *bool       `yaml:"designates_type,omitempty"`
	Inlined        *bool       `yaml:"inlined,omitempty"`
	InlinedAsList  *bool       `yaml:"inlined_as_list,omitempty"`
	Annotations    Annotations `yaml:"annotations,omitempty"`
}

// EnumDefinition lists the permissible values of an enumeration.
type EnumDefinition struct {
	Name              string                              `yaml:"-"`
	Description       string                              `yaml:"description,omitempty"`
	EnumURI           string                              `yaml:"enum_uri,omitempty"`
	PermissibleValues Ordered[PermissibleValueDefinition] `yaml:"permissible_values,omitempty"`
}

// PermissibleValueDefinition is one member of an enumeration.
type PermissibleValueDefinition struct {
	Text        string `yaml:"-"`
	Description string `yaml:"description,omitempty"`
	Meaning     string `yaml:"meaning,omitempty"`
}

// TypeDefinition is a custom scalar type derived from a builtin.
type TypeDefinition struct {
	Name        string `yaml:"-"`
	Description string `yaml:"description,omitempty"`
	TypeOf      string `yaml:"typeof,omitempty"`
	URI         string `yaml:"uri,omitempty"`
	Base        string `yaml:"base,omitempty"`
}

// Flag reports the value of an optional boolean, false when unset.
func Flag(b *bool) bool {
	return b != nil && *b
}

// Merge returns a copy of s with every field stated in override applied.
func (s SlotDefinition) Merge(override SlotDefinition) SlotDefinition {
	merged := s
	if override.Description != "" {
		merged.Description = override.Description
	}
	if override.SlotURI != "" {
		merged.SlotURI = override.SlotURI
	}
	if override.Range != "" {
		merged.Range = override.Range
	}
	if override.Multivalued != nil {
		merged.Multivalued = override.Multivalued
	}
	if override.Identifier != nil {
		merged.Identifier = override.Identifier
	}
	if override.Required != nil {
		merged.Required = override.Required
	}
	if override.DesignatesType != nil {
		merged.DesignatesType = override.DesignatesType
	}
	if override.Inlined != nil {
		merged.Inlined = override.Inlined
	}
	if override.InlinedAsList != nil {
		merged.InlinedAsList = override.InlinedAsList
	}
	if len(override.Annotations) > 0 {
		annotations := make(Annotations, len(merged.Annotations)+len(override.Annotations))
		for key, value := range merged.Annotations {
			annotations[key] = value
		}
		for key, value := range override.Annotations {
			annotations[key] = value
		}
		merged.Annotations = annotations
	}
	return merged
}

// Ordered is a YAML mapping that remembers declaration order. LinkML
// documents rely on that order for slot and class listings.
type Ordered[T any] struct {
	keys   []string
	values map[string]T
}

// NewOrdered returns an empty mapping ready for Set.
func NewOrdered[T any]() Ordered[T] {
	return Ordered[T]{values: map[string]T{}}
}

// Set stores value under key, appending the key when it is new.
func (o *Ordered[T]) Set(key string, value T) {
	if o.values == nil {
		o.values = map[string]T{}
	}
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// Get returns the value stored under key.
func (o Ordered[T]) Get(key string) (T, bool) {
	value, ok := o.values[key]
	return value, ok
}

// Keys returns the keys in declaration order.
func (o Ordered[T]) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of entries.
func (o Ordered[T]) Len() int {
	return len(o.keys)
}

// UnmarshalYAML decodes a mapping while keeping key order. Null entries
// decode to the zero value so `Root: {}` and `Root:` are equivalent.
func (o *Ordered[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	o.keys = nil
	o.values = make(map[string]T, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valueNode := node.Content[i+1]
		var value T
		if !(valueNode.Kind == yaml.ScalarNode && valueNode.Tag == "!!null") {
			if err := valueNode.Decode(&value); err != nil {
				return fmt.Errorf("%s: %w", keyNode.Value, err)
			}
		}
		o.Set(keyNode.Value, value)
	}
	return nil
}

// MarshalYAML renders the mapping in declaration order.
func (o Ordered[T]) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range o.keys {
		valueNode := &yaml.Node{}
		if err := valueNode.Encode(o.values[key]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, valueNode)
	}
	return node, nil
}

// Prefixes maps a prefix to its namespace URI. Both the short form
// (`ex: http://example.org/`) and the expanded form with
// prefix_reference are accepted.
type Prefixes map[string]string

func (p *Prefixes) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: prefixes must be a mapping", node.Line)
	}
	out := make(Prefixes, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		valueNode := node.Content[i+1]
		switch valueNode.Kind {
		case yaml.ScalarNode:
			out[key] = valueNode.Value
		case yaml.MappingNode:
			var expanded struct {
				Reference string `yaml:"prefix_reference"`
			}
			if err := valueNode.Decode(&expanded); err != nil {
				return fmt.Errorf("prefix %s: %w", key, err)
			}
			out[key] = expanded.Reference
		default:
			return fmt.Errorf("prefix %s: unsupported value", key)
		}
	}
	*p = out
	return nil
}

// Annotations holds free-form tag/value annotations. Values keep their
// decoded YAML type.
type Annotations map[string]any

func (a *Annotations) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: annotations must be a mapping", node.Line)
	}
	out := make(Annotations, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		valueNode := node.Content[i+1]
		if valueNode.Kind == yaml.MappingNode {
			var tagged struct {
				Value any `yaml:"value"`
			}
			if err := valueNode.Decode(&tagged); err != nil {
				return fmt.Errorf("annotation %s: %w", key, err)
			}
			out[key] = tagged.Value
			continue
		}
		var value any
		if err := valueNode.Decode(&value); err != nil {
			return fmt.Errorf("annotation %s: %w", key, err)
		}
		out[key] = value
	}
	*a = out
	return nil
}

// Truthy reports whether the annotation stored under key is set to a
// true-like value.
func (a Annotations) Truthy(key string) bool {
	value, ok := a[key]
	if !ok {
		return false
	}
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "true", "1", "yes", "y", "on":
			return true
		}
		return false
	case int:
		return typed != 0
	case int64:
		return typed != 0
	case uint64:
		return typed != 0
	case float64:
		return typed != 0
	case nil:
		return false
	default:
		parsed, err := strconv.ParseBool(fmt.Sprint(typed))
		return err == nil && parsed
	}
}

// ParseSchemaDefinition decodes a schema document.
func ParseSchemaDefinition(data []byte) (SchemaDefinition, error) {
	var schema SchemaDefinition
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return SchemaDefinition{}, fmt.Errorf("failed to parse schema: %w", err)
	}
	schema.Normalize()
	return schema, nil
}

// Normalize copies mapping keys into the Name fields of the definitions
// they index.
func (s *SchemaDefinition) Normalize() {
	for _, key := range s.Classes.keys {
		class := s.Classes.values[key]
		class.Name = key
		for _, attr := range class.Attributes.keys {
			slot := class.Attributes.values[attr]
			slot.Name = attr
			class.Attributes.values[attr] = slot
		}
		for _, usage := range class.SlotUsage.keys {
			slot := class.SlotUsage.values[usage]
			slot.Name = usage
			class.SlotUsage.values[usage] = slot
		}
		s.Classes.values[key] = class
	}
	for _, key := range s.Slots.keys {
		slot := s.Slots.values[key]
		slot.Name = key
		s.Slots.values[key] = slot
	}
	for _, key := range s.Enums.keys {
		enum := s.Enums.values[key]
		enum.Name = key
		for _, text := range enum.PermissibleValues.keys {
			pv := enum.PermissibleValues.values[text]
			pv.Text = text
			enum.PermissibleValues.values[text] = pv
		}
		s.Enums.values[key] = enum
	}
	for _, key := range s.Types.keys {
		typ := s.Types.values[key]
		typ.Name = key
		s.Types.values[key] = typ
	}
}
