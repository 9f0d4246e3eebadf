package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/schema"
)

var designatorRanges = map[string]struct{}{
	"string":     {},
	"uri":        {},
	"uriorcurie": {},
	"curie":      {},
}

// ValidateClasses checks every loaded class for structural problems the
// instance loader cannot recover from: unknown parents, unknown slot
// ranges, more than one identifier, slot names that paths would read as
// list indices, and type designators whose range cannot hold a class
// reference. All problems are reported together.
func ValidateClasses(sv *schema.SchemaView) error {
	var errs []error
	for _, name := range sv.ClassNames() {
		cv, ok := sv.GetClassView(name)
		if !ok {
			errs = append(errs, fmt.Errorf("class %s cannot be resolved", name))
			continue
		}
		def := cv.Definition()
		if parent := strings.TrimSpace(def.IsA); parent != "" {
			if _, ok := sv.GetClassView(parent); !ok {
				errs = append(errs, fmt.Errorf("class %s inherits from unknown class %s", name, parent))
			}
		}
		for _, mixin := range def.Mixins {
			if _, ok := sv.GetClassView(mixin); !ok {
				errs = append(errs, fmt.Errorf("class %s uses unknown mixin %s", name, mixin))
			}
		}

		identifiers := 0
		for _, slot := range cv.Slots() {
			if delta.IsIndex(slot.Name()) {
				errs = append(errs, fmt.Errorf("slot %s.%s has a numeric name that paths read as a list index", name, slot.Name()))
			}
			if !sv.KnownRange(slot.Range()) {
				errs = append(errs, fmt.Errorf("slot %s.%s has unknown range %s", name, slot.Name(), slot.Range()))
			}
			if slot.Identifier() {
				identifiers++
				if slot.Multivalued() {
					errs = append(errs, fmt.Errorf("identifier slot %s.%s cannot be multivalued", name, slot.Name()))
				}
			}
			if slot.DesignatesType() {
				if _, ok := designatorRanges[slot.BaseType()]; !ok || slot.RangeKind() != schema.RangeScalar {
					errs = append(errs, fmt.Errorf("slot %s.%s designates type but has range %s", name, slot.Name(), slot.Range()))
				}
			}
		}
		if identifiers > 1 {
			errs = append(errs, fmt.Errorf("class %s declares %d identifier slots", name, identifiers))
		}
	}
	return errors.Join(errs...)
}
