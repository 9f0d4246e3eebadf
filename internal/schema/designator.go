package schema

// TypeDesignatorValue returns the value a designates_type slot carries for
// this class. The slot's range decides the form: uri gives the class URI,
// uriorcurie and curie the compact form, anything else the class name.
func (cv *ClassView) TypeDesignatorValue() (string, bool) {
	slot, ok := cv.TypeDesignatorSlot()
	if !ok {
		return "", false
	}
	switch slot.BaseType() {
	case "uri":
		return cv.uri, true
	case "uriorcurie", "curie":
		if cv.curie != "" {
			return cv.curie, true
		}
		return cv.uri, true
	default:
		return cv.name, true
	}
}

// AcceptedTypeDesignatorValues lists every value that selects this class:
// its name, CURIE and URI, primary form first.
func (cv *ClassView) AcceptedTypeDesignatorValues() []string {
	primary, ok := cv.TypeDesignatorValue()
	if !ok {
		return nil
	}
	values := []string{primary}
	for _, alias := range []string{cv.name, cv.curie, cv.uri} {
		if alias == "" || alias == primary {
			continue
		}
		duplicate := false
		for _, existing := range values {
			if existing == alias {
				duplicate = true
				break
			}
		}
		if !duplicate {
			values = append(values, alias)
		}
	}
	return values
}

// ClassesByTypeDesignator maps type designator values to the classes they
// select. With onlyRegistered only classes carrying a truthy managed
// annotation are included; with onlyDefault only each class' primary
// designator value is used as a key.
func (sv *SchemaView) ClassesByTypeDesignator(onlyRegistered, onlyDefault bool) map[string]*ClassView {
	out := map[string]*ClassView{}
	for _, name := range sv.ClassNames() {
		cv, ok := sv.GetClassView(name)
		if !ok {
			continue
		}
		if onlyRegistered && !cv.Managed() {
			continue
		}
		if onlyDefault {
			if value, ok := cv.TypeDesignatorValue(); ok {
				out[value] = cv
			}
			continue
		}
		for _, value := range cv.AcceptedTypeDesignatorValues() {
			out[value] = cv
		}
	}
	return out
}

// ResolveTypeDesignator returns the class selected by a designator value,
// restricted to subclasses of base when base is non-nil.
func (sv *SchemaView) ResolveTypeDesignator(base *ClassView, value string) (*ClassView, bool) {
	cv, ok := sv.ClassesByTypeDesignator(false, false)[value]
	if !ok {
		return nil, false
	}
	if base == nil || cv.name == base.name {
		return cv, true
	}
	if sv.IsDescendant(cv.name, base.name) {
		return cv, true
	}
	return nil, false
}

// IsDescendant reports whether class name inherits from ancestor through
// is_a or mixins.
func (sv *SchemaView) IsDescendant(name, ancestor string) bool {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	for _, entry := range sv.ancestorsLocked(name, map[string]bool{}) {
		if entry.def.Name == ancestor && entry.def.Name != name {
			return true
		}
	}
	return false
}

// DesignatorBase returns the most general ancestor of cv that carries the
// same type designator slot, so sibling subclasses resolve against a
// common base. cv itself is returned when it has no designator.
func (sv *SchemaView) DesignatorBase(cv *ClassView) *ClassView {
	slot, ok := cv.TypeDesignatorSlot()
	if !ok {
		return cv
	}
	sv.mu.RLock()
	lineage := sv.ancestorsLocked(cv.name, map[string]bool{})
	sv.mu.RUnlock()
	for _, entry := range lineage {
		ancestor, ok := sv.GetClassView(entry.def.Name)
		if !ok {
			continue
		}
		if designator, ok := ancestor.TypeDesignatorSlot(); ok && designator.Name() == slot.Name() {
			return ancestor
		}
	}
	return cv
}
