package instance

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/schema"
)

var (
	ErrPathNotFound = errors.New("path not found")
	ErrUnknownSlot  = errors.New("unknown slot")
	ErrInvalidEdit  = errors.New("invalid edit")
)

// Build validates raw as the value to be placed at path, which may not
// exist yet: the slot governing the position is taken from the enclosing
// object or list. Issues are prefixed with path.
func (n *Instance) Build(path delta.Path, raw any) (*Instance, []string, error) {
	normalized, err := normalizeGeneric(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read value at %s: %w", path, err)
	}
	l := &loader{}
	if path.IsRoot() {
		if n.class == nil {
			return nil, nil, ErrUnresolvedClass
		}
		node := l.object(normalized, rootClassFor(n.class, normalized), nil, path)
		if l.rootDesignatorFailed {
			return nil, l.issues, fmt.Errorf("%w: root type designator does not resolve", ErrInvalidEdit)
		}
		return node, l.issues, nil
	}
	slot, element, err := n.slotFor(path)
	if err != nil {
		return nil, nil, err
	}
	if element {
		return l.element(normalized, slot, path), l.issues, nil
	}
	return l.slotValue(normalized, slot, path), l.issues, nil
}

// rootClassFor picks the class a replacement root is resolved against. A
// value naming its type is resolved from the class declaring the
// designator, so a root may move between sibling subclasses; otherwise the
// current class is kept.
func rootClassFor(current *schema.ClassView, raw any) *schema.ClassView {
	designator, ok := current.TypeDesignatorSlot()
	if !ok {
		return current
	}
	values, ok := raw.(map[string]any)
	if !ok {
		return current
	}
	if _, named := values[designator.Name()].(string); !named {
		return current
	}
	sv := current.SchemaView()
	if sv == nil {
		return current
	}
	return sv.DesignatorBase(current)
}

// slotFor returns the slot governing path and whether path addresses a list
// element of that slot.
func (n *Instance) slotFor(path delta.Path) (*schema.SlotView, bool, error) {
	parentPath := path.Parent()
	last := path.Last()
	parent, ok := n.Resolve(parentPath)
	if ok {
		switch {
		case parent.kind == KindList && delta.IsIndex(last):
			return parent.slot, true, nil
		case parent.kind == KindObject:
			slot, ok := parent.class.Slot(last)
			if !ok {
				return nil, false, fmt.Errorf("%w: %s on %s", ErrUnknownSlot, last, parent.class.Name())
			}
			return slot, false, nil
		default:
			return nil, false, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
	}
	if delta.IsIndex(last) && !parentPath.IsRoot() {
		owner, ok := n.Resolve(parentPath.Parent())
		if ok && owner.kind == KindObject && !delta.IsIndex(parentPath.Last()) {
			slot, ok := owner.class.Slot(parentPath.Last())
			if !ok {
				return nil, false, fmt.Errorf("%w: %s on %s", ErrUnknownSlot, parentPath.Last(), owner.class.Name())
			}
			if slot.Multivalued() {
				return slot, true, nil
			}
		}
	}
	return nil, false, fmt.Errorf("%w: %s", ErrPathNotFound, path)
}

// ReplaceAt returns a new tree with the node at path replaced.
func (n *Instance) ReplaceAt(path delta.Path, node *Instance) (*Instance, error) {
	if _, ok := n.Resolve(path); !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	if path.IsRoot() {
		if node.kind != KindObject {
			return nil, fmt.Errorf("%w: root must be an object", ErrInvalidEdit)
		}
		return restamp(node.unkeyed()), nil
	}
	last := path.Last()
	return n.updateAt(path.Parent(), func(parent *Instance) (*Instance, error) {
		if parent.kind == KindList {
			index, _ := strconv.Atoi(last)
			parent.items[index] = node
			return parent, nil
		}
		parent.setField(last, node)
		return parent, nil
	})
}

// InsertAt returns a new tree with node inserted at path: into a list at an
// index no greater than its length, into an absent or null single slot, or
// as the first element of an absent multivalued slot.
func (n *Instance) InsertAt(path delta.Path, node *Instance) (*Instance, error) {
	if path.IsRoot() {
		return nil, fmt.Errorf("%w: cannot insert at the root", ErrInvalidEdit)
	}
	parentPath := path.Parent()
	last := path.Last()
	parent, ok := n.Resolve(parentPath)
	if !ok {
		index, isIndex := path.Index()
		if !isIndex || index != 0 || parentPath.IsRoot() {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, parentPath)
		}
		slot, element, err := n.slotFor(path)
		if err != nil {
			return nil, err
		}
		if !element {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, parentPath)
		}
		list := &Instance{kind: KindList, slot: slot, items: []*Instance{node}}
		return n.updateAt(parentPath.Parent(), func(owner *Instance) (*Instance, error) {
			owner.setField(parentPath.Last(), list)
			return owner, nil
		})
	}

	switch parent.kind {
	case KindList:
		index, isIndex := path.Index()
		if !isIndex || index > len(parent.items) {
			return nil, fmt.Errorf("%w: index %s out of range for %s", ErrInvalidEdit, last, parentPath)
		}
		return n.updateAt(parentPath, func(list *Instance) (*Instance, error) {
			items := make([]*Instance, 0, len(list.items)+1)
			items = append(items, list.items[:index]...)
			items = append(items, node)
			items = append(items, list.items[index:]...)
			list.items = items
			return list, nil
		})
	case KindObject:
		if delta.IsIndex(last) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		if _, ok := parent.class.Slot(last); !ok {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnknownSlot, last, parent.class.Name())
		}
		if current, present := parent.Get(last); present && !current.IsNull() {
			return nil, fmt.Errorf("%w: slot %s is already set", ErrInvalidEdit, path)
		}
		return n.updateAt(parentPath, func(owner *Instance) (*Instance, error) {
			owner.setField(last, node)
			return owner, nil
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
}

// RemoveAt returns a new tree without the node at path.
func (n *Instance) RemoveAt(path delta.Path) (*Instance, error) {
	if path.IsRoot() {
		return nil, fmt.Errorf("%w: cannot remove the root", ErrInvalidEdit)
	}
	if _, ok := n.Resolve(path); !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	last := path.Last()
	return n.updateAt(path.Parent(), func(parent *Instance) (*Instance, error) {
		if parent.kind == KindList {
			index, _ := strconv.Atoi(last)
			parent.items = append(parent.items[:index:index], parent.items[index+1:]...)
			return parent, nil
		}
		parent.deleteField(last)
		return parent, nil
	})
}

// updateAt copies every node from the root down to path, hands the copy at
// path to fn and re-stamps identities of the rebuilt tree.
func (n *Instance) updateAt(path delta.Path, fn func(*Instance) (*Instance, error)) (*Instance, error) {
	updated, err := n.rebuild(path, fn)
	if err != nil {
		return nil, err
	}
	return restamp(updated), nil
}

func (n *Instance) rebuild(path delta.Path, fn func(*Instance) (*Instance, error)) (*Instance, error) {
	out := n.unkeyed()
	if path.IsRoot() {
		return fn(out)
	}
	segment := path[0]
	switch out.kind {
	case KindObject:
		for i, f := range out.fields {
			if f.name != segment {
				continue
			}
			child, err := f.value.rebuild(path[1:], fn)
			if err != nil {
				return nil, err
			}
			out.fields[i].value = child
			return out, nil
		}
	case KindList:
		index, err := strconv.Atoi(segment)
		if err == nil && index >= 0 && index < len(out.items) {
			child, err := out.items[index].rebuild(path[1:], fn)
			if err != nil {
				return nil, err
			}
			out.items[index] = child
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPathNotFound, delta.Path(path))
}

func restamp(root *Instance) *Instance {
	return identify(root, rootKey(root))
}

// setField stores value under name, keeping declaration order.
func (n *Instance) setField(name string, value *Instance) {
	for i, f := range n.fields {
		if f.name == name {
			n.fields[i].value = value
			return
		}
	}
	position := len(n.fields)
	if n.class != nil {
		rank := n.class.SlotIndex(name)
		for i, f := range n.fields {
			if n.class.SlotIndex(f.name) > rank {
				position = i
				break
			}
		}
	}
	n.fields = append(n.fields, field{})
	copy(n.fields[position+1:], n.fields[position:])
	n.fields[position] = field{name: name, value: value}
}

func (n *Instance) deleteField(name string) {
	for i, f := range n.fields {
		if f.name == name {
			n.fields = append(n.fields[:i:i], n.fields[i+1:]...)
			return
		}
	}
}
