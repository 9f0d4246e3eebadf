package blame

import (
	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/instance"
)

// Diff returns the deltas that turn from into to. Objects of the same class
// are compared slot by slot in declaration order; lists element-wise over
// their common prefix, then trailing removals from the end and trailing
// additions in order. Any other difference replaces the value.
func Diff(from, to *instance.Instance) []delta.Delta {
	out := []delta.Delta{}
	if from == nil || to == nil {
		return out
	}
	return diffNode(out, delta.Path{}, from, to)
}

func diffNode(out []delta.Delta, path delta.Path, from, to *instance.Instance) []delta.Delta {
	switch {
	case from.Kind() == instance.KindObject && to.Kind() == instance.KindObject && sameClass(from, to):
		return diffObject(out, path, from, to)
	case from.Kind() == instance.KindList && to.Kind() == instance.KindList:
		return diffList(out, path, from, to)
	case from.Equals(to):
		return out
	default:
		return append(out, delta.Set(path, from.ToJSON(), to.ToJSON()))
	}
}

func sameClass(a, b *instance.Instance) bool {
	return a.Class() != nil && b.Class() != nil && a.Class().ID() == b.Class().ID()
}

func diffObject(out []delta.Delta, path delta.Path, from, to *instance.Instance) []delta.Delta {
	for _, name := range from.Class().SlotNames() {
		before, inFrom := from.Get(name)
		after, inTo := to.Get(name)
		child := path.Child(name)
		switch {
		case inFrom && inTo:
			out = diffNode(out, child, before, after)
		case inTo:
			out = append(out, delta.Add(child, after.ToJSON()))
		case inFrom:
			out = append(out, delta.Remove(child, before.ToJSON()))
		}
	}
	return out
}

func diffList(out []delta.Delta, path delta.Path, from, to *instance.Instance) []delta.Delta {
	common := min(from.Len(), to.Len())
	for i := 0; i < common; i++ {
		before, _ := from.Item(i)
		after, _ := to.Item(i)
		out = diffNode(out, path.ChildIndex(i), before, after)
	}
	for i := from.Len() - 1; i >= common; i-- {
		before, _ := from.Item(i)
		out = append(out, delta.Remove(path.ChildIndex(i), before.ToJSON()))
	}
	for i := common; i < to.Len(); i++ {
		after, _ := to.Item(i)
		out = append(out, delta.Add(path.ChildIndex(i), after.ToJSON()))
	}
	return out
}
