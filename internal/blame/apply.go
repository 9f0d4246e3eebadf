package blame

import (
	"errors"
	"strconv"

	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/instance"
)

var (
	// ErrNoBase is returned when ApplyDeltas has nothing to apply onto.
	ErrNoBase = errors.New("base value required")
	// ErrNoStages is returned when ComputeHistory receives an empty chain.
	ErrNoStages = errors.New("at least one stage required")
)

// BlameMap attributes node identities to the stage that last wrote them.
// Nodes without an entry were never modified after the base.
type BlameMap map[instance.NodeID]ChangeMeta

// ApplyResult is the outcome of folding stages onto a base value.
// Rejected[i] is the rejection set of stages[i]: the paths of its deltas
// that conflicted. Stages holds copies of the input stages with that set
// recorded in RejectedPaths.
type ApplyResult struct {
	Value    *instance.Instance
	Blame    BlameMap
	Rejected [][]delta.Path
	Stages   []ChangeStage
}

// ApplyDeltas applies the deltas of every stage, in order, onto base.
// Conflicting deltas are skipped and reported in Rejected; they never abort
// the run. Attribution follows the last successful write of each node.
func ApplyDeltas(base *instance.Instance, stages []ChangeStage) (ApplyResult, error) {
	if base == nil {
		return ApplyResult{}, ErrNoBase
	}
	result := ApplyResult{
		Value:    base,
		Blame:    BlameMap{},
		Rejected: make([][]delta.Path, len(stages)),
		Stages:   make([]ChangeStage, len(stages)),
	}
	for i, stage := range stages {
		rejected := []delta.Path{}
		for _, d := range stage.Deltas {
			updated, ok := applyOne(result.Value, d, stage.Meta, result.Blame)
			if !ok {
				rejected = append(rejected, d.Path.Clone())
				continue
			}
			result.Value = updated
		}
		result.Rejected[i] = rejected
		result.Stages[i] = withRejections(stage, rejected)
	}
	return result, nil
}

// withRejections records rejected as the stage's rejection set. A stage
// without conflicts keeps the form its rejected_paths key had.
func withRejections(stage ChangeStage, rejected []delta.Path) ChangeStage {
	stage.RejectedPaths = nil
	if len(rejected) > 0 {
		stage.RejectedPaths = append([]delta.Path(nil), rejected...)
		stage.Rejected = PresenceList
	}
	return stage
}

// applyOne applies d to value and updates blame in place. It reports false
// for a conflict, leaving both untouched.
func applyOne(value *instance.Instance, d delta.Delta, meta ChangeMeta, blame BlameMap) (*instance.Instance, bool) {
	current, exists := value.Resolve(d.Path)
	if !precondition(d, current, exists) {
		return nil, false
	}

	var (
		updated *instance.Instance
		err     error
	)
	switch d.Op {
	case delta.OpSet:
		var node *instance.Instance
		node, _, err = value.Build(d.Path, d.New.Get())
		if err == nil {
			updated, err = value.ReplaceAt(d.Path, node)
		}
	case delta.OpAdd:
		var node *instance.Instance
		node, _, err = value.Build(d.Path, d.New.Get())
		if err == nil {
			updated, err = value.InsertAt(d.Path, node)
		}
	case delta.OpRemove:
		updated, err = value.RemoveAt(d.Path)
	default:
		return nil, false
	}
	if err != nil {
		return nil, false
	}

	carryBlame(value, updated, d, blame)
	stamp(updated, d, meta, blame)
	return updated, true
}

func precondition(d delta.Delta, current *instance.Instance, exists bool) bool {
	switch d.Op {
	case delta.OpSet:
		if !exists || !d.New.IsSet() {
			return false
		}
	case delta.OpAdd:
		if !d.New.IsSet() {
			return false
		}
		if _, isIndex := d.Path.Index(); isIndex {
			// list insertions shift rather than overwrite; old is not checked.
			return true
		}
		if d.Old.IsSet() {
			var live any
			if exists {
				live = current.ToJSON()
			}
			return instance.JSONEqual(live, d.Old.Get())
		}
		return true
	case delta.OpRemove:
		if !exists || d.Path.IsRoot() {
			return false
		}
	default:
		return false
	}
	if d.Old.IsSet() && !instance.JSONEqual(current.ToJSON(), d.Old.Get()) {
		return false
	}
	return true
}

// carryBlame moves the attribution of nodes that survive the edit to the
// identities they carry in updated. Entries inside the replaced or removed
// subtree are dropped.
func carryBlame(before, after *instance.Instance, d delta.Delta, blame BlameMap) {
	if len(blame) == 0 {
		return
	}
	located := make(map[instance.NodeID]delta.Path, len(blame))
	before.Walk(func(path delta.Path, node *instance.Instance) bool {
		if _, blamed := blame[node.ID()]; blamed {
			if _, seen := located[node.ID()]; !seen {
				located[node.ID()] = path
			}
		}
		return true
	})

	carried := make(BlameMap, len(blame))
	for id, meta := range blame {
		path, ok := located[id]
		if !ok {
			continue
		}
		if d.Op != delta.OpAdd && (path.Equal(d.Path) || path.IsDescendantOf(d.Path)) {
			continue
		}
		moved, ok := shiftPath(path, d)
		if !ok {
			continue
		}
		node, ok := after.Resolve(moved)
		if !ok {
			continue
		}
		carried[node.ID()] = meta
	}
	for id := range blame {
		delete(blame, id)
	}
	for id, meta := range carried {
		blame[id] = meta
	}
}

// shiftPath maps a path of the tree before a list insertion or removal to
// its position afterwards.
func shiftPath(path delta.Path, d delta.Delta) (delta.Path, bool) {
	index, isIndex := d.Path.Index()
	if !isIndex || d.Op == delta.OpSet {
		return path, true
	}
	list := d.Path.Parent()
	if !list.IsAncestorOf(path) {
		return path, true
	}
	segment := path[len(list)]
	if !delta.IsIndex(segment) {
		return path, true
	}
	element, err := strconv.Atoi(segment)
	if err != nil || element < index {
		return path, true
	}
	out := path.Clone()
	switch d.Op {
	case delta.OpAdd:
		out[len(list)] = delta.IndexSegment(element + 1)
	case delta.OpRemove:
		if element == index {
			return nil, false
		}
		out[len(list)] = delta.IndexSegment(element - 1)
	}
	return out, true
}

// stamp attributes the written subtree and, for insertions and removals,
// the container that changed shape.
func stamp(after *instance.Instance, d delta.Delta, meta ChangeMeta, blame BlameMap) {
	if d.Op != delta.OpRemove {
		if node, ok := after.Resolve(d.Path); ok {
			node.Walk(func(_ delta.Path, child *instance.Instance) bool {
				blame[child.ID()] = meta
				return true
			})
		}
	}
	if d.Op == delta.OpSet || d.Path.IsRoot() {
		return
	}
	if container, ok := after.Resolve(d.Path.Parent()); ok {
		blame[container.ID()] = meta
	}
}
