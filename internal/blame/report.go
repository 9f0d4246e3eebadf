package blame

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/instance"
)

const metaColumnWidth = 72

// PathMeta pairs a path with the metadata blamed for the node there.
type PathMeta struct {
	Path delta.Path
	Meta ChangeMeta
}

// GetBlameInfo returns the metadata attributed to node, if any.
func GetBlameInfo(node *instance.Instance, blame BlameMap) (ChangeMeta, bool) {
	if node == nil {
		return ChangeMeta{}, false
	}
	meta, ok := blame[node.ID()]
	return meta, ok
}

// BlameMapToPathStageMap lists every blamed node of value in depth-first,
// slot declaration order, the root first.
func BlameMapToPathStageMap(value *instance.Instance, blame BlameMap) []PathMeta {
	out := []PathMeta{}
	if value == nil {
		return out
	}
	value.Walk(func(path delta.Path, node *instance.Instance) bool {
		if meta, ok := blame[node.ID()]; ok {
			out = append(out, PathMeta{Path: path.Clone(), Meta: meta})
		}
		return true
	})
	return out
}

// FormatBlameMap renders value as YAML-like lines, each prefixed by the
// metadata of the stage that last wrote the node.
func FormatBlameMap(value *instance.Instance, blame BlameMap) string {
	if value == nil {
		return ""
	}
	var lines []string
	value.Walk(func(path delta.Path, node *instance.Instance) bool {
		column := strings.Repeat(" ", metaColumnWidth)
		if meta, ok := blame[node.ID()]; ok {
			column = metaColumn(meta)
		}
		lines = append(lines, column+" | "+nodeLine(path, node))
		return true
	})
	return strings.Join(lines, "\n")
}

func metaColumn(meta ChangeMeta) string {
	text := fmt.Sprintf("cid=%3d author=%s ts=%s src=%s ics=%d",
		meta.ChangeID, meta.Author, meta.Timestamp, meta.Source, meta.ICSID)
	if len(text) > metaColumnWidth {
		text = text[:metaColumnWidth]
	}
	return fmt.Sprintf("%-*s", metaColumnWidth, text)
}

func nodeLine(path delta.Path, node *instance.Instance) string {
	if path.IsRoot() {
		if cv := node.Class(); cv != nil {
			return "<root> (" + cv.Name() + ")"
		}
		return "<root>"
	}
	indent := strings.Repeat("  ", len(path)-1)
	var label string
	if delta.IsIndex(path.Last()) {
		label = indent + "-"
	} else {
		label = indent + path.Last() + ":"
	}
	switch node.Kind() {
	case instance.KindObject, instance.KindList:
		return label
	default:
		return label + " " + LeafText(node)
	}
}

// LeafText renders the value of a scalar or enum node the way it would
// appear in YAML.
func LeafText(node *instance.Instance) string {
	switch value := node.Value().(type) {
	case nil:
		return "null"
	case string:
		if value == "" {
			return `""`
		}
		return value
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	default:
		data, err := json.Marshal(node.ToJSON())
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(data)
	}
}

// FormatStageEntries renders path/metadata pairs one per line.
func FormatStageEntries(entries []PathMeta) string {
	if len(entries) == 0 {
		return "<empty stage map>"
	}
	lines := make([]string, len(entries))
	for i, entry := range entries {
		lines[i] = fmt.Sprintf("%s => change_id=%d author=%s timestamp=%s source=%s ics_id=%d",
			entry.Path, entry.Meta.ChangeID, entry.Meta.Author, entry.Meta.Timestamp, entry.Meta.Source, entry.Meta.ICSID)
	}
	return strings.Join(lines, "\n")
}

// ChangeIDs returns the distinct change ids present in the map, ascending.
func (b BlameMap) ChangeIDs() []uint64 {
	seen := map[uint64]struct{}{}
	for _, meta := range b {
		seen[meta.ChangeID] = struct{}{}
	}
	out := make([]uint64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ToWire converts the map to its wire shape: node id string to metadata
// dict.
func (b BlameMap) ToWire() map[string]map[string]any {
	out := make(map[string]map[string]any, len(b))
	for id, meta := range b {
		out[id.String()] = meta.ToDict()
	}
	return out
}

// BlameMapFromWire reads the wire shape back.
func BlameMapFromWire(raw map[string]any) (BlameMap, error) {
	out := make(BlameMap, len(raw))
	for key, value := range raw {
		id, err := instance.ParseNodeID(key)
		if err != nil {
			return nil, err
		}
		dict, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("blame entry %s must be an object, got %T", key, value)
		}
		meta, err := MetaFromDict(dict)
		if err != nil {
			return nil, fmt.Errorf("failed to read blame entry %s: %w", key, err)
		}
		out[id] = meta
	}
	return out, nil
}
