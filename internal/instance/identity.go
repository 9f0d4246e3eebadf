package instance

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// identityNamespace seeds the name-based UUIDs used as node identities.
var identityNamespace = uuid.MustParse("5b1f3f0e-7c1e-4b55-9a43-36a0b2c1d9e4")

// NodeID is the stable identity of a logical field. It is derived from the
// node's identity key (class, identifier values and slot/index chain), so a
// rebuilt tree holding the same logical field yields the same NodeID.
type NodeID uuid.UUID

// NilNodeID is the zero identity carried by nodes that were never placed in
// a tree.
var NilNodeID NodeID

func newNodeID(key string) NodeID {
	return NodeID(uuid.NewSHA1(identityNamespace, []byte(key)))
}

// ParseNodeID reads the string form of a NodeID.
func ParseNodeID(raw string) (NodeID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return NilNodeID, fmt.Errorf("invalid node id %q: %w", raw, err)
	}
	return NodeID(id), nil
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

// MarshalText lets NodeID serve as a JSON object key.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *NodeID) UnmarshalText(data []byte) error {
	parsed, err := ParseNodeID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// keyFor derives the identity key of a non-list node placed at base.
// Identified objects append their identifier to the slot key.
func keyFor(node *Instance, base string) string {
	if id, identified := identifierValue(node); identified {
		return base + "#" + id
	}
	return base
}

// elementKey derives the identity key of the list element at index. The
// first element carrying an identifier value is keyed by it; elements
// without one, and later duplicates, are keyed by index so that every
// element keeps a distinct identity.
func elementKey(node *Instance, base string, index int, seen map[string]bool) string {
	if id, identified := identifierValue(node); identified && !seen[id] {
		seen[id] = true
		return base + "/#" + id
	}
	return base + "/[" + strconv.Itoa(index) + "]"
}

// rootKey is the identity key of a tree root.
func rootKey(node *Instance) string {
	base := ""
	if node.class != nil {
		base = node.class.ID()
	}
	return keyFor(node, base)
}

func identifierValue(node *Instance) (string, bool) {
	if node == nil || node.kind != KindObject || node.class == nil {
		return "", false
	}
	slot, ok := node.class.IdentifierSlot()
	if !ok {
		return "", false
	}
	value, ok := node.Get(slot.Name())
	if !ok || value.kind != KindScalar || value.value == nil {
		return "", false
	}
	return scalarText(value.value), true
}

func scalarText(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	case json.Number:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}

// identify stamps node and its subtree with identities derived from key.
// A node that already carries key is returned as is: its descendants were
// keyed from the same key.
func identify(node *Instance, key string) *Instance {
	if node.key == key && key != "" {
		return node
	}
	out := node.shallowCopy()
	out.key = key
	out.id = newNodeID(key)
	switch out.kind {
	case KindObject:
		for i, f := range out.fields {
			out.fields[i].value = identify(f.value, keyFor(f.value, key+"/"+f.name))
		}
	case KindList:
		seen := map[string]bool{}
		for i, item := range out.items {
			out.items[i] = identify(item, elementKey(item, key, i, seen))
		}
	}
	return out
}
