package delta

import (
	"fmt"
	"strconv"
	"strings"
)

// Path addresses a node from the root of an instance tree. Segments are slot
// names or decimal list indexes. The empty path is the root.
type Path []string

// RootPath is the empty path.
var RootPath = Path{}

// ParsePath reads the dotted form produced by String, e.g. `tasks[1].title`.
// `<root>` and the empty string both parse to the root.
func ParsePath(text string) (Path, error) {
	text = strings.TrimSpace(text)
	if text == "" || text == "<root>" {
		return Path{}, nil
	}
	var out Path
	for i, component := range strings.Split(text, ".") {
		name, rest, _ := strings.Cut(component, "[")
		if name == "" && (i > 0 || rest == "") {
			return nil, fmt.Errorf("path component %d is empty", i)
		}
		if name != "" {
			out = append(out, name)
		}
		if rest == "" {
			continue
		}
		for _, raw := range strings.Split("["+rest, "[")[1:] {
			index, ok := strings.CutSuffix(raw, "]")
			if !ok {
				return nil, fmt.Errorf("path component %d has an unterminated index", i)
			}
			if _, err := strconv.Atoi(index); err != nil || strings.HasPrefix(index, "-") {
				return nil, fmt.Errorf("path component %d contains non-numeric index %q", i, index)
			}
			out = append(out, index)
		}
	}
	return out, nil
}

// IsIndex reports whether a segment addresses a list element.
func IsIndex(segment string) bool {
	if segment == "" {
		return false
	}
	for _, char := range segment {
		if char < '0' || char > '9' {
			return false
		}
	}
	return true
}

// IndexSegment renders a list index as a path segment.
func IndexSegment(index int) string {
	return strconv.Itoa(index)
}

// String renders the path as `<root>` or `slot.child[0].leaf`.
func (p Path) String() string {
	if len(p) == 0 {
		return "<root>"
	}
	var sb strings.Builder
	for _, segment := range p {
		if IsIndex(segment) {
			sb.WriteString("[")
			sb.WriteString(segment)
			sb.WriteString("]")
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(segment)
	}
	return sb.String()
}

// IsRoot reports whether p addresses the root.
func (p Path) IsRoot() bool { return len(p) == 0 }

// Parent returns the path of the enclosing node. The root is its own parent.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Path{}
	}
	return p.Clone()[:len(p)-1]
}

// Last returns the final segment, or "" for the root.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Index parses the final segment as a list index.
func (p Path) Index() (int, bool) {
	last := p.Last()
	if !IsIndex(last) {
		return 0, false
	}
	index, err := strconv.Atoi(last)
	if err != nil {
		return 0, false
	}
	return index, true
}

// Child returns a new path extended by segment.
func (p Path) Child(segment string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, segment)
}

// ChildIndex returns a new path extended by a list index.
func (p Path) ChildIndex(index int) Path {
	return p.Child(IndexSegment(index))
}

// Clone returns an independent copy.
func (p Path) Clone() Path {
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Depth returns the number of segments.
func (p Path) Depth() int { return len(p) }

// Equal reports segment-wise equality.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// IsAncestorOf reports whether p is a strict prefix of other. The root is an
// ancestor of every non-root path.
func (p Path) IsAncestorOf(other Path) bool {
	if len(p) >= len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// IsDescendantOf reports whether p lies strictly below ancestor.
func (p Path) IsDescendantOf(ancestor Path) bool {
	return ancestor.IsAncestorOf(p)
}

// IsSiblingOf reports whether two distinct paths share a parent.
func (p Path) IsSiblingOf(other Path) bool {
	if len(p) == 0 || len(other) == 0 || p.Equal(other) {
		return false
	}
	return p.Parent().Equal(other.Parent())
}

// Compare orders paths segment by segment; index segments compare
// numerically and sort before names. Returns -1, 0 or 1.
func Compare(a, b Path) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareSegment(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareSegment(a, b string) int {
	aIndex, bIndex := IsIndex(a), IsIndex(b)
	switch {
	case aIndex && bIndex:
		ai, _ := strconv.Atoi(a)
		bi, _ := strconv.Atoi(b)
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aIndex:
		return -1
	case bIndex:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// ContainsPath reports whether paths holds a path equal to p.
func ContainsPath(paths []Path, p Path) bool {
	for _, candidate := range paths {
		if candidate.Equal(p) {
			return true
		}
	}
	return false
}
