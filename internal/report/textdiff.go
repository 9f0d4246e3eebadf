package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rpattn/asset360/internal/instance"
)

// CanonicalLines flattens an instance into sorted "path: value" lines.
// Scalars are JSON encoded so strings and numbers stay distinguishable.
func CanonicalLines(value *instance.Instance) []string {
	if value == nil {
		return nil
	}
	flat := map[string]string{}
	flatten("", value.ToJSON(), flat)
	if len(flat) == 0 {
		return []string{"(empty)"}
	}
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, key := range keys {
		lines[i] = fmt.Sprintf("%s: %s", key, flat[key])
	}
	return lines
}

// UnifiedDiff renders a line diff between the canonical text of two
// snapshots. Either side may be nil.
func UnifiedDiff(baseLabel string, base *instance.Instance, targetLabel string, target *instance.Instance) string {
	ops := diffLines(CanonicalLines(base), CanonicalLines(target))

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n", baseLabel)
	fmt.Fprintf(&b, "+++ %s\n", targetLabel)
	for _, op := range ops {
		b.WriteByte(op.prefix)
		b.WriteString(op.line)
		b.WriteByte('\n')
	}
	return b.String()
}

func flatten(prefix string, value any, acc map[string]string) {
	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			acc[keyOrRoot(prefix)] = "{}"
			return
		}
		for key, item := range typed {
			next := key
			if prefix != "" {
				next = prefix + "." + key
			}
			flatten(next, item, acc)
		}
	case []any:
		if len(typed) == 0 {
			acc[keyOrRoot(prefix)] = "[]"
			return
		}
		for i, item := range typed {
			flatten(fmt.Sprintf("%s[%d]", prefix, i), item, acc)
		}
	case nil:
		acc[keyOrRoot(prefix)] = "null"
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			acc[keyOrRoot(prefix)] = fmt.Sprint(typed)
			return
		}
		acc[keyOrRoot(prefix)] = string(encoded)
	}
}

func keyOrRoot(prefix string) string {
	if prefix == "" {
		return "."
	}
	return prefix
}

type diffOp struct {
	prefix byte
	line   string
}

// diffLines is a longest-common-subsequence line diff.
func diffLines(base, target []string) []diffOp {
	m, n := len(base), len(target)
	lcs := make([][]int, m+1)
	for i := range lcs {
		lcs[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			switch {
			case base[i] == target[j]:
				lcs[i][j] = lcs[i+1][j+1] + 1
			case lcs[i+1][j] >= lcs[i][j+1]:
				lcs[i][j] = lcs[i+1][j]
			default:
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	ops := make([]diffOp, 0, m+n)
	i, j := 0, 0
	for i < m && j < n {
		switch {
		case base[i] == target[j]:
			ops = append(ops, diffOp{' ', base[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, diffOp{'-', base[i]})
			i++
		default:
			ops = append(ops, diffOp{'+', target[j]})
			j++
		}
	}
	for ; i < m; i++ {
		ops = append(ops, diffOp{'-', base[i]})
	}
	for ; j < n; j++ {
		ops = append(ops, diffOp{'+', target[j]})
	}
	return ops
}
