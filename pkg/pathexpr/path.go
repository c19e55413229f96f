// Package pathexpr reads and writes values inside untyped nested containers
// (map[string]any and []any) addressed by dotted path expressions such as
// "company.name" or "addresses[2].street".
package pathexpr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxIndex is the largest sequence index a path may address. A bracketed
// index above it is not an index: Validate rejects it and the path walkers
// keep "name[index]" as a literal key.
const MaxIndex = 9999

var (
	indexPattern     = regexp.MustCompile(`\[(\d+)\]`)
	arrayPathPattern = regexp.MustCompile(`^([^\[]+)\[(\d+)\]\.(.+)$`)
	segmentPattern   = regexp.MustCompile(`^[^\[\]]+(\[\d+\])*$`)
)

// ArrayPath is the decomposition of an indexed-array path
// "<ArrayPath>[<Index>].<FieldPath>".
type ArrayPath struct {
	ArrayPath string `json:"arrayPath"`
	Index     int    `json:"index"`
	FieldPath string `json:"fieldPath"`
}

// Segments splits a path into walk steps. "addresses[0].street" yields
// ["addresses", "0", "street"].
func Segments(path string) []string {
	if path == "" {
		return nil
	}
	expanded := indexPattern.ReplaceAllStringFunc(path, func(match string) string {
		digits := match[1 : len(match)-1]
		if _, ok := parseIndex(digits); !ok {
			return match
		}
		return "." + digits
	})
	return strings.Split(expanded, ".")
}

// Depth returns the number of walk steps in a path.
func Depth(path string) int {
	return len(Segments(path))
}

// IsArrayPath reports whether the path contains at least one [<digits>] index,
// whatever its size.
func IsArrayPath(path string) bool {
	return indexPattern.MatchString(path)
}

// ParseArrayPath matches "<arrayPath>[<index>].<fieldPath>". Paths without a
// field after the index, without a name before it, or with an index above
// MaxIndex do not match.
func ParseArrayPath(path string) (ArrayPath, bool) {
	m := arrayPathPattern.FindStringSubmatch(path)
	if m == nil {
		return ArrayPath{}, false
	}
	index, ok := parseIndex(m[2])
	if !ok {
		return ArrayPath{}, false
	}
	return ArrayPath{ArrayPath: m[1], Index: index, FieldPath: m[3]}, true
}

// Validate checks that a path is well formed: every dot-separated segment is
// a non-empty name optionally followed by [<digits>] suffixes, and no index
// exceeds MaxIndex.
func Validate(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}
	for i, part := range strings.Split(path, ".") {
		if part == "" {
			return fmt.Errorf("path %q: segment %d is empty", path, i)
		}
		if !segmentPattern.MatchString(part) {
			return fmt.Errorf("path %q: segment %d (%q) is not of the form name or name[index]", path, i, part)
		}
		for _, m := range indexPattern.FindAllStringSubmatch(part, -1) {
			if _, ok := parseIndex(m[1]); !ok {
				return fmt.Errorf("path %q: index %s exceeds %d", path, m[1], MaxIndex)
			}
		}
	}
	return nil
}

// GetByPath returns the value at path and whether it is defined. Missing keys,
// out-of-range indices, holes and walks through nil or scalars are undefined.
// A nil stored in a sequence cannot be told apart from a hole, so it reads
// back as undefined too; nil stored under a map key is defined.
func GetByPath(container any, path string) (any, bool) {
	steps := Segments(path)
	if len(steps) == 0 {
		return nil, false
	}
	current := container
	for _, step := range steps {
		next, ok := lookup(current, step)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// SetByPath writes value at path, creating intermediate containers. A
// non-terminal slot that is not already a container of the kind the next
// step needs ([]any before a numeric step, map[string]any otherwise) is
// replaced by an empty one. Growing a sequence leaves skipped indices as nil
// holes.
func SetByPath(container map[string]any, path string, value any) {
	steps := Segments(path)
	if container == nil || len(steps) == 0 {
		return
	}
	assign(container, steps, value)
}

func assign(node any, steps []string, value any) any {
	key := steps[0]
	if len(steps) == 1 {
		return put(node, key, value)
	}

	child, _ := lookup(node, key)
	if isIndex(steps[1]) {
		if _, ok := child.([]any); !ok {
			child = []any{}
		}
	} else {
		if _, ok := child.(map[string]any); !ok {
			child = map[string]any{}
		}
	}
	return put(node, key, assign(child, steps[1:], value))
}

func put(node any, key string, value any) any {
	switch n := node.(type) {
	case map[string]any:
		n[key] = value
		return n
	case []any:
		idx, ok := parseIndex(key)
		if !ok {
			return n
		}
		if idx >= len(n) {
			grown := make([]any, idx+1)
			copy(grown, n)
			n = grown
		}
		n[idx] = value
		return n
	default:
		return node
	}
}

func lookup(node any, key string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[key]
		return v, ok
	case []any:
		idx, ok := parseIndex(key)
		if !ok || idx >= len(n) || n[idx] == nil {
			return nil, false
		}
		return n[idx], true
	default:
		return nil, false
	}
}

func isIndex(step string) bool {
	_, ok := parseIndex(step)
	return ok
}

// parseIndex accepts an all-digit step no greater than MaxIndex.
func parseIndex(step string) (int, bool) {
	if step == "" {
		return 0, false
	}
	for _, r := range step {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	idx, err := strconv.Atoi(step)
	if err != nil || idx > MaxIndex {
		return 0, false
	}
	return idx, true
}
