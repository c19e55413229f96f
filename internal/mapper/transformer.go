package mapper

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rpattn/rowmap/internal/domain"
	"github.com/rpattn/rowmap/pkg/pathexpr"
)

// TransformFunc rewrites a single mapped value.
type TransformFunc func(value any) (any, error)

// TransformTable keys transforms by destination path.
type TransformTable map[string]TransformFunc

// TransformRow maps the row and then applies each transform to the value at
// its destination path. Transforms never see undefined values. The first
// failing transform aborts the row.
func TransformRow(row map[string]any, rules domain.RuleTable, transforms TransformTable) (map[string]any, error) {
	entity := MapRowToEntity(row, rules)
	if err := ApplyTransforms(entity, transforms); err != nil {
		return nil, err
	}
	return entity, nil
}

// ApplyTransforms rewrites an already mapped entity in place, visiting
// transform paths in sorted order.
func ApplyTransforms(entity map[string]any, transforms TransformTable) error {
	if len(transforms) == 0 {
		return nil
	}

	paths := make([]string, 0, len(transforms))
	for path := range transforms {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		current, ok := pathexpr.GetByPath(entity, path)
		if !ok {
			continue
		}
		transformed, err := transforms[path](current)
		if err != nil {
			return fmt.Errorf("transform %s: %w", path, err)
		}
		pathexpr.SetByPath(entity, path, transformed)
	}
	return nil
}

// TransformCSV applies TransformRow to every row in order. A failing row
// aborts the whole batch.
func TransformCSV(rows []map[string]any, rules domain.RuleTable, transforms TransformTable) ([]map[string]any, error) {
	entities := make([]map[string]any, len(rows))
	for i, row := range rows {
		entity, err := TransformRow(row, rules, transforms)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		entities[i] = entity
	}
	return entities, nil
}

var builtinTransforms = map[string]TransformFunc{
	"trim":            stringTransform(strings.TrimSpace),
	"lowercase":       stringTransform(strings.ToLower),
	"uppercase":       stringTransform(strings.ToUpper),
	"collapse_spaces": stringTransform(func(s string) string { return strings.Join(strings.Fields(s), " ") }),
	"digits_only": stringTransform(func(s string) string {
		return strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) {
				return r
			}
			return -1
		}, s)
	}),
	"integer": parseTransform(func(s string) (any, error) { return strconv.ParseInt(s, 10, 64) }),
	"number":  parseTransform(func(s string) (any, error) { return strconv.ParseFloat(s, 64) }),
}

// BuiltinTransform looks up a named transform.
func BuiltinTransform(name string) (TransformFunc, bool) {
	fn, ok := builtinTransforms[strings.ToLower(strings.TrimSpace(name))]
	return fn, ok
}

// BuiltinTransformNames lists the names accepted by BuildTransformTable.
func BuiltinTransformNames() []string {
	names := make([]string, 0, len(builtinTransforms))
	for name := range builtinTransforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildTransformTable resolves destination path -> transform name pairs.
func BuildTransformTable(named map[string]string) (TransformTable, error) {
	if len(named) == 0 {
		return nil, nil
	}
	table := make(TransformTable, len(named))
	for path, name := range named {
		fn, ok := BuiltinTransform(name)
		if !ok {
			return nil, fmt.Errorf("unknown transform %q for %s (known: %s)", name, path, strings.Join(BuiltinTransformNames(), ", "))
		}
		table[path] = fn
	}
	return table, nil
}

func stringTransform(fn func(string) string) TransformFunc {
	return func(value any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return fn(s), nil
	}
}

// parseTransform converts trimmed strings. Blank strings become nil so empty
// cells do not fail the row.
func parseTransform(parse func(string) (any, error)) TransformFunc {
	return func(value any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		parsed, err := parse(s)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q", s)
		}
		return parsed, nil
	}
}
