// Package mapper turns flat records into nested entities using an ad-hoc
// rule table, with optional per-field transforms.
package mapper

import (
	"github.com/rpattn/rowmap/internal/domain"
	"github.com/rpattn/rowmap/pkg/pathexpr"
)

// MapRowToEntity applies rules in order. A rule is skipped when its source
// column is missing from the row or holds nil or an empty string. The row is
// never modified.
func MapRowToEntity(row map[string]any, rules domain.RuleTable) map[string]any {
	entity := make(map[string]any)
	for _, rule := range rules {
		value, ok := row[rule.Source]
		if !ok || isEmpty(value) {
			continue
		}
		pathexpr.SetByPath(entity, rule.Destination, value)
	}
	return entity
}

// MapCSV maps every row independently, preserving row order.
func MapCSV(rows []map[string]any, rules domain.RuleTable) []map[string]any {
	entities := make([]map[string]any, len(rows))
	for i, row := range rows {
		entities[i] = MapRowToEntity(row, rules)
	}
	return entities
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && s == ""
}
