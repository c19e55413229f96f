// Package mapping resolves stored mappings by header fingerprint and replays
// them against source rows.
package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/rowmap/internal/domain"
	"github.com/rpattn/rowmap/pkg/pathexpr"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// ErrUnsupportedKind is the cause attached to errors for kinds the engine
// cannot run.
var ErrUnsupportedKind = errors.New("mapping kind not implemented")

// Engine applies path mappings to rows. It holds no state and is safe for
// concurrent use.
type Engine struct{}

// NewEngine returns a rule engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Apply maps input into a new entity according to m.
//
// Each rule reads its source by exact key first, so flat rows keyed like
// "phone[0].number" work, and falls back to a path lookup for nested input.
// Defined values are written as is, including nil and "". Defaults are then
// written in sorted path order wherever the entity holds nothing usable.
func (e *Engine) Apply(m domain.Mapping, input map[string]any) (map[string]any, error) {
	if err := checkKind(m); err != nil {
		return nil, err
	}
	return e.apply(m, input), nil
}

// ApplyAll maps each row in order.
func (e *Engine) ApplyAll(m domain.Mapping, rows []map[string]any) ([]map[string]any, error) {
	if err := checkKind(m); err != nil {
		return nil, err
	}
	entities := make([]map[string]any, len(rows))
	for i, row := range rows {
		entities[i] = e.apply(m, row)
	}
	return entities, nil
}

func (e *Engine) apply(m domain.Mapping, input map[string]any) map[string]any {
	entity := make(map[string]any)
	for _, rule := range m.Rules {
		value, ok := sourceValue(input, rule.Source)
		if !ok {
			continue
		}
		pathexpr.SetByPath(entity, rule.Destination, value)
	}

	for _, path := range m.Defaults.Paths() {
		current, ok := pathexpr.GetByPath(entity, path)
		if ok && !isBlank(current) {
			continue
		}
		pathexpr.SetByPath(entity, path, copyValue(m.Defaults[path]))
	}
	return entity
}

func checkKind(m domain.Mapping) error {
	switch m.Kind {
	case domain.MappingKindPath, "":
		return nil
	default:
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("%v: %q", ErrUnsupportedKind, m.Kind)).
			WithCause(ErrUnsupportedKind)
	}
}

func sourceValue(input map[string]any, source string) (any, bool) {
	if input == nil {
		return nil, false
	}
	if value, ok := input[source]; ok {
		return value, true
	}
	return pathexpr.GetByPath(input, source)
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}

// copyValue detaches container literals so entities never share defaults.
func copyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = copyValue(item)
		}
		return out
	default:
		return value
	}
}
