package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Rule maps one source path in a flat record to a destination path in the
// produced entity.
type Rule struct {
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
}

// RuleTable is an ordered list of rules. It is encoded as a JSON array so
// order survives jsonb storage; decoding also accepts an object of
// source -> destination pairs, keeping key order.
type RuleTable []Rule

// NewRuleTable builds a rule table from alternating source, destination pairs.
func NewRuleTable(pairs ...string) RuleTable {
	rules := make(RuleTable, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		rules = append(rules, Rule{Source: pairs[i], Destination: pairs[i+1]})
	}
	return rules
}

// Destinations returns every destination path in rule order.
func (t RuleTable) Destinations() []string {
	out := make([]string, len(t))
	for i, rule := range t {
		out[i] = rule.Destination
	}
	return out
}

// Clone returns a copy that shares nothing with t.
func (t RuleTable) Clone() RuleTable {
	if t == nil {
		return nil
	}
	return append(RuleTable(nil), t...)
}

func (t RuleTable) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Rule(t))
}

func (t *RuleTable) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*t = nil
		return nil
	}

	if trimmed[0] == '[' {
		var rules []Rule
		if err := json.Unmarshal(trimmed, &rules); err != nil {
			return fmt.Errorf("invalid rule list: %w", err)
		}
		*t = rules
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("invalid rule table: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("rule table must be an array or an object")
	}

	rules := RuleTable{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("invalid rule table key: %w", err)
		}
		var destination string
		if err := dec.Decode(&destination); err != nil {
			return fmt.Errorf("rule %v: destination must be a string: %w", keyTok, err)
		}
		rules = append(rules, Rule{Source: keyTok.(string), Destination: destination})
	}
	*t = rules
	return nil
}

func (t *RuleTable) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var rules []Rule
		if err := node.Decode(&rules); err != nil {
			return err
		}
		*t = rules
		return nil
	case yaml.MappingNode:
		rules := make(RuleTable, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if value.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: destination for %q must be a string", value.Line, key.Value)
			}
			rules = append(rules, Rule{Source: key.Value, Destination: value.Value})
		}
		*t = rules
		return nil
	default:
		return fmt.Errorf("line %d: rules must be a list or a mapping", node.Line)
	}
}

// DefaultTable maps destination paths to literal fallback values.
type DefaultTable map[string]any

// Paths returns the destination paths in sorted order.
func (d DefaultTable) Paths() []string {
	paths := make([]string, 0, len(d))
	for path := range d {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns a shallow copy.
func (d DefaultTable) Clone() DefaultTable {
	if d == nil {
		return nil
	}
	out := make(DefaultTable, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
