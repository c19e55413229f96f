package mapper

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/rowmap/internal/domain"
)

func TestMapRowToEntitySkipsEmptyAndMissing(t *testing.T) {
	row := map[string]any{"firstName": "John", "lastName": ""}
	rules := domain.NewRuleTable(
		"firstName", "firstName",
		"lastName", "lastName",
		"email", "email",
	)

	got := MapRowToEntity(row, rules)
	assert.Equal(t, map[string]any{"firstName": "John"}, got)
}

func TestMapRowToEntitySkipsNil(t *testing.T) {
	got := MapRowToEntity(map[string]any{"vat": nil}, domain.NewRuleTable("vat", "company.vat"))
	assert.Empty(t, got)
}

func TestMapRowToEntityBuildsArrays(t *testing.T) {
	row := map[string]any{
		"firstName":       "John",
		"phone[0].number": "+39-123-456",
		"phone[0].label":  "mobile",
		"phone[1].number": "+39-654-321",
		"phone[1].label":  "home",
	}
	rules := domain.NewRuleTable(
		"firstName", "firstName",
		"phone[0].number", "phones[0].number",
		"phone[0].label", "phones[0].label",
		"phone[1].number", "phones[1].number",
		"phone[1].label", "phones[1].label",
	)

	got := MapRowToEntity(row, rules)
	want := map[string]any{
		"firstName": "John",
		"phones": []any{
			map[string]any{"number": "+39-123-456", "label": "mobile"},
			map[string]any{"number": "+39-654-321", "label": "home"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected entity (-want +got):\n%s", diff)
	}
}

func TestMapRowToEntityDoesNotMutateRow(t *testing.T) {
	row := map[string]any{"Company": "ACME", "Street": "Via Roma 1"}
	snapshot := map[string]any{"Company": "ACME", "Street": "Via Roma 1"}

	entity := MapRowToEntity(row, domain.NewRuleTable("Company", "company.name", "Street", "addresses[0].street"))
	entity["company"].(map[string]any)["name"] = "changed"

	assert.Equal(t, snapshot, row)
}

func TestMapCSVPreservesOrder(t *testing.T) {
	rules := domain.NewRuleTable("name", "firstName", "city", "addresses[0].city")
	rowA := map[string]any{"name": "Anna", "city": "Torino"}
	rowB := map[string]any{"name": "Bruno"}

	got := MapCSV([]map[string]any{rowA, rowB}, rules)
	want := []map[string]any{MapRowToEntity(rowA, rules), MapRowToEntity(rowB, rules)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected batch (-want +got):\n%s", diff)
	}
	assert.Empty(t, MapCSV(nil, rules))
}

func TestTransformRowAppliesToPresentValues(t *testing.T) {
	calls := 0
	transforms := TransformTable{
		"emails[0].email": func(v any) (any, error) {
			calls++
			return strings.ToLower(v.(string)), nil
		},
		"lastName": func(v any) (any, error) {
			calls++
			return v, nil
		},
	}
	row := map[string]any{"Email": "John.Doe@Example.COM"}

	got, err := TransformRow(row, domain.NewRuleTable("Email", "emails[0].email", "Surname", "lastName"), transforms)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "transform must not run on absent values")
	assert.Equal(t, map[string]any{"emails": []any{map[string]any{"email": "john.doe@example.com"}}}, got)
}

func TestTransformRowPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	transforms := TransformTable{"firstName": func(any) (any, error) { return nil, boom }}

	_, err := TransformRow(map[string]any{"n": "x"}, domain.NewRuleTable("n", "firstName"), transforms)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestTransformCSVAbortsOnFailingRow(t *testing.T) {
	transforms := TransformTable{"age": func(v any) (any, error) {
		if v == "bad" {
			return nil, errors.New("not a number")
		}
		return v, nil
	}}
	rows := []map[string]any{{"age": "30"}, {"age": "bad"}, {"age": "40"}}

	entities, err := TransformCSV(rows, domain.NewRuleTable("age", "age"), transforms)
	require.Error(t, err)
	assert.Nil(t, entities)
	assert.Contains(t, err.Error(), "row 1")
}

func TestTransformCSVWithoutTransformsMatchesMapCSV(t *testing.T) {
	rules := domain.NewRuleTable("a", "x.a")
	rows := []map[string]any{{"a": "1"}, {"a": "2"}}

	got, err := TransformCSV(rows, rules, nil)
	require.NoError(t, err)
	assert.Equal(t, MapCSV(rows, rules), got)
}

func TestBuildTransformTable(t *testing.T) {
	table, err := BuildTransformTable(map[string]string{
		"firstName":     "trim",
		"company.vat":   "digits_only",
		"emails[0].tag": "UPPERCASE",
	})
	require.NoError(t, err)

	row := map[string]any{"n": "  John  ", "vat": "IT 012-345", "tag": "work"}
	got, err := TransformRow(row, domain.NewRuleTable("n", "firstName", "vat", "company.vat", "tag", "emails[0].tag"), table)
	require.NoError(t, err)

	want := map[string]any{
		"firstName": "John",
		"company":   map[string]any{"vat": "012345"},
		"emails":    []any{map[string]any{"tag": "WORK"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected entity (-want +got):\n%s", diff)
	}

	_, err = BuildTransformTable(map[string]string{"x": "rot13"})
	assert.Error(t, err)
}

func TestBuiltinTransformRejectsNonString(t *testing.T) {
	fn, ok := BuiltinTransform("trim")
	require.True(t, ok)
	_, err := fn(42)
	assert.Error(t, err)
}

func TestNumericTransforms(t *testing.T) {
	integer, ok := BuiltinTransform("integer")
	require.True(t, ok)

	got, err := integer(" 31 ")
	require.NoError(t, err)
	assert.Equal(t, int64(31), got)

	got, err = integer("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = integer("abc")
	assert.Error(t, err)

	number, ok := BuiltinTransform("NUMBER")
	require.True(t, ok)
	got, err = number("2.5")
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)
}
