package storage

import (
	"testing"

	"catcrawl/internal/field"
	"catcrawl/internal/model"
)

// TestScalarColumns_PresentOnly verifies absent fields produce no column at
// all, which is what keeps them out of INSERTs and UPDATEs.
func TestScalarColumns_PresentOnly(t *testing.T) {
	t.Parallel()

	p := model.Product{
		Source:   "medicalexpo",
		SourceID: "x-1",
		Name:     field.Of("Scanner"),
		Brand:    field.Of("Acme"),
	}
	cols, err := ScalarColumns(p)
	if err != nil {
		t.Fatalf("ScalarColumns: %v", err)
	}

	want := []string{"name", "brand"}
	names := ColumnNames(cols)
	if len(names) != len(want) {
		t.Fatalf("columns = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("columns = %v, want %v", names, want)
		}
	}
}

// TestScalarColumns_StructuredJSON verifies structured fields serialize to
// JSON text columns.
func TestScalarColumns_StructuredJSON(t *testing.T) {
	t.Parallel()

	p := model.Product{
		Name:           field.Of("Scanner"),
		Specifications: field.Of(model.SpecMap{"Weight": "2 kg"}),
		Features:       field.Of([]string{"autoclavable"}),
	}
	cols, err := ScalarColumns(p)
	if err != nil {
		t.Fatalf("ScalarColumns: %v", err)
	}

	byName := map[string]any{}
	for _, c := range cols {
		byName[c.Name] = c.Value
	}
	if byName["specifications"] != `{"Weight":"2 kg"}` {
		t.Fatalf("specifications = %q", byName["specifications"])
	}
	if byName["features"] != `["autoclavable"]` {
		t.Fatalf("features = %q", byName["features"])
	}
}

// TestScalarColumns_EmptyButPresent verifies an explicitly set empty value
// still produces a column: present-and-empty overwrites, only absence is
// skipped.
func TestScalarColumns_EmptyButPresent(t *testing.T) {
	t.Parallel()

	p := model.Product{
		Description:    field.Of(""),
		Specifications: field.Of(model.SpecMap{}),
	}
	cols, err := ScalarColumns(p)
	if err != nil {
		t.Fatalf("ScalarColumns: %v", err)
	}

	byName := map[string]any{}
	for _, c := range cols {
		byName[c.Name] = c.Value
	}
	if v, ok := byName["description"]; !ok || v != "" {
		t.Fatalf("empty description must produce a column: %#v", cols)
	}
	if v, ok := byName["specifications"]; !ok || v != "{}" {
		t.Fatalf("empty spec map must produce a column: %#v", cols)
	}
}

// TestEqualScalar covers the driver representation mismatches that would
// otherwise cause no-op updates on every crawl.
func TestEqualScalar(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b any
		want bool
	}{
		{"string/string equal", "x", "x", true},
		{"string/string differ", "x", "y", false},
		{"bytes/string equal", []byte("x"), "x", true},
		{"string/bytes equal", "x", []byte("x"), true},
		{"bytes/bytes differ", []byte("x"), []byte("y"), false},
		{"nil/nil", nil, nil, true},
		{"nil/value", nil, "x", false},
		{"value/nil", "x", nil, false},
	}
	for _, tc := range cases {
		if got := EqualScalar(tc.a, tc.b); got != tc.want {
			t.Errorf("%s: EqualScalar(%#v, %#v) = %v, want %v", tc.name, tc.a, tc.b, got, tc.want)
		}
	}
}

// TestNullAdapters verifies absent optional values become SQL NULLs.
func TestNullAdapters(t *testing.T) {
	t.Parallel()

	if NullString(field.Value[string]{}) != nil {
		t.Fatal("absent string must map to nil")
	}
	if NullString(field.Of("USD")) != "USD" {
		t.Fatal("present string must pass through")
	}
	if NullFloat(field.Value[float64]{}) != nil {
		t.Fatal("absent float must map to nil")
	}
	if NullInt(field.Of(5)) != int64(5) {
		t.Fatal("present int must widen to int64")
	}
}
