package field

import (
	"encoding/json"
	"testing"
)

// TestZeroValueIsAbsent verifies the zero Value reports absence, which the
// merge and diff logic rely on for untouched struct fields.
func TestZeroValueIsAbsent(t *testing.T) {
	t.Parallel()

	var f Value[string]
	if f.IsSet() {
		t.Fatalf("zero Value should be absent")
	}
	if _, ok := f.Get(); ok {
		t.Fatalf("Get on absent Value should report ok=false")
	}
	if got := f.Or("fallback"); got != "fallback" {
		t.Fatalf("Or on absent Value: expected fallback, got %q", got)
	}
}

func TestOfIsPresent(t *testing.T) {
	t.Parallel()

	f := Of(42)
	v, ok := f.Get()
	if !ok || v != 42 {
		t.Fatalf("expected (42, true), got (%d, %v)", v, ok)
	}
	if got := f.Or(0); got != 42 {
		t.Fatalf("Or on present Value: expected 42, got %d", got)
	}
}

// TestJSONRoundTrip verifies null maps to absence and values round-trip,
// including an explicitly empty value which must stay present.
func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Of(""))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `""` {
		t.Fatalf("present empty string should marshal as %q, got %s", `""`, b)
	}

	var absent Value[string]
	b, err = json.Marshal(absent)
	if err != nil {
		t.Fatalf("marshal absent: %v", err)
	}
	if string(b) != "null" {
		t.Fatalf("absent should marshal as null, got %s", b)
	}

	var back Value[string]
	if err := json.Unmarshal([]byte(`"x"`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := back.Get(); !ok || v != "x" {
		t.Fatalf("expected (x, true), got (%q, %v)", v, ok)
	}

	if err := json.Unmarshal([]byte("null"), &back); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if back.IsSet() {
		t.Fatalf("null should decode as absent")
	}
}
