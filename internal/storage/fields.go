package storage

import (
	"encoding/json"
	"fmt"

	"catcrawl/internal/field"
	"catcrawl/internal/model"
)

// Column is one (name, value) pair destined for a parameterized statement.
type Column struct {
	Name  string
	Value any
}

// ScalarColumns derives the columns for a record's present top-level fields.
//
// The diff logic operates over this closed, typed field set: a field the
// record did not set produces no column, so it can neither be inserted as
// NULL nor included in an UPDATE — that is the no-erasure merge policy at
// the SQL layer. Structured fields are serialized to JSON text. An
// explicitly present-but-empty structure still produces a column ("{}") and
// overwrites; the extraction pipeline only sets structured fields when at
// least one entry was extracted, so absence is the only state a missing
// page section can produce.
func ScalarColumns(p model.Product) ([]Column, error) {
	var cols []Column

	str := func(name string, f field.Value[string]) {
		if v, ok := f.Get(); ok {
			cols = append(cols, Column{Name: name, Value: v})
		}
	}
	str("name", p.Name)
	str("brand", p.Brand)
	str("category", p.Category)
	str("description", p.Description)
	str("manufacturer", p.Manufacturer)
	str("video_url", p.VideoURL)
	str("catalog_status", p.CatalogStatus)

	if v, ok := p.Specifications.Get(); ok {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("serialize specifications: %w", err)
		}
		cols = append(cols, Column{Name: "specifications", Value: string(b)})
	}
	if v, ok := p.Characteristics.Get(); ok {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("serialize characteristics: %w", err)
		}
		cols = append(cols, Column{Name: "characteristics", Value: string(b)})
	}
	if v, ok := p.Features.Get(); ok {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("serialize features: %w", err)
		}
		cols = append(cols, Column{Name: "features", Value: string(b)})
	}

	return cols, nil
}

// ColumnNames projects just the names, in order.
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// EqualScalar compares a stored value against an incoming column value.
//
// Drivers round-trip TEXT inconsistently (string vs []byte), so a direct
// interface comparison can report a spurious change and force no-op updates
// on every crawl. Normalize the common text representations first and fall
// back to string formatting, which is stable for the serialized values the
// product table holds.
func EqualScalar(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch av := a.(type) {
	case []byte:
		switch bv := b.(type) {
		case []byte:
			return string(av) == string(bv)
		case string:
			return string(av) == bv
		}
	case string:
		switch bv := b.(type) {
		case []byte:
			return av == string(bv)
		case string:
			return av == bv
		}
	}

	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Nullable adapters: child-table columns hold optional values as SQL NULLs.

// NullString returns the held string or nil.
func NullString(f field.Value[string]) any {
	if v, ok := f.Get(); ok {
		return v
	}
	return nil
}

// NullFloat returns the held float64 or nil.
func NullFloat(f field.Value[float64]) any {
	if v, ok := f.Get(); ok {
		return v
	}
	return nil
}

// NullInt returns the held int or nil.
func NullInt(f field.Value[int]) any {
	if v, ok := f.Get(); ok {
		return int64(v)
	}
	return nil
}
