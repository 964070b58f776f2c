package mssql

import (
	"testing"
	"time"

	"catcrawl/internal/storage"
)

var testNow = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

// TestBuildInsertSQL verifies @pN numbering and the OUTPUT clause used in
// place of LastInsertId.
func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	cols := []storage.Column{
		{Name: "name", Value: "Turbine"},
		{Name: "brand", Value: "Acme"},
	}
	sql, args := buildInsertSQL("medicalexpo", "t-1", cols, testNow)

	want := "INSERT INTO products (source, source_id, name, brand, created_at, updated_at)" +
		" OUTPUT INSERTED.id VALUES (@p1, @p2, @p3, @p4, @p5, @p6)"
	if sql != want {
		t.Fatalf("sql:\n got %q\nwant %q", sql, want)
	}
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}
	if args[4] != testNow || args[5] != testNow {
		t.Fatalf("created_at and updated_at must both be now on insert: %#v", args[4:])
	}
}

// TestBuildUpdateSQL verifies only changed columns enter the SET list.
func TestBuildUpdateSQL(t *testing.T) {
	t.Parallel()

	changed := []storage.Column{
		{Name: "name", Value: "Turbine v2"},
		{Name: "description", Value: "new"},
	}
	sql, args := buildUpdateSQL(changed, 7, testNow)

	want := "UPDATE products SET name = @p1, description = @p2, updated_at = @p3 WHERE id = @p4"
	if sql != want {
		t.Fatalf("sql:\n got %q\nwant %q", sql, want)
	}
	if len(args) != 4 || args[2] != testNow || args[3] != int64(7) {
		t.Fatalf("args: %#v", args)
	}
}

// TestDiffColumns verifies []byte/string normalization carries over to this
// backend too.
func TestDiffColumns(t *testing.T) {
	t.Parallel()

	incoming := []storage.Column{
		{Name: "name", Value: "Turbine"},
		{Name: "brand", Value: "Acme"},
	}
	current := []any{[]byte("Turbine"), "Other"}

	changed := diffColumns(incoming, current)
	if len(changed) != 1 || changed[0].Name != "brand" {
		t.Fatalf("expected only brand to change, got %#v", changed)
	}
}
