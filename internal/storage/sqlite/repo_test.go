package sqlite

import (
	"context"
	"testing"

	"catcrawl/internal/field"
	"catcrawl/internal/model"
	"catcrawl/internal/storage"
)

// openTestStore returns a store backed by an in-memory database. The single
// connection configured in New keeps every statement on the same database.
func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()

	st, err := New(ctx, storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)

	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return st
}

func fullRecord() model.Product {
	return model.Product{
		Source:      "medicalexpo",
		SourceID:    "turbine-9000",
		Name:        field.Of("Dental Turbine 9000"),
		Brand:       field.Of("Acme"),
		Description: field.Of("High-speed handpiece."),
		Specifications: field.Of(model.SpecMap{
			"Speed": "400000 rpm",
		}),
		Images: []model.Image{
			{URL: "https://cdn.example.com/t9000-front.jpg", IsPrimary: true},
			{URL: "https://cdn.example.com/t9000-side.jpg"},
		},
	}
}

// TestReconcile_InsertThenUnchanged is the idempotence guarantee: the same
// record reconciled twice inserts once and then reports no change.
func TestReconcile_InsertThenUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	rec := fullRecord()
	res, err := st.Reconcile(ctx, rec)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if res != storage.ResultInserted {
		t.Fatalf("first reconcile = %s, want inserted", res)
	}

	// Children were written on the first pass too; second pass replaces
	// them with identical rows but scalars are unchanged, so only the
	// child write can upgrade the result. Omit children to observe a
	// clean unchanged.
	again := rec
	again.Images = nil
	res, err = st.Reconcile(ctx, again)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if res != storage.ResultUnchanged {
		t.Fatalf("second reconcile = %s, want unchanged", res)
	}
}

// TestReconcile_AbsentFieldIsRetained verifies the no-erasure policy: a later
// crawl that never extracted brand must not wipe the stored brand.
func TestReconcile_AbsentFieldIsRetained(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if _, err := st.Reconcile(ctx, fullRecord()); err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}

	partial := model.Product{
		Source:      "medicalexpo",
		SourceID:    "turbine-9000",
		Name:        field.Of("Dental Turbine 9000"),
		Description: field.Of("Revised copy."),
	}
	res, err := st.Reconcile(ctx, partial)
	if err != nil {
		t.Fatalf("partial reconcile: %v", err)
	}
	if res != storage.ResultUpdated {
		t.Fatalf("partial reconcile = %s, want updated", res)
	}

	dumps, err := st.FetchAll(ctx, "medicalexpo")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(dumps) != 1 {
		t.Fatalf("expected 1 product, got %d", len(dumps))
	}
	d := dumps[0]
	if d.Brand == nil || *d.Brand != "Acme" {
		t.Fatalf("brand was erased: %v", d.Brand)
	}
	if d.Description == nil || *d.Description != "Revised copy." {
		t.Fatalf("description not updated: %v", d.Description)
	}
}

// TestReconcile_ChildrenReplacedWholesale verifies collection-granularity
// replacement: a non-nil Images slice swaps the stored set entirely.
func TestReconcile_ChildrenReplacedWholesale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if _, err := st.Reconcile(ctx, fullRecord()); err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}

	update := model.Product{
		Source:   "medicalexpo",
		SourceID: "turbine-9000",
		Name:     field.Of("Dental Turbine 9000"),
		Images: []model.Image{
			{URL: "https://cdn.example.com/t9000-new.jpg", IsPrimary: true},
		},
	}
	res, err := st.Reconcile(ctx, update)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	// Scalars unchanged, so the child write alone upgrades the result.
	if res != storage.ResultUpdated {
		t.Fatalf("reconcile = %s, want updated", res)
	}

	dumps, err := st.FetchAll(ctx, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(dumps) != 1 || len(dumps[0].Images) != 1 {
		t.Fatalf("images not replaced: %#v", dumps)
	}
	if dumps[0].Images[0].URL != "https://cdn.example.com/t9000-new.jpg" {
		t.Fatalf("unexpected image: %#v", dumps[0].Images[0])
	}
}

// TestReconcile_Timestamps verifies created_at survives updates while
// updated_at moves forward.
func TestReconcile_Timestamps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if _, err := st.Reconcile(ctx, fullRecord()); err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}
	first, err := st.FetchAll(ctx, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	update := fullRecord()
	update.Images = nil
	update.Description = field.Of("Changed.")
	if _, err := st.Reconcile(ctx, update); err != nil {
		t.Fatalf("update reconcile: %v", err)
	}
	second, err := st.FetchAll(ctx, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if !second[0].CreatedAt.Equal(first[0].CreatedAt) {
		t.Fatalf("created_at changed on update: %v -> %v", first[0].CreatedAt, second[0].CreatedAt)
	}
	if second[0].UpdatedAt.Before(first[0].UpdatedAt) {
		t.Fatalf("updated_at went backwards: %v -> %v", first[0].UpdatedAt, second[0].UpdatedAt)
	}
}

// TestReconcile_PricingAndSeller verifies the single-row child tables round
// trip through reconcile and FetchAll.
func TestReconcile_PricingAndSeller(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	rec := fullRecord()
	rec.Pricing = &model.Pricing{
		Currency:    field.Of("USD"),
		MinPrice:    field.Of(1200.50),
		MaxPrice:    field.Of(1800.0),
		MinOrderQty: field.Of(5),
	}
	rec.Seller = &model.Seller{
		Name:   field.Of("Acme Dental Supply"),
		Rating: field.Of(4.7),
	}
	if _, err := st.Reconcile(ctx, rec); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	dumps, err := st.FetchAll(ctx, "medicalexpo")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	d := dumps[0]
	if d.Pricing == nil || d.Pricing.MinPrice == nil || *d.Pricing.MinPrice != 1200.50 {
		t.Fatalf("pricing not persisted: %#v", d.Pricing)
	}
	if d.Pricing.MinOrderQty == nil || *d.Pricing.MinOrderQty != 5 {
		t.Fatalf("min order quantity not persisted: %#v", d.Pricing)
	}
	if d.Seller == nil || d.Seller.Rating == nil || *d.Seller.Rating != 4.7 {
		t.Fatalf("seller not persisted: %#v", d.Seller)
	}
	// Unextracted pricing fields stay NULL.
	if d.Pricing.Unit != nil {
		t.Fatalf("unit should be NULL, got %q", *d.Pricing.Unit)
	}
}

// TestReconcile_TwoSourcesShareSourceID verifies the natural key is the
// (source, source_id) pair, not source_id alone.
func TestReconcile_TwoSourcesShareSourceID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	a := fullRecord()
	b := fullRecord()
	b.Source = "directindustry"

	if _, err := st.Reconcile(ctx, a); err != nil {
		t.Fatalf("reconcile a: %v", err)
	}
	res, err := st.Reconcile(ctx, b)
	if err != nil {
		t.Fatalf("reconcile b: %v", err)
	}
	if res != storage.ResultInserted {
		t.Fatalf("second source = %s, want inserted", res)
	}

	all, err := st.FetchAll(ctx, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 products, got %d", len(all))
	}
	only, err := st.FetchAll(ctx, "directindustry")
	if err != nil {
		t.Fatalf("fetch filtered: %v", err)
	}
	if len(only) != 1 || only[0].Source != "directindustry" {
		t.Fatalf("source filter broken: %#v", only)
	}
}
