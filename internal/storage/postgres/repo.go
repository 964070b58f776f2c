// Package postgres implements storage.Store for Postgres via pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"catcrawl/internal/model"
	"catcrawl/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

// Repo implements storage.Store on a pgx connection pool. The pool is the
// only resource shared across concurrent crawl sessions; each Reconcile runs
// in its own transaction with the current row locked FOR UPDATE, so the
// check-then-write is atomic per natural key.
type Repo struct {
	pool *pgxpool.Pool
}

// New connects a pool and verifies it.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		source_id TEXT NOT NULL,
		name TEXT,
		brand TEXT,
		category TEXT,
		description TEXT,
		manufacturer TEXT,
		video_url TEXT,
		catalog_status TEXT,
		specifications TEXT,
		characteristics TEXT,
		features TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (source, source_id)
	);`,
	`CREATE TABLE IF NOT EXISTS product_images (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id),
		url TEXT NOT NULL,
		is_primary BOOLEAN NOT NULL DEFAULT FALSE,
		position INT NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS product_documents (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id),
		url TEXT NOT NULL,
		document_type TEXT,
		position INT NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS product_pricing (
		product_id BIGINT NOT NULL REFERENCES products(id),
		currency TEXT,
		min_price DOUBLE PRECISION,
		max_price DOUBLE PRECISION,
		unit TEXT,
		min_order_quantity BIGINT
	);`,
	`CREATE TABLE IF NOT EXISTS product_sellers (
		product_id BIGINT NOT NULL REFERENCES products(id),
		name TEXT,
		rating DOUBLE PRECISION,
		location TEXT,
		website TEXT
	);`,
}

// EnsureSchema creates the product and child tables. Idempotent.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Reconcile implements the natural-key upsert with field-level diffing.
func (r *Repo) Reconcile(ctx context.Context, rec model.Product) (storage.Result, error) {
	cols, err := storage.ScalarColumns(rec)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	id, curr, found, err := fetchCurrentTx(ctx, tx, rec.Source, rec.SourceID, storage.ColumnNames(cols))
	if err != nil {
		return 0, err
	}

	var result storage.Result
	if !found {
		sql, args := buildInsertSQL(rec.Source, rec.SourceID, cols, now)
		if err := tx.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert product %s/%s: %w", rec.Source, rec.SourceID, err)
		}
		result = storage.ResultInserted
	} else {
		changed := diffColumns(cols, curr)
		if len(changed) > 0 {
			sql, args := buildUpdateSQL(changed, id, now)
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return 0, fmt.Errorf("update product %s/%s: %w", rec.Source, rec.SourceID, err)
			}
			result = storage.ResultUpdated
		} else {
			result = storage.ResultUnchanged
		}
	}

	wroteChildren, err := replaceChildrenTx(ctx, tx, id, rec)
	if err != nil {
		return 0, err
	}
	if wroteChildren && result == storage.ResultUnchanged {
		result = storage.ResultUpdated
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return result, nil
}

// fetchCurrentTx loads the current row's id and the values of exactly the
// incoming columns, locked FOR UPDATE. Scan destinations must be pointers
// into a parallel values slice — the standard pgx pattern for a dynamic
// column list.
func fetchCurrentTx(
	ctx context.Context,
	tx pgx.Tx,
	source, sourceID string,
	columns []string,
) (id int64, curr []any, found bool, err error) {
	var b strings.Builder
	b.WriteString("SELECT id")
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(c)
	}
	b.WriteString(" FROM products WHERE source = $1 AND source_id = $2 FOR UPDATE")

	rows, err := tx.Query(ctx, b.String(), source, sourceID)
	if err != nil {
		return 0, nil, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, nil, false, rows.Err()
	}

	out := make([]any, len(columns))
	dests := make([]any, 0, len(columns)+1)
	dests = append(dests, &id)
	for i := range out {
		dests = append(dests, &out[i])
	}
	if err := rows.Scan(dests...); err != nil {
		return 0, nil, false, err
	}
	return id, out, true, nil
}

// diffColumns keeps only the incoming columns whose value differs from the
// stored one. Absent fields never reach this function, so they can never be
// erased.
func diffColumns(incoming []storage.Column, current []any) []storage.Column {
	var changed []storage.Column
	for i, c := range incoming {
		if !storage.EqualScalar(current[i], c.Value) {
			changed = append(changed, c)
		}
	}
	return changed
}

// buildInsertSQL renders the INSERT for a new product. Pure so placeholder
// numbering is unit-testable without a database.
func buildInsertSQL(source, sourceID string, cols []storage.Column, now time.Time) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO products (source, source_id")
	for _, c := range cols {
		b.WriteString(", ")
		b.WriteString(c.Name)
	}
	b.WriteString(", created_at, updated_at) VALUES ($1, $2")

	args := make([]any, 0, len(cols)+4)
	args = append(args, source, sourceID)
	p := 3
	for _, c := range cols {
		b.WriteString(fmt.Sprintf(", $%d", p))
		args = append(args, c.Value)
		p++
	}
	b.WriteString(fmt.Sprintf(", $%d, $%d) RETURNING id", p, p+1))
	args = append(args, now, now)

	return b.String(), args
}

// buildUpdateSQL renders the partial UPDATE: only changed columns plus the
// refreshed updated_at; created_at is never touched.
func buildUpdateSQL(changed []storage.Column, id int64, now time.Time) (string, []any) {
	var b strings.Builder
	b.WriteString("UPDATE products SET ")

	args := make([]any, 0, len(changed)+2)
	p := 1
	for i, c := range changed {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprintf("%s = $%d", c.Name, p))
		args = append(args, c.Value)
		p++
	}
	b.WriteString(fmt.Sprintf(", updated_at = $%d WHERE id = $%d", p, p+1))
	args = append(args, now, id)

	return b.String(), args
}

// replaceChildrenTx replaces each included child collection wholesale.
func replaceChildrenTx(ctx context.Context, tx pgx.Tx, id int64, rec model.Product) (bool, error) {
	wrote := false

	if rec.Images != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM product_images WHERE product_id = $1`, id); err != nil {
			return wrote, fmt.Errorf("replace images: %w", err)
		}
		for i, img := range rec.Images {
			if _, err := tx.Exec(ctx,
				`INSERT INTO product_images (product_id, url, is_primary, position) VALUES ($1, $2, $3, $4)`,
				id, img.URL, img.IsPrimary, i,
			); err != nil {
				return wrote, fmt.Errorf("replace images: %w", err)
			}
		}
		wrote = true
	}

	if rec.Documents != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM product_documents WHERE product_id = $1`, id); err != nil {
			return wrote, fmt.Errorf("replace documents: %w", err)
		}
		for i, doc := range rec.Documents {
			if _, err := tx.Exec(ctx,
				`INSERT INTO product_documents (product_id, url, document_type, position) VALUES ($1, $2, $3, $4)`,
				id, doc.URL, doc.Type, i,
			); err != nil {
				return wrote, fmt.Errorf("replace documents: %w", err)
			}
		}
		wrote = true
	}

	if rec.Pricing != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM product_pricing WHERE product_id = $1`, id); err != nil {
			return wrote, fmt.Errorf("replace pricing: %w", err)
		}
		pr := rec.Pricing
		if _, err := tx.Exec(ctx,
			`INSERT INTO product_pricing (product_id, currency, min_price, max_price, unit, min_order_quantity)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			id,
			storage.NullString(pr.Currency),
			storage.NullFloat(pr.MinPrice),
			storage.NullFloat(pr.MaxPrice),
			storage.NullString(pr.Unit),
			storage.NullInt(pr.MinOrderQty),
		); err != nil {
			return wrote, fmt.Errorf("replace pricing: %w", err)
		}
		wrote = true
	}

	if rec.Seller != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM product_sellers WHERE product_id = $1`, id); err != nil {
			return wrote, fmt.Errorf("replace seller: %w", err)
		}
		se := rec.Seller
		if _, err := tx.Exec(ctx,
			`INSERT INTO product_sellers (product_id, name, rating, location, website)
			 VALUES ($1, $2, $3, $4, $5)`,
			id,
			storage.NullString(se.Name),
			storage.NullFloat(se.Rating),
			storage.NullString(se.Location),
			storage.NullString(se.Website),
		); err != nil {
			return wrote, fmt.Errorf("replace seller: %w", err)
		}
		wrote = true
	}

	return wrote, nil
}
