// Package mssql implements storage.Store for SQL Server via go-mssqldb.
//
// SQL Server quirks handled here:
//   - placeholders are @pN, built by the same pure builders as the other
//     backends so numbering is unit-testable,
//   - there is no CREATE TABLE IF NOT EXISTS; the DDL guards with
//     OBJECT_ID checks,
//   - LastInsertId is unsupported by the driver; inserts use
//     OUTPUT INSERTED.id instead.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"catcrawl/internal/model"
	"catcrawl/internal/storage"
)

func init() {
	storage.Register("mssql", New)
}

type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

var schemaDDL = []string{
	`IF OBJECT_ID(N'products', N'U') IS NULL
	CREATE TABLE products (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		source NVARCHAR(255) NOT NULL,
		source_id NVARCHAR(255) NOT NULL,
		name NVARCHAR(MAX),
		brand NVARCHAR(MAX),
		category NVARCHAR(MAX),
		description NVARCHAR(MAX),
		manufacturer NVARCHAR(MAX),
		video_url NVARCHAR(MAX),
		catalog_status NVARCHAR(MAX),
		specifications NVARCHAR(MAX),
		characteristics NVARCHAR(MAX),
		features NVARCHAR(MAX),
		created_at DATETIME2 NOT NULL,
		updated_at DATETIME2 NOT NULL,
		CONSTRAINT uq_products_source UNIQUE (source, source_id)
	);`,
	`IF OBJECT_ID(N'product_images', N'U') IS NULL
	CREATE TABLE product_images (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id),
		url NVARCHAR(MAX) NOT NULL,
		is_primary BIT NOT NULL DEFAULT 0,
		position INT NOT NULL DEFAULT 0
	);`,
	`IF OBJECT_ID(N'product_documents', N'U') IS NULL
	CREATE TABLE product_documents (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id),
		url NVARCHAR(MAX) NOT NULL,
		document_type NVARCHAR(255),
		position INT NOT NULL DEFAULT 0
	);`,
	`IF OBJECT_ID(N'product_pricing', N'U') IS NULL
	CREATE TABLE product_pricing (
		product_id BIGINT NOT NULL REFERENCES products(id),
		currency NVARCHAR(16),
		min_price FLOAT,
		max_price FLOAT,
		unit NVARCHAR(64),
		min_order_quantity BIGINT
	);`,
	`IF OBJECT_ID(N'product_sellers', N'U') IS NULL
	CREATE TABLE product_sellers (
		product_id BIGINT NOT NULL REFERENCES products(id),
		name NVARCHAR(MAX),
		rating FLOAT,
		location NVARCHAR(MAX),
		website NVARCHAR(MAX)
	);`,
}

func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
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

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, curr, found, err := fetchCurrentTx(ctx, tx, rec.Source, rec.SourceID, storage.ColumnNames(cols))
	if err != nil {
		return 0, err
	}

	var result storage.Result
	if !found {
		query, args := buildInsertSQL(rec.Source, rec.SourceID, cols, now)
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert product %s/%s: %w", rec.Source, rec.SourceID, err)
		}
		result = storage.ResultInserted
	} else {
		changed := diffColumns(cols, curr)
		if len(changed) > 0 {
			query, args := buildUpdateSQL(changed, id, now)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
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

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return result, nil
}

// fetchCurrentTx loads the current row with an update lock so the
// check-then-write is atomic per natural key.
func fetchCurrentTx(
	ctx context.Context,
	tx *sql.Tx,
	source, sourceID string,
	columns []string,
) (id int64, curr []any, found bool, err error) {
	var b strings.Builder
	b.WriteString("SELECT id")
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(c)
	}
	b.WriteString(" FROM products WITH (UPDLOCK) WHERE source = @p1 AND source_id = @p2")

	out := make([]any, len(columns))
	dests := make([]any, 0, len(columns)+1)
	dests = append(dests, &id)
	for i := range out {
		dests = append(dests, &out[i])
	}

	err = tx.QueryRowContext(ctx, b.String(), source, sourceID).Scan(dests...)
	if err == sql.ErrNoRows {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	return id, out, true, nil
}

func diffColumns(incoming []storage.Column, current []any) []storage.Column {
	var changed []storage.Column
	for i, c := range incoming {
		if !storage.EqualScalar(current[i], c.Value) {
			changed = append(changed, c)
		}
	}
	return changed
}

func buildInsertSQL(source, sourceID string, cols []storage.Column, now time.Time) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO products (source, source_id")
	for _, c := range cols {
		b.WriteString(", ")
		b.WriteString(c.Name)
	}
	b.WriteString(", created_at, updated_at) OUTPUT INSERTED.id VALUES (@p1, @p2")

	args := make([]any, 0, len(cols)+4)
	args = append(args, source, sourceID)
	p := 3
	for _, c := range cols {
		b.WriteString(fmt.Sprintf(", @p%d", p))
		args = append(args, c.Value)
		p++
	}
	b.WriteString(fmt.Sprintf(", @p%d, @p%d)", p, p+1))
	args = append(args, now, now)

	return b.String(), args
}

func buildUpdateSQL(changed []storage.Column, id int64, now time.Time) (string, []any) {
	var b strings.Builder
	b.WriteString("UPDATE products SET ")

	args := make([]any, 0, len(changed)+2)
	p := 1
	for i, c := range changed {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprintf("%s = @p%d", c.Name, p))
		args = append(args, c.Value)
		p++
	}
	b.WriteString(fmt.Sprintf(", updated_at = @p%d WHERE id = @p%d", p, p+1))
	args = append(args, now, id)

	return b.String(), args
}

func replaceChildrenTx(ctx context.Context, tx *sql.Tx, id int64, rec model.Product) (bool, error) {
	wrote := false

	if rec.Images != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM product_images WHERE product_id = @p1`, id); err != nil {
			return wrote, fmt.Errorf("replace images: %w", err)
		}
		for i, img := range rec.Images {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO product_images (product_id, url, is_primary, position) VALUES (@p1, @p2, @p3, @p4)`,
				id, img.URL, img.IsPrimary, i,
			); err != nil {
				return wrote, fmt.Errorf("replace images: %w", err)
			}
		}
		wrote = true
	}

	if rec.Documents != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM product_documents WHERE product_id = @p1`, id); err != nil {
			return wrote, fmt.Errorf("replace documents: %w", err)
		}
		for i, doc := range rec.Documents {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO product_documents (product_id, url, document_type, position) VALUES (@p1, @p2, @p3, @p4)`,
				id, doc.URL, doc.Type, i,
			); err != nil {
				return wrote, fmt.Errorf("replace documents: %w", err)
			}
		}
		wrote = true
	}

	if rec.Pricing != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM product_pricing WHERE product_id = @p1`, id); err != nil {
			return wrote, fmt.Errorf("replace pricing: %w", err)
		}
		pr := rec.Pricing
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO product_pricing (product_id, currency, min_price, max_price, unit, min_order_quantity)
			 VALUES (@p1, @p2, @p3, @p4, @p5, @p6)`,
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
		if _, err := tx.ExecContext(ctx, `DELETE FROM product_sellers WHERE product_id = @p1`, id); err != nil {
			return wrote, fmt.Errorf("replace seller: %w", err)
		}
		se := rec.Seller
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO product_sellers (product_id, name, rating, location, website)
			 VALUES (@p1, @p2, @p3, @p4, @p5)`,
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
