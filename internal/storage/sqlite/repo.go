// Package sqlite implements storage.Store for SQLite via modernc.org/sqlite.
//
// Key design points vs Postgres:
//   - SQLite has no timestamp type with reliable affinity; timestamps are
//     stored as RFC3339Nano strings for round-trip stability and easy
//     debugging.
//   - There is no FOR UPDATE; a plain transaction is sufficient because
//     SQLite serializes writers.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"catcrawl/internal/model"
	"catcrawl/internal/storage"
)

func init() {
	storage.Register("sqlite", New)
}

type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// A single writer connection avoids SQLITE_BUSY churn and keeps
	// in-memory DSNs pointing at one database.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
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
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (source, source_id)
	);`,
	`CREATE TABLE IF NOT EXISTS product_images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id),
		url TEXT NOT NULL,
		is_primary INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS product_documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id),
		url TEXT NOT NULL,
		document_type TEXT,
		position INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS product_pricing (
		product_id INTEGER NOT NULL REFERENCES products(id),
		currency TEXT,
		min_price REAL,
		max_price REAL,
		unit TEXT,
		min_order_quantity INTEGER
	);`,
	`CREATE TABLE IF NOT EXISTS product_sellers (
		product_id INTEGER NOT NULL REFERENCES products(id),
		name TEXT,
		rating REAL,
		location TEXT,
		website TEXT
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
	now := time.Now().UTC().Format(time.RFC3339Nano)

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
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert product %s/%s: %w", rec.Source, rec.SourceID, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, err
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
	b.WriteString(" FROM products WHERE source = ? AND source_id = ?")

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

func buildInsertSQL(source, sourceID string, cols []storage.Column, now string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO products (source, source_id")
	for _, c := range cols {
		b.WriteString(", ")
		b.WriteString(c.Name)
	}
	b.WriteString(", created_at, updated_at) VALUES (?, ?")

	args := make([]any, 0, len(cols)+4)
	args = append(args, source, sourceID)
	for _, c := range cols {
		b.WriteString(", ?")
		args = append(args, c.Value)
	}
	b.WriteString(", ?, ?)")
	args = append(args, now, now)

	return b.String(), args
}

func buildUpdateSQL(changed []storage.Column, id int64, now string) (string, []any) {
	var b strings.Builder
	b.WriteString("UPDATE products SET ")

	args := make([]any, 0, len(changed)+2)
	for i, c := range changed {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
		b.WriteString(" = ?")
		args = append(args, c.Value)
	}
	b.WriteString(", updated_at = ? WHERE id = ?")
	args = append(args, now, id)

	return b.String(), args
}

func replaceChildrenTx(ctx context.Context, tx *sql.Tx, id int64, rec model.Product) (bool, error) {
	wrote := false

	if rec.Images != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM product_images WHERE product_id = ?`, id); err != nil {
			return wrote, fmt.Errorf("replace images: %w", err)
		}
		for i, img := range rec.Images {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO product_images (product_id, url, is_primary, position) VALUES (?, ?, ?, ?)`,
				id, img.URL, img.IsPrimary, i,
			); err != nil {
				return wrote, fmt.Errorf("replace images: %w", err)
			}
		}
		wrote = true
	}

	if rec.Documents != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM product_documents WHERE product_id = ?`, id); err != nil {
			return wrote, fmt.Errorf("replace documents: %w", err)
		}
		for i, doc := range rec.Documents {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO product_documents (product_id, url, document_type, position) VALUES (?, ?, ?, ?)`,
				id, doc.URL, doc.Type, i,
			); err != nil {
				return wrote, fmt.Errorf("replace documents: %w", err)
			}
		}
		wrote = true
	}

	if rec.Pricing != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM product_pricing WHERE product_id = ?`, id); err != nil {
			return wrote, fmt.Errorf("replace pricing: %w", err)
		}
		pr := rec.Pricing
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO product_pricing (product_id, currency, min_price, max_price, unit, min_order_quantity)
			 VALUES (?, ?, ?, ?, ?, ?)`,
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
		if _, err := tx.ExecContext(ctx, `DELETE FROM product_sellers WHERE product_id = ?`, id); err != nil {
			return wrote, fmt.Errorf("replace seller: %w", err)
		}
		se := rec.Seller
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO product_sellers (product_id, name, rating, location, website)
			 VALUES (?, ?, ?, ?, ?)`,
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

// parseTime parses a stored RFC3339Nano timestamp, tolerating the plain
// RFC3339 form.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// rawJSON converts a stored nullable JSON text column.
func rawJSON(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}
