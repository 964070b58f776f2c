package mssql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"catcrawl/internal/storage"
)

// FetchAll loads full product records for export.
func (r *Repo) FetchAll(ctx context.Context, source string) ([]storage.ProductDump, error) {
	q := `SELECT id, source, source_id, name, brand, category, description,
	             manufacturer, video_url, catalog_status,
	             specifications, characteristics, features,
	             created_at, updated_at
	      FROM products`
	var args []any
	if source != "" {
		q += ` WHERE source = @p1`
		args = append(args, source)
	}
	q += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch products: %w", err)
	}
	defer rows.Close()

	var dumps []storage.ProductDump
	index := map[int64]int{}
	for rows.Next() {
		var d storage.ProductDump
		var specs, chars, feats sql.NullString
		if err := rows.Scan(
			&d.ID, &d.Source, &d.SourceID,
			&d.Name, &d.Brand, &d.Category, &d.Description,
			&d.Manufacturer, &d.VideoURL, &d.CatalogStatus,
			&specs, &chars, &feats,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		d.Specifications = rawJSON(specs)
		d.Characteristics = rawJSON(chars)
		d.Features = rawJSON(feats)

		index[d.ID] = len(dumps)
		dumps = append(dumps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch products: %w", err)
	}
	if len(dumps) == 0 {
		return nil, nil
	}

	if err := r.attachImages(ctx, dumps, index); err != nil {
		return nil, err
	}
	if err := r.attachDocuments(ctx, dumps, index); err != nil {
		return nil, err
	}
	if err := r.attachPricing(ctx, dumps, index); err != nil {
		return nil, err
	}
	if err := r.attachSellers(ctx, dumps, index); err != nil {
		return nil, err
	}
	return dumps, nil
}

func rawJSON(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}

func (r *Repo) attachImages(ctx context.Context, dumps []storage.ProductDump, index map[int64]int) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, url, is_primary FROM product_images ORDER BY product_id, position`)
	if err != nil {
		return fmt.Errorf("fetch images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pid int64
		var img storage.ImageDump
		if err := rows.Scan(&pid, &img.URL, &img.IsPrimary); err != nil {
			return fmt.Errorf("scan image: %w", err)
		}
		if i, ok := index[pid]; ok {
			dumps[i].Images = append(dumps[i].Images, img)
		}
	}
	return rows.Err()
}

func (r *Repo) attachDocuments(ctx context.Context, dumps []storage.ProductDump, index map[int64]int) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, url, COALESCE(document_type, '') FROM product_documents ORDER BY product_id, position`)
	if err != nil {
		return fmt.Errorf("fetch documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pid int64
		var doc storage.DocumentDump
		if err := rows.Scan(&pid, &doc.URL, &doc.Type); err != nil {
			return fmt.Errorf("scan document: %w", err)
		}
		if i, ok := index[pid]; ok {
			dumps[i].Documents = append(dumps[i].Documents, doc)
		}
	}
	return rows.Err()
}

func (r *Repo) attachPricing(ctx context.Context, dumps []storage.ProductDump, index map[int64]int) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, currency, min_price, max_price, unit, min_order_quantity FROM product_pricing`)
	if err != nil {
		return fmt.Errorf("fetch pricing: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pid int64
		var pr storage.PricingDump
		if err := rows.Scan(&pid, &pr.Currency, &pr.MinPrice, &pr.MaxPrice, &pr.Unit, &pr.MinOrderQty); err != nil {
			return fmt.Errorf("scan pricing: %w", err)
		}
		if i, ok := index[pid]; ok {
			dumps[i].Pricing = &pr
		}
	}
	return rows.Err()
}

func (r *Repo) attachSellers(ctx context.Context, dumps []storage.ProductDump, index map[int64]int) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, name, rating, location, website FROM product_sellers`)
	if err != nil {
		return fmt.Errorf("fetch sellers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pid int64
		var se storage.SellerDump
		if err := rows.Scan(&pid, &se.Name, &se.Rating, &se.Location, &se.Website); err != nil {
			return fmt.Errorf("scan seller: %w", err)
		}
		if i, ok := index[pid]; ok {
			dumps[i].Seller = &se
		}
	}
	return rows.Err()
}
