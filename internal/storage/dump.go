package storage

import (
	"encoding/json"
	"time"
)

// ProductDump is one fully joined product row for the export surface. All
// optional scalars are pointers so exported JSON distinguishes null from
// empty, matching what the store actually holds.
type ProductDump struct {
	ID       int64  `json:"id"`
	Source   string `json:"source"`
	SourceID string `json:"source_id"`

	Name          *string `json:"name"`
	Brand         *string `json:"brand"`
	Category      *string `json:"category"`
	Description   *string `json:"description"`
	Manufacturer  *string `json:"manufacturer"`
	VideoURL      *string `json:"video_url"`
	CatalogStatus *string `json:"catalog_status"`

	// Structured fields as stored: self-describing JSON documents.
	Specifications  json.RawMessage `json:"specifications"`
	Characteristics json.RawMessage `json:"characteristics"`
	Features        json.RawMessage `json:"features"`

	Images    []ImageDump    `json:"images"`
	Documents []DocumentDump `json:"documents"`
	Pricing   *PricingDump   `json:"pricing"`
	Seller    *SellerDump    `json:"seller"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ImageDump struct {
	URL       string `json:"url"`
	IsPrimary bool   `json:"is_primary"`
}

type DocumentDump struct {
	URL  string `json:"url"`
	Type string `json:"document_type"`
}

type PricingDump struct {
	Currency    *string  `json:"currency"`
	MinPrice    *float64 `json:"min_price"`
	MaxPrice    *float64 `json:"max_price"`
	Unit        *string  `json:"unit"`
	MinOrderQty *int64   `json:"min_order_quantity"`
}

type SellerDump struct {
	Name     *string  `json:"name"`
	Rating   *float64 `json:"rating"`
	Location *string  `json:"location"`
	Website  *string  `json:"website"`
}
