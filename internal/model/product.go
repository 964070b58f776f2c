// Package model defines the product record produced by extraction and
// consumed by the reconciliation engine.
package model

import (
	"strings"

	"catcrawl/internal/field"
)

// SpecMap maps a trimmed label to either a string value or a nested SpecMap
// (sectioned specification tables produce one nested map per section).
type SpecMap map[string]any

// Image is one gallery entry. The first image discovered on a page is the
// primary one by convention.
type Image struct {
	URL       string `json:"url"`
	IsPrimary bool   `json:"is_primary"`
}

// Document is a downloadable asset attached to a product (datasheet, manual).
type Document struct {
	URL  string `json:"url"`
	Type string `json:"document_type"`
}

// Pricing holds at most one logical pricing row per product.
type Pricing struct {
	Currency    field.Value[string]  `json:"currency"`
	MinPrice    field.Value[float64] `json:"min_price"`
	MaxPrice    field.Value[float64] `json:"max_price"`
	Unit        field.Value[string]  `json:"unit"`
	MinOrderQty field.Value[int]     `json:"min_order_quantity"`
}

// Seller holds at most one logical seller row per product.
type Seller struct {
	Name     field.Value[string]  `json:"name"`
	Rating   field.Value[float64] `json:"rating"`
	Location field.Value[string]  `json:"location"`
	Website  field.Value[string]  `json:"website"`
}

// Product is the unit of extraction and persistence.
//
// The natural key is (Source, SourceID) and never changes after creation.
// Every other scalar is a presence-or-absence value: an absent field on this
// crawl must not erase a previously stored value. Child collections are
// included in a reconcile iff the slice/pointer is non-nil, in which case the
// stored children are replaced wholesale.
type Product struct {
	Source   string `json:"source"`
	SourceID string `json:"source_id"`

	Name          field.Value[string] `json:"name"`
	Brand         field.Value[string] `json:"brand"`
	Category      field.Value[string] `json:"category"`
	Description   field.Value[string] `json:"description"`
	Manufacturer  field.Value[string] `json:"manufacturer"`
	VideoURL      field.Value[string] `json:"video_url"`
	CatalogStatus field.Value[string] `json:"catalog_status"`

	Specifications  field.Value[SpecMap]  `json:"specifications"`
	Characteristics field.Value[SpecMap]  `json:"characteristics"`
	Features        field.Value[[]string] `json:"features"`

	Images    []Image    `json:"images,omitempty"`
	Documents []Document `json:"documents,omitempty"`
	Pricing   *Pricing   `json:"pricing,omitempty"`
	Seller    *Seller    `json:"seller,omitempty"`
}

// Valid reports whether the record may be persisted. A record without a
// resolvable name is discarded, never stored; this is the pipeline's only
// hard rejection rule.
func (p Product) Valid() bool {
	name, ok := p.Name.Get()
	return ok && strings.TrimSpace(name) != ""
}
