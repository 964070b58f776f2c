package model

import "catcrawl/internal/field"

// Merge combines a listing-tile partial record with the record extracted
// from the corresponding detail page.
//
// The detail record's present fields win field-by-field; a field present only
// in the partial record is retained. This realizes enrichment, never full
// replacement: a detail page that fails to surface a field the tile already
// provided does not lose it.
//
// Child collections follow the same rule at collection granularity: a non-nil
// detail collection replaces the seed's, a nil one leaves it alone.
func Merge(seed, detail Product) Product {
	out := seed

	if detail.Source != "" {
		out.Source = detail.Source
	}
	if detail.SourceID != "" {
		out.SourceID = detail.SourceID
	}

	out.Name = pick(seed.Name, detail.Name)
	out.Brand = pick(seed.Brand, detail.Brand)
	out.Category = pick(seed.Category, detail.Category)
	out.Description = pick(seed.Description, detail.Description)
	out.Manufacturer = pick(seed.Manufacturer, detail.Manufacturer)
	out.VideoURL = pick(seed.VideoURL, detail.VideoURL)
	out.CatalogStatus = pick(seed.CatalogStatus, detail.CatalogStatus)
	out.Specifications = pick(seed.Specifications, detail.Specifications)
	out.Characteristics = pick(seed.Characteristics, detail.Characteristics)
	out.Features = pick(seed.Features, detail.Features)

	if detail.Images != nil {
		out.Images = detail.Images
	}
	if detail.Documents != nil {
		out.Documents = detail.Documents
	}
	if detail.Pricing != nil {
		out.Pricing = detail.Pricing
	}
	if detail.Seller != nil {
		out.Seller = detail.Seller
	}

	return out
}

func pick[T any](seed, detail field.Value[T]) field.Value[T] {
	if detail.IsSet() {
		return detail
	}
	return seed
}
