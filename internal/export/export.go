// Package export renders stored product records to JSON and CSV files.
//
// JSON preserves the nested shape (children, structured fields); CSV
// flattens to one row per product: structured fields stay as JSON text in
// their cells and child URLs are pipe-joined.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"catcrawl/internal/storage"
)

// Filename builds the conventional timestamped export name, e.g.
// "products_medicalexpo_20260823T150405.json". Empty source means all
// sources.
func Filename(source, ext string, now time.Time) string {
	name := "products"
	if source != "" {
		name += "_" + source
	}
	return fmt.Sprintf("%s_%s.%s", name, now.UTC().Format("20060102T150405"), ext)
}

// WriteJSON writes the full nested dump, indented.
func WriteJSON(w io.Writer, dumps []storage.ProductDump) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if dumps == nil {
		dumps = []storage.ProductDump{}
	}
	return enc.Encode(dumps)
}

// WriteJSONFile writes the JSON dump to path.
func WriteJSONFile(path string, dumps []storage.ProductDump) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := WriteJSON(f, dumps); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// csvHeader is the flattened column order. Stable: downstream spreadsheets
// key on it.
var csvHeader = []string{
	"id", "source", "source_id",
	"name", "brand", "category", "description", "manufacturer",
	"video_url", "catalog_status",
	"specifications", "characteristics", "features",
	"image_urls", "primary_image_url", "document_urls",
	"currency", "min_price", "max_price", "unit", "min_order_quantity",
	"seller_name", "seller_rating", "seller_location", "seller_website",
	"created_at", "updated_at",
}

// WriteCSV writes the flattened dump with a header row.
func WriteCSV(w io.Writer, dumps []storage.ProductDump) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, d := range dumps {
		if err := cw.Write(flatten(d)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the CSV dump to path.
func WriteCSVFile(path string, dumps []storage.ProductDump) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := WriteCSV(f, dumps); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func flatten(d storage.ProductDump) []string {
	var imageURLs []string
	primary := ""
	for _, img := range d.Images {
		imageURLs = append(imageURLs, img.URL)
		if img.IsPrimary && primary == "" {
			primary = img.URL
		}
	}
	var docURLs []string
	for _, doc := range d.Documents {
		docURLs = append(docURLs, doc.URL)
	}

	row := []string{
		strconv.FormatInt(d.ID, 10),
		d.Source,
		d.SourceID,
		deref(d.Name),
		deref(d.Brand),
		deref(d.Category),
		deref(d.Description),
		deref(d.Manufacturer),
		deref(d.VideoURL),
		deref(d.CatalogStatus),
		string(d.Specifications),
		string(d.Characteristics),
		string(d.Features),
		strings.Join(imageURLs, "|"),
		primary,
		strings.Join(docURLs, "|"),
	}

	if d.Pricing != nil {
		row = append(row,
			deref(d.Pricing.Currency),
			derefFloat(d.Pricing.MinPrice),
			derefFloat(d.Pricing.MaxPrice),
			deref(d.Pricing.Unit),
			derefInt(d.Pricing.MinOrderQty),
		)
	} else {
		row = append(row, "", "", "", "", "")
	}

	if d.Seller != nil {
		row = append(row,
			deref(d.Seller.Name),
			derefFloat(d.Seller.Rating),
			deref(d.Seller.Location),
			deref(d.Seller.Website),
		)
	} else {
		row = append(row, "", "", "", "")
	}

	row = append(row,
		d.CreatedAt.UTC().Format(time.RFC3339),
		d.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return row
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func derefInt(i *int64) string {
	if i == nil {
		return ""
	}
	return strconv.FormatInt(*i, 10)
}
