// Package extract implements the declarative field extraction pipeline: it
// interprets a site profile against rendered HTML snapshots and produces
// product records.
//
// Absence is a first-class outcome throughout: a selector that matches
// nothing yields an absent field, never an error. The only hard rejection
// rule — a record must have a name — is applied by the caller after the
// two-phase merge.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"catcrawl/internal/field"
	"catcrawl/internal/model"
	"catcrawl/internal/profile"
)

// Candidate is one listing tile: a partial record plus the detail page URL
// to enrich it from.
type Candidate struct {
	Partial   model.Product
	DetailURL string
}

// Tiles parses a listing page snapshot and returns one candidate per tile.
// Tiles without a resolvable detail link are skipped; pageURL is used to
// resolve relative hrefs.
func Tiles(html string, p *profile.Profile, pageURL string) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	base, _ := url.Parse(pageURL)

	var out []Candidate
	doc.Find(p.Listing.Tile).Each(func(_ int, tile *goquery.Selection) {
		href, ok := extractValue(tile, p.Listing.Link)
		if !ok || href == "" {
			return
		}
		detailURL := resolveHref(base, href)

		rec := model.Product{
			Source:   p.Source,
			SourceID: DeriveSourceID(detailURL, p.SourceID),
		}
		applyFieldMappings(tile, p.Listing.Fields, &rec)

		out = append(out, Candidate{Partial: rec, DetailURL: detailURL})
	})

	return out, nil
}

// Detail parses a detail page snapshot into a record. Every rule is
// optional: rules the profile omits leave the corresponding fields absent.
func Detail(html string, p *profile.Profile, detailURL string) (model.Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return model.Product{}, fmt.Errorf("parse detail html: %w", err)
	}
	root := doc.Selection

	rec := model.Product{
		Source:   p.Source,
		SourceID: DeriveSourceID(detailURL, p.SourceID),
	}
	d := p.Detail

	applyFieldMappings(root, d.Fields, &rec)

	if d.Specifications != nil {
		if specs, ok := extractTable(root, d.Specifications); ok {
			rec.Specifications = field.Of(specs)
		}
	}
	if d.Characteristics != nil {
		if ch, ok := extractTable(root, d.Characteristics); ok {
			rec.Characteristics = field.Of(ch)
		}
	}
	if d.Features != nil {
		if feats := extractAll(root, *d.Features); len(feats) > 0 {
			rec.Features = field.Of(feats)
		}
	}
	if d.Images != nil {
		rec.Images = extractImages(root, d.Images)
	}
	if d.Documents != nil {
		rec.Documents = extractDocuments(root, d.Documents)
	}
	if d.Pricing != nil {
		rec.Pricing = extractPricing(root, d.Pricing)
	}
	if d.Seller != nil {
		rec.Seller = extractSeller(root, d.Seller)
	}

	return rec, nil
}

// DeriveSourceID extracts the site's stable identifier from a detail URL.
// With a pattern, capture group 1 is used; otherwise the last non-empty
// path segment.
func DeriveSourceID(detailURL string, r profile.IDRule) string {
	if r.Pattern != "" {
		if re, err := regexp.Compile(r.Pattern); err == nil {
			if sm := re.FindStringSubmatch(detailURL); len(sm) > 1 {
				return sm[1]
			}
		}
	}

	u, err := url.Parse(detailURL)
	path := detailURL
	if err == nil {
		path = u.Path
	}
	segs := strings.Split(strings.TrimRight(path, "/"), "/")
	if len(segs) == 0 {
		return detailURL
	}
	return segs[len(segs)-1]
}

// applyFieldMappings routes mapping values onto the record's closed field
// set. Unknown field names are ignored rather than failing the record, so a
// profile typo degrades to an absent field.
func applyFieldMappings(root *goquery.Selection, ms []profile.Mapping, rec *model.Product) {
	for _, m := range ms {
		v, ok := extractValue(root, m)
		if !ok || v == "" {
			continue
		}
		switch m.Field {
		case "name":
			rec.Name = field.Of(v)
		case "brand":
			rec.Brand = field.Of(v)
		case "category":
			rec.Category = field.Of(v)
		case "description":
			rec.Description = field.Of(v)
		case "manufacturer":
			rec.Manufacturer = field.Of(v)
		case "video_url":
			rec.VideoURL = field.Of(v)
		case "catalog_status":
			rec.CatalogStatus = field.Of(v)
		}
	}
}

// extractValue reads the first match of a mapping: trimmed, normalized,
// regex-filtered. ok=false means the selector matched nothing.
func extractValue(root *goquery.Selection, m profile.Mapping) (string, bool) {
	sel := root.Find(m.Selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return readMapped(sel, m), true
}

// extractAll collects every non-empty match of a mapping in DOM order.
func extractAll(root *goquery.Selection, m profile.Mapping) []string {
	var vals []string
	root.Find(m.Selector).Each(func(_ int, sel *goquery.Selection) {
		if v := readMapped(sel, m); v != "" {
			vals = append(vals, v)
		}
	})
	return vals
}

func readMapped(sel *goquery.Selection, m profile.Mapping) string {
	var raw string
	switch m.Extract {
	case "attr":
		if m.Attr == "" {
			return ""
		}
		raw, _ = sel.Attr(m.Attr)
	default:
		raw = sel.Text()
	}

	v := CleanText(raw)
	if m.Match == "" {
		return v
	}
	re, err := regexp.Compile(m.Match)
	if err != nil {
		return ""
	}
	sm := re.FindStringSubmatch(v)
	if len(sm) == 0 {
		return ""
	}
	if len(sm) > 1 {
		return sm[1]
	}
	return sm[0]
}

func extractImages(root *goquery.Selection, r *profile.ImageRule) []model.Image {
	attr := r.Attr
	if attr == "" {
		attr = "src"
	}
	var images []model.Image
	root.Find(r.Selector).Each(func(i int, sel *goquery.Selection) {
		src, ok := sel.Attr(attr)
		src = strings.TrimSpace(src)
		if !ok || src == "" {
			return
		}
		images = append(images, model.Image{URL: src, IsPrimary: len(images) == 0})
	})
	return images
}

func extractDocuments(root *goquery.Selection, r *profile.DocumentRule) []model.Document {
	attr := r.Attr
	if attr == "" {
		attr = "href"
	}
	var typeRe *regexp.Regexp
	if r.TypePattern != "" {
		typeRe, _ = regexp.Compile(r.TypePattern)
	}

	var docs []model.Document
	root.Find(r.Selector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr(attr)
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}
		docs = append(docs, model.Document{URL: href, Type: documentType(href, typeRe)})
	})
	return docs
}

func documentType(href string, re *regexp.Regexp) string {
	if re != nil {
		if sm := re.FindStringSubmatch(href); len(sm) > 1 {
			return strings.ToLower(sm[1])
		}
	}
	if i := strings.LastIndex(href, "."); i >= 0 && i < len(href)-1 {
		ext := strings.ToLower(href[i+1:])
		if len(ext) <= 5 && !strings.ContainsAny(ext, "/?#") {
			return ext
		}
	}
	return ""
}

var (
	reNumber  = regexp.MustCompile(`[\d,]+\.?\d*`)
	reInteger = regexp.MustCompile(`\d+`)
	reDecimal = regexp.MustCompile(`[\d.]+`)
)

// extractPricing parses the pricing block. Returns nil when nothing priced
// was found, so the reconcile leaves stored pricing untouched.
func extractPricing(root *goquery.Selection, r *profile.PricingRules) *model.Pricing {
	p := model.Pricing{}
	found := false

	if v, ok := extractValue(root, r.Range); ok && v != "" {
		nums := reNumber.FindAllString(v, -1)
		if len(nums) >= 1 {
			if f, err := parsePrice(nums[0]); err == nil {
				p.MinPrice = field.Of(f)
				found = true
			}
		}
		if len(nums) >= 2 {
			if f, err := parsePrice(nums[len(nums)-1]); err == nil {
				p.MaxPrice = field.Of(f)
			}
		}
	}

	if v, ok := extractValue(root, r.Unit); ok && v != "" {
		p.Unit = field.Of(v)
		found = true
	}

	if v, ok := extractValue(root, r.MinOrderQty); ok {
		if m := reInteger.FindString(v); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				p.MinOrderQty = field.Of(n)
				found = true
			}
		}
	}

	if !found {
		return nil
	}
	if r.Currency != "" {
		p.Currency = field.Of(r.Currency)
	}
	return &p
}

// extractSeller parses the seller block. Returns nil when no field was
// found.
func extractSeller(root *goquery.Selection, r *profile.SellerRules) *model.Seller {
	s := model.Seller{}
	found := false

	if v, ok := extractValue(root, r.Name); ok && v != "" {
		s.Name = field.Of(v)
		found = true
	}
	if v, ok := extractValue(root, r.Rating); ok {
		if m := reDecimal.FindString(v); m != "" {
			if f, err := strconv.ParseFloat(m, 64); err == nil {
				s.Rating = field.Of(f)
				found = true
			}
		}
	}
	if v, ok := extractValue(root, r.Location); ok && v != "" {
		s.Location = field.Of(v)
		found = true
	}
	if v, ok := extractValue(root, r.Website); ok && v != "" {
		s.Website = field.Of(v)
		found = true
	}

	if !found {
		return nil
	}
	return &s
}

func parsePrice(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

func resolveHref(base *url.URL, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}
