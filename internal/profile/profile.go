// Package profile defines the declarative per-site extraction configuration.
//
// Selectors are configuration data, not algorithm: one JSON profile per
// source names where every field lives on that site's listing tiles and
// detail pages. The extraction pipeline interprets profiles generically, so
// adding a source is a config change, not a code change.
package profile

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Mapping is one extraction rule: where to read a value and how. A mapping
// reads the first match of its selector; list-valued rules (features) collect
// every match by definition.
type Mapping struct {
	Selector string `json:"selector"`
	Extract  string `json:"extract"`         // "text" or "attr"
	Attr     string `json:"attr,omitempty"`  // used when Extract == "attr"
	Field    string `json:"field,omitempty"` // target record field
	Match    string `json:"match,omitempty"` // optional regex filter
}

// TableRule extracts a label/value table into a spec mapping. Cells are
// iterated positionally: label at even index, value at odd index.
type TableRule struct {
	Cells   string       `json:"cells"`
	Section *SectionRule `json:"section,omitempty"`
}

// SectionRule handles sectioned tables: each section contributes a nested
// mapping keyed by its title.
type SectionRule struct {
	Selector string `json:"selector"`
	Title    string `json:"title"`
	Cells    string `json:"cells"`
}

// ImageRule names the gallery images; the first discovered is primary.
type ImageRule struct {
	Selector string `json:"selector"`
	Attr     string `json:"attr"`
}

// DocumentRule names downloadable assets. TypePattern is a regex with one
// capture group applied to the URL to classify the document; when it does
// not match, the URL's extension is used.
type DocumentRule struct {
	Selector    string `json:"selector"`
	Attr        string `json:"attr"`
	TypePattern string `json:"type_pattern,omitempty"`
}

// PricingRules extracts the single logical pricing row.
type PricingRules struct {
	Range       Mapping `json:"range"`
	Unit        Mapping `json:"unit"`
	MinOrderQty Mapping `json:"min_order_quantity"`
	Currency    string  `json:"currency,omitempty"`
}

// SellerRules extracts the single logical seller row.
type SellerRules struct {
	Name     Mapping `json:"name"`
	Rating   Mapping `json:"rating"`
	Location Mapping `json:"location"`
	Website  Mapping `json:"website"`
}

// ListingRules drives extraction of partial records from a listing page.
type ListingRules struct {
	Ready           string    `json:"ready,omitempty"`
	Tile            string    `json:"tile"`
	Link            Mapping   `json:"link"`
	Fields          []Mapping `json:"fields,omitempty"`
	NextPage        string    `json:"next_page,omitempty"`
	PageURLTemplate string    `json:"page_url_template,omitempty"`
}

// DetailRules drives enrichment from a product detail page. Features collects
// every match of its mapping; all other mappings read the first.
type DetailRules struct {
	Ready           string        `json:"ready,omitempty"`
	Fields          []Mapping     `json:"fields"`
	Specifications  *TableRule    `json:"specifications,omitempty"`
	Characteristics *TableRule    `json:"characteristics,omitempty"`
	Features        *Mapping      `json:"features,omitempty"`
	Images          *ImageRule    `json:"images,omitempty"`
	Documents       *DocumentRule `json:"documents,omitempty"`
	Pricing         *PricingRules `json:"pricing,omitempty"`
	Seller          *SellerRules  `json:"seller,omitempty"`
}

// IDRule derives the stable source_id from a detail URL. Pattern must
// contain one capture group; when absent or unmatched, the last path
// segment is used.
type IDRule struct {
	Pattern string `json:"pattern,omitempty"`
}

// Profile is the full per-site configuration.
type Profile struct {
	Source              string       `json:"source"`
	BaseURL             string       `json:"base_url"`
	CategoryURLTemplate string       `json:"category_url_template"` // one %s for the category selector
	Listing             ListingRules `json:"listing"`
	Detail              DetailRules  `json:"detail"`
	SourceID            IDRule       `json:"source_id"`
	Lockout             []string     `json:"lockout,omitempty"`
	Consent             []string     `json:"consent,omitempty"`
}

// Load reads and validates one profile file.
func Load(path string) (*Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse profile json: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

// LoadFor loads <dir>/<source>.json.
func LoadFor(dir, source string) (*Profile, error) {
	return Load(filepath.Join(dir, source+".json"))
}

func (p *Profile) validate() error {
	if strings.TrimSpace(p.Source) == "" {
		return fmt.Errorf("source is required")
	}
	if strings.TrimSpace(p.BaseURL) == "" {
		return fmt.Errorf("base_url is required")
	}
	if _, err := url.Parse(p.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if strings.TrimSpace(p.Listing.Tile) == "" {
		return fmt.Errorf("listing.tile is required")
	}
	if strings.TrimSpace(p.Listing.Link.Selector) == "" {
		return fmt.Errorf("listing.link.selector is required")
	}
	if p.Listing.NextPage == "" && p.Listing.PageURLTemplate == "" {
		return fmt.Errorf("listing needs next_page or page_url_template")
	}
	if p.SourceID.Pattern != "" {
		if _, err := regexp.Compile(p.SourceID.Pattern); err != nil {
			return fmt.Errorf("source_id.pattern: %w", err)
		}
	}
	for i, m := range p.Detail.Fields {
		if m.Field == "" {
			return fmt.Errorf("detail.fields[%d]: field is required", i)
		}
	}
	return nil
}

// CategoryURL builds the category root URL for a crawl.
func (p *Profile) CategoryURL(category string) string {
	if category == "" || p.CategoryURLTemplate == "" {
		return p.BaseURL
	}
	return p.BaseURL + fmt.Sprintf(p.CategoryURLTemplate, category)
}

// PageURL renders the template-based URL for page n of the given listing,
// when the profile paginates by URL rather than by affordance click.
func (p *Profile) PageURL(listingURL string, n int) (string, bool) {
	if p.Listing.PageURLTemplate == "" {
		return "", false
	}
	return fmt.Sprintf(p.Listing.PageURLTemplate, strings.TrimRight(listingURL, "/"), n), true
}
