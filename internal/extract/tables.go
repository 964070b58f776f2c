package extract

import (
	"github.com/PuerkitoBio/goquery"

	"catcrawl/internal/model"
	"catcrawl/internal/profile"
)

// extractTable reads a label/value table into a spec mapping. ok=false when
// the table produced no entries at all, which keeps the field absent rather
// than explicitly empty.
func extractTable(root *goquery.Selection, r *profile.TableRule) (model.SpecMap, bool) {
	if r.Section != nil {
		return extractSectionedTable(root, r)
	}
	m := labelValuePairs(root, r.Cells)
	return m, len(m) > 0
}

// labelValuePairs iterates cell elements positionally: label at even index,
// value at odd index. Pairs with a missing half are skipped; labels are
// trimmed and duplicate labels overwrite earlier ones (last-wins), since
// table order is assumed stable per page.
func labelValuePairs(root *goquery.Selection, cellSelector string) model.SpecMap {
	cells := root.Find(cellSelector)
	out := model.SpecMap{}

	for i := 0; i+1 < cells.Length(); i += 2 {
		label := CleanText(cells.Eq(i).Text())
		value := CleanText(cells.Eq(i + 1).Text())
		if label == "" || value == "" {
			continue
		}
		out[label] = value
	}
	return out
}

// extractSectionedTable handles tables split into titled sections: each
// section contributes a nested mapping keyed by its title. Sections without
// a title or without any pair are skipped.
func extractSectionedTable(root *goquery.Selection, r *profile.TableRule) (model.SpecMap, bool) {
	sec := r.Section
	out := model.SpecMap{}

	root.Find(sec.Selector).Each(func(_ int, s *goquery.Selection) {
		title := CleanText(s.Find(sec.Title).First().Text())
		if title == "" {
			return
		}
		pairs := labelValuePairs(s, sec.Cells)
		if len(pairs) == 0 {
			return
		}
		out[title] = pairs
	})
	return out, len(out) > 0
}
