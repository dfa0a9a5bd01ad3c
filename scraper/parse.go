package scraper

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"sneakerdrop-notifier/pkg/notifier"
)

// dateLayouts are the listing's date formats, most specific last.
var dateLayouts = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006 3:04 PM",
}

// ParseDropDate parses a listing date in loc. A date with no time of day (or an
// explicit midnight) is taken as 10:00 local, the usual release hour.
func ParseDropDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.Join(strings.Fields(raw), " ")
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, raw, loc)
		if err != nil {
			continue
		}
		if t.Hour() == 0 && t.Minute() == 0 {
			t = time.Date(t.Year(), t.Month(), t.Day(), 10, 0, 0, 0, loc)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

// InferBrand guesses the brand from a release name.
func InferBrand(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "jordan"), strings.Contains(lower, "nike"):
		return "Nike"
	case strings.Contains(lower, "adidas"), strings.Contains(lower, "yeezy"):
		return "Adidas"
	case strings.Contains(lower, "new balance"):
		return "New Balance"
	default:
		return "Unknown"
	}
}

var (
	nonSlug   = regexp.MustCompile(`[^\w\s-]`)
	slugRuns  = regexp.MustCompile(`[-\s]+`)
	accentMap = runes.Remove(runes.In(unicode.Mn))
)

// Slug lowercases text, folds accents and joins words with single dashes.
func Slug(text string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, accentMap, norm.NFC), text)
	if err != nil {
		folded = text
	}
	s := strings.ToLower(strings.TrimSpace(folded))
	s = nonSlug.ReplaceAllString(s, "")
	s = slugRuns.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// DropID is the deterministic id for a release: slug(name)-YYYY-MM-DD.
func DropID(name string, at time.Time) string {
	return Slug(name) + "-" + at.Format("2006-01-02")
}

// FilterBrands keeps drops whose brand matches one of brands, ignoring case.
// An empty filter keeps everything.
func FilterBrands(drops []notifier.Drop, brands []string) []notifier.Drop {
	if len(brands) == 0 {
		return drops
	}
	out := make([]notifier.Drop, 0, len(drops))
	for _, d := range drops {
		for _, b := range brands {
			if strings.EqualFold(strings.TrimSpace(b), d.Brand) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// MergeResult counts what a merge did.
type MergeResult struct {
	Added   int
	Updated int
}

// Merge replaces existing drops by id in place and appends new ones.
// The existing slice is not modified.
func Merge(existing, scraped []notifier.Drop) ([]notifier.Drop, MergeResult) {
	merged := make([]notifier.Drop, len(existing), len(existing)+len(scraped))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, d := range merged {
		index[d.DropID] = i
	}

	var res MergeResult
	for _, d := range scraped {
		if i, ok := index[d.DropID]; ok {
			merged[i] = d
			res.Updated++
			continue
		}
		index[d.DropID] = len(merged)
		merged = append(merged, d)
		res.Added++
	}
	return merged, res
}
