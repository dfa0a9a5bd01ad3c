package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"sneakerdrop-notifier/pkg/notifier"
)

// DropStore is the part of storage a refresh needs.
type DropStore interface {
	LoadDrops(ctx context.Context) ([]notifier.Drop, error)
	SaveDrops(ctx context.Context, drops []notifier.Drop) error
}

// Refresher scrapes the listing and merges the result into stored drops.
type Refresher struct {
	Scraper *Scraper
	Store   DropStore
	URL     string
	Limit   int
	Brands  []string
	Logger  *slog.Logger
}

// RefreshResult reports one refresh.
type RefreshResult struct {
	Scraped  int `json:"scraped"`
	Filtered int `json:"filtered"`
	Added    int `json:"added"`
	Updated  int `json:"updated"`
	Total    int `json:"total"`
}

// Refresh scrapes, applies brand filters, merges by drop id and saves.
// Nothing is written when the scrape yields no drops.
func (r *Refresher) Refresh(ctx context.Context) (RefreshResult, error) {
	scraped, err := r.Scraper.Scrape(ctx, r.URL, r.Limit)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("scrape: %w", err)
	}

	kept := FilterBrands(scraped, r.Brands)
	res := RefreshResult{Scraped: len(scraped), Filtered: len(scraped) - len(kept)}
	if len(kept) == 0 {
		r.Logger.Warn("Scrape produced no drops, leaving stored drops untouched", "scraped", len(scraped), "brand_filters", r.Brands)
		return res, nil
	}

	existing, err := r.Store.LoadDrops(ctx)
	if err != nil {
		return res, fmt.Errorf("load drops: %w", err)
	}

	merged, mr := Merge(existing, kept)
	res.Added, res.Updated, res.Total = mr.Added, mr.Updated, len(merged)

	if err := r.Store.SaveDrops(ctx, merged); err != nil {
		return res, fmt.Errorf("save drops: %w", err)
	}

	r.Logger.Info("Drops refreshed", "added", res.Added, "updated", res.Updated, "total", res.Total)
	return res, nil
}
