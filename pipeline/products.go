package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-scrape-etsy/config"
	"github.com/aluiziolira/go-scrape-etsy/models"
	"github.com/aluiziolira/go-scrape-etsy/pagination"
	"github.com/aluiziolira/go-scrape-etsy/storage"
)

// RunProducts walks the category pages and saves every listing found. When
// the configured start page is 1 or unset it resumes after the highest page
// already in the products dataset. The walk ends when a page has no next
// control, the page bound is reached, a late page fails, or the site starts
// repeating pages.
func (p *Pipeline) RunProducts(ctx context.Context) (summary models.RunSummary, err error) {
	summary = p.begin(JobProducts)
	summary.Dataset = p.cfg.ProductsFile
	defer p.finish(ctx, &summary)

	products, err := storage.OpenProducts(p.cfg.ProductsFile)
	if err != nil {
		summary.Message = err.Error()
		return summary, err
	}

	start := p.cfg.StartPage
	if start < 1 {
		start = 1
	}
	if start == 1 {
		last, err := products.LastPageScraped()
		if err != nil {
			summary.Message = err.Error()
			return summary, err
		}
		if last > 0 {
			start = last + 1
			slog.Info("resuming after last scraped page", slog.Int("last_page", last), slog.Int("start_page", start))
		}
	}

	drift := newDriftGuard(p.cfg.DriftWindow)
	referer := p.cfg.Origin
	attempts := 0

	for page := start; ; {
		if ctx.Err() != nil {
			break
		}
		if p.cfg.MaxPages > 0 && page-start+1 > p.cfg.MaxPages {
			slog.Info("reached page limit", slog.Int("max_pages", p.cfg.MaxPages))
			break
		}

		pageURL, err := p.pageURL(page)
		if err != nil {
			summary.Message = err.Error()
			return summary, err
		}

		slog.Info("scraping page", slog.Int("page", page), slog.String("url", pageURL))
		fetched, err := p.fetchPage(ctx, pageURL, referer, config.RoleCategory)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.stats.addFailure(pageURL, err)
			attempts++
			if page < p.cfg.EarlyPageLimit {
				if attempts < p.cfg.PageAttempts {
					slog.Warn("retrying page", slog.Int("page", page), slog.Int("attempt", attempts), slog.Any("error", err))
					continue
				}
				slog.Error("skipping page", slog.Int("page", page), slog.Any("error", err))
				page++
				attempts = 0
				continue
			}
			slog.Error("stopping at failed page", slog.Int("page", page), slog.Any("error", err))
			break
		}
		attempts = 0

		records := p.extractor.ExtractProducts(fetched.Body)
		state := p.resolver.Resolve(fetched.Body)
		p.stats.addPage(len(records))

		ids := make([]string, len(records))
		now := p.now()
		for i := range records {
			records[i].PageNumber = page
			records[i].PositionOnPage = i + 1
			records[i].ExtractedAt = now
			ids[i] = records[i].ListingID
		}
		stale := drift.observe(ids)

		if len(records) > 0 {
			p.recordSave(products.Name(), products.Save(records))
		}
		slog.Info("page done",
			slog.Int("page", page),
			slog.Int("found", len(records)),
			slog.Int("total_pages", state.TotalPages),
			slog.Bool("has_next", state.HasNext),
		)

		if stale {
			slog.Warn("page repeats listings already seen, stopping", slog.Int("page", page))
			break
		}
		if !state.HasNext {
			slog.Info("no more pages")
			break
		}
		referer = pageURL
		page++
	}

	summary.Total = products.Count()
	summary.Success = p.stats.snapshot().PagesScraped > 0
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	if !summary.Success {
		summary.Message = "no page could be scraped"
	}
	return summary, nil
}

func (p *Pipeline) pageURL(page int) (string, error) {
	if page == 1 {
		return p.cfg.CategoryURL, nil
	}
	u, err := pagination.BuildPageURL(p.cfg.CategoryURL, page)
	if err != nil {
		return "", fmt.Errorf("build page url: %w", err)
	}
	return u, nil
}

