package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-scrape-etsy/config"
	"github.com/aluiziolira/go-scrape-etsy/models"
	"github.com/aluiziolira/go-scrape-etsy/storage"
)

// RunShops visits the detail page of every saved product and records the
// shop selling it. Each listing is visited at most once across runs: a
// listing that yields a shop is tracked through the shops file, one that
// does not is written to the processed ledger.
func (p *Pipeline) RunShops(ctx context.Context) (summary models.RunSummary, err error) {
	summary = p.begin(JobShops)
	summary.Dataset = p.cfg.ShopsFile
	defer p.finish(ctx, &summary)

	products, err := storage.OpenProducts(p.cfg.ProductsFile)
	if err != nil {
		summary.Message = err.Error()
		return summary, err
	}
	if products.Count() == 0 {
		err := fmt.Errorf("%w: no products in %s, run the products job first", ErrMissingInput, p.cfg.ProductsFile)
		summary.Message = err.Error()
		return summary, err
	}
	listings, err := products.All()
	if err != nil {
		summary.Message = err.Error()
		return summary, err
	}
	shops, err := storage.OpenShops(p.cfg.ShopsFile)
	if err != nil {
		summary.Message = err.Error()
		return summary, err
	}

	attempted := 0
	for _, listing := range listings {
		if ctx.Err() != nil {
			break
		}
		if p.reachedLimit(attempted) {
			slog.Info("reached item limit", slog.Int("max_items", p.cfg.MaxItems))
			break
		}
		if listing.URL == "" || shops.IsProcessed(listing.URL) {
			continue
		}
		attempted++

		fetched, err := p.fetchPage(ctx, listing.URL, p.cfg.CategoryURL, config.RoleListing)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.stats.addFailure(listing.URL, err)
			slog.Error("failed to fetch listing", slog.String("url", listing.URL), slog.Any("error", err))
			continue
		}
		p.stats.addPage(0)

		saved := 0
		link, ok := p.extractor.ExtractShopLink(fetched.Body)
		if ok {
			p.stats.addFound(1)
			res := shops.Save([]models.ShopRecord{{
				ShopName:    link.Name,
				ShopURL:     link.URL,
				ListingURL:  listing.URL,
				ExtractedAt: p.now(),
			}})
			p.recordSave(shops.Name(), res)
			saved = res.Saved
		} else {
			slog.Warn("no shop link on listing", slog.String("url", listing.URL))
		}
		if saved == 0 {
			if err := shops.MarkProcessed(listing.URL); err != nil {
				p.stats.addError()
				slog.Error("failed to mark listing processed", slog.String("url", listing.URL), slog.Any("error", err))
			}
		}
	}

	summary.Total = shops.Count()
	summary.Success = attempted == 0 || p.stats.snapshot().PagesScraped > 0
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	if !summary.Success {
		summary.Message = "no listing page could be fetched"
	}
	return summary, nil
}
