package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-scrape-etsy/config"
	"github.com/aluiziolira/go-scrape-etsy/models"
	"github.com/aluiziolira/go-scrape-etsy/storage"
)

// RunMetrics reads the sales and admirers figures of every saved shop. A
// shop is saved, and so never revisited, even when its page exposes neither
// figure.
func (p *Pipeline) RunMetrics(ctx context.Context) (summary models.RunSummary, err error) {
	summary = p.begin(JobMetrics)
	summary.Dataset = p.cfg.MetricsFile
	defer p.finish(ctx, &summary)

	shops, err := storage.OpenShops(p.cfg.ShopsFile)
	if err != nil {
		summary.Message = err.Error()
		return summary, err
	}
	if shops.Count() == 0 {
		err := fmt.Errorf("%w: no shops in %s, run the shops job first", ErrMissingInput, p.cfg.ShopsFile)
		summary.Message = err.Error()
		return summary, err
	}
	all, err := shops.All()
	if err != nil {
		summary.Message = err.Error()
		return summary, err
	}
	metrics, err := storage.OpenMetrics(p.cfg.MetricsFile)
	if err != nil {
		summary.Message = err.Error()
		return summary, err
	}

	attempted := 0
	for _, shop := range all {
		if ctx.Err() != nil {
			break
		}
		if p.reachedLimit(attempted) {
			slog.Info("reached item limit", slog.Int("max_items", p.cfg.MaxItems))
			break
		}
		if metrics.IsProcessed(shop.ShopName) {
			continue
		}
		attempted++

		target := p.shopURL(shop)
		fetched, err := p.fetchPage(ctx, target, shop.ListingURL, config.RoleShop)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.stats.addFailure(target, err)
			slog.Error("failed to fetch shop", slog.String("shop", shop.ShopName), slog.Any("error", err))
			continue
		}
		p.stats.addPage(1)

		record := p.extractor.ExtractShopMetrics(fetched.Body)
		record.ShopName = shop.ShopName
		record.ShopURL = target
		record.ExtractedAt = p.now()
		p.recordSave(metrics.Name(), metrics.Save([]models.ShopMetricsRecord{record}))
	}

	summary.Total = metrics.Count()
	summary.Success = attempted == 0 || p.stats.snapshot().PagesScraped > 0
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	if !summary.Success {
		summary.Message = "no shop page could be fetched"
	}
	return summary, nil
}

// shopURL returns the stored shop URL, or the canonical one for name.
func (p *Pipeline) shopURL(shop models.ShopRecord) string {
	if shop.ShopURL != "" {
		return shop.ShopURL
	}
	return p.cfg.Origin + "/shop/" + shop.ShopName
}
