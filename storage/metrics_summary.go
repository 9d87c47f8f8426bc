package storage

import "github.com/aluiziolira/go-scrape-etsy/models"

// MetricsSummary aggregates a shop metrics dataset.
type MetricsSummary struct {
	Shops          int
	WithSales      int
	TotalSales     int
	WithAdmirers   int
	TotalAdmirers  int
	LinkedSales    int
	LinkedAdmirers int
}

// SummarizeMetrics totals the figures of records. Missing figures count
// toward Shops only.
func SummarizeMetrics(records []models.ShopMetricsRecord) MetricsSummary {
	var s MetricsSummary
	for _, r := range records {
		s.Shops++
		if r.SalesCount != nil {
			s.WithSales++
			s.TotalSales += *r.SalesCount
		}
		if r.AdmirersCount != nil {
			s.WithAdmirers++
			s.TotalAdmirers += *r.AdmirersCount
		}
		if r.SalesHasHref {
			s.LinkedSales++
		}
		if r.AdmirersHasHref {
			s.LinkedAdmirers++
		}
	}
	return s
}
