package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-etsy/config"
	"github.com/aluiziolira/go-scrape-etsy/models"
	"github.com/aluiziolira/go-scrape-etsy/pagination"
	"github.com/aluiziolira/go-scrape-etsy/storage"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://shop.test"

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Origin = testOrigin
	cfg.CategoryURL = testOrigin + "/c/templates"
	cfg.ProductsFile = filepath.Join(dir, "products.csv")
	cfg.ShopsFile = filepath.Join(dir, "shops.csv")
	cfg.MetricsFile = filepath.Join(dir, "metrics.csv")
	cfg.SummaryFile = filepath.Join(dir, "summaries.jsonl")
	cfg.MinDelay = 0
	cfg.MaxDelay = 0
	cfg.BackoffUnit = 0
	cfg.BlockCooldownMin = 0
	cfg.BlockCooldownMax = 0
	cfg.MaxRetries = 1
	cfg.Seed = 1
	return cfg
}

type response struct {
	status int
	body   string
}

type request struct {
	key     string
	url     string
	referer string
}

// fakeSite serves canned pages keyed by path, plus "?page=N" for paged
// requests. A key with several responses serves them in order and then
// keeps repeating the last one.
type fakeSite struct {
	mu        sync.Mutex
	pages     map[string][]response
	requests  []request
	onRequest func(key string)
}

func newFakeSite() *fakeSite {
	return &fakeSite{pages: make(map[string][]response)}
}

func (s *fakeSite) serve(key string, responses ...response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[key] = append(s.pages[key], responses...)
}

func (s *fakeSite) handle(req *http.Request) (*http.Response, error) {
	key := req.URL.Path
	if page := req.URL.Query().Get("page"); page != "" {
		key += "?page=" + page
	}

	s.mu.Lock()
	s.requests = append(s.requests, request{key: key, url: req.URL.String(), referer: req.Header.Get("Referer")})
	queued, ok := s.pages[key]
	var res response
	if ok {
		res = queued[0]
		if len(queued) > 1 {
			s.pages[key] = queued[1:]
		}
	}
	hook := s.onRequest
	s.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	if !ok {
		return httpmock.NewStringResponse(http.StatusNotFound, "not found"), nil
	}
	resp := httpmock.NewStringResponse(res.status, res.body)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	return resp, nil
}

func (s *fakeSite) Requests() []request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]request, len(s.requests))
	copy(out, s.requests)
	return out
}

func okPage(body string) response { return response{status: http.StatusOK, body: body} }

func categoryPage(ids []string, next string) string {
	var b strings.Builder
	b.WriteString("<html><body><div class=\"search-listings-group\">")
	for _, id := range ids {
		fmt.Fprintf(&b, `<div class="v2-listing-card" data-listing-id="%s">`+
			`<a class="listing-link" href="/listing/%s/item-%s"><h3>Item %s</h3></a>`+
			`<div class="n-listing-card__price"><span class="currency-value">10.00</span></div>`+
			`</div>`, id, id, id, id)
	}
	b.WriteString("</div><nav aria-label=\"Pagination\">")
	if next != "" {
		fmt.Fprintf(&b, `<a aria-label="Next page" href="%s">Next</a>`, next)
	}
	b.WriteString("</nav></body></html>")
	return b.String()
}

func newTestPipeline(t *testing.T, cfg *config.Config, site *fakeSite) *Pipeline {
	t.Helper()
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(site.handle)

	p, err := New(cfg,
		WithTransport(func() http.RoundTripper { return transport }),
		WithClock(func() time.Time { return testTime }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func seedProducts(t *testing.T, cfg *config.Config, records ...models.ProductRecord) {
	t.Helper()
	products, err := storage.OpenProducts(cfg.ProductsFile)
	require.NoError(t, err)
	res := products.Save(records)
	require.Equal(t, len(records), res.Saved)
}

func seedShops(t *testing.T, cfg *config.Config, records ...models.ShopRecord) {
	t.Helper()
	shops, err := storage.OpenShops(cfg.ShopsFile)
	require.NoError(t, err)
	res := shops.Save(records)
	require.Equal(t, len(records), res.Saved)
}

func TestRunProductsWalksAllPages(t *testing.T) {
	cfg := testConfig(t)
	page2, err := pagination.BuildPageURL(cfg.CategoryURL, 2)
	require.NoError(t, err)
	page3, err := pagination.BuildPageURL(cfg.CategoryURL, 3)
	require.NoError(t, err)

	site := newFakeSite()
	site.serve("/c/templates", okPage(categoryPage([]string{"1", "2"}, page2)))
	site.serve("/c/templates?page=2", okPage(categoryPage([]string{"3", "1"}, page3)))
	site.serve("/c/templates?page=3", okPage(categoryPage([]string{"4"}, "")))

	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunProducts(context.Background())
	require.NoError(t, err)

	require.True(t, summary.Success)
	require.False(t, summary.Interrupted)
	require.Equal(t, JobProducts, summary.Job)
	require.NotEmpty(t, summary.RunID)
	require.Equal(t, models.RunStatistics{
		PagesScraped: 3,
		ItemsFound:   5,
		ItemsSaved:   4,
		Duplicates:   1,
	}, summary.Stats)
	require.Equal(t, 4, summary.Total)

	reqs := site.Requests()
	require.Len(t, reqs, 3)
	require.Equal(t, cfg.Origin, reqs[0].referer)
	require.Equal(t, cfg.CategoryURL, reqs[1].referer)
	require.Equal(t, page2, reqs[2].referer)

	products, err := storage.OpenProducts(cfg.ProductsFile)
	require.NoError(t, err)
	last, err := products.LastPageScraped()
	require.NoError(t, err)
	require.Equal(t, 3, last)

	all, err := products.All()
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "3", all[2].ListingID)
	require.Equal(t, 2, all[2].PageNumber)
	require.Equal(t, 1, all[2].PositionOnPage)
	require.Equal(t, testOrigin+"/listing/3/item-3", all[2].URL)

	summaries, err := storage.ReadSummaries(cfg.SummaryFile)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, summary.RunID, summaries[0].RunID)
}

func TestRunProductsResumesAfterLastPage(t *testing.T) {
	cfg := testConfig(t)
	seedProducts(t, cfg, models.ProductRecord{
		ListingID:   "1",
		URL:         testOrigin + "/listing/1/item-1",
		PageNumber:  2,
		ExtractedAt: testTime,
	})

	site := newFakeSite()
	site.serve("/c/templates?page=3", okPage(categoryPage([]string{"7", "8"}, "")))

	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunProducts(context.Background())
	require.NoError(t, err)
	require.True(t, summary.Success)
	require.Equal(t, 2, summary.Stats.ItemsSaved)
	require.Equal(t, 3, summary.Total)

	reqs := site.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "/c/templates?page=3", reqs[0].key)
	require.Contains(t, reqs[0].url, "ref="+pagination.PageRef(3))
}

func TestRunProductsExplicitStartPageSkipsResume(t *testing.T) {
	cfg := testConfig(t)
	cfg.StartPage = 5
	cfg.MaxPages = 1
	seedProducts(t, cfg, models.ProductRecord{ListingID: "1", PageNumber: 9, ExtractedAt: testTime})

	site := newFakeSite()
	page6, err := pagination.BuildPageURL(cfg.CategoryURL, 6)
	require.NoError(t, err)
	site.serve("/c/templates?page=5", okPage(categoryPage([]string{"50"}, page6)))

	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunProducts(context.Background())
	require.NoError(t, err)
	require.True(t, summary.Success)
	require.Equal(t, 1, summary.Stats.PagesScraped)

	reqs := site.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "/c/templates?page=5", reqs[0].key)
}

func TestRunProductsRecoversFromBlock(t *testing.T) {
	cfg := testConfig(t)
	site := newFakeSite()
	site.serve("/c/templates",
		response{status: http.StatusForbidden, body: "access denied"},
		okPage(categoryPage([]string{"1"}, "")),
	)

	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunProducts(context.Background())
	require.NoError(t, err)
	require.True(t, summary.Success)
	require.Equal(t, 1, summary.Stats.Blocked)
	require.Zero(t, summary.Stats.Errors)
	require.Equal(t, 1, summary.Stats.ItemsSaved)
	require.Len(t, site.Requests(), 2)
}

func TestRunProductsStopsOnInvalidLatePage(t *testing.T) {
	cfg := testConfig(t)
	cfg.EarlyPageLimit = 0
	site := newFakeSite()
	site.serve("/c/templates", okPage("<html><body>We'll be right back</body></html>"))

	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunProducts(context.Background())
	require.NoError(t, err)
	require.False(t, summary.Success)
	require.Equal(t, 1, summary.Stats.Errors)
	require.Zero(t, summary.Stats.PagesScraped)
	require.Equal(t, []string{cfg.CategoryURL}, summary.FailedURLs)
	require.Len(t, site.Requests(), 1)
}

func TestRunProductsRetriesEarlyPageThenSkips(t *testing.T) {
	cfg := testConfig(t)
	cfg.PageAttempts = 2
	page2, err := pagination.BuildPageURL(cfg.CategoryURL, 2)
	require.NoError(t, err)

	site := newFakeSite()
	site.serve("/c/templates", okPage("<html><body>We'll be right back</body></html>"))
	site.serve("/c/templates?page=2", okPage(categoryPage([]string{"2"}, "")))

	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunProducts(context.Background())
	require.NoError(t, err)
	require.True(t, summary.Success)
	require.Equal(t, 2, summary.Stats.Errors)
	require.Equal(t, 1, summary.Stats.PagesScraped)

	reqs := site.Requests()
	require.Len(t, reqs, 3)
	require.Equal(t, "/c/templates", reqs[1].key)
	require.Equal(t, page2, reqs[2].url)
}

func TestRunProductsStopsWhenPagesRepeat(t *testing.T) {
	cfg := testConfig(t)
	page2, err := pagination.BuildPageURL(cfg.CategoryURL, 2)
	require.NoError(t, err)
	page3, err := pagination.BuildPageURL(cfg.CategoryURL, 3)
	require.NoError(t, err)

	site := newFakeSite()
	site.serve("/c/templates", okPage(categoryPage([]string{"1", "2"}, page2)))
	site.serve("/c/templates?page=2", okPage(categoryPage([]string{"2", "1"}, page3)))

	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunProducts(context.Background())
	require.NoError(t, err)
	require.True(t, summary.Success)
	require.Equal(t, 2, summary.Stats.PagesScraped)
	require.Equal(t, 2, summary.Stats.Duplicates)
	require.Len(t, site.Requests(), 2)
}

func TestRunProductsInterrupted(t *testing.T) {
	cfg := testConfig(t)
	page2, err := pagination.BuildPageURL(cfg.CategoryURL, 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	site := newFakeSite()
	site.serve("/c/templates", okPage(categoryPage([]string{"1", "2"}, page2)))
	site.serve("/c/templates?page=2", okPage(categoryPage([]string{"3"}, "")))
	site.onRequest = func(string) { cancel() }

	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunProducts(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, summary.Interrupted)
	require.False(t, summary.Success)
	require.Equal(t, 2, summary.Stats.ItemsSaved)
	require.Len(t, site.Requests(), 1)

	products, err := storage.OpenProducts(cfg.ProductsFile)
	require.NoError(t, err)
	require.Equal(t, 2, products.Count())
}

func TestRunShopsRequiresProducts(t *testing.T) {
	cfg := testConfig(t)
	site := newFakeSite()

	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunShops(context.Background())
	require.ErrorIs(t, err, ErrMissingInput)
	require.False(t, summary.Success)
	require.Contains(t, summary.Message, cfg.ProductsFile)
	require.Empty(t, site.Requests())
}

func TestRunMetricsRequiresShops(t *testing.T) {
	cfg := testConfig(t)
	site := newFakeSite()

	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunMetrics(context.Background())
	require.True(t, errors.Is(err, ErrMissingInput))
	require.False(t, summary.Success)
	require.Empty(t, site.Requests())
}

const shopLinkPage = `<html><body><div class="listing-page">` +
	`<a class="wt-text-link-no-underline" href="/shop/AlphaPaper?ref=shop-header">AlphaPaper</a>` +
	`</div></body></html>`

func TestRunShopsVisitsEachListingOnce(t *testing.T) {
	cfg := testConfig(t)
	seedProducts(t, cfg,
		models.ProductRecord{ListingID: "1", URL: testOrigin + "/listing/1/item", PageNumber: 1, ExtractedAt: testTime},
		models.ProductRecord{ListingID: "2", URL: testOrigin + "/listing/2/item", PageNumber: 1, ExtractedAt: testTime},
		models.ProductRecord{ListingID: "3", URL: testOrigin + "/listing/3/item", PageNumber: 1, ExtractedAt: testTime},
	)

	site := newFakeSite()
	site.serve("/listing/1/item", okPage(shopLinkPage))
	site.serve("/listing/2/item", okPage(`<html><body><div class="listing-page">No seller here</div></body></html>`))
	site.serve("/listing/3/item", okPage(shopLinkPage))

	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunShops(context.Background())
	require.NoError(t, err)
	require.True(t, summary.Success)
	require.Equal(t, models.RunStatistics{
		PagesScraped: 3,
		ItemsFound:   2,
		ItemsSaved:   1,
		Duplicates:   1,
	}, summary.Stats)
	require.Equal(t, 1, summary.Total)
	require.Len(t, site.Requests(), 3)
	for _, req := range site.Requests() {
		require.Equal(t, cfg.CategoryURL, req.referer)
	}

	shops, err := storage.OpenShops(cfg.ShopsFile)
	require.NoError(t, err)
	all, err := shops.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "AlphaPaper", all[0].ShopName)
	require.Equal(t, testOrigin+"/shop/AlphaPaper", all[0].ShopURL)
	require.Equal(t, testOrigin+"/listing/1/item", all[0].ListingURL)
	for _, id := range []string{"1", "2", "3"} {
		require.True(t, shops.IsProcessed(testOrigin+"/listing/"+id+"/item"), "listing %s", id)
	}

	again := newFakeSite()
	second := newTestPipeline(t, cfg, again)
	summary, err = second.RunShops(context.Background())
	require.NoError(t, err)
	require.True(t, summary.Success)
	require.Empty(t, again.Requests())
}

func TestRunShopsHonoursItemLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxItems = 1
	seedProducts(t, cfg,
		models.ProductRecord{ListingID: "1", URL: testOrigin + "/listing/1/item", PageNumber: 1, ExtractedAt: testTime},
		models.ProductRecord{ListingID: "2", URL: testOrigin + "/listing/2/item", PageNumber: 1, ExtractedAt: testTime},
	)

	site := newFakeSite()
	site.serve("/listing/1/item", okPage(shopLinkPage))

	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunShops(context.Background())
	require.NoError(t, err)
	require.True(t, summary.Success)
	require.Len(t, site.Requests(), 1)
}

func TestRunShopsFetchFailureLeavesListingPending(t *testing.T) {
	cfg := testConfig(t)
	seedProducts(t, cfg,
		models.ProductRecord{ListingID: "1", URL: testOrigin + "/listing/1/item", PageNumber: 1, ExtractedAt: testTime},
	)

	site := newFakeSite()
	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunShops(context.Background())
	require.NoError(t, err)
	require.False(t, summary.Success)
	require.Equal(t, 1, summary.Stats.Errors)

	shops, err := storage.OpenShops(cfg.ShopsFile)
	require.NoError(t, err)
	require.False(t, shops.IsProcessed(testOrigin+"/listing/1/item"))
}

func TestRunMetricsMarksShopProcessedOnce(t *testing.T) {
	cfg := testConfig(t)
	seedShops(t, cfg, models.ShopRecord{
		ShopName:    "AlphaPaper",
		ShopURL:     testOrigin + "/shop/AlphaPaper",
		ListingURL:  testOrigin + "/listing/1/item",
		ExtractedAt: testTime,
	})

	site := newFakeSite()
	site.serve("/shop/AlphaPaper", okPage(`<html><body><div class="shop-home"><span>1,234 Sales</span></div></body></html>`))

	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunMetrics(context.Background())
	require.NoError(t, err)
	require.True(t, summary.Success)
	require.Equal(t, 1, summary.Stats.ItemsSaved)
	require.Equal(t, 1, summary.Total)

	reqs := site.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, testOrigin+"/listing/1/item", reqs[0].referer)

	metrics, err := storage.OpenMetrics(cfg.MetricsFile)
	require.NoError(t, err)
	all, err := metrics.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].SalesCount)
	require.Equal(t, 1234, *all[0].SalesCount)
	require.Nil(t, all[0].AdmirersCount)
	require.False(t, all[0].AdmirersHasHref)
	require.True(t, metrics.IsProcessed("AlphaPaper"))

	again := newFakeSite()
	second := newTestPipeline(t, cfg, again)
	summary, err = second.RunMetrics(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Stats.ItemsSaved)
	require.Empty(t, again.Requests())
}

func TestRunMetricsBuildsMissingShopURL(t *testing.T) {
	cfg := testConfig(t)
	seedShops(t, cfg, models.ShopRecord{ShopName: "BetaInk", ExtractedAt: testTime})

	site := newFakeSite()
	site.serve("/shop/BetaInk", okPage(`<html><body><div class="shop">Nothing to see</div></body></html>`))

	p := newTestPipeline(t, cfg, site)
	summary, err := p.RunMetrics(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Stats.ItemsSaved)

	metrics, err := storage.OpenMetrics(cfg.MetricsFile)
	require.NoError(t, err)
	all, err := metrics.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, testOrigin+"/shop/BetaInk", all[0].ShopURL)
	require.Nil(t, all[0].SalesCount)
}

func TestRunAllChainsJobs(t *testing.T) {
	cfg := testConfig(t)
	site := newFakeSite()
	site.serve("/c/templates", okPage(categoryPage([]string{"1"}, "")))
	site.serve("/listing/1/item-1", okPage(shopLinkPage))
	site.serve("/shop/AlphaPaper", okPage(`<html><body><div class="shop-home">12 Sales <a href="/shop/AlphaPaper/favoriters">34 Admirers</a></div></body></html>`))

	p := newTestPipeline(t, cfg, site)
	summaries, err := p.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	for i, job := range []string{JobProducts, JobShops, JobMetrics} {
		require.Equal(t, job, summaries[i].Job)
		require.True(t, summaries[i].Success, job)
		require.Equal(t, 1, summaries[i].Total, job)
	}
	require.Equal(t, 1, p.Stats().ItemsSaved)

	metrics, err := storage.OpenMetrics(cfg.MetricsFile)
	require.NoError(t, err)
	all, err := metrics.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, 12, *all[0].SalesCount)
	require.Equal(t, 34, *all[0].AdmirersCount)
	require.True(t, all[0].AdmirersHasHref)
	require.Equal(t, testOrigin+"/shop/AlphaPaper/favoriters", all[0].AdmirersURL)

	written, err := storage.ReadSummaries(cfg.SummaryFile)
	require.NoError(t, err)
	require.Len(t, written, 3)
}

func TestRunAllStopsAfterFailedJob(t *testing.T) {
	cfg := testConfig(t)
	cfg.EarlyPageLimit = 0
	site := newFakeSite()

	p := newTestPipeline(t, cfg, site)
	summaries, err := p.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.False(t, summaries[0].Success)
}
