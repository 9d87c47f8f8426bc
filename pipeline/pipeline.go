// Package pipeline drives the three extraction jobs: category pages to
// products, listing pages to shops, and shop pages to metrics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aluiziolira/go-scrape-etsy/config"
	"github.com/aluiziolira/go-scrape-etsy/models"
	"github.com/aluiziolira/go-scrape-etsy/pagination"
	"github.com/aluiziolira/go-scrape-etsy/parser"
	"github.com/aluiziolira/go-scrape-etsy/scraper"
	"github.com/aluiziolira/go-scrape-etsy/storage"
	"github.com/google/uuid"
)

// Job names.
const (
	JobProducts = "products"
	JobShops    = "shops"
	JobMetrics  = "metrics"
)

// ErrMissingInput is returned when a job's input dataset is absent or empty.
var ErrMissingInput = errors.New("missing input dataset")

// Option customises a Pipeline.
type Option func(*options)

type options struct {
	session []scraper.Option
	metrics *scraper.Metrics
	now     func() time.Time
}

// WithTransport sets the transport factory used for every HTTP session.
func WithTransport(factory func() http.RoundTripper) Option {
	return func(o *options) {
		o.session = append(o.session, scraper.WithTransport(factory))
	}
}

// WithMetrics records request and dataset metrics on m.
func WithMetrics(m *scraper.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock replaces time.Now for extraction dates and summaries.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Pipeline runs one job at a time through a single rate-limited session.
type Pipeline struct {
	cfg       *config.Config
	session   *scraper.SessionManager
	limiter   *scraper.RateLimiter
	detector  *scraper.Detector
	extractor *parser.Extractor
	resolver  *pagination.Resolver
	metrics   *scraper.Metrics
	summaries *storage.SummaryWriter
	now       func() time.Time

	stats stats
}

// New wires the components for cfg.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	session, err := scraper.NewSessionManager(cfg, append(o.session, scraper.WithMetrics(o.metrics))...)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	extractor, err := parser.NewExtractor(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("extractor: %w", err)
	}
	resolver, err := pagination.NewResolver(cfg.Origin, cfg.ItemsPerPage)
	if err != nil {
		return nil, fmt.Errorf("pagination: %w", err)
	}

	p := &Pipeline{
		cfg:       cfg,
		session:   session,
		limiter:   scraper.NewRateLimiter(cfg.MinDelay, cfg.MaxDelay, cfg.Seed),
		detector:  scraper.NewDetector(cfg),
		extractor: extractor,
		resolver:  resolver,
		metrics:   o.metrics,
		now:       o.now,
	}
	if cfg.SummaryFile != "" {
		p.summaries = storage.NewSummaryWriter(cfg.SummaryFile)
	}
	p.stats.reset()
	return p, nil
}

// Stats returns the counters of the running or last finished job.
func (p *Pipeline) Stats() models.RunStatistics {
	return p.stats.snapshot()
}

// Close releases the HTTP session. It never fails.
func (p *Pipeline) Close() error {
	return p.session.Close()
}

// RunAll runs products, shops and metrics in order, stopping at the first
// job that fails or is interrupted.
func (p *Pipeline) RunAll(ctx context.Context) ([]models.RunSummary, error) {
	jobs := []func(context.Context) (models.RunSummary, error){p.RunProducts, p.RunShops, p.RunMetrics}
	var summaries []models.RunSummary
	for _, run := range jobs {
		summary, err := run(ctx)
		summaries = append(summaries, summary)
		if err != nil {
			return summaries, err
		}
		if !summary.Success {
			slog.Warn("stopping pipeline after failed job", slog.String("job", summary.Job))
			return summaries, nil
		}
	}
	return summaries, nil
}

// fetchPage fetches url after the rate limiter allows it and checks the
// response for blocks, bad statuses and missing content. A detected block
// triggers rotation and cooldown before ErrBlocked is returned.
func (p *Pipeline) fetchPage(ctx context.Context, url, referer, role string) (*scraper.Page, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	page, err := p.session.Fetch(ctx, url, referer)
	if err != nil {
		return nil, err
	}

	if p.detector.IsBlocked(page.StatusCode, page.Header, page.Body) {
		p.stats.addBlocked()
		slog.Warn("blocked by bot detection", slog.String("url", url), slog.Int("status", page.StatusCode))
		if err := p.session.HandleBlockDetection(ctx); err != nil {
			return nil, err
		}
		return nil, scraper.ErrBlocked{URL: url, Status: page.StatusCode}
	}
	if page.StatusCode != http.StatusOK {
		return nil, scraper.ErrStatus{URL: url, Status: page.StatusCode}
	}
	if !p.detector.Validates(role, page.Body) {
		slog.Warn("page failed validation", slog.String("url", url), slog.String("role", role))
		return nil, scraper.ErrInvalidPage{URL: url, Role: role}
	}
	return page, nil
}

func (p *Pipeline) begin(job string) models.RunSummary {
	p.stats.reset()
	slog.Info("starting job", slog.String("job", job))
	return models.RunSummary{
		RunID:     uuid.NewString(),
		Job:       job,
		StartTime: p.now(),
	}
}

// finish stamps the summary, logs it and appends it to the summary file.
func (p *Pipeline) finish(ctx context.Context, summary *models.RunSummary) {
	summary.EndTime = p.now()
	summary.Stats = p.stats.snapshot()
	if ctx.Err() != nil {
		summary.Interrupted = true
		summary.Success = false
		if summary.Message == "" {
			summary.Message = "interrupted"
		}
	}
	failed, byType := p.stats.failures()
	summary.FailedURLs = failed

	attrs := []any{
		slog.String("job", summary.Job),
		slog.String("run_id", summary.RunID),
		slog.Bool("success", summary.Success),
		slog.Bool("interrupted", summary.Interrupted),
		slog.Int("pages", summary.Stats.PagesScraped),
		slog.Int("found", summary.Stats.ItemsFound),
		slog.Int("saved", summary.Stats.ItemsSaved),
		slog.Int("duplicates", summary.Stats.Duplicates),
		slog.Int("errors", summary.Stats.Errors),
		slog.Int("blocked", summary.Stats.Blocked),
		slog.Int("total", summary.Total),
		slog.Duration("duration", summary.Duration()),
	}
	if len(byType) > 0 {
		attrs = append(attrs, slog.Any("errors_by_type", byType))
	}
	slog.Info("job finished", attrs...)

	if p.summaries == nil {
		return
	}
	if err := p.summaries.Append(*summary); err != nil {
		slog.Error("failed to write run summary", slog.Any("error", err))
	}
}

func (p *Pipeline) recordSave(dataset string, saved models.SaveStats) {
	p.stats.addSave(saved)
	p.metrics.RecordSaved(dataset, saved.Saved)
}

// reachedLimit reports whether n items hit the configured item bound.
func (p *Pipeline) reachedLimit(n int) bool {
	return p.cfg.MaxItems > 0 && n >= p.cfg.MaxItems
}
