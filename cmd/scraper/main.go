package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-etsy/config"
	"github.com/aluiziolira/go-scrape-etsy/models"
	"github.com/aluiziolira/go-scrape-etsy/pipeline"
	"github.com/aluiziolira/go-scrape-etsy/scraper"
	"github.com/aluiziolira/go-scrape-etsy/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exit statuses.
const (
	exitOK          = 0
	exitFailed      = 1
	exitUsage       = 2
	exitInterrupted = 130
)

const (
	jobAll   = "all"
	jobClear = "clear"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type flags struct {
	configPath  string
	verbose     bool
	maxPages    int
	startPage   int
	maxItems    int
	proxy       string
	metricsAddr string
	products    string
	shops       string
	metrics     string
	clear       bool
}

func run(args []string, stdout, stderr io.Writer) int {
	var f flags
	fs := flag.NewFlagSet("scraper", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "YAML config file (SCRAPER_* environment variables when empty)")
	fs.BoolVar(&f.verbose, "v", false, "Enable verbose logging")
	fs.IntVar(&f.maxPages, "max-pages", 0, "Maximum category pages to scrape (0 = unbounded)")
	fs.IntVar(&f.startPage, "start-page", 0, "Category page to start from (0 or 1 resumes after the last saved page)")
	fs.IntVar(&f.maxItems, "max-items", 0, "Maximum listings or shops to visit (0 = unbounded)")
	fs.StringVar(&f.proxy, "proxy", "", "HTTP proxy URL")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	fs.StringVar(&f.products, "products", "", "Products dataset path")
	fs.StringVar(&f.shops, "shops", "", "Shops dataset path")
	fs.StringVar(&f.metrics, "metrics", "", "Shop metrics dataset path")
	fs.BoolVar(&f.clear, "clear", false, "Clear the products dataset before the products job")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: scraper [flags] <products|shops|metrics|all|clear>\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}
	job := fs.Arg(0)
	switch job {
	case pipeline.JobProducts, pipeline.JobShops, pipeline.JobMetrics, jobAll, jobClear:
	default:
		fmt.Fprintf(stderr, "unknown job %q\n", job)
		fs.Usage()
		return exitUsage
	}

	logger, level := newLogger(stdout)
	slog.SetDefault(logger)

	cfg, err := config.Load(f.configPath)
	if err != nil {
		slog.Error("loading configuration", slog.Any("error", err))
		return exitFailed
	}
	applyFlags(fs, &f, cfg)
	if cfg.Verbose {
		level.Set(slog.LevelDebug)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return exitUsage
	}

	if job == jobClear {
		if err := clearDatasets(cfg); err != nil {
			slog.Error("clearing datasets", slog.Any("error", err))
			return exitFailed
		}
		return exitOK
	}
	if f.clear && (job == pipeline.JobProducts || job == jobAll) {
		if err := clearProducts(cfg); err != nil {
			slog.Error("clearing products", slog.Any("error", err))
			return exitFailed
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing the current item")
	}()

	metrics := scraper.NewMetrics()
	metricsServer := startMetricsServer(cfg.MetricsAddr, metrics)
	defer shutdownMetricsServer(metricsServer)

	p, err := pipeline.New(cfg, pipeline.WithMetrics(metrics))
	if err != nil {
		slog.Error("initialising pipeline", slog.Any("error", err))
		return exitFailed
	}
	defer p.Close()

	slog.Info("starting scrape",
		slog.String("job", job),
		slog.String("origin", cfg.Origin),
		slog.Int("max_pages", cfg.MaxPages),
		slog.Int("max_items", cfg.MaxItems),
	)

	summaries, err := runJob(ctx, p, job)
	for _, s := range summaries {
		printSummary(stdout, s)
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	if err != nil {
		slog.Error("job failed", slog.String("job", job), slog.Any("error", err))
		return exitFailed
	}
	for _, s := range summaries {
		if !s.Success {
			return exitFailed
		}
	}
	if job == pipeline.JobMetrics || job == jobAll {
		printMetricsSummary(stdout, cfg.MetricsFile)
	}
	return exitOK
}

func applyFlags(fs *flag.FlagSet, f *flags, cfg *config.Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "v":
			cfg.Verbose = f.verbose
		case "max-pages":
			cfg.MaxPages = f.maxPages
		case "start-page":
			cfg.StartPage = f.startPage
		case "max-items":
			cfg.MaxItems = f.maxItems
		case "proxy":
			cfg.Proxy = f.proxy
		case "metrics-addr":
			cfg.MetricsAddr = f.metricsAddr
		case "products":
			cfg.ProductsFile = f.products
		case "shops":
			cfg.ShopsFile = f.shops
		case "metrics":
			cfg.MetricsFile = f.metrics
		}
	})
}

func runJob(ctx context.Context, p *pipeline.Pipeline, job string) ([]models.RunSummary, error) {
	var (
		summary models.RunSummary
		err     error
	)
	switch job {
	case pipeline.JobProducts:
		summary, err = p.RunProducts(ctx)
	case pipeline.JobShops:
		summary, err = p.RunShops(ctx)
	case pipeline.JobMetrics:
		summary, err = p.RunMetrics(ctx)
	default:
		return p.RunAll(ctx)
	}
	return []models.RunSummary{summary}, err
}

func clearProducts(cfg *config.Config) error {
	products, err := storage.OpenProducts(cfg.ProductsFile)
	if err != nil {
		return err
	}
	return products.Clear()
}

func clearDatasets(cfg *config.Config) error {
	if err := clearProducts(cfg); err != nil {
		return err
	}
	shops, err := storage.OpenShops(cfg.ShopsFile)
	if err != nil {
		return err
	}
	if err := shops.Clear(); err != nil {
		return err
	}
	metrics, err := storage.OpenMetrics(cfg.MetricsFile)
	if err != nil {
		return err
	}
	return metrics.Clear()
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func shutdownMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func printSummary(w io.Writer, s models.RunSummary) {
	separator := "--------------------------------------------------"
	status := "succeeded"
	switch {
	case s.Interrupted:
		status = "interrupted"
	case !s.Success:
		status = "failed"
	}

	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintf(w, "Job %s %s\n", s.Job, status)
	fmt.Fprintf(w, "  Run ID:        %s\n", s.RunID)
	fmt.Fprintf(w, "  Pages:         %d\n", s.Stats.PagesScraped)
	fmt.Fprintf(w, "  Found:         %d\n", s.Stats.ItemsFound)
	fmt.Fprintf(w, "  Saved:         %d\n", s.Stats.ItemsSaved)
	fmt.Fprintf(w, "  Duplicates:    %d\n", s.Stats.Duplicates)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Stats.Errors)
	fmt.Fprintf(w, "  Blocked:       %d\n", s.Stats.Blocked)
	fmt.Fprintf(w, "  Failed URLs:   %d\n", len(s.FailedURLs))
	fmt.Fprintf(w, "  Dataset total: %d\n", s.Total)
	fmt.Fprintf(w, "  Duration:      %v\n", s.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  Output file:   %s\n", s.Dataset)
	if s.Message != "" {
		fmt.Fprintf(w, "  Message:       %s\n", s.Message)
	}
	fmt.Fprintln(w, separator)
}

func printMetricsSummary(w io.Writer, path string) {
	metrics, err := storage.OpenMetrics(path)
	if err != nil {
		slog.Error("opening metrics dataset", slog.Any("error", err))
		return
	}
	records, err := metrics.All()
	if err != nil {
		slog.Error("reading metrics dataset", slog.Any("error", err))
		return
	}
	sum := storage.SummarizeMetrics(records)
	fmt.Fprintln(w, "Shop metrics")
	fmt.Fprintf(w, "  Shops:         %d\n", sum.Shops)
	fmt.Fprintf(w, "  With sales:    %d (total %d, linked %d)\n", sum.WithSales, sum.TotalSales, sum.LinkedSales)
	fmt.Fprintf(w, "  With admirers: %d (total %d, linked %d)\n", sum.WithAdmirers, sum.TotalAdmirers, sum.LinkedAdmirers)
}

func newLogger(w io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	level.Set(slog.LevelInfo)

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
