package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-etsy/models"
	"github.com/aluiziolira/go-scrape-etsy/storage"
)

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no job", args: nil},
		{name: "unknown job", args: []string{"crawl"}},
		{name: "two jobs", args: []string{"products", "shops"}},
		{name: "bad flag", args: []string{"-max-pages", "many", "products"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != exitUsage {
				t.Fatalf("exit code = %d, want %d", code, exitUsage)
			}
		})
	}
}

func TestRunInvalidConfigIsUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-proxy", "not a proxy", "products"}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("exit code = %d, want %d", code, exitUsage)
	}
}

func TestRunClearRemovesDatasets(t *testing.T) {
	dir := t.TempDir()
	productsPath := filepath.Join(dir, "products.csv")
	shopsPath := filepath.Join(dir, "shops.csv")
	metricsPath := filepath.Join(dir, "metrics.csv")

	products, err := storage.OpenProducts(productsPath)
	if err != nil {
		t.Fatalf("open products: %v", err)
	}
	products.Save([]models.ProductRecord{{ListingID: "1", ExtractedAt: time.Now()}})
	shops, err := storage.OpenShops(shopsPath)
	if err != nil {
		t.Fatalf("open shops: %v", err)
	}
	if err := shops.MarkProcessed("https://www.etsy.com/listing/1/item"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"-products", productsPath, "-shops", shopsPath, "-metrics", metricsPath, "clear"}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit code = %d, want %d", code, exitOK)
	}
	for _, path := range []string{productsPath, shopsPath + storage.LedgerSuffix} {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s should be removed, stat err = %v", path, err)
		}
	}
}

func TestPrintSummaryStatus(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, models.RunSummary{Job: "shops", Interrupted: true})
	if !bytes.Contains(buf.Bytes(), []byte("Job shops interrupted")) {
		t.Fatalf("summary output = %q", buf.String())
	}

	buf.Reset()
	printSummary(&buf, models.RunSummary{Job: "metrics", Success: true, Message: "done"})
	if !bytes.Contains(buf.Bytes(), []byte("Job metrics succeeded")) || !bytes.Contains(buf.Bytes(), []byte("done")) {
		t.Fatalf("summary output = %q", buf.String())
	}
}
