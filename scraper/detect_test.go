package scraper

import (
	"net/http"
	"testing"

	"github.com/aluiziolira/go-scrape-etsy/config"
)

func TestDetectorIsBlocked(t *testing.T) {
	d := NewDetector(config.DefaultConfig())

	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   bool
	}{
		{name: "forbidden", status: http.StatusForbidden, body: "<html></html>", want: true},
		{name: "too many requests", status: http.StatusTooManyRequests, want: true},
		{name: "service unavailable", status: http.StatusServiceUnavailable, want: true},
		{name: "datadome header", status: http.StatusOK, header: http.Header{"X-Datadome": {"protected"}}, want: true},
		{name: "marker in header value", status: http.StatusOK, header: http.Header{"Set-Cookie": {"datadome-captcha=1"}}, want: true},
		{name: "captcha body", status: http.StatusOK, body: "<div>Please solve the CAPTCHA</div>", want: true},
		{name: "clean page", status: http.StatusOK, header: http.Header{"Content-Type": {"text/html"}}, body: "<div>listing</div>", want: false},
		{name: "not found is not a block", status: http.StatusNotFound, body: "missing", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.IsBlocked(tt.status, tt.header, []byte(tt.body)); got != tt.want {
				t.Fatalf("IsBlocked = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectorValidates(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ExpectedContent[config.RoleShop] = []string{"Shop", "sales"}
	d := NewDetector(cfg)

	if !d.Validates(config.RoleShop, []byte("<h1>SHOP</h1><span>10 Sales</span>")) {
		t.Fatalf("markers should match case-insensitively")
	}
	if d.Validates(config.RoleShop, []byte("<h1>shop</h1>")) {
		t.Fatalf("page missing a marker should not validate")
	}
	if !d.Validates("unknown_role", []byte("")) {
		t.Fatalf("roles without markers should always validate")
	}
}
