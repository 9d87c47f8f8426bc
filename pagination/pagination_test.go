package pagination

import (
	"net/url"
	"testing"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver("https://www.etsy.com", 48)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r
}

func TestResolveNavigationLandmark(t *testing.T) {
	html := `<html><body>
<nav aria-label="Pagination of listings">
  <a href="/c/templates?page=1">1</a>
  <span aria-current="page">2</span>
  <a href="/c/templates?page=3">3</a>
  <a href="/c/templates?page=250">250</a>
  <a aria-label="Next page" href="/c/templates?page=3&ref=pagination">Next</a>
</nav>
</body></html>`

	state := newTestResolver(t).Resolve([]byte(html))
	if state.CurrentPage != 2 {
		t.Fatalf("current page = %d, want 2", state.CurrentPage)
	}
	if state.TotalPages != 250 {
		t.Fatalf("total pages = %d, want 250", state.TotalPages)
	}
	if !state.HasNext {
		t.Fatalf("expected has_next")
	}
	if state.NextPageURL != "https://www.etsy.com/c/templates?page=3&ref=pagination" {
		t.Fatalf("next url = %q", state.NextPageURL)
	}
}

func TestResolveWithoutNextControl(t *testing.T) {
	html := `<nav class="wt-pagination">
  <a href="?page=1">1</a>
  <span class="wt-pagination__item--current">2</span>
</nav>`

	state := newTestResolver(t).Resolve([]byte(html))
	if state.HasNext {
		t.Fatalf("absent next control must mean no next page")
	}
	if state.NextPageURL != "" {
		t.Fatalf("next url = %q, want empty", state.NextPageURL)
	}
}

func TestResolveDisabledNextControl(t *testing.T) {
	tests := map[string]string{
		"aria-disabled": `<a aria-label="Next page" aria-disabled="true" href="?page=4">Next</a>`,
		"attribute":     `<a aria-label="Next page" disabled href="?page=4">Next</a>`,
		"class":         `<a class="wt-pagination__item--next wt-is-disabled" href="?page=4">Next</a>`,
	}
	for name, html := range tests {
		t.Run(name, func(t *testing.T) {
			if newTestResolver(t).Resolve([]byte(html)).HasNext {
				t.Fatalf("disabled next control should not count")
			}
		})
	}
}

func TestResolveFallsBackToPageLinks(t *testing.T) {
	html := `<div>
  <a href="/c/templates?ref=x&page=7">seven</a>
  <a href="/c/templates?page=12">twelve</a>
  <a href="/listing/1">listing</a>
</div>`

	state := newTestResolver(t).Resolve([]byte(html))
	if state.TotalPages != 12 {
		t.Fatalf("total pages = %d, want 12", state.TotalPages)
	}
	if state.CurrentPage != 0 {
		t.Fatalf("current page = %d, want 0 without a landmark", state.CurrentPage)
	}
}

func TestResolveResultCountEstimate(t *testing.T) {
	html := `<p>Showing 1-48 of 1,000 results</p>`

	state := newTestResolver(t).Resolve([]byte(html))
	if state.TotalResults != 1000 {
		t.Fatalf("total results = %d, want 1000", state.TotalResults)
	}
	if state.TotalPages != 21 {
		t.Fatalf("total pages = %d, want ceil(1000/48)=21", state.TotalPages)
	}
	if state.HasNext {
		t.Fatalf("result count alone must not imply a next page")
	}
}

func TestResolveIgnoresScriptCounts(t *testing.T) {
	r := newTestResolver(t)
	html := `<html><head><script>{"total":"4800 items"}</script><style>.x:after{content:"900 results"}</style></head>
<body><div class="v2-listing-card">card</div></body></html>`

	state := r.Resolve([]byte(html))
	if state.TotalResults != 0 || state.TotalPages != 0 {
		t.Fatalf("state = %+v, want no estimate from script or style text", state)
	}

	state = r.Resolve([]byte(`<html><body><script>var n = "4800 items";</script><p>1,440 results</p></body></html>`))
	if state.TotalResults != 1440 {
		t.Fatalf("results = %d, want 1440", state.TotalResults)
	}
}

func TestResolveEmptyDocument(t *testing.T) {
	state := newTestResolver(t).Resolve(nil)
	if state != (State{}) {
		t.Fatalf("state = %+v, want zero", state)
	}
}

func TestBuildPageURL(t *testing.T) {
	base := "https://www.etsy.com/c/templates?explicit=1&ref=catcard-1"

	first, err := BuildPageURL(base, 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	q := mustQuery(t, first)
	if q.Get("page") != "1" || q.Get("ref") != "catcard-1" {
		t.Fatalf("page 1 query = %v, want page=1 and original ref", q)
	}

	third, err := BuildPageURL(base, 3)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	q = mustQuery(t, third)
	if q.Get("page") != "3" || q.Get("ref") != "pagination_3" || q.Get("explicit") != "1" {
		t.Fatalf("page 3 query = %v", q)
	}

	again, _ := BuildPageURL(base, 3)
	if again != third {
		t.Fatalf("build is not deterministic: %q vs %q", third, again)
	}
}

func TestBuildPageURLRoundTrip(t *testing.T) {
	base := "https://www.etsy.com/c/templates?explicit=1"
	three, err := BuildPageURL(base, 3)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	five, err := BuildPageURL(three, 5)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	direct, _ := BuildPageURL(base, 5)

	q := mustQuery(t, five)
	if got := q["page"]; len(got) != 1 || got[0] != "5" {
		t.Fatalf("page params = %v, want [5]", got)
	}
	if five != direct {
		t.Fatalf("rebuild %q differs from direct build %q", five, direct)
	}
}

func TestBuildPageURLBackToFirstPageDropsPaginationRef(t *testing.T) {
	base := "https://www.etsy.com/c/templates?explicit=1"
	three, err := BuildPageURL(base, 3)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	first, err := BuildPageURL(three, 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	q := mustQuery(t, first)
	if _, ok := q["ref"]; ok {
		t.Fatalf("page 1 query = %v, want no ref", q)
	}
	if q.Get("page") != "1" || q.Get("explicit") != "1" {
		t.Fatalf("page 1 query = %v", q)
	}
}

func TestBuildPageURLRejectsBadInput(t *testing.T) {
	if _, err := BuildPageURL("https://www.etsy.com/c", 0); err == nil {
		t.Fatalf("expected error for page 0")
	}
	if _, err := BuildPageURL("://bad", 2); err == nil {
		t.Fatalf("expected error for unparsable base")
	}
}

func mustQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u.Query()
}
