package parser

import (
	"math"
	"testing"
)

func TestExtractProductsSaleCard(t *testing.T) {
	e := newTestExtractor(t)
	html := `<html><body>
<div class="v2-listing-card" data-listing-id="12345">
  <a href="/listing/12345/budget-planner?ref=search_grid-1"><h3> Budget   Planner </h3></a>
  <div class="n-listing-card__price">
    <span class="currency-value">19.99</span>
    <span class="wt-text-strikethrough"><span class="currency-value">29.99</span></span>
    <span class="wt-text-grey">(33% off)</span>
  </div>
</div>
</body></html>`

	products := e.ExtractProducts([]byte(html))
	if len(products) != 1 {
		t.Fatalf("products = %d, want 1", len(products))
	}
	p := products[0]
	if p.ListingID != "12345" {
		t.Fatalf("listing id = %q", p.ListingID)
	}
	if p.URL != "https://www.etsy.com/listing/12345/budget-planner" {
		t.Fatalf("url = %q", p.URL)
	}
	if p.Title != "Budget Planner" {
		t.Fatalf("title = %q", p.Title)
	}
	if !p.IsOnSale {
		t.Fatalf("expected is_on_sale")
	}
	if p.SalePrice == nil || math.Abs(*p.SalePrice-19.99) > 1e-9 {
		t.Fatalf("sale price = %v, want 19.99", p.SalePrice)
	}
	if p.OriginalPrice == nil || math.Abs(*p.OriginalPrice-29.99) > 1e-9 {
		t.Fatalf("original price = %v, want 29.99", p.OriginalPrice)
	}
	if p.DiscountPercentage == nil || *p.DiscountPercentage != 33 {
		t.Fatalf("discount = %v, want 33", p.DiscountPercentage)
	}
}

func TestExtractProductsFullCard(t *testing.T) {
	e := newTestExtractor(t)
	html := `
<div class="v2-listing-card">
  <a class="listing-link" href="https://www.etsy.com/listing/987/monthly-budget" title="Monthly Budget">
    <span>Monthly Budget</span>
  </a>
  <p data-seller-name-container="">Ad by Etsy seller</p>
  <a href="/shop/PaperNest?ref=shop-header">PaperNest</a>
  <div class="lc-price"><span class="currency-value">4.50</span></div>
  <span class="wt-icon--star-seller"></span>
  <div aria-label="4.8 out of 5 stars"></div>
  <span class="wt-text-gray">(7,301)</span>
  <p>Digital Download</p>
  <span>Bestseller</span>
  <span>FREE shipping</span>
</div>`

	products := e.ExtractProducts([]byte(html))
	if len(products) != 1 {
		t.Fatalf("products = %d, want 1", len(products))
	}
	p := products[0]

	if p.ListingID != "987" {
		t.Fatalf("listing id from url = %q, want 987", p.ListingID)
	}
	if p.Title != "Monthly Budget" {
		t.Fatalf("title = %q", p.Title)
	}
	if p.ShopName != "PaperNest" || p.ShopURL != "https://www.etsy.com/shop/PaperNest" {
		t.Fatalf("shop = %q %q", p.ShopName, p.ShopURL)
	}
	if p.IsOnSale {
		t.Fatalf("card without strikethrough should not be on sale")
	}
	if p.SalePrice == nil || p.OriginalPrice == nil || *p.OriginalPrice != *p.SalePrice {
		t.Fatalf("original price should equal sale price, got %v / %v", p.SalePrice, p.OriginalPrice)
	}
	if p.DiscountPercentage != nil {
		t.Fatalf("discount = %d, want nil", *p.DiscountPercentage)
	}
	if p.Rating == nil || *p.Rating != 4.8 {
		t.Fatalf("rating = %v, want 4.8", p.Rating)
	}
	if p.ReviewCount == nil || *p.ReviewCount != 7301 {
		t.Fatalf("review count = %v, want 7301", p.ReviewCount)
	}

	flags := map[string]bool{
		"advertisement":    p.IsAdvertisement,
		"digital download": p.IsDigitalDownload,
		"bestseller":       p.IsBestseller,
		"star seller":      p.IsStarSeller,
		"free shipping":    p.FreeShipping,
	}
	for name, set := range flags {
		if !set {
			t.Fatalf("expected %s flag", name)
		}
	}
}

func TestExtractProductsCollapsesDuplicatesAndDropsMissingIDs(t *testing.T) {
	e := newTestExtractor(t)
	html := `
<div data-listing-id="1"><a href="/listing/1/first">First</a></div>
<div data-listing-id="2"><a href="/listing/2/second">Second</a></div>
<div data-listing-id="1"><a href="/listing/1/again">Again</a></div>
<div data-listing-id=""><a href="/about">No id</a></div>`

	products := e.ExtractProducts([]byte(html))
	if len(products) != 2 {
		t.Fatalf("products = %d, want 2", len(products))
	}
	if products[0].ListingID != "1" || products[0].Title != "First" {
		t.Fatalf("first = %+v, want first occurrence of id 1", products[0])
	}
	if products[1].ListingID != "2" {
		t.Fatalf("second id = %q, want 2", products[1].ListingID)
	}
}

func TestExtractProductsLinkFallback(t *testing.T) {
	e := newTestExtractor(t)
	html := `
<ul>
  <li><a href="/listing/111/planner?ref=x" title="Planner">ignored text</a></li>
  <li><a href="/listing/222/tracker">Tracker</a></li>
  <li><a href="/listing/111/planner">Planner again</a></li>
  <li><a href="/shop/Nope">Shop</a></li>
</ul>`

	products := e.ExtractProducts([]byte(html))
	if len(products) != 2 {
		t.Fatalf("products = %d, want 2", len(products))
	}
	if products[0].ListingID != "111" || products[0].Title != "Planner" {
		t.Fatalf("first = %+v", products[0])
	}
	if products[0].URL != "https://www.etsy.com/listing/111/planner" {
		t.Fatalf("url = %q", products[0].URL)
	}
	if products[1].ListingID != "222" || products[1].Title != "Tracker" {
		t.Fatalf("second = %+v", products[1])
	}
}

func TestListingID(t *testing.T) {
	tests := map[string]string{
		"https://www.etsy.com/listing/12345/name": "12345",
		"/listing/678?ref=a":                      "678",
		"/listing/9":                              "9",
		"/listing/abc/name":                       "",
		"/listings/1x":                            "",
	}
	for in, want := range tests {
		if got := listingID(in); got != want {
			t.Fatalf("listingID(%q) = %q, want %q", in, got, want)
		}
	}
}
