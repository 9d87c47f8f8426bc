package parser

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-etsy/models"
)

var (
	discountPattern = regexp.MustCompile(`(?i)(\d+)%\s*off`)
	percentPattern  = regexp.MustCompile(`(\d+)%`)
	ratingPattern   = regexp.MustCompile(`([\d.]+)\s*out of 5`)
	reviewPattern   = regexp.MustCompile(`\(([\d,]+)\)`)

	digitalPhrases = []string{"digital download", "instant download", "digital file", "pdf download"}
)

// Card layouts seen on category pages, newest first.
var cardStrategies = []Strategy[*goquery.Selection]{
	selector("div.v2-listing-card"),
	selector("div.wt-grid__item-xs-6"),
	selector("div[data-listing-id]"),
	selector("article.listing-card"),
}

var priceStrategies = []Strategy[*goquery.Selection]{
	selector("div.n-listing-card__price"),
	selector("div.lc-price"),
}

// Extractor parses pages of one marketplace. Relative links are resolved
// against its origin.
type Extractor struct {
	origin *url.URL
}

// NewExtractor returns an extractor for the given site origin.
func NewExtractor(origin string) (*Extractor, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be absolute", origin)
	}
	return &Extractor{origin: u}, nil
}

// ExtractProducts returns the listings on a category page in page order.
// Provenance fields are left for the caller. Cards without a listing id are
// dropped and a repeated id keeps its first occurrence.
func (e *Extractor) ExtractProducts(body []byte) []models.ProductRecord {
	doc := parseDocument(body)

	cards, strategy, ok := FirstMatch(doc.Selection, cardStrategies...)
	if !ok {
		products := e.extractFromLinks(doc.Selection)
		slog.Warn("no listing cards matched, used link fallback", slog.Int("products", len(products)))
		return products
	}
	slog.Debug("listing cards matched", slog.String("selector", strategy), slog.Int("cards", cards.Length()))

	seen := make(map[string]struct{})
	products := make([]models.ProductRecord, 0, cards.Length())
	cards.Each(func(i int, card *goquery.Selection) {
		p, ok := e.extractCard(card)
		if !ok {
			return
		}
		if _, dup := seen[p.ListingID]; dup {
			return
		}
		seen[p.ListingID] = struct{}{}
		products = append(products, p)
	})

	var ads, onSale int
	for _, p := range products {
		if p.IsAdvertisement {
			ads++
		}
		if p.IsOnSale {
			onSale++
		}
	}
	slog.Info("extracted products",
		slog.Int("products", len(products)),
		slog.Int("ads", ads),
		slog.Int("on_sale", onSale),
	)
	return products
}

// extractFromLinks emits minimal records from bare detail-page links.
func (e *Extractor) extractFromLinks(root *goquery.Selection) []models.ProductRecord {
	seen := make(map[string]struct{})
	var products []models.ProductRecord
	root.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !listingLink.MatchString(href) {
			return
		}
		link := e.absolute(href)
		id := listingID(link)
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		title, ok := a.Attr("title")
		if !ok || strings.TrimSpace(title) == "" {
			title = a.Text()
		}
		products = append(products, models.ProductRecord{
			ListingID: id,
			URL:       link,
			Title:     cleanText(title),
		})
	})
	return products
}

func (e *Extractor) extractCard(card *goquery.Selection) (p models.ProductRecord, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("error extracting product from card", slog.Any("panic", r))
			ok = false
		}
	}()

	id, _ := card.Attr("data-listing-id")
	p.ListingID = strings.TrimSpace(id)

	if link := listingAnchor(card); link != nil {
		href, _ := link.Attr("href")
		p.URL = e.absolute(href)
		if p.ListingID == "" {
			p.ListingID = listingID(p.URL)
		}
		p.Title = cardTitle(link)
	}
	if p.ListingID == "" {
		return p, false
	}

	e.extractPrices(card, &p)
	e.extractShop(card, &p)
	extractBadges(card, &p)
	extractRating(card, &p)
	return p, true
}

func listingAnchor(card *goquery.Selection) *goquery.Selection {
	if goquery.NodeName(card) == "a" && listingLink.MatchString(card.AttrOr("href", "")) {
		return card
	}
	link := card.Find("a[href]").FilterFunction(func(_ int, a *goquery.Selection) bool {
		return listingLink.MatchString(a.AttrOr("href", ""))
	}).First()
	if link.Length() > 0 {
		return link
	}
	link = card.Find("a.listing-link, a.listing-card-title").First()
	if link.Length() > 0 {
		return link
	}
	return nil
}

func cardTitle(link *goquery.Selection) string {
	if h := link.Find("h3, h2").First(); h.Length() > 0 {
		if t := cleanText(h.Text()); t != "" {
			return t
		}
	}
	if t, ok := link.Attr("title"); ok && strings.TrimSpace(t) != "" {
		return cleanText(t)
	}
	return cleanText(link.Text())
}

func (e *Extractor) extractPrices(card *goquery.Selection, p *models.ProductRecord) {
	container, _, ok := FirstMatch(card, priceStrategies...)
	if !ok {
		container = card
	}
	container = container.First()

	current := container.Find("span.currency-value").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ParentsFiltered(".wt-text-strikethrough").Length() == 0
	}).First()
	if current.Length() > 0 {
		p.SalePrice = parsePrice(current.Text())
	}

	original := container.Find(".wt-text-strikethrough .currency-value").First()
	if original.Length() > 0 {
		p.OriginalPrice = parsePrice(original.Text())
		p.IsOnSale = true
		p.DiscountPercentage = discount(container)
		return
	}
	if p.SalePrice != nil {
		v := *p.SalePrice
		p.OriginalPrice = &v
	}
}

func discount(container *goquery.Selection) *int {
	if m := discountPattern.FindStringSubmatch(container.Text()); m != nil {
		return atoi(m[1])
	}
	if m := percentPattern.FindStringSubmatch(container.Find(".wt-text-grey").Text()); m != nil {
		return atoi(m[1])
	}
	return nil
}

func (e *Extractor) extractShop(card *goquery.Selection, p *models.ProductRecord) {
	link := card.Find(`a[href*="/shop/"]`).First()
	if link.Length() == 0 {
		return
	}
	href, _ := link.Attr("href")
	p.ShopURL = e.absolute(href)
	p.ShopName = shopName(p.ShopURL)
	if p.ShopName == "" {
		p.ShopName = cleanText(link.Text())
	}
}

func extractBadges(card *goquery.Selection, p *models.ProductRecord) {
	text := strings.ToLower(card.Text())

	p.IsAdvertisement = isAdvertisement(card) || strings.Contains(text, "advertisement")

	if card.Find(`[class*="digital-download"]`).Length() > 0 {
		p.IsDigitalDownload = true
	} else {
		for _, phrase := range digitalPhrases {
			if strings.Contains(text, phrase) {
				p.IsDigitalDownload = true
				break
			}
		}
	}

	p.IsBestseller = card.Find(`[class*="bestseller"]`).Length() > 0 ||
		strings.Contains(text, "bestseller")
	p.IsStarSeller = card.Find(".wt-icon--star-seller, .wt-fill-star-seller-dark, p.star-seller-badge-lavender-text-light").Length() > 0 ||
		strings.Contains(text, "star seller")
	p.FreeShipping = card.Find(`[class*="free-shipping"]`).Length() > 0 ||
		strings.Contains(text, "free shipping")
}

func isAdvertisement(card *goquery.Selection) bool {
	if seller := card.Find("p[data-seller-name-container]"); seller.Length() > 0 {
		text := strings.ToLower(seller.Text())
		if strings.Contains(text, "advertisement") || strings.Contains(text, "ad by") {
			return true
		}
	}
	return card.Find(`.promoted-listing, .ad-listing, [class*="promoted"]`).Length() > 0
}

func extractRating(card *goquery.Selection, p *models.ProductRecord) {
	if input := card.Find(`span[data-stars-svg-container] input[name*="rating"]`).First(); input.Length() > 0 {
		p.Rating = rating(input.AttrOr("value", ""))
	}
	if p.Rating == nil {
		card.Find(`[aria-label*="out of 5"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if m := ratingPattern.FindStringSubmatch(s.AttrOr("aria-label", "")); m != nil {
				p.Rating = rating(m[1])
			}
			return p.Rating == nil
		})
	}

	card.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := reviewPattern.FindStringSubmatch(s.Text()); m != nil {
			p.ReviewCount = parseCount(m[1])
		}
		return p.ReviewCount == nil
	})
}

func rating(text string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || v < 0 || v > 5 {
		return nil
	}
	return &v
}

func atoi(s string) *int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func (e *Extractor) absolute(href string) string {
	return absoluteURL(e.origin, href)
}
