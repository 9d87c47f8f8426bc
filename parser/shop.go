package parser

import (
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ShopLink is the seller of a listing as linked from its detail page.
type ShopLink struct {
	Name string
	URL  string
}

// Each strategy keeps only links a shop name can be read from, so an unnamed
// header link does not hide a usable link further down the page.
var shopLinkStrategies = []Strategy[*goquery.Selection]{
	namedShopLinks(`a.wt-text-link-no-underline[href*="/shop/"]`, "header link"),
	namedShopLinks(`a[href]`, "any shop link"),
}

func namedShopLinks(css, name string) Strategy[*goquery.Selection] {
	return Strategy[*goquery.Selection]{
		Name: name,
		Apply: func(root *goquery.Selection) (*goquery.Selection, bool) {
			sel := root.Find(css).FilterFunction(func(_ int, a *goquery.Selection) bool {
				return shopNamePattern.MatchString(a.AttrOr("href", "")) && linkShopName(a) != ""
			})
			return sel, sel.Length() > 0
		},
	}
}

// linkShopName reads the shop name from the /shop/<name> path segment,
// falling back to the heading inside the link and then its visible text.
func linkShopName(a *goquery.Selection) string {
	if name := strings.TrimSpace(shopName(a.AttrOr("href", ""))); name != "" {
		return name
	}
	if heading := a.Find("p.wt-text-heading").First(); heading.Length() > 0 {
		if name := cleanText(heading.Text()); name != "" {
			return name
		}
	}
	return cleanText(a.Text())
}

// ExtractShopLink finds the shop behind a listing detail page. ok is false
// when no link on the page names a shop.
func (e *Extractor) ExtractShopLink(body []byte) (link ShopLink, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("error extracting shop link", slog.Any("panic", r))
			link, ok = ShopLink{}, false
		}
	}()

	doc := parseDocument(body)
	links, strategy, found := FirstMatch(doc.Selection, shopLinkStrategies...)
	if !found {
		slog.Debug("no shop link on listing page")
		return ShopLink{}, false
	}
	a := links.First()

	link.URL = e.absolute(a.AttrOr("href", ""))
	link.Name = linkShopName(a)

	slog.Debug("extracted shop", slog.String("shop", link.Name), slog.String("strategy", strategy))
	return link, link.Name != ""
}
