package parser

import (
	"log/slog"
	"regexp"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-etsy/models"
)

var (
	salesPattern    = regexp.MustCompile(`(?i)(?:\d{1,3}(?:,\d{3})+|\d+)\s*Sales\b`)
	admirersPattern = regexp.MustCompile(`(?i)(?:\d{1,3}(?:,\d{3})+|\d+)\s*Admirers\b`)
)

// figure is one metric read from a shop page.
type figure struct {
	count   *int
	hasHref bool
	href    string
}

// ExtractShopMetrics reads the sales and admirers figures of a shop page.
// Figures the page does not expose are left nil. Name, URL and extraction
// time are for the caller to fill.
func (e *Extractor) ExtractShopMetrics(body []byte) (m models.ShopMetricsRecord) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("error extracting shop metrics", slog.Any("panic", r))
			m = models.ShopMetricsRecord{}
		}
	}()

	doc := parseDocument(body)
	root := doc.Selection

	sales, _, _ := FirstMatch(root,
		e.containerFigure("sales beside contact button", salesPattern),
		e.pageFigure("sales text", salesPattern),
	)
	admirers, _, _ := FirstMatch(root,
		e.containerFigure("admirers beside contact button", admirersPattern),
		e.favoritersFigure(),
		e.pageFigure("admirers text", admirersPattern),
	)

	m.SalesCount, m.SalesHasHref, m.SalesURL = sales.count, sales.hasHref, sales.href
	m.AdmirersCount, m.AdmirersHasHref, m.AdmirersURL = admirers.count, admirers.hasHref, admirers.href

	slog.Info("extracted metrics",
		slog.Any("sales", derefInt(m.SalesCount)),
		slog.Any("admirers", derefInt(m.AdmirersCount)),
	)
	return m
}

// metricsContainer is the block that follows the contact-owner button.
func metricsContainer(root *goquery.Selection) *goquery.Selection {
	return root.Find("div.contact-shop-owner-button").First().NextAllFiltered("div").First()
}

func (e *Extractor) containerFigure(name string, re *regexp.Regexp) Strategy[figure] {
	return Strategy[figure]{
		Name: name,
		Apply: func(root *goquery.Selection) (figure, bool) {
			container := metricsContainer(root)
			if container.Length() == 0 {
				return figure{}, false
			}
			return e.textFigure(container, re)
		},
	}
}

func (e *Extractor) pageFigure(name string, re *regexp.Regexp) Strategy[figure] {
	return Strategy[figure]{
		Name: name,
		Apply: func(root *goquery.Selection) (figure, bool) {
			return e.textFigure(root, re)
		},
	}
}

func (e *Extractor) favoritersFigure() Strategy[figure] {
	return Strategy[figure]{
		Name: "favoriters link",
		Apply: func(root *goquery.Selection) (figure, bool) {
			var f figure
			root.Find(`a[href*="/favoriters"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
				if count := parseCount(a.Text()); count != nil {
					f = figure{count: count, hasHref: true, href: e.absolute(a.AttrOr("href", ""))}
					return false
				}
				return true
			})
			return f, f.count != nil
		},
	}
}

func (e *Extractor) textFigure(sel *goquery.Selection, re *regexp.Regexp) (figure, bool) {
	node, match := findTextNode(sel, re)
	if node == nil {
		return figure{}, false
	}
	f := figure{count: parseCount(match)}
	if f.count == nil {
		return figure{}, false
	}
	if href, ok := enclosingLink(node); ok {
		f.hasHref = true
		f.href = e.absolute(href)
	}
	return f, true
}

func derefInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
