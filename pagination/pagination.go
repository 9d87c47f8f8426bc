// Package pagination reads a category page's pagination controls and builds
// the URL of any page in the sequence.
package pagination

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// refPrefix starts the ref value the site attaches to its own page links.
const refPrefix = "pagination"

// PageRef returns the ref value of the site's link to page.
func PageRef(page int) string {
	return refPrefix + "_" + strconv.Itoa(page)
}

var (
	pageParam     = regexp.MustCompile(`[?&]page=(\d+)`)
	resultPhrases = []*regexp.Regexp{
		regexp.MustCompile(`(?i)of\s+([\d,]+)\s+results`),
		regexp.MustCompile(`(?i)([\d,]+)\s+results`),
		regexp.MustCompile(`(?i)([\d,]+)\s+items`),
		regexp.MustCompile(`(?i)([\d,]+)\s+listings`),
	}
)

const (
	navSelector     = `nav[aria-label*="Pagination"], nav[aria-label*="pagination"], nav.wt-pagination, nav[data-clg-id="WtPagination"]`
	currentSelector = `[aria-current="page"], .wt-pagination__item--current, .wt-is-selected`
	nextSelector    = `a[aria-label*="Next"], a[aria-label*="next"], a.wt-pagination__item--next, a[rel="next"]`
)

// State describes where a page sits in its sequence. TotalPages and
// TotalResults are estimates and may be zero; HasNext is the only signal
// traversal relies on.
type State struct {
	CurrentPage  int
	TotalPages   int
	TotalResults int
	HasNext      bool
	NextPageURL  string
}

// Resolver inspects category pages of one site.
type Resolver struct {
	origin       *url.URL
	itemsPerPage int
}

// NewResolver returns a resolver that resolves relative links against origin
// and estimates page counts from itemsPerPage.
func NewResolver(origin string, itemsPerPage int) (*Resolver, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be absolute", origin)
	}
	if itemsPerPage <= 0 {
		return nil, fmt.Errorf("items per page must be positive")
	}
	return &Resolver{origin: u, itemsPerPage: itemsPerPage}, nil
}

// Resolve reads the pagination state of a page. It never fails: a page with
// no recognisable controls has no next page.
func (r *Resolver) Resolve(body []byte) State {
	var state State
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		slog.Warn("pagination: unparseable page", slog.Any("error", err))
		return state
	}

	if nav := doc.Find(navSelector).First(); nav.Length() > 0 {
		state.CurrentPage = currentPage(nav)
		state.TotalPages = maxPageNumber(nav, true)
	} else {
		state.TotalPages = maxPageNumber(doc.Selection, false)
	}

	if results := resultCount(visibleText(doc.Nodes)); results > 0 {
		state.TotalResults = results
		estimate := int(math.Ceil(float64(results) / float64(r.itemsPerPage)))
		if state.TotalPages == 0 {
			state.TotalPages = estimate
		} else if estimate != state.TotalPages {
			slog.Debug("pagination: result count disagrees with page links",
				slog.Int("from_links", state.TotalPages),
				slog.Int("from_results", estimate),
			)
		}
	}

	doc.Find(nextSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if disabled(a) {
			return true
		}
		state.HasNext = true
		if href := strings.TrimSpace(a.AttrOr("href", "")); href != "" && href != "#" {
			if ref, err := url.Parse(href); err == nil {
				state.NextPageURL = r.origin.ResolveReference(ref).String()
			}
		}
		return false
	})

	return state
}

func currentPage(nav *goquery.Selection) int {
	cur := nav.Find(currentSelector).First()
	if cur.Length() == 0 {
		return 0
	}
	if n, ok := pageNumber(cur); ok {
		return n
	}
	return 0
}

// maxPageNumber scans links for page numbers. Inside a navigation landmark a
// link's text counts as well as its target.
func maxPageNumber(root *goquery.Selection, useText bool) int {
	highest := 0
	root.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if m := pageParam.FindStringSubmatch(a.AttrOr("href", "")); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
				highest = n
			}
		}
		if useText {
			if n, ok := pageNumber(a); ok && n > highest {
				highest = n
			}
		}
	})
	return highest
}

func pageNumber(sel *goquery.Selection) (int, bool) {
	for _, field := range strings.Fields(sel.Text()) {
		if n, err := strconv.Atoi(field); err == nil && n > 0 {
			return n, true
		}
	}
	if m := pageParam.FindStringSubmatch(sel.AttrOr("href", "")); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
	}
	return 0, false
}

// visibleText joins the text nodes under nodes, leaving out script and style
// bodies where inline JSON can mention unrelated counts.
func visibleText(nodes []*html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style"):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return b.String()
}

func resultCount(text string) int {
	for _, re := range resultPhrases {
		if m := re.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

func disabled(a *goquery.Selection) bool {
	if _, ok := a.Attr("disabled"); ok {
		return true
	}
	if strings.EqualFold(a.AttrOr("aria-disabled", ""), "true") {
		return true
	}
	return strings.Contains(strings.ToLower(a.AttrOr("class", "")), "disabled")
}

// BuildPageURL sets the page query parameter of base to page. Pages after the
// first carry ref=pagination_<page>; page 1 drops a pagination ref but keeps
// any other. The result depends only on its inputs, so rebuilding an already
// built URL replaces rather than stacks parameters.
func BuildPageURL(base string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("page number must be positive, got %d", page)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	switch {
	case page > 1:
		q.Set("ref", PageRef(page))
	case strings.HasPrefix(q.Get("ref"), refPrefix):
		q.Del("ref")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
