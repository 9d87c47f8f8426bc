package parser

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	listingIDPattern = regexp.MustCompile(`/listing/(\d+)(?:[/?#]|$)`)
	listingLink      = regexp.MustCompile(`/listing/\d+`)
	shopNamePattern  = regexp.MustCompile(`/shop/([^/?#]*)`)
	priceChars       = regexp.MustCompile(`[^\d.,]`)
	numberPattern    = regexp.MustCompile(`\d{1,3}(?:,\d{3})+|\d+`)
)

// parseDocument never fails: the HTML5 parser accepts any byte sequence.
func parseDocument(body []byte) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return goquery.NewDocumentFromNode(&html.Node{Type: html.DocumentNode})
	}
	return doc
}

// absoluteURL resolves href against origin and drops the query and fragment.
func absoluteURL(origin *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	u := origin.ResolveReference(ref)
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// listingID pulls the numeric id out of a detail page URL.
func listingID(href string) string {
	if m := listingIDPattern.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return ""
}

// shopName returns the path segment after /shop/, which may be empty.
func shopName(href string) string {
	if m := shopNamePattern.FindStringSubmatch(href); m != nil {
		if name, err := url.PathUnescape(m[1]); err == nil {
			return name
		}
		return m[1]
	}
	return ""
}

func parsePrice(text string) *float64 {
	cleaned := strings.ReplaceAll(priceChars.ReplaceAllString(text, ""), ",", "")
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || v < 0 {
		return nil
	}
	return &v
}

// parseCount converts a digit group such as "1,234" to an int.
func parseCount(text string) *int {
	m := numberPattern.FindString(text)
	if m == "" {
		return nil
	}
	v, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil || v < 0 {
		return nil
	}
	return &v
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// findTextNode walks sel's subtrees in document order and returns the first
// text node whose data matches re.
func findTextNode(sel *goquery.Selection, re *regexp.Regexp) (*html.Node, string) {
	for _, root := range sel.Nodes {
		if n, m := walkText(root, re); n != nil {
			return n, m
		}
	}
	return nil, ""
}

func walkText(n *html.Node, re *regexp.Regexp) (*html.Node, string) {
	if n.Type == html.TextNode {
		if m := re.FindString(n.Data); m != "" {
			return n, m
		}
		return nil, ""
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return nil, ""
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found, m := walkText(c, re); found != nil {
			return found, m
		}
	}
	return nil, ""
}

// enclosingLink returns the href of the nearest <a> ancestor of n.
func enclosingLink(n *html.Node) (string, bool) {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode || p.Data != "a" {
			continue
		}
		for _, attr := range p.Attr {
			if attr.Key == "href" {
				return attr.Val, true
			}
		}
		return "", true
	}
	return "", false
}
