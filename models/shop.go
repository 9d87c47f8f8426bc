package models

import (
	"errors"
	"strconv"
	"time"
)

// ShopColumns is the fixed column order of the shops dataset.
var ShopColumns = []string{"shop_name", "shop_url", "listing_url", "extraction_date"}

// ShopRecord is a shop discovered through a listing detail page.
type ShopRecord struct {
	ShopName    string    `json:"shop_name"`
	ShopURL     string    `json:"shop_url"`
	ListingURL  string    `json:"listing_url"`
	ExtractedAt time.Time `json:"extraction_date"`
}

func (s ShopRecord) Key() string { return s.ShopName }

func (s ShopRecord) Row() []string {
	return []string{s.ShopName, s.ShopURL, s.ListingURL, formatDate(s.ExtractedAt)}
}

// ShopFromRow decodes a shops dataset row.
func ShopFromRow(r Row) (ShopRecord, error) {
	s := ShopRecord{
		ShopName:   r.Get("shop_name"),
		ShopURL:    r.Get("shop_url"),
		ListingURL: r.Get("listing_url"),
	}
	if s.ShopName == "" {
		return s, errors.New("shop_name is empty")
	}
	var err error
	s.ExtractedAt, err = parseDate(r, "extraction_date")
	return s, err
}

// ShopMetricsColumns is the fixed column order of the shop metrics dataset.
var ShopMetricsColumns = []string{
	"shop_name", "shop_url",
	"sales_count", "sales_has_href", "sales_url",
	"admirers_count", "admirers_has_href", "admirers_url",
	"extraction_date",
}

// ShopMetricsRecord holds the sales and popularity figures read from a shop
// page. A nil count means the page did not expose that figure.
type ShopMetricsRecord struct {
	ShopName string `json:"shop_name"`
	ShopURL  string `json:"shop_url"`

	SalesCount      *int   `json:"sales_count,omitempty"`
	SalesHasHref    bool   `json:"sales_has_href"`
	SalesURL        string `json:"sales_url"`
	AdmirersCount   *int   `json:"admirers_count,omitempty"`
	AdmirersHasHref bool   `json:"admirers_has_href"`
	AdmirersURL     string `json:"admirers_url"`

	ExtractedAt time.Time `json:"extraction_date"`
}

func (m ShopMetricsRecord) Key() string { return m.ShopName }

func (m ShopMetricsRecord) Row() []string {
	return []string{
		m.ShopName,
		m.ShopURL,
		formatInt(m.SalesCount),
		strconv.FormatBool(m.SalesHasHref),
		m.SalesURL,
		formatInt(m.AdmirersCount),
		strconv.FormatBool(m.AdmirersHasHref),
		m.AdmirersURL,
		formatDate(m.ExtractedAt),
	}
}

// ShopMetricsFromRow decodes a shop metrics dataset row.
func ShopMetricsFromRow(r Row) (ShopMetricsRecord, error) {
	m := ShopMetricsRecord{
		ShopName:    r.Get("shop_name"),
		ShopURL:     r.Get("shop_url"),
		SalesURL:    r.Get("sales_url"),
		AdmirersURL: r.Get("admirers_url"),
	}
	if m.ShopName == "" {
		return m, errors.New("shop_name is empty")
	}

	var errs []error
	var err error
	m.SalesCount, err = parseInt(r, "sales_count")
	errs = append(errs, err)
	m.SalesHasHref, err = parseBool(r, "sales_has_href")
	errs = append(errs, err)
	m.AdmirersCount, err = parseInt(r, "admirers_count")
	errs = append(errs, err)
	m.AdmirersHasHref, err = parseBool(r, "admirers_has_href")
	errs = append(errs, err)
	m.ExtractedAt, err = parseDate(r, "extraction_date")
	errs = append(errs, err)

	return m, errors.Join(errs...)
}
