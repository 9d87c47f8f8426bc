// Package models defines the records extracted from the marketplace and the
// statistics reported for each job.
package models

import (
	"errors"
	"strconv"
	"time"
)

// ProductColumns is the fixed column order of the products dataset.
var ProductColumns = []string{
	"listing_id", "url", "title", "shop_name", "shop_url",
	"sale_price", "original_price", "discount_percentage", "is_on_sale",
	"is_advertisement", "is_digital_download", "is_bestseller", "is_star_seller",
	"rating", "review_count", "free_shipping",
	"page_number", "extraction_date", "position_on_page",
}

// ProductRecord is one listing observed on one category page.
type ProductRecord struct {
	ListingID string `json:"listing_id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	ShopName  string `json:"shop_name"`
	ShopURL   string `json:"shop_url"`

	SalePrice          *float64 `json:"sale_price,omitempty"`
	OriginalPrice      *float64 `json:"original_price,omitempty"`
	DiscountPercentage *int     `json:"discount_percentage,omitempty"`

	IsOnSale          bool `json:"is_on_sale"`
	IsAdvertisement   bool `json:"is_advertisement"`
	IsDigitalDownload bool `json:"is_digital_download"`
	IsBestseller      bool `json:"is_bestseller"`
	IsStarSeller      bool `json:"is_star_seller"`
	FreeShipping      bool `json:"free_shipping"`

	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"review_count,omitempty"`

	PageNumber     int       `json:"page_number"`
	PositionOnPage int       `json:"position_on_page"`
	ExtractedAt    time.Time `json:"extraction_date"`
}

// Key returns the identity of the record within the products dataset.
func (p ProductRecord) Key() string { return p.ListingID }

// Row encodes the record in ProductColumns order.
func (p ProductRecord) Row() []string {
	return []string{
		p.ListingID,
		p.URL,
		p.Title,
		p.ShopName,
		p.ShopURL,
		formatFloat(p.SalePrice),
		formatFloat(p.OriginalPrice),
		formatInt(p.DiscountPercentage),
		strconv.FormatBool(p.IsOnSale),
		strconv.FormatBool(p.IsAdvertisement),
		strconv.FormatBool(p.IsDigitalDownload),
		strconv.FormatBool(p.IsBestseller),
		strconv.FormatBool(p.IsStarSeller),
		formatFloat(p.Rating),
		formatInt(p.ReviewCount),
		strconv.FormatBool(p.FreeShipping),
		strconv.Itoa(p.PageNumber),
		formatDate(p.ExtractedAt),
		strconv.Itoa(p.PositionOnPage),
	}
}

// ProductFromRow decodes a products dataset row. Missing optional columns
// decode to their empty value; malformed values are reported.
func ProductFromRow(r Row) (ProductRecord, error) {
	p := ProductRecord{
		ListingID: r.Get("listing_id"),
		URL:       r.Get("url"),
		Title:     r.Get("title"),
		ShopName:  r.Get("shop_name"),
		ShopURL:   r.Get("shop_url"),
	}
	if p.ListingID == "" {
		return p, errors.New("listing_id is empty")
	}

	var errs []error
	var err error
	p.SalePrice, err = parseFloat(r, "sale_price")
	errs = append(errs, err)
	p.OriginalPrice, err = parseFloat(r, "original_price")
	errs = append(errs, err)
	p.DiscountPercentage, err = parseInt(r, "discount_percentage")
	errs = append(errs, err)
	p.Rating, err = parseFloat(r, "rating")
	errs = append(errs, err)
	p.ReviewCount, err = parseInt(r, "review_count")
	errs = append(errs, err)

	p.IsOnSale, err = parseBool(r, "is_on_sale")
	errs = append(errs, err)
	p.IsAdvertisement, err = parseBool(r, "is_advertisement")
	errs = append(errs, err)
	p.IsDigitalDownload, err = parseBool(r, "is_digital_download")
	errs = append(errs, err)
	p.IsBestseller, err = parseBool(r, "is_bestseller")
	errs = append(errs, err)
	p.IsStarSeller, err = parseBool(r, "is_star_seller")
	errs = append(errs, err)
	p.FreeShipping, err = parseBool(r, "free_shipping")
	errs = append(errs, err)

	page, err := parseInt(r, "page_number")
	errs = append(errs, err)
	if page != nil {
		p.PageNumber = *page
	}
	position, err := parseInt(r, "position_on_page")
	errs = append(errs, err)
	if position != nil {
		p.PositionOnPage = *position
	}
	p.ExtractedAt, err = parseDate(r, "extraction_date")
	errs = append(errs, err)

	return p, errors.Join(errs...)
}
