package storage

import "github.com/aluiziolira/go-scrape-etsy/models"

// Dataset kinds.
var (
	ProductCodec = Codec[models.ProductRecord]{
		Name:    "products",
		Columns: models.ProductColumns,
		Decode:  models.ProductFromRow,
	}
	// Shops track the listing each shop was found through, so a listing
	// is visited once whether or not it yielded a shop.
	ShopCodec = Codec[models.ShopRecord]{
		Name:         "shops",
		Columns:      models.ShopColumns,
		Decode:       models.ShopFromRow,
		SourceColumn: "listing_url",
	}
	MetricsCodec = Codec[models.ShopMetricsRecord]{
		Name:    "metrics",
		Columns: models.ShopMetricsColumns,
		Decode:  models.ShopMetricsFromRow,
	}
)

// Products is the category listing dataset.
type Products = Dataset[models.ProductRecord]

// Shops is the shop-from-listing dataset.
type Shops = Dataset[models.ShopRecord]

// Metrics is the shop metrics dataset.
type Metrics = Dataset[models.ShopMetricsRecord]

// OpenProducts opens the products dataset at path.
func OpenProducts(path string) (*Products, error) { return Open(path, ProductCodec) }

// OpenShops opens the shops dataset at path.
func OpenShops(path string) (*Shops, error) { return Open(path, ShopCodec) }

// OpenMetrics opens the shop metrics dataset at path.
func OpenMetrics(path string) (*Metrics, error) { return Open(path, MetricsCodec) }
