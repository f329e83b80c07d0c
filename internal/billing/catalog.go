package billing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProductCreditBundle is the catalog product whose prices grant bonus credits.
// Line items priced under any other product are ignored by the ingestor.
const ProductCreditBundle = "credit_bundle"

// PriceDefinition maps one provider price id to a catalog product.
type PriceDefinition struct {
	ID      string `yaml:"id"`
	Product string `yaml:"product"`
}

type catalogFile struct {
	Prices []PriceDefinition `yaml:"prices"`
}

// Catalog resolves provider price ids to products.
type Catalog struct {
	products map[string]string // price id -> product
}

// DefaultCatalog returns the built-in price catalog. Deployments override it
// with a YAML file when the provider account uses different price ids.
func DefaultCatalog() *Catalog {
	return newCatalog([]PriceDefinition{
		{ID: "price_glim_credits_100", Product: ProductCreditBundle},
		{ID: "price_glim_credits_250", Product: ProductCreditBundle},
		{ID: "price_glim_credits_500", Product: ProductCreditBundle},
		{ID: "price_glim_credits_1000", Product: ProductCreditBundle},
	})
}

// LoadCatalog reads a price catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price catalog %s: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse price catalog %s: %w", path, err)
	}
	if len(file.Prices) == 0 {
		return nil, fmt.Errorf("price catalog %s defines no prices", path)
	}
	return newCatalog(file.Prices), nil
}

func newCatalog(prices []PriceDefinition) *Catalog {
	c := &Catalog{products: make(map[string]string, len(prices))}
	for _, p := range prices {
		c.products[p.ID] = p.Product
	}
	return c
}

// IsCreditBundle reports whether the price id belongs to the credit-bundle
// product.
func (c *Catalog) IsCreditBundle(priceID string) bool {
	return c.products[priceID] == ProductCreditBundle
}
