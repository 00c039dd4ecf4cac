// Package shopdemo is a small in-process storefront exposed as an MCP tool
// service. It backs the mcp-shop binary and the integration tests.
package shopdemo

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Product is one catalog entry.
type Product struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Category    string  `yaml:"category" json:"category"`
	Price       float64 `yaml:"price" json:"price"`
	Stock       int     `yaml:"stock" json:"stock"`
	Description string  `yaml:"description" json:"description,omitempty"`
}

// OrderItem is a line of a past order.
type OrderItem struct {
	ProductID string  `yaml:"productId" json:"productId"`
	Name      string  `yaml:"name" json:"name"`
	Quantity  int     `yaml:"quantity" json:"quantity"`
	Price     float64 `yaml:"price" json:"price"`
}

// Order is a past order shown by the order list tool.
type Order struct {
	ID          string      `yaml:"id" json:"id"`
	OrderNumber string      `yaml:"orderNumber" json:"orderNumber"`
	Status      string      `yaml:"status" json:"status"`
	OrderDate   string      `yaml:"orderDate" json:"orderDate"`
	AmountTotal float64     `yaml:"amountTotal" json:"amountTotal"`
	LineItems   []OrderItem `yaml:"lineItems" json:"lineItems"`
}

// Catalog is the full demo data set.
type Catalog struct {
	Products []Product `yaml:"products"`
	Orders   []Order   `yaml:"orders"`
}

// LoadCatalog reads a catalog file. YAML and JSON are both accepted.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	seen := make(map[string]bool, len(c.Products))
	for i, p := range c.Products {
		if p.ID == "" {
			return fmt.Errorf("product %d has no id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate product id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// Product looks up a product by id.
func (c *Catalog) Product(id string) (Product, bool) {
	i := slices.IndexFunc(c.Products, func(p Product) bool { return p.ID == id })
	if i < 0 {
		return Product{}, false
	}
	return c.Products[i], true
}

// Search returns products matching any word of query in their name,
// category or description, best matches first. An empty query matches
// everything. limit <= 0 means no limit.
func (c *Catalog) Search(query string, limit int) []Product {
	terms := strings.Fields(strings.ToLower(query))

	type hit struct {
		p     Product
		score int
	}
	var hits []hit
	for _, p := range c.Products {
		score := 1
		if len(terms) > 0 {
			score = 0
			hay := strings.ToLower(p.Name + " " + p.Category + " " + p.Description)
			for _, t := range terms {
				if strings.Contains(hay, t) {
					score++
				}
			}
		}
		if score > 0 {
			hits = append(hits, hit{p, score})
		}
	}

	slices.SortStableFunc(hits, func(a, b hit) int {
		if a.score != b.score {
			return b.score - a.score
		}
		return cmp.Compare(a.p.Name, b.p.Name)
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Product, len(hits))
	for i, h := range hits {
		out[i] = h.p
	}
	return out
}

// SampleCatalog is the built-in data set used when no file is given.
func SampleCatalog() *Catalog {
	return &Catalog{
		Products: []Product{
			{ID: "p-kettle", Name: "Copper Kettle", Category: "Kitchen", Price: 49.9, Stock: 12, Description: "1.5 l stovetop kettle"},
			{ID: "p-pan", Name: "Cast Iron Pan", Category: "Kitchen", Price: 39.5, Stock: 20, Description: "26 cm skillet"},
			{ID: "p-mitt", Name: "Oven Mitt", Category: "Kitchen", Price: 9.9, Stock: 50, Description: "heat resistant kitchen accessories"},
			{ID: "p-tent", Name: "Trail Tent", Category: "Outdoor", Price: 199, Stock: 4, Description: "two person tent"},
			{ID: "p-lamp", Name: "Camping Lamp", Category: "Outdoor", Price: 24.5, Stock: 30, Description: "rechargeable lantern"},
			{ID: "p-shirt", Name: "Linen Shirt", Category: "Clothing", Price: 59, Stock: 8},
			{ID: "p-giftcard", Name: "Gift Card", Price: 25, Stock: 999},
		},
		Orders: []Order{
			{
				ID: "o-1001", OrderNumber: "10001", Status: "completed", OrderDate: "2026-09-02",
				AmountTotal: 89.4,
				LineItems: []OrderItem{
					{ProductID: "p-kettle", Name: "Copper Kettle", Quantity: 1, Price: 49.9},
					{ProductID: "p-pan", Name: "Cast Iron Pan", Quantity: 1, Price: 39.5},
				},
			},
			{
				ID: "o-1002", OrderNumber: "10002", Status: "open", OrderDate: "2026-10-01",
				AmountTotal: 24.5,
				LineItems: []OrderItem{
					{ProductID: "p-lamp", Name: "Camping Lamp", Quantity: 1, Price: 24.5},
				},
			},
		},
	}
}
