package products

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/enums"
)

//go:embed catalog.yaml
var defaultCatalog string

// CatalogEntry is one product in a YAML seed file.
type CatalogEntry struct {
	Slug        string `yaml:"slug"`
	Title       string `yaml:"title"`
	Author      string `yaml:"author"`
	Description string `yaml:"description"`
	Price       string `yaml:"price"`
	ImageURL    string `yaml:"image_url"`
	Category    string `yaml:"category"`
}

type catalogFile struct {
	Products []CatalogEntry `yaml:"products"`
}

// DefaultCatalog returns the catalog bundled with the binary.
func DefaultCatalog() io.Reader {
	return strings.NewReader(defaultCatalog)
}

// LoadCatalog parses and validates a seed file into upsertable models.
func LoadCatalog(r io.Reader) ([]models.Product, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(file.Products) == 0 {
		return nil, fmt.Errorf("catalog has no products")
	}

	seen := make(map[string]int, len(file.Products))
	out := make([]models.Product, 0, len(file.Products))
	for i, entry := range file.Products {
		product, err := entry.toModel()
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		if prev, ok := seen[product.Slug]; ok {
			return nil, fmt.Errorf("catalog entry %d: slug %q already used by entry %d", i, product.Slug, prev)
		}
		seen[product.Slug] = i
		out = append(out, product)
	}
	return out, nil
}

func (e CatalogEntry) toModel() (models.Product, error) {
	title := strings.TrimSpace(e.Title)
	if title == "" {
		return models.Product{}, fmt.Errorf("title is required")
	}

	price, err := decimal.NewFromString(strings.TrimSpace(e.Price))
	if err != nil {
		return models.Product{}, fmt.Errorf("invalid price %q: %w", e.Price, err)
	}
	if !price.IsPositive() {
		return models.Product{}, fmt.Errorf("price must be positive")
	}
	if price.Exponent() < -2 {
		return models.Product{}, fmt.Errorf("price %s has more than two decimal places", price)
	}

	category, err := enums.ParseProductCategory(e.Category)
	if err != nil {
		return models.Product{}, err
	}

	productSlug := slug.Make(e.Slug)
	if productSlug == "" {
		productSlug = slug.Make(title)
	}

	var imageURL *string
	if trimmed := strings.TrimSpace(e.ImageURL); trimmed != "" {
		imageURL = &trimmed
	}

	return models.Product{
		Slug:        productSlug,
		Title:       title,
		Author:      strings.TrimSpace(e.Author),
		Description: strings.TrimSpace(e.Description),
		Category:    category,
		Price:       price,
		ImageURL:    imageURL,
	}, nil
}
