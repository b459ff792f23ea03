package products

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/enums"
	"github.com/angelmondragon/creditshare-backend/pkg/pagination"
)

// ProductDTO is the catalog entry returned to shoppers.
type ProductDTO struct {
	ID          uuid.UUID             `json:"id"`
	Slug        string                `json:"slug"`
	Title       string                `json:"title"`
	Author      string                `json:"author"`
	Description string                `json:"description"`
	Category    enums.ProductCategory `json:"category"`
	Price       decimal.Decimal       `json:"price"`
	ImageURL    *string               `json:"image_url,omitempty"`
}

func FromModel(p *models.Product) ProductDTO {
	return ProductDTO{
		ID:          p.ID,
		Slug:        p.Slug,
		Title:       p.Title,
		Author:      p.Author,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price.Round(2),
		ImageURL:    p.ImageURL,
	}
}

func productCursor(p *models.Product) pagination.Cursor {
	return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
}
