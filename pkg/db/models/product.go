package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/pkg/enums"
)

// Product is a digital catalog item.
type Product struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Slug        string                `gorm:"column:slug;type:text;not null;uniqueIndex:ux_products_slug"`
	Title       string                `gorm:"column:title;type:text;not null"`
	Author      string                `gorm:"column:author;type:text;not null;default:''"`
	Description string                `gorm:"column:description;type:text;not null;default:''"`
	Category    enums.ProductCategory `gorm:"column:category;type:text;not null"`
	Price       decimal.Decimal       `gorm:"column:price;type:numeric(12,2);not null"`
	ImageURL    *string               `gorm:"column:image_url;type:text"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
