package products

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/enums"
	"github.com/angelmondragon/creditshare-backend/pkg/pagination"
)

// Repository persists the product catalog.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindBySlug loads a product by its catalog slug.
func (r *Repository) FindBySlug(ctx context.Context, slug string) (*models.Product, error) {
	return r.findOne(ctx, "slug = ?", slug)
}

func (r *Repository) findOne(ctx context.Context, where string, arg any) (*models.Product, error) {
	product := new(models.Product)
	if err := r.db.WithContext(ctx).Where(where, arg).Take(product).Error; err != nil {
		return nil, err
	}
	return product, nil
}

// List pages the catalog newest first, optionally within one category.
func (r *Repository) List(ctx context.Context, category *enums.ProductCategory, limit int, cursor *pagination.Cursor) ([]models.Product, error) {
	q := r.db.WithContext(ctx).Model(&models.Product{})
	if category != nil {
		q = q.Where("category = ?", *category)
	}
	var rows []models.Product
	return rows, q.Scopes(pagination.Keyset("", limit, cursor)).Find(&rows).Error
}

// UpsertBySlug inserts the product or refreshes the catalog fields of the existing row.
func (r *Repository) UpsertBySlug(ctx context.Context, product *models.Product) (*models.Product, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "author", "description", "category", "price", "image_url", "updated_at"}),
		}).
		Create(product).Error
	if err != nil {
		return nil, err
	}
	return r.FindBySlug(ctx, product.Slug)
}
