package products

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
	"github.com/angelmondragon/creditshare-backend/pkg/pagination"
)

// Service exposes catalog reads and seeding.
type Service interface {
	ListProducts(ctx context.Context, input ListProductsInput) (*pagination.Page[ProductDTO], error)
	GetProduct(ctx context.Context, id uuid.UUID) (*ProductDTO, error)
	Seed(ctx context.Context, catalog []models.Product) (int, error)
}

// ListProductsInput filters and pages the catalog.
type ListProductsInput struct {
	Category *enums.ProductCategory
	pagination.Params
}

type service struct {
	repo *Repository
	logg *logger.Logger
}

// NewService constructs the catalog service.
func NewService(repo *Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, logg: logg}, nil
}

func (s *service) ListProducts(ctx context.Context, input ListProductsInput) (*pagination.Page[ProductDTO], error) {
	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, input.Category, input.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list products")
	}
	return pagination.Build(rows, input.Limit, FromModel, productCursor), nil
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*ProductDTO, error) {
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load product")
	}
	dto := FromModel(product)
	return &dto, nil
}

// Seed upserts every catalog entry by slug.
func (s *service) Seed(ctx context.Context, catalog []models.Product) (int, error) {
	for i := range catalog {
		saved, err := s.repo.UpsertBySlug(ctx, &catalog[i])
		if err != nil {
			return i, pkgerrors.Wrap(pkgerrors.CodePersistence, err, fmt.Sprintf("upsert product %s", catalog[i].Slug))
		}
		s.logg.Debug(s.logg.WithField(ctx, "product_id", saved.ID.String()), "product upserted")
	}
	s.logg.Info(s.logg.WithField(ctx, "count", len(catalog)), "catalog seeded")
	return len(catalog), nil
}
