package purchases

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/pagination"
)

// Service reads the purchase history. Writes go through settlement.
type Service interface {
	ListPurchases(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[PurchaseDTO], error)
}

type service struct {
	repo *Repository
}

func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("purchase repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) ListPurchases(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[PurchaseDTO], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByUser(ctx, userID, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list purchases")
	}
	return pagination.Build(rows, params.Limit, FromModel, purchaseCursor), nil
}
