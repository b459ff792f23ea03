package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditshare-backend/api/middleware"
	"github.com/angelmondragon/creditshare-backend/api/responses"
	"github.com/angelmondragon/creditshare-backend/api/validators"
	"github.com/angelmondragon/creditshare-backend/internal/purchases"
	"github.com/angelmondragon/creditshare-backend/internal/settlement"
	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
)

// Purchaser settles a purchase request; *settlement.Service implements it.
type Purchaser interface {
	Purchase(ctx context.Context, req settlement.PurchaseRequest) (*settlement.SettleResult, error)
}

type createPurchaseRequest struct {
	ProductID    string `json:"product_id" validate:"required,uuid"`
	CreditsToUse *int   `json:"credits_to_use,omitempty" validate:"omitempty,gte=0"`
}

type purchaseResponse struct {
	Purchase        purchases.PurchaseDTO     `json:"purchase"`
	IsFirstPurchase bool                      `json:"is_first_purchase"`
	CreditsAwarded  settlement.CreditsAwarded `json:"credits_awarded"`
	Replayed        bool                      `json:"replayed"`
}

// CreatePurchase prices the product, spends credits and settles the purchase.
func CreatePurchase(svc Purchaser, finder UserFinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		user, err := currentUser(r, finder)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithUserID(ctx, user.ID.String())
		}

		var payload createPurchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		productID, err := uuid.Parse(payload.ProductID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		result, err := svc.Purchase(ctx, settlement.PurchaseRequest{
			UserID:         user.ID,
			ProductID:      productID,
			CreditsToUse:   payload.CreditsToUse,
			IdempotencyKey: strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader)),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, purchaseResponse{
			Purchase:        purchases.FromModel(&result.Purchase),
			IsFirstPurchase: result.IsFirstPurchase,
			CreditsAwarded:  result.CreditsAwarded,
			Replayed:        result.Replayed,
		})
	}
}

// ListPurchases pages the caller's purchase history, newest first.
func ListPurchases(svc purchases.Service, finder UserFinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchase service unavailable"))
			return
		}

		user, err := currentUser(r, finder)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListPurchases(r.Context(), user.ID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
