package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/creditshare-backend/api/responses"
	"github.com/angelmondragon/creditshare-backend/api/validators"
	"github.com/angelmondragon/creditshare-backend/internal/products"
	"github.com/angelmondragon/creditshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
)

// ListProducts pages the catalog, optionally filtered by ?category=.
func ListProducts(svc products.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}

		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := products.ListProductsInput{Params: params}
		if raw := strings.TrimSpace(r.URL.Query().Get("category")); raw != "" {
			category, err := enums.ParseProductCategory(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid category"))
				return
			}
			input.Category = &category
		}

		page, err := svc.ListProducts(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
