package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/creditshare-backend/api/middleware"
	"github.com/angelmondragon/creditshare-backend/api/responses"
	"github.com/angelmondragon/creditshare-backend/api/validators"
	"github.com/angelmondragon/creditshare-backend/internal/identity"
	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
)

const maxProfileField = 255

type syncRequest struct {
	ReferralCode string `json:"referral_code,omitempty" validate:"omitempty,referral_code"`
	Name         string `json:"name,omitempty" validate:"omitempty,max=255"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
}

// AuthSync finds or creates the caller's user. Body fields override the
// token's profile claims; a referral code only counts on first sync.
func AuthSync(svc identity.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "identity service unavailable"))
			return
		}

		caller, ok := middleware.IdentityFromContext(r.Context())
		if !ok || caller.ExternalID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "identity missing"))
			return
		}

		var payload syncRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Sync(r.Context(), identity.SyncInput{
			ExternalID:   caller.ExternalID,
			Name:         firstNonEmpty(payload.Name, caller.Name),
			Email:        strings.ToLower(firstNonEmpty(payload.Email, caller.Email)),
			ReferralCode: strings.TrimSpace(payload.ReferralCode),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = validators.SanitizeString(v, maxProfileField); v != "" {
			return v
		}
	}
	return ""
}
