package controllers

import (
	"net/http"

	"github.com/angelmondragon/creditshare-backend/api/responses"
	"github.com/angelmondragon/creditshare-backend/api/validators"
	"github.com/angelmondragon/creditshare-backend/internal/referrals"
	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
)

// Dashboard returns the caller's balance, referral link and counts.
func Dashboard(svc referrals.Service, finder UserFinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "referral service unavailable"))
			return
		}
		user, err := currentUser(r, finder)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dashboard, err := svc.GetDashboard(r.Context(), user.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dashboard)
	}
}

// ReferralStats returns referral counts; ?include_users=true adds a paged list.
func ReferralStats(svc referrals.Service, finder UserFinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "referral service unavailable"))
			return
		}
		user, err := currentUser(r, finder)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		includeUsers, err := validators.ParseQueryBool(r, "include_users")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		stats, err := svc.GetReferralStats(r.Context(), user.ID, referrals.StatsOptions{
			IncludeUsers: includeUsers,
			Limit:        params.Limit,
			Cursor:       params.Cursor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}
