package controllers

import (
	"context"
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/angelmondragon/creditshare-backend/api/middleware"
	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
)

// UserFinder resolves the authenticated subject to its local user.
type UserFinder interface {
	FindByExternalID(ctx context.Context, externalID string) (*models.User, error)
}

func currentUser(r *http.Request, finder UserFinder) (*models.User, error) {
	externalID := middleware.ExternalIDFromContext(r.Context())
	if externalID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "identity missing")
	}
	if finder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user lookup unavailable")
	}
	user, err := finder.FindByExternalID(r.Context(), externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not synced")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load user")
	}
	return user, nil
}
